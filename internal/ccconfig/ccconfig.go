// Package ccconfig implements component L: the layered configuration
// model (spec.md §6 "Configuration").
//
// The `config:"..."` struct-tag idiom and reflective Set-by-name
// mechanism are grounded on rclone's fs/config/configstruct package
// (confirmed only as test-only stub source in this retrieval pack —
// configstruct.Set itself is not importable here, so the same idiom is
// reimplemented locally over the standard library's reflect package;
// see DESIGN.md for the stdlib justification this entails).
package ccconfig

import (
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ccachego/ccache/internal/argproc"
)

// Config is the full recognized key set from spec.md §6's table.
type Config struct {
	BaseDir     string `config:"base_dir"`
	CacheDir    string `config:"cache_dir"`
	Compiler    string `config:"compiler"`
	CompilerCheck string `config:"compiler_check"`
	CompilerType  string `config:"compiler_type"`
	Compression      string `config:"compression"`
	CompressionLevel int    `config:"compression_level"`
	CPPExtension     string `config:"cpp_extension"`
	DependMode       bool   `config:"depend_mode"`
	DirectMode       bool   `config:"direct_mode"`
	Disable          bool   `config:"disable"`
	ExtraFilesToHash string `config:"extra_files_to_hash"`
	FileClone        bool   `config:"file_clone"`
	HardLink         bool   `config:"hard_link"`
	HashDir          bool   `config:"hash_dir"`
	IgnoreHeadersInManifest bool   `config:"ignore_headers_in_manifest"`
	IgnoreOptions           string `config:"ignore_options"`
	InodeCache              bool   `config:"inode_cache"`
	KeepCommentsCPP         bool   `config:"keep_comments_cpp"`
	MaxFiles                uint64 `config:"max_files"`
	MaxSize                 uint64 `config:"max_size"`
	MSVCDepPrefix           string `config:"msvc_dep_prefix"`
	Namespace               string `config:"namespace"`
	ReadOnly                bool   `config:"read_only"`
	ReadOnlyDirect          bool   `config:"read_only_direct"`
	Recache                 bool   `config:"recache"`
	Reshare                 bool   `config:"reshare"`
	RemoteOnly              bool   `config:"remote_only"`
	RemoteStorage           string `config:"remote_storage"`
	ResponseFileFormat      string `config:"response_file_format"`
	Sloppiness              string `config:"sloppiness"`
	Stats                   bool   `config:"stats"`
	StatsLog                string `config:"stats_log"`
	TemporaryDir            string `config:"temporary_dir"`
	Umask                   string `config:"umask"`
}

// Defaults returns the built-in fallback values applied before any file,
// environment, or override layer is consulted.
func Defaults() Config {
	return Config{
		CacheDir:         defaultCacheDir(),
		Compression:      "zstd",
		CompressionLevel: 0, // 0 = envelope default
		CPPExtension:     "i",
		DependMode:       true,
		DirectMode:       true,
		HashDir:          true,
		InodeCache:       true,
		MaxFiles:         0, // 0 = unlimited
		MaxSize:          5 * 1024 * 1024 * 1024,
		ResponseFileFormat: "posix",
		TemporaryDir:     os.TempDir(),
	}
}

func defaultCacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return xdg + "/ccachego"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ccachego"
	}
	return home + "/.cache/ccachego"
}

// FileLoader reads a KEY=VALUE config file at path, returning (nil, nil)
// when the file does not exist. The file-parsing mechanics themselves
// are an ambient, swappable concern the engine need not own directly.
type FileLoader func(path string) (map[string]string, error)

// Load merges the four precedence layers spec.md §6 names: Defaults()
// are overridden by systemFile, then userFile, then CCACHE_* environment
// variables (with CCACHE_NO<KEY> boolean negations), then argvOverrides
// (KEY=VALUE command-line pairs), each layer strictly higher priority.
func Load(systemFile, userFile string, load FileLoader, environ []string, argvOverrides []string) (Config, error) {
	cfg := Defaults()

	for _, path := range []string{systemFile, userFile} {
		if path == "" || load == nil {
			continue
		}
		kv, err := load(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "load config file %q", path)
		}
		if kv != nil {
			if err := applyAll(&cfg, kv); err != nil {
				return cfg, err
			}
		}
	}

	if err := applyAll(&cfg, envLayer(environ)); err != nil {
		return cfg, err
	}

	overrideKV := make(map[string]string, len(argvOverrides))
	for _, kv := range argvOverrides {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return cfg, errors.Errorf("malformed KEY=VALUE override %q", kv)
		}
		overrideKV[k] = v
	}
	if err := applyAll(&cfg, overrideKV); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// envLayer turns CCACHE_<KEY>=value and CCACHE_NO<KEY> pairs from environ
// into the same lowercase-key map the file/override layers use.
func envLayer(environ []string) map[string]string {
	out := map[string]string{}
	for _, e := range environ {
		k, v, ok := strings.Cut(e, "=")
		if !ok || !strings.HasPrefix(k, "CCACHE_") {
			continue
		}
		rest := strings.TrimPrefix(k, "CCACHE_")
		if strings.HasPrefix(rest, "NO") {
			negKey := strings.ToLower(strings.TrimPrefix(rest, "NO"))
			out[negKey] = "false"
			continue
		}
		out[strings.ToLower(rest)] = v
	}
	return out
}

// applyAll sets every recognized key present in kv onto cfg via
// reflection over the `config:"..."` struct tags, mirroring the tag
// idiom rclone's configstruct package establishes.
func applyAll(cfg *Config, kv map[string]string) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	fieldByKey := make(map[string]reflect.Value, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("config")
		if tag == "" {
			continue
		}
		fieldByKey[tag] = v.Field(i)
	}
	for key, value := range kv {
		field, ok := fieldByKey[key]
		if !ok {
			continue // unknown keys are ignored, not rejected
		}
		if err := setField(field, value); err != nil {
			return errors.Wrapf(err, "set config key %q", key)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(n)
	default:
		return errors.Errorf("unsupported config field kind %s", field.Kind())
	}
	return nil
}

// ParseSloppiness parses the configured sloppiness string via argproc.
func (c Config) ParseSloppiness() argproc.Sloppiness {
	return argproc.ParseSloppiness(c.Sloppiness)
}
