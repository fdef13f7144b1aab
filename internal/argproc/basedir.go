package argproc

import "path/filepath"

// RewriteBaseDir implements spec.md §4.2 base-dir rewriting: "if
// configured with a base_dir, any absolute path-valued option whose path
// has base_dir as prefix is rewritten to a path relative to the current
// working directory." Relative paths are normalized lexically and
// returned unchanged otherwise.
//
// Example (spec.md §8 boundary behavior): with base_dir="/" and
// cwd="/tmp/proj/build", the option value "/tmp/proj/build/foo" (which
// happens to be exactly cwd+"/foo") rewrites to "foo".
func RewriteBaseDir(value, baseDir, cwd string) string {
	if value == "" {
		return value
	}
	if !filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	if baseDir == "" || cwd == "" {
		return value
	}
	clean := filepath.Clean(baseDir)
	if !hasPathPrefix(value, clean) {
		return value
	}
	rel, err := filepath.Rel(cwd, value)
	if err != nil {
		return value
	}
	return rel
}

// hasPathPrefix reports whether value is prefix itself or a descendant of
// prefix, comparing whole path components (so "/tmp/projX" is not
// considered a descendant of "/tmp/proj").
func hasPathPrefix(value, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if value == prefix {
		return true
	}
	return len(value) > len(prefix) && value[:len(prefix)] == prefix && value[len(prefix)] == filepath.Separator
}
