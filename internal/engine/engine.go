// Package engine implements component J: the per-invocation state
// machine wiring every other component together (CLASSIFY → DIRECT HASH
// → MANIFEST LOOKUP / RUN CPP → CPP HASH → COMPILE → STORE + UPDATE
// MANIFEST), plus the CLI surface functions spec.md §6 names.
//
// Grounded on rclone's backend/cache Fs as the orchestration template:
// one struct wiring a persistent index (here: manifest + local store)
// with a remote layer (here: remotestore.Orchestrator) and dispatching
// each call through a cascade of cache-then-origin lookups.
package engine

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccachego/ccache/internal/argproc"
	"github.com/ccachego/ccache/internal/ccconfig"
	"github.com/ccachego/ccache/internal/ccerrors"
	"github.com/ccachego/ccache/internal/ccstats"
	"github.com/ccachego/ccache/internal/compilerexec"
	"github.com/ccachego/ccache/internal/digest"
	"github.com/ccachego/ccache/internal/envelope"
	"github.com/ccachego/ccache/internal/inodecache"
	"github.com/ccachego/ccache/internal/localstore"
	"github.com/ccachego/ccache/internal/manifest"
	"github.com/ccachego/ccache/internal/remotestore"
	"github.com/ccachego/ccache/internal/resultentry"
)

// Engine is one configured cache instance, long-lived across many
// invocations within the same process (e.g. the CLI's administrative
// commands) even though the compiler-masquerade path is used once per
// process per spec.md §5's scheduling model.
type Engine struct {
	Config ccconfig.Config
	Store  *localstore.Store
	Remote *remotestore.Orchestrator
	Inode  *inodecache.Cache
	Stats  *ccstats.Set
	Log    *logrus.Entry
}

// inodeAdapter lets *inodecache.Cache satisfy digest.InodeLookup, which
// is declared in terms of digest.InodeKey rather than inodecache.Key to
// avoid an import cycle (see digest/hasher.go's comment on InodeLookup).
type inodeAdapter struct{ c *inodecache.Cache }

func (a inodeAdapter) Get(k digest.InodeKey) (digest.Digest, bool) {
	if a.c == nil {
		return digest.Digest{}, false
	}
	return a.c.Get(inodecache.Key(k))
}

func (a inodeAdapter) Put(k digest.InodeKey, file digest.Digest, flags digest.ResultFlag) {
	if a.c == nil {
		return
	}
	a.c.Put(inodecache.Key(k), file, int32(flags))
}

// Outcome is the result of one Invoke call: either a pass-through exec
// of the real compiler, or a served cache hit/miss-then-compile.
type Outcome struct {
	ExitStatus int
	Stdout     []byte
	Stderr     []byte
	// Served is true when the result was materialized from cache rather
	// than compiled in this invocation.
	Served bool
}

// Invoke runs the full state machine for one compiler invocation
// described by req (already classified by argproc.Process) and the
// resolved compiler path/type.
func (e *Engine) Invoke(ctx context.Context, compilerPath string, compilerType argproc.CompilerType, req *argproc.CompilationRequest, cwd string) (Outcome, error) {
	if e.Config.Disable {
		return e.execPlain(ctx, compilerPath, req, cwd)
	}

	namespace := e.Config.Namespace

	if e.Config.DirectMode && !req.DirectModeDisabled {
		directKey, ok, err := e.directHash(compilerPath, req, cwd, namespace)
		if err == nil && ok {
			if out, served, ferr := e.tryFetch(ctx, directKey, req, ccstats.DirectCacheHit); ferr == nil && served {
				return out, nil
			}
		}
		e.Stats.Inc(ccstats.DirectCacheMiss)
	}

	if !e.Config.DependMode {
		return e.compileAndStore(ctx, compilerPath, req, cwd, namespace, nil)
	}

	cppOut, cppErr, err := e.runPreprocessor(ctx, compilerPath, req, cwd)
	if err != nil {
		return Outcome{}, ccerrors.Wrap(err, ccerrors.KindBadInputFile, string(ccstats.BadInputFile))
	}

	cppKey := e.preprocessorHash(req, cwd, namespace, cppOut)
	if out, served, ferr := e.tryFetch(ctx, cppKey, req, ccstats.PreprocessedCacheHit); ferr == nil && served {
		return out, nil
	}
	e.Stats.Inc(ccstats.PreprocessedCacheMiss)

	return e.compileAndStore(ctx, compilerPath, req, cwd, namespace, cppErr)
}

// directHash computes the direct-mode key (spec.md §4.8 "Direct-mode
// hashing"). Returns ok=false when the manifest has no matching entry
// for the file set currently on disk.
func (e *Engine) directHash(compilerPath string, req *argproc.CompilationRequest, cwd, namespace string) (digest.Digest, bool, error) {
	hr := digest.New()
	hr.UpdateTaggedString("TAG", "ccachego-direct-v1")
	if err := digest.HashCompiler(hr, digest.CompilerCheckMode(e.Config.CompilerCheck), compilerPath, "", ""); err != nil {
		return digest.Digest{}, false, err
	}
	for _, a := range req.CompilerArgs {
		hr.UpdateTaggedString("ARG", a)
	}
	for _, a := range req.ExtraArgsToHash {
		hr.UpdateTaggedString("XARG", a)
	}

	srcDigest, _, err := digest.HashFile(req.SourcePath, digest.HashFileOptions{})
	if err != nil {
		return digest.Digest{}, false, err
	}
	hr.UpdateTagged("SRC", srcDigest[:])

	if e.Config.HashDir {
		hr.UpdateTaggedString("CWD", cwd)
	}
	hr.UpdateTaggedString("LANG", req.ActualLanguage)
	hr.UpdateTaggedString("NS", namespace)

	manifestKey := hr.Digest()

	data, err := e.getEnvelope(manifestKey, localstore.SuffixManifest)
	if err != nil {
		return digest.Digest{}, false, nil
	}
	m, err := manifest.Decode(data)
	if err != nil {
		return digest.Digest{}, false, nil
	}

	sloppiness := e.Config.ParseSloppiness()
	stat := func(path string) (manifest.Stat, error) {
		fi, err := os.Stat(path)
		if err != nil {
			return manifest.Stat{}, err
		}
		return manifest.Stat{Size: fi.Size(), Mtime: fi.ModTime().UnixNano()}, nil
	}
	hash := func(path string) (digest.Digest, error) {
		d, _, err := digest.HashFile(path, digest.HashFileOptions{})
		return d, err
	}

	entry, found, err := m.FindMatch(sloppiness, stat, hash)
	if err != nil || !found {
		return digest.Digest{}, false, nil
	}
	return entry.ResultKey, true, nil
}

// runPreprocessor invokes the compiler with preprocessor_args + -E,
// capturing stdout (the preprocessed text) and stderr separately so the
// latter can be prepended to the eventual compile's stderr.
func (e *Engine) runPreprocessor(ctx context.Context, compilerPath string, req *argproc.CompilationRequest, cwd string) ([]byte, []byte, error) {
	argv := append([]string{compilerPath}, req.PreprocessorArgs...)
	argv = append(argv, "-E")
	res, err := compilerexec.Run(ctx, compilerexec.Request{
		Argv:          argv,
		Dir:           cwd,
		CaptureStdout: true,
	})
	if err != nil {
		return nil, nil, err
	}
	return res.Stdout, res.Stderr, nil
}

func (e *Engine) preprocessorHash(req *argproc.CompilationRequest, cwd, namespace string, cppOutput []byte) digest.Digest {
	hr := digest.New()
	hr.UpdateTaggedString("TAG", "ccachego-cpp-v1")
	for _, a := range req.CompilerArgs {
		hr.UpdateTaggedString("ARG", a)
	}
	for _, a := range req.ExtraArgsToHash {
		hr.UpdateTaggedString("XARG", a)
	}
	hr.UpdateTagged("CPPOUT", cppOutput)
	if e.Config.HashDir {
		hr.UpdateTaggedString("CWD", cwd)
	}
	hr.UpdateTaggedString("LANG", req.ActualLanguage)
	hr.UpdateTaggedString("NS", namespace)
	return hr.Digest()
}

// tryFetch implements FETCH RESULT (spec.md §4.8): get(result_key) via
// local→remote, verify the envelope, materialize parts. On any
// materialization problem it reports served=false so the caller falls
// back to COMPILE.
func (e *Engine) tryFetch(ctx context.Context, resultKey digest.Digest, req *argproc.CompilationRequest, hitCounter ccstats.Counter) (Outcome, bool, error) {
	data, err := e.getEnvelope(resultKey, localstore.SuffixResult)
	if err != nil {
		return Outcome{}, false, err
	}

	hdr, payload, err := envelope.Read(data)
	if err != nil || hdr.EntryType != envelope.EntryTypeResult {
		e.Store.InvalidateCorrupt(resultKey, localstore.SuffixResult)
		e.Stats.Inc(ccstats.MissingCacheFile)
		return Outcome{}, false, nil
	}

	result, err := resultentry.Extract(payload)
	if err != nil {
		e.Store.InvalidateCorrupt(resultKey, localstore.SuffixResult)
		e.Stats.Inc(ccstats.MissingCacheFile)
		return Outcome{}, false, nil
	}

	names := resultentry.FileNames{resultentry.FileTypeObject: req.OutputObj}
	if req.OutputDep != "" {
		names[resultentry.FileTypeDependency] = req.OutputDep
	}
	if err := e.materialize(result, names, req); err != nil {
		e.Stats.Inc(ccstats.BadOutputFile)
		return Outcome{}, false, nil
	}

	e.Stats.Inc(hitCounter)

	stderr, _ := result.Get(resultentry.FileTypeStderrOutput)
	return Outcome{ExitStatus: 0, Stderr: stderr, Served: true}, true, nil
}

// materialize writes each named part to disk with resultentry.Materialize,
// which writes the bytes with os.WriteFile: no hard link or clone is
// made, hard_link and file_clone are not consulted, and the write is not
// atomic. It then fixes up timestamps.
func (e *Engine) materialize(result *resultentry.Result, names resultentry.FileNames, req *argproc.CompilationRequest) error {
	if err := resultentry.Materialize(result, names); err != nil {
		return err
	}
	now := time.Now()
	if req.OutputObj != "" {
		_ = os.Chtimes(req.OutputObj, now, now)
	}
	if req.OutputDep != "" {
		if fi, err := os.Stat(req.OutputObj); err == nil {
			_ = os.Chtimes(req.OutputDep, fi.ModTime(), fi.ModTime())
		}
	}
	return nil
}

// compileAndStore implements COMPILE + STORE + UPDATE MANIFEST.
func (e *Engine) compileAndStore(ctx context.Context, compilerPath string, req *argproc.CompilationRequest, cwd, namespace string, preprocessorStderr []byte) (Outcome, error) {
	argv := append([]string{compilerPath}, req.CompilerArgs...)
	res, err := compilerexec.Run(ctx, compilerexec.Request{
		Argv:               argv,
		Dir:                cwd,
		PreprocessorStderr: preprocessorStderr,
		IsGCC:              compilerType(req) == argproc.CompilerGCC,
	})
	if err != nil {
		return Outcome{}, ccerrors.Wrap(err, ccerrors.KindInternalError, "compile")
	}
	if res.ExitStatus != 0 {
		e.Stats.Inc(ccstats.CompileFailed)
		return Outcome{ExitStatus: res.ExitStatus, Stdout: res.Stdout, Stderr: res.Stderr}, nil
	}

	parts := []resultentry.Part{}
	if req.ExpectOutputObj {
		obj, err := os.ReadFile(req.OutputObj)
		if err != nil {
			e.Stats.Inc(ccstats.BadOutputFile)
			return Outcome{ExitStatus: res.ExitStatus, Stdout: res.Stdout, Stderr: res.Stderr}, nil
		}
		parts = append(parts, resultentry.Part{Type: resultentry.FileTypeObject, Payload: obj})
	}
	if req.OutputDep != "" {
		if dep, err := os.ReadFile(req.OutputDep); err == nil {
			parts = append(parts, resultentry.Part{Type: resultentry.FileTypeDependency, Payload: dep})
		}
	}
	if len(res.Stderr) > 0 {
		parts = append(parts, resultentry.Part{Type: resultentry.FileTypeStderrOutput, Payload: res.Stderr})
	}

	result := &resultentry.Result{Parts: parts}
	if err := result.Validate(req.ExpectOutputObj); err != nil {
		e.Stats.Inc(ccstats.InternalError)
		return Outcome{ExitStatus: res.ExitStatus, Stdout: res.Stdout, Stderr: res.Stderr}, nil
	}

	var buf bytes.Buffer
	if err := result.Serialize(&buf); err != nil {
		e.Stats.Inc(ccstats.InternalError)
		return Outcome{ExitStatus: res.ExitStatus, Stdout: res.Stdout, Stderr: res.Stderr}, nil
	}
	resultKey := digest.New()
	resultKey.Update(buf.Bytes())
	key := resultKey.Digest()

	_ = e.putEnvelope(key, localstore.SuffixResult, envelope.EntryTypeResult, buf.Bytes())
	e.Stats.Inc(ccstats.CacheMiss)

	if e.Config.DirectMode && !req.DirectModeDisabled {
		e.updateManifest(compilerPath, req, cwd, namespace, key)
	}

	return Outcome{ExitStatus: res.ExitStatus, Stdout: res.Stdout, Stderr: res.Stderr}, nil
}

// updateManifest parses the depfile to find the included-files list,
// stats/hashes each via the inode cache, and appends a new candidate
// entry to the direct-mode manifest (spec.md §4.8).
func (e *Engine) updateManifest(compilerPath string, req *argproc.CompilationRequest, cwd, namespace string, resultKey digest.Digest) {
	included := parseDepfile(req.OutputDep, req.SourcePath)
	if len(included) == 0 {
		included = []string{req.SourcePath}
	}

	files := make([]manifest.FileInfo, 0, len(included))
	for _, path := range included {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		d, _, err := digest.HashFile(path, digest.HashFileOptions{
			Cache:         inodeAdapter{e.Inode},
			MinAgeElapsed: time.Since(fi.ModTime()) > inodecache.MinAge,
		})
		if err != nil {
			continue
		}
		files = append(files, manifest.FileInfo{
			Path:        path,
			Size:        fi.Size(),
			Mtime:       fi.ModTime().UnixNano(),
			ContentHash: d,
		})
	}

	hr := digest.New()
	hr.UpdateTaggedString("TAG", "ccachego-direct-v1")
	_ = digest.HashCompiler(hr, digest.CompilerCheckMode(e.Config.CompilerCheck), compilerPath, "", "")
	for _, a := range req.CompilerArgs {
		hr.UpdateTaggedString("ARG", a)
	}
	for _, a := range req.ExtraArgsToHash {
		hr.UpdateTaggedString("XARG", a)
	}
	srcDigest, _, _ := digest.HashFile(req.SourcePath, digest.HashFileOptions{})
	hr.UpdateTagged("SRC", srcDigest[:])
	if e.Config.HashDir {
		hr.UpdateTaggedString("CWD", cwd)
	}
	hr.UpdateTaggedString("LANG", req.ActualLanguage)
	hr.UpdateTaggedString("NS", namespace)
	manifestKey := hr.Digest()

	var m *manifest.Manifest
	if data, err := e.getEnvelope(manifestKey, localstore.SuffixManifest); err == nil {
		if decoded, derr := manifest.Decode(data); derr == nil {
			m = decoded
		}
	}
	if m == nil {
		m = manifest.New()
	}
	m.AddEntry(files, resultKey, time.Now())

	encoded, err := m.Encode()
	if err != nil {
		return
	}
	_ = e.putEnvelope(manifestKey, localstore.SuffixManifest, envelope.EntryTypeManifest, encoded)
}

// parseDepfile extracts the included-files list from a Makefile-style
// depfile (`target: dep1 dep2 \\\n  dep3 ...`), skipping the source file
// itself and the target.
func parseDepfile(depPath, sourcePath string) []string {
	if depPath == "" {
		return nil
	}
	data, err := os.ReadFile(depPath)
	if err != nil {
		return nil
	}
	text := string(bytes.ReplaceAll(data, []byte("\\\n"), []byte(" ")))
	colon := bytes.IndexByte([]byte(text), ':')
	if colon < 0 {
		return nil
	}
	fields := splitFields(text[colon+1:])
	var out []string
	for _, f := range fields {
		if f == sourcePath {
			continue
		}
		out = append(out, f)
	}
	return out
}

func splitFields(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// getEnvelope fetches raw envelope bytes local-first, then remote. On a
// local hit the bytes are handed to the remote layer's Reshare, which
// pushes them to remote storage only when the `reshare` policy is on.
func (e *Engine) getEnvelope(key digest.Digest, suffix localstore.Suffix) ([]byte, error) {
	if !e.remoteOnly() {
		if data, err := e.Store.Get(key, suffix); err == nil {
			if e.Remote != nil {
				e.Remote.Reshare(context.Background(), remoteKey(key, suffix), data)
			}
			return data, nil
		}
	}
	if e.Remote != nil {
		if data, ok, err := e.Remote.Get(context.Background(), remoteKey(key, suffix)); err == nil && ok {
			return data, nil
		}
	}
	return nil, os.ErrNotExist
}

func (e *Engine) putEnvelope(key digest.Digest, suffix localstore.Suffix, entryType envelope.EntryType, payload []byte) error {
	var buf bytes.Buffer
	compression := envelope.CompressionZstd
	if e.Config.Compression == "none" {
		compression = envelope.CompressionNone
	}
	_, err := envelope.Write(&buf, envelope.Envelope{
		EntryType:     entryType,
		Compression:   compression,
		SelfContained: true,
		CreationTime:  time.Now().Unix(),
		CCacheVersion: "1",
		Namespace:     e.Config.Namespace,
	}, e.Config.CompressionLevel, payload)
	if err != nil {
		return err
	}

	if !e.remoteOnly() {
		if err := e.Store.Put(key, suffix, buf.Bytes(), false); err != nil {
			e.log().WithError(err).Warn("local store put failed")
		}
	}
	if e.Remote != nil {
		e.Remote.Put(context.Background(), remoteKey(key, suffix), buf.Bytes(), false)
	}
	return nil
}

func (e *Engine) remoteOnly() bool {
	return e.Remote != nil && e.Remote.RemoteOnly()
}

func remoteKey(key digest.Digest, suffix localstore.Suffix) string {
	return key.PathForm() + string(suffix)
}

// execPlain runs the compiler directly with no cache interaction at all
// (disable=true, or any CLASSIFY-stage uncacheable reason at the
// caller's discretion).
func (e *Engine) execPlain(ctx context.Context, compilerPath string, req *argproc.CompilationRequest, cwd string) (Outcome, error) {
	argv := append([]string{compilerPath}, req.CompilerArgs...)
	res, err := compilerexec.Run(ctx, compilerexec.Request{Argv: argv, Dir: cwd})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{ExitStatus: res.ExitStatus, Stdout: res.Stdout, Stderr: res.Stderr}, nil
}

func compilerType(req *argproc.CompilationRequest) argproc.CompilerType {
	return req.CompilerType
}
