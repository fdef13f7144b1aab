package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ccachego/ccache/internal/argproc"
	"github.com/ccachego/ccache/internal/ccconfig"
	"github.com/ccachego/ccache/internal/ccstats"
	"github.com/ccachego/ccache/internal/digest"
	"github.com/ccachego/ccache/internal/localstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEngine builds an Engine with a real localstore rooted in a temp
// dir and no remote/inode cache, matching the minimal configuration the
// direct-mode round trip scenario needs.
func newTestEngine(t *testing.T) *Engine {
	store, err := localstore.Open(t.TempDir(), 10000, 1<<30, nil)
	require.NoError(t, err)
	cfg := ccconfig.Defaults()
	cfg.Compression = "none"
	return &Engine{
		Config: cfg,
		Store:  store,
		Stats:  ccstats.NewSet(),
	}
}

// fakeCompilerScript returns a shell script path standing in for a real
// compiler: it writes a fixed byte sequence to the requested -o path,
// making repeated runs byte-identical the way spec.md's scenario 1
// requires.
func fakeCompilerScript(t *testing.T, dir string) string {
	script := filepath.Join(dir, "fakecc.sh")
	contents := `#!/bin/sh
out=""
while [ "$#" -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
printf 'OBJECT-BYTES' > "$out"
exit 0
`
	require.NoError(t, os.WriteFile(script, []byte(contents), 0o755))
	return script
}

func TestInvokeCompilesOnMissAndServesOnHit(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "hello.c")
	require.NoError(t, os.WriteFile(srcPath, []byte("int main(){return 0;}\n"), 0o644))
	objPath := filepath.Join(dir, "hello.o")

	compiler := fakeCompilerScript(t, dir)
	e := newTestEngine(t)
	e.Config.DependMode = false // exercise the direct-only cascade

	req, err := argproc.Process(compiler, argproc.CompilerOther, []string{"-c", srcPath, "-o", objPath}, argproc.Config{})
	require.NoError(t, err)

	out1, err := e.Invoke(context.Background(), compiler, argproc.CompilerOther, req, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, out1.ExitStatus)
	assert.False(t, out1.Served)

	firstBytes, err := os.ReadFile(objPath)
	require.NoError(t, err)
	assert.Equal(t, "OBJECT-BYTES", string(firstBytes))

	require.NoError(t, os.Remove(objPath))

	out2, err := e.Invoke(context.Background(), compiler, argproc.CompilerOther, req, dir)
	require.NoError(t, err)
	assert.True(t, out2.Served, "second identical invocation must be served from cache")

	secondBytes, err := os.ReadFile(objPath)
	require.NoError(t, err)
	assert.Equal(t, firstBytes, secondBytes)

	assert.Equal(t, uint64(1), e.Stats.Get(ccstats.DirectCacheHit))
}

func TestInvokeDisabledSkipsCacheEntirely(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "hello.c")
	require.NoError(t, os.WriteFile(srcPath, []byte("int main(){return 0;}\n"), 0o644))
	objPath := filepath.Join(dir, "hello.o")
	compiler := fakeCompilerScript(t, dir)

	e := newTestEngine(t)
	e.Config.Disable = true

	req, err := argproc.Process(compiler, argproc.CompilerOther, []string{"-c", srcPath, "-o", objPath}, argproc.Config{})
	require.NoError(t, err)

	out, err := e.Invoke(context.Background(), compiler, argproc.CompilerOther, req, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitStatus)
	assert.Equal(t, uint64(0), e.Stats.Get(ccstats.DirectCacheHit))
}

func TestParseDepfileExtractsIncludedFiles(t *testing.T) {
	dir := t.TempDir()
	dep := filepath.Join(dir, "a.d")
	require.NoError(t, os.WriteFile(dep, []byte("a.o: a.c a.h \\\n  b.h\n"), 0o644))

	got := parseDepfile(dep, "a.c")
	assert.ElementsMatch(t, []string{"a.h", "b.h"}, got)
}

func TestGetAllStatisticsAndZero(t *testing.T) {
	e := newTestEngine(t)
	e.Stats.Inc(ccstats.DirectCacheHit)
	_ = e.Store.Put(digest.Digest{1}, localstore.SuffixResult, []byte("x"), false)

	totals, _ := e.GetAllStatistics()
	assert.Equal(t, uint64(1), totals[ccstats.FilesInCache])

	e.ZeroAllStatistics(1234)
	totals, ts := e.GetAllStatistics()
	assert.Equal(t, uint64(0), totals[ccstats.FilesInCache])
	assert.Equal(t, int64(1234), ts)
}
