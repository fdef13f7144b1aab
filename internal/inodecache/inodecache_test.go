package inodecache

import (
	"path/filepath"
	"testing"

	"github.com/ccachego/ccache/internal/digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "inode.cache"), true, nil)
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	key := Key{ContentType: 1, Dev: 1, Ino: 42, Mode: 0o644, Mtime: 100, Ctime: 100, Size: 123}
	want := digest.Digest{1, 2, 3}

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Put(key, want, 0)
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestDisabledOnUnknownFilesystem(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "inode.cache"), false, nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	// Nil-receiver Get/Put must be no-ops, not panics, so callers don't
	// need to special-case a disabled cache.
	var nilCache *Cache
	_, ok := nilCache.Get(Key{})
	assert.False(t, ok)
	nilCache.Put(Key{}, digest.Digest{}, 0)
}

func TestPutOverwritesSameKey(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "inode.cache"), true, nil)
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	key := Key{ContentType: 3, Dev: 1, Ino: 1}
	c.Put(key, digest.Digest{1}, 0)
	c.Put(key, digest.Digest{2}, 0)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, digest.Digest{2}, got)
}

func TestStatsCountHitsAndMisses(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "inode.cache"), true, nil)
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck

	key := Key{ContentType: 4, Dev: 2, Ino: 2}
	_, _ = c.Get(key) // miss
	c.Put(key, digest.Digest{9}, 0)
	_, _ = c.Get(key) // hit

	hits, misses, _ := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}
