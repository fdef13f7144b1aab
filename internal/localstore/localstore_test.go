package localstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ccachego/ccache/internal/digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), 1000, 1<<20, nil)
	require.NoError(t, err)

	k := digest.Digest{1, 2, 3}
	require.NoError(t, s.Put(k, SuffixResult, []byte("payload"), false))

	got, err := s.Get(k, SuffixResult)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestGetMissingReturnsNotExist(t *testing.T) {
	s, err := Open(t.TempDir(), 1000, 1<<20, nil)
	require.NoError(t, err)
	_, err = s.Get(digest.Digest{9}, SuffixManifest)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCachedirTagWritten(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, 1000, 1<<20, nil)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, tagFileName))
	assert.NoError(t, err)
}

func TestRemoveIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir(), 1000, 1<<20, nil)
	require.NoError(t, err)
	k := digest.Digest{5}
	assert.NoError(t, s.Remove(k, SuffixResult))

	require.NoError(t, s.Put(k, SuffixResult, []byte("x"), false))
	assert.NoError(t, s.Remove(k, SuffixResult))
	_, err = s.Get(k, SuffixResult)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCleanupEvictsOldestFirst(t *testing.T) {
	s, err := Open(t.TempDir(), 16, 1<<20, nil)
	require.NoError(t, err)

	// Force many entries into the same shard by sharing the first byte.
	for i := 0; i < 20; i++ {
		k := digest.Digest{0xAA, byte(i)}
		require.NoError(t, s.Put(k, SuffixResult, []byte("x"), false))
	}
	// maxFiles/16 with maxFiles=16 is 1, so cleanup should remove all but the newest.
	require.NoError(t, s.Cleanup())

	dir := filepath.Join(s.Dir, digest.Digest{0xAA}.PathForm()[:2])
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	count := 0
	for _, e := range ents {
		if !e.IsDir() {
			count++
		}
	}
	assert.LessOrEqual(t, count, 2)
}

func TestEvictOlderThanRemovesExpired(t *testing.T) {
	s, err := Open(t.TempDir(), 1000, 1<<20, nil)
	require.NoError(t, err)
	k := digest.Digest{7}
	require.NoError(t, s.Put(k, SuffixResult, []byte("x"), false))

	path := s.Path(k, SuffixResult)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	require.NoError(t, s.Evict(24*time.Hour, ""))
	_, err = s.Get(k, SuffixResult)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRecompressShardsAppliesRecode(t *testing.T) {
	s, err := Open(t.TempDir(), 1000, 1<<20, nil)
	require.NoError(t, err)
	k := digest.Digest{3}
	require.NoError(t, s.Put(k, SuffixResult, []byte("old"), false))

	n, err := s.RecompressShards(2, func(data []byte) ([]byte, bool, error) {
		return []byte("new"), true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(k, SuffixResult)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestAggregateAndZeroStats(t *testing.T) {
	s, err := Open(t.TempDir(), 1000, 1<<20, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(digest.Digest{1}, SuffixResult, []byte("abcd"), false))

	totals := s.AggregateStats()
	assert.Equal(t, uint64(1), totals["files_in_cache"])

	s.ZeroStats(1000)
	totals = s.AggregateStats()
	assert.Equal(t, uint64(0), totals["files_in_cache"])
}
