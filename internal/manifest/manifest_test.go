package manifest

import (
	"testing"
	"time"

	"github.com/ccachego/ccache/internal/argproc"
	"github.com/ccachego/ccache/internal/digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := New()
	m.AddEntry([]FileInfo{
		{Path: "a.h", Size: 10, Mtime: 1, Ctime: 1, ContentHash: digest.Digest{1}},
	}, digest.Digest{9, 9}, time.Unix(0, 1))

	b, err := m.Encode()
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, m.Files, got.Files)
	assert.Equal(t, m.Entries[0].ResultKey, got.Entries[0].ResultKey)
}

func TestFingerprintOrderIndependent(t *testing.T) {
	a := []FileInfo{{ContentHash: digest.Digest{1}}, {ContentHash: digest.Digest{2}}}
	b := []FileInfo{{ContentHash: digest.Digest{2}}, {ContentHash: digest.Digest{1}}}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestPruneCapsEntries(t *testing.T) {
	m := New()
	for i := 0; i < MaxEntries+10; i++ {
		m.AddEntry([]FileInfo{{Path: "a.h", ContentHash: digest.Digest{byte(i)}}}, digest.Digest{byte(i)}, time.Unix(0, int64(i)))
	}
	assert.LessOrEqual(t, len(m.Entries), MaxEntries)
	// The oldest entries were pruned, so the very first insertion (i=0)
	// must be gone and the most recent must remain.
	for _, e := range m.Entries {
		assert.NotEqual(t, digest.Digest{0}, e.ResultKey)
	}
}

func TestMatchesDefaultSloppinessRequiresContentHash(t *testing.T) {
	m := New()
	want := digest.Digest{7}
	m.AddEntry([]FileInfo{{Path: "a.h", Size: 5, Mtime: 1, Ctime: 1, ContentHash: want}}, digest.Digest{1}, time.Unix(0, 0))

	stat := func(string) (Stat, error) { return Stat{Size: 5, Mtime: 2, Ctime: 2}, nil } // mtime/ctime drifted
	hashMatch := func(string) (digest.Digest, error) { return want, nil }
	hashMismatch := func(string) (digest.Digest, error) { return digest.Digest{99}, nil }

	ok, err := m.Matches(&m.Entries[0], argproc.Sloppiness{}, stat, hashMatch)
	require.NoError(t, err)
	assert.True(t, ok, "content hash match must win even though mtime/ctime drifted")

	ok, err = m.Matches(&m.Entries[0], argproc.Sloppiness{}, stat, hashMismatch)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchesFileStatMatchesSkipsHashing(t *testing.T) {
	m := New()
	m.AddEntry([]FileInfo{{Path: "a.h", Size: 5, Mtime: 1, Ctime: 1, ContentHash: digest.Digest{7}}}, digest.Digest{1}, time.Unix(0, 0))

	stat := func(string) (Stat, error) { return Stat{Size: 5, Mtime: 1, Ctime: 99}, nil }
	hashCalled := false
	hash := func(string) (digest.Digest, error) { hashCalled = true; return digest.Digest{}, nil }

	ok, err := m.Matches(&m.Entries[0], argproc.Sloppiness{FileStatMatches: true}, stat, hash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, hashCalled, "file_stat_matches must skip content hashing")
}

func TestFindMatchReturnsFirstInInsertionOrder(t *testing.T) {
	m := New()
	m.AddEntry([]FileInfo{{Path: "a.h", Size: 1, ContentHash: digest.Digest{1}}}, digest.Digest{0xA}, time.Unix(0, 0))
	m.AddEntry([]FileInfo{{Path: "a.h", Size: 1, ContentHash: digest.Digest{1}}}, digest.Digest{0xB}, time.Unix(0, 1))

	stat := func(string) (Stat, error) { return Stat{Size: 1}, nil }
	hash := func(string) (digest.Digest, error) { return digest.Digest{1}, nil }

	e, ok, err := m.FindMatch(argproc.Sloppiness{}, stat, hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, digest.Digest{0xA}, e.ResultKey)
}
