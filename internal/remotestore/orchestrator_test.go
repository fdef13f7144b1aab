package remotestore

import (
	"context"
	"testing"

	"github.com/ccachego/ccache/internal/ccstats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileFactory(t *testing.T) BackendFactory {
	return func(rawURL string) (Backend, error) {
		return NewFileBackend(rawURL)
	}
}

func TestOrchestratorPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	entries, err := ParseConfig("file://" + dir)
	require.NoError(t, err)

	stats := ccstats.NewSet()
	o := New(entries, fileFactory(t), stats, nil, Policy{})
	defer o.Stop()

	o.Put(context.Background(), "deadbeef", []byte("payload"), true)
	data, ok, err := o.Get(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), data)
}

func TestOrchestratorReadOnlySkipsPut(t *testing.T) {
	dir := t.TempDir()
	entries, err := ParseConfig("file://" + dir + " read-only=true")
	require.NoError(t, err)

	stats := ccstats.NewSet()
	o := New(entries, fileFactory(t), stats, nil, Policy{})
	defer o.Stop()

	o.Put(context.Background(), "key", []byte("v"), true)
	_, ok, err := o.Get(context.Background(), "key")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingBackend struct{ calls int }

func (f *failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	f.calls++
	return nil, false, assert.AnError
}
func (f *failingBackend) Put(context.Context, string, []byte, bool) (bool, error) {
	f.calls++
	return false, assert.AnError
}
func (f *failingBackend) Remove(context.Context, string) (bool, error) { return false, assert.AnError }
func (f *failingBackend) Stop()                                       {}

func TestOrchestratorMarksShardFailedAfterFirstError(t *testing.T) {
	entries, err := ParseConfig("file:///unused")
	require.NoError(t, err)

	backend := &failingBackend{}
	stats := ccstats.NewSet()
	o := New(entries, func(string) (Backend, error) { return backend, nil }, stats, nil, Policy{})
	defer o.Stop()

	_, _, _ = o.Get(context.Background(), "k")
	callsAfterFirst := backend.calls
	assert.Greater(t, callsAfterFirst, 0)

	_, _, _ = o.Get(context.Background(), "k2")
	assert.Equal(t, callsAfterFirst, backend.calls, "failed shard-backend must not be re-contacted")
	assert.Greater(t, stats.Get(ccstats.RemoteStorageError), uint64(0))
}
