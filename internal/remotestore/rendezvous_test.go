package remotestore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectShardSingleSkipsComputation(t *testing.T) {
	shards := []Shard{{Name: "only", Weight: 1}}
	assert.Equal(t, shards[0], SelectShard([]byte("any-key"), shards))
}

func TestSelectShardDeterministic(t *testing.T) {
	shards := []Shard{{Name: "a", Weight: 1}, {Name: "b", Weight: 1}, {Name: "c", Weight: 1}}
	first := SelectShard([]byte("stable-key"), shards)
	for i := 0; i < 10; i++ {
		got := SelectShard([]byte("stable-key"), shards)
		assert.Equal(t, first.Name, got.Name)
	}
}

func TestSelectShardDistributesAcrossKeys(t *testing.T) {
	shards := []Shard{{Name: "a", Weight: 1}, {Name: "b", Weight: 1}, {Name: "c", Weight: 1}}
	counts := map[string]int{}
	for i := 0; i < 3000; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		counts[SelectShard(key, shards).Name]++
	}
	for _, name := range []string{"a", "b", "c"} {
		assert.Greater(t, counts[name], 500, "shard %s should receive a reasonable fraction of keys", name)
	}
}

func TestSelectShardHigherWeightWinsMoreOften(t *testing.T) {
	shards := []Shard{{Name: "heavy", Weight: 10}, {Name: "light", Weight: 1}}
	heavy := 0
	for i := 0; i < 2000; i++ {
		key := []byte(fmt.Sprintf("k-%d", i))
		if SelectShard(key, shards).Name == "heavy" {
			heavy++
		}
	}
	assert.Greater(t, heavy, 1200)
}
