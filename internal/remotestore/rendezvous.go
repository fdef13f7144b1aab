package remotestore

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// scale2_53 converts a 64-bit hash into a double in [0, 1): the low 53
// bits of the hash are divided by 2^53 (53 bits are exactly representable
// as a float64 mantissa). The hash is XXH64 (cespare/xxhash/v2's Sum64)
// of key || shard name, not XXH3, so scores differ from those of an
// XXH3-based h_s in spec.md §4.7's formula. A hash whose low 53 bits are
// all zero gives score 0 (see rendezvousScore).
const scale2_53 = float64(int64(1) << 53)

// SelectShard implements weighted rendezvous hashing (spec.md §4.7): for
// each shard, compute a per-key score and pick the highest, breaking ties
// by list order. A single-shard list skips the computation entirely.
func SelectShard(key []byte, shards []Shard) Shard {
	if len(shards) == 1 {
		return shards[0]
	}
	best := -1
	var bestScore float64
	for i, s := range shards {
		score := rendezvousScore(key, s)
		if i == 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	return shards[best]
}

func rendezvousScore(key []byte, s Shard) float64 {
	h := xxhash.Sum64(append(append([]byte{}, key...), s.Name...))
	hf := float64(h&((1<<53)-1)) / scale2_53
	if hf == 0 {
		return 0
	}
	return s.Weight / -math.Log(hf)
}
