// Package ccstats implements the fixed-size statistics counter vector
// (spec.md §3 "Statistics counters") shared by local storage (H) and the
// compile engine (J).
package ccstats

import "sync/atomic"

// Counter names every counter the spec enumerates. Using a named string
// type (rather than stdlib's bare iota int) keeps counter names readable
// in logs and in Snapshot output, mirroring how rclone names
// its own accounting fields rather than using opaque indices.
type Counter string

const (
	DirectCacheHit        Counter = "direct_cache_hit"
	DirectCacheMiss       Counter = "direct_cache_miss"
	PreprocessedCacheHit  Counter = "preprocessed_cache_hit"
	PreprocessedCacheMiss Counter = "preprocessed_cache_miss"
	RemoteCacheHit        Counter = "remote_cache_hit"
	RemoteCacheMiss       Counter = "remote_cache_miss"
	CacheMiss             Counter = "cache_miss"

	CacheSizeKibibyte Counter = "cache_size_kibibyte"
	FilesInCache      Counter = "files_in_cache"

	CleanupsPerformed Counter = "cleanups_performed"
	StatsZeroedTime   Counter = "stats_zeroed_time"

	RemoteStorageError   Counter = "remote_storage_error"
	RemoteStorageTimeout Counter = "remote_storage_timeout"
	RemoteStorageWrite   Counter = "remote_storage_write"

	MultipleSourceFiles       Counter = "multiple_source_files"
	OutputToStdout            Counter = "output_to_stdout"
	CalledForPreprocessing    Counter = "called_for_preprocessing"
	UnsupportedCompilerOption Counter = "unsupported_compiler_option"
	BadCompilerArguments      Counter = "bad_compiler_arguments"
	BadInputFile              Counter = "bad_input_file"
	BadOutputFile             Counter = "bad_output_file"
	MissingCacheFile          Counter = "missing_cache_file"
	InternalError             Counter = "internal_error"
	CompileFailed             Counter = "compile_failed"
)

// Set is a fixed vector of named uint64 counters. Counter values are read
// and written with atomic operations, but the map holding them is not
// locked: the first Incr/Set of a counter name inserts into the map, so
// concurrent use is safe only for counters the Set already holds.
// Counters live in memory only: internal/localstore keeps one Set per
// shard, and no counters file is written to or read from disk.
type Set struct {
	mu       atomicCounters
	counters map[Counter]*uint64
}

// atomicCounters exists only to give Set a named, documented zero value;
// no fields needed beyond the map itself.
type atomicCounters struct{}

// NewSet returns an empty counter set.
func NewSet() *Set {
	return &Set{counters: make(map[Counter]*uint64)}
}

func (s *Set) slot(c Counter) *uint64 {
	if p, ok := s.counters[c]; ok {
		return p
	}
	var v uint64
	s.counters[c] = &v
	return &v
}

// Incr adds delta to counter c.
func (s *Set) Incr(c Counter, delta uint64) {
	atomic.AddUint64(s.slot(c), delta)
}

// Inc adds 1 to counter c.
func (s *Set) Inc(c Counter) { s.Incr(c, 1) }

// Set overwrites counter c with value.
func (s *Set) Set(c Counter, value uint64) {
	atomic.StoreUint64(s.slot(c), value)
}

// Get returns the current value of counter c.
func (s *Set) Get(c Counter) uint64 {
	if p, ok := s.counters[c]; ok {
		return atomic.LoadUint64(p)
	}
	return 0
}

// Snapshot returns a plain map copy, suitable for the get_all_statistics
// CLI surface function (spec.md §6).
func (s *Set) Snapshot() map[Counter]uint64 {
	out := make(map[Counter]uint64, len(s.counters))
	for k, p := range s.counters {
		out[k] = atomic.LoadUint64(p)
	}
	return out
}

// Zero resets every known counter to 0 in place (zero_all_statistics,
// §6), recording the zeroed timestamp as instructed by the caller so the
// value is testable without depending on wall-clock time inside this
// package.
func (s *Set) Zero(nowUnix int64) {
	for k := range s.counters {
		atomic.StoreUint64(s.counters[k], 0)
	}
	s.Set(StatsZeroedTime, uint64(nowUnix))
}

// Merge sums src's counters into s, used to aggregate per-shard counter
// files into a process-wide total (get_all_statistics, §6).
func (s *Set) Merge(src map[Counter]uint64) {
	for k, v := range src {
		s.Incr(k, v)
	}
}
