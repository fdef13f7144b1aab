// Package localstore implements component H: the sharded, on-disk cache
// directory — content-addressed storage with atomic writes, per-shard
// statistics counters, and size/count-bounded cleanup.
//
// Grounded on rclone's backend/cache persistent layer
// (_teacher_ref/cache/storage_persistent.go's AddChunk/CleanChunksBySize
// temp-file-then-rename and size-triggered cleanup idiom), adapted from
// a bbolt-indexed chunk store to the spec's flat sharded-file layout
// (SPEC_FULL.md §2 explains why bbolt itself was not carried over).
package localstore

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ccachego/ccache/internal/ccstats"
	"github.com/ccachego/ccache/internal/digest"
	"github.com/ccachego/ccache/internal/envelope"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Suffix distinguishes manifest entries from result entries sharing the
// same digest key (spec.md §4.6: "suffix ∈ {M, R}").
type Suffix string

const (
	SuffixManifest Suffix = "M"
	SuffixResult   Suffix = "R"
)

const (
	tempSuffix  = ".ccacheremove"
	tagFileName = "CACHEDIR.TAG"
	tagContents = "Signature: 8a477f597d28d172789f06886806bc55\n" +
		"# This file is a cache directory tag created by ccachego.\n" +
		"# For information about cache directory tags, see:\n" +
		"#\thttp://www.brynosaurus.com/cachedir/\n"
)

// Store is the local on-disk cache directory rooted at Dir.
type Store struct {
	Dir      string
	MaxFiles uint64
	MaxSize  uint64 // bytes

	log *logrus.Entry

	mu     sync.Mutex
	shards map[string]*ccstats.Set
}

// Open prepares dir as a cache root: ensures it exists and is tagged per
// the cachedir-tag convention (spec.md §3 "local storage").
func Open(dir string, maxFiles, maxSize uint64, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create cache dir %q", dir)
	}
	tagPath := filepath.Join(dir, tagFileName)
	if _, err := os.Stat(tagPath); os.IsNotExist(err) {
		if err := os.WriteFile(tagPath, []byte(tagContents), 0o644); err != nil {
			return nil, errors.Wrap(err, "write CACHEDIR.TAG")
		}
	}
	return &Store{
		Dir:      dir,
		MaxFiles: maxFiles,
		MaxSize:  maxSize,
		log:      log,
		shards:   make(map[string]*ccstats.Set),
	}, nil
}

// Path returns the on-disk path for key k with the given suffix, per
// spec.md §4.6: "<cache_dir>/<k[0:2]>/<k[2:]><suffix>".
func (s *Store) Path(k digest.Digest, suffix Suffix) string {
	pf := k.PathForm()
	return filepath.Join(s.Dir, pf[:2], pf[2:]+string(suffix))
}

func (s *Store) shardDir(k digest.Digest) string {
	return filepath.Join(s.Dir, k.PathForm()[:2])
}

func (s *Store) shardStats(shard string) *ccstats.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.shards[shard]
	if !ok {
		set = ccstats.NewSet()
		s.shards[shard] = set
	}
	return set
}

// Get opens the entry for (k, suffix) and returns its raw envelope bytes.
// Per spec.md §4.6, any structural problem found later by the caller's
// envelope verification is handled by calling Remove and reporting a miss
// — Get itself only reports plain not-found.
func (s *Store) Get(k digest.Digest, suffix Suffix) ([]byte, error) {
	path := s.Path(k, suffix)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, errors.Wrapf(err, "read cache entry %q", path)
	}
	return data, nil
}

// InvalidateCorrupt removes the on-disk entry for (k, suffix) after the
// caller's envelope verification failed, per spec.md §4.6 ("on any check
// failure, remove the file and return not-found").
func (s *Store) InvalidateCorrupt(k digest.Digest, suffix Suffix) {
	_ = s.Remove(k, suffix)
}

// Put writes data atomically to (k, suffix): temp file in the shard's
// tmp/ dir, optional fsync, then rename into place (spec.md §4.6 steps
// 1-3), and updates the shard's files_in_cache/cache_size_kibibyte
// counters (step 4).
func (s *Store) Put(k digest.Digest, suffix Suffix, data []byte, fsync bool) error {
	shardDir := s.shardDir(k)
	tmpDir := filepath.Join(shardDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return errors.Wrapf(err, "create shard tmp dir %q", tmpDir)
	}

	f, err := os.CreateTemp(tmpDir, "*"+tempSuffix)
	if err != nil {
		return errors.Wrap(err, "create temp cache file")
	}
	tmpPath := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "write temp cache file")
	}
	if fsync {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return errors.Wrap(err, "fsync temp cache file")
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "close temp cache file")
	}

	finalPath := s.Path(k, suffix)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "publish cache entry")
	}

	shard := k.PathForm()[:2]
	stats := s.shardStats(shard)
	stats.Inc(ccstats.FilesInCache)
	stats.Incr(ccstats.CacheSizeKibibyte, uint64(len(data)+1023)/1024)
	return nil
}

// Remove deletes the entry for (k, suffix), first renaming to a
// shard-local temporary name to stay safe under NFS (spec.md §4.6
// "NFS safety").
func (s *Store) Remove(k digest.Digest, suffix Suffix) error {
	path := s.Path(k, suffix)
	tmp := path + tempSuffix + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := os.Rename(path, tmp); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "rename before remove")
	}
	return os.Remove(tmp)
}

type shardEntry struct {
	path  string
	size  int64
	atime time.Time
}

// Cleanup walks every shard directory and, when its file count exceeds
// maxFiles/16 or its total size exceeds maxSize/16, deletes the
// least-recently-accessed entries until both are back under threshold
// (spec.md §4.6 "Cleanup"). It increments cleanups_performed once per
// shard in which at least one file was removed.
func (s *Store) Cleanup() error {
	shards, err := s.listShardDirs()
	if err != nil {
		return err
	}
	maxFiles := s.MaxFiles / 16
	if s.MaxFiles == 0 {
		maxFiles = ^uint64(0) // max_files=0: no file-count limit
	}
	for _, shard := range shards {
		if err := s.cleanupShard(shard, maxFiles, s.MaxSize/16, time.Time{}, ""); err != nil {
			return err
		}
	}
	return nil
}

// Evict runs the same under-threshold sweep as Cleanup but bounded by an
// explicit age and/or namespace filter (spec.md §4.6 "Eviction
// (explicit)": `--evict-older-than` / `--evict-namespace`). A zero
// olderThan and empty namespace evict unconditionally down to 0 entries.
func (s *Store) Evict(olderThan time.Duration, namespace string) error {
	shards, err := s.listShardDirs()
	if err != nil {
		return err
	}
	var cutoff time.Time
	if olderThan > 0 {
		cutoff = time.Now().Add(-olderThan)
	}
	for _, shard := range shards {
		if err := s.cleanupShard(shard, 0, 0, cutoff, namespace); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) listShardDirs() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "list cache dir")
	}
	var shards []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) == 2 {
			shards = append(shards, e.Name())
		}
	}
	return shards, nil
}

// cleanupShard removes atime-oldest entries from shard until its file
// count and byte size are within (maxFiles, maxSizeBytes) — or, when
// cutoff/namespace are set, removes every entry older than cutoff
// belonging to namespace regardless of the thresholds (the explicit
// Evict path).
func (s *Store) cleanupShard(shard string, maxFiles, maxSizeBytes uint64, cutoff time.Time, namespace string) error {
	dir := filepath.Join(s.Dir, shard)
	ents, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "list shard %q", shard)
	}

	var files []shardEntry
	var totalSize int64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, shardEntry{
			path:  filepath.Join(dir, e.Name()),
			size:  info.Size(),
			atime: atime(info),
		})
		totalSize += info.Size()
	}

	explicit := !cutoff.IsZero() || namespace != ""
	removed := false

	if explicit {
		for _, f := range files {
			if !cutoff.IsZero() && f.atime.After(cutoff) {
				continue
			}
			if namespace != "" && !entryBelongsToNamespace(f.path, namespace) {
				continue
			}
			if err := os.Remove(f.path); err == nil {
				removed = true
				totalSize -= f.size
			}
		}
	} else {
		sort.Slice(files, func(i, j int) bool { return files[i].atime.Before(files[j].atime) })
		fileCount := uint64(len(files))
		for _, f := range files {
			if fileCount <= maxFiles && uint64(totalSize) <= maxSizeBytes {
				break
			}
			if err := os.Remove(f.path); err != nil {
				continue
			}
			removed = true
			fileCount--
			totalSize -= f.size
		}
	}

	if removed {
		stats := s.shardStats(shard)
		stats.Inc(ccstats.CleanupsPerformed)
	}
	return nil
}

// entryBelongsToNamespace reports whether the entry at path was stored
// under namespace, read from its envelope header. An empty namespace
// matches every entry; an unreadable or corrupt entry matches none.
func entryBelongsToNamespace(path, namespace string) bool {
	if namespace == "" {
		return true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	hdr, _, err := envelope.Read(data)
	return err == nil && hdr.Namespace == namespace
}

// RecompressShards walks every shard, decoding and re-encoding any entry
// whose compression level differs from level, using up to parallelism
// worker goroutines (spec.md §4.6 "Recompression"). recode is supplied
// by the caller (internal/engine), which decides how each entry is
// decoded and re-encoded.
func (s *Store) RecompressShards(parallelism int, recode func(data []byte) (out []byte, changed bool, err error)) (recompressed int, err error) {
	shards, err := s.listShardDirs()
	if err != nil {
		return 0, err
	}
	if parallelism < 1 {
		parallelism = 1
	}

	type job struct{ path string }
	jobs := make(chan job)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	count := 0

	worker := func() {
		defer wg.Done()
		for j := range jobs {
			data, readErr := os.ReadFile(j.path)
			if readErr != nil {
				continue
			}
			out, changed, recodeErr := recode(data)
			if recodeErr != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = recodeErr
				}
				mu.Unlock()
				continue
			}
			if !changed {
				continue
			}
			tmp := j.path + tempSuffix
			if writeErr := os.WriteFile(tmp, out, 0o644); writeErr != nil {
				continue
			}
			if renameErr := os.Rename(tmp, j.path); renameErr != nil {
				os.Remove(tmp)
				continue
			}
			mu.Lock()
			count++
			mu.Unlock()
		}
	}

	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go worker()
	}

	for _, shard := range shards {
		dir := filepath.Join(s.Dir, shard)
		ents, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range ents {
			if e.IsDir() {
				continue
			}
			jobs <- job{path: filepath.Join(dir, e.Name())}
		}
	}
	close(jobs)
	wg.Wait()

	return count, firstErr
}

// AggregateStats merges every shard's counter set into one (get_all_
// statistics, §6); "level-1 only" cache_size_kibibyte entries are summed
// here rather than double-counted against any process-wide total (§9
// Open Question, resolved in DESIGN.md).
func (s *Store) AggregateStats() map[ccstats.Counter]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := ccstats.NewSet()
	for _, set := range s.shards {
		total.Merge(set.Snapshot())
	}
	return total.Snapshot()
}

// ZeroStats resets every shard's counters (zero_all_statistics, §6).
func (s *Store) ZeroStats(nowUnix int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, set := range s.shards {
		set.Zero(nowUnix)
	}
}

func atime(info os.FileInfo) time.Time {
	if a, ok := atimeFromSys(info); ok {
		return a
	}
	return info.ModTime()
}
