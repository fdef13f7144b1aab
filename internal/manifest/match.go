package manifest

import (
	"github.com/ccachego/ccache/internal/argproc"
	"github.com/ccachego/ccache/internal/digest"
)

// Stat is the current on-disk state of a file referenced by a manifest
// entry, as observed at lookup time.
type Stat struct {
	Size  int64
	Mtime int64
	Ctime int64
}

// StatAndHashFunc stats a file; HashFunc content-hashes one. The matcher
// calls hash only when the sloppiness policy needs a content comparison.
type StatAndHashFunc func(path string) (Stat, error)
type HashFunc func(path string) (digest.Digest, error)

// Matches reports whether entry satisfies the configured sloppiness
// against the current working tree (spec.md §4.4 "On read"): one of
//   - default: content_hash must match the current file
//   - file_stat_matches: (size, mtime) match, skipping content hashing
//   - file_stat_matches_ctime: additionally require ctime match
//   - include_file_mtime / include_file_ctime: treat changes to only
//     mtime/ctime as matches (i.e. they don't invalidate on their own)
func (m *Manifest) Matches(entry *Entry, sloppiness argproc.Sloppiness, stat StatAndHashFunc, hash HashFunc) (bool, error) {
	for _, idx := range entry.FileInfoIndexes {
		if idx < 0 || idx >= len(m.FileInfos) {
			return false, nil
		}
		fi := m.FileInfos[idx]
		cur, err := stat(fi.Path)
		if err != nil {
			return false, nil // vanished/unreadable file: no match, not an error
		}

		switch {
		case sloppiness.FileStatMatchesCtime:
			if cur.Size != fi.Size || cur.Mtime != fi.Mtime || cur.Ctime != fi.Ctime {
				return false, nil
			}
		case sloppiness.FileStatMatches:
			if cur.Size != fi.Size || cur.Mtime != fi.Mtime {
				return false, nil
			}
		default:
			// include_file_mtime / include_file_ctime only relax stat-only
			// matching; the default policy always falls through to a
			// content-hash comparison regardless of their value, since
			// content identity is what default sloppiness guarantees
			// (spec.md §8 invariant 6).
			if cur.Size != fi.Size {
				return false, nil
			}
			h, err := hash(fi.Path)
			if err != nil {
				return false, nil
			}
			if h != fi.ContentHash {
				return false, nil
			}
		}
	}
	return true, nil
}

// FindMatch evaluates entries in insertion order and returns the first
// one that matches (spec.md §5: "the first matching entry wins (stable)").
func (m *Manifest) FindMatch(sloppiness argproc.Sloppiness, stat StatAndHashFunc, hash HashFunc) (*Entry, bool, error) {
	for i := range m.Entries {
		ok, err := m.Matches(&m.Entries[i], sloppiness, stat, hash)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return &m.Entries[i], true, nil
		}
	}
	return nil, false, nil
}
