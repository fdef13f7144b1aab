// Package manifest implements component E: the persisted map from an
// included-files fingerprint to a result key, used by direct mode to
// avoid rehashing the source on every invocation.
//
// The on-payload record shape (a gob-encoded struct holding a fingerprint
// and the thing it maps to) mirrors backend/hasher/kv.go's hashRecord
// idiom (rclone: fingerprint -> cached hash record), generalized here
// from "one fingerprint, one hash" to "one fingerprint, many candidate
// file-sets, each with its own result key."
package manifest

import (
	"bytes"
	"encoding/gob"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/ccachego/ccache/internal/digest"
)

// Limits are the fixed manifest caps from spec.md §4.4.
const (
	MaxFiles   = 10000
	MaxEntries = 100
)

// FileInfo is one row of the manifest's file_infos[] table.
type FileInfo struct {
	Path        string // base-dir-rewritten when applicable
	Size        int64
	Mtime       int64
	Ctime       int64
	ContentHash digest.Digest
}

// Entry is one candidate (included-files fingerprint -> result key).
type Entry struct {
	FileInfoIndexes        []int
	IncludedFilesFingerprint digest.Digest
	ResultKey               digest.Digest
	insertedAt              int64 // unix nanos; oldest-first pruning order
}

// Manifest is the deduplicated files[] table plus its entries[], as
// described in spec.md §4.4.
type Manifest struct {
	Files     []string
	FileInfos []FileInfo
	Entries   []Entry

	pathIndex map[string]int
}

// New returns an empty Manifest.
func New() *Manifest {
	return &Manifest{pathIndex: make(map[string]int)}
}

// gobManifest is the wire/gob shape, matching kv.go's convention of
// gob-encoding a small record struct directly (no separate schema type).
type gobManifest struct {
	Files     []string
	FileInfos []FileInfo
	Entries   []Entry
}

// Encode serializes the manifest payload (before envelope framing).
func (m *Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	g := gobManifest{Files: m.Files, FileInfos: m.FileInfos, Entries: m.Entries}
	if err := gob.NewEncoder(&buf).Encode(&g); err != nil {
		return nil, errors.Wrap(err, "encode manifest")
	}
	return buf.Bytes(), nil
}

// Decode parses a manifest payload produced by Encode.
func Decode(b []byte) (*Manifest, error) {
	var g gobManifest
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&g); err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}
	m := &Manifest{Files: g.Files, FileInfos: g.FileInfos, Entries: g.Entries, pathIndex: make(map[string]int, len(g.Files))}
	for i, p := range m.Files {
		m.pathIndex[p] = i
	}
	return m, nil
}

// internFile returns the index of path in Files, adding it if absent.
func (m *Manifest) internFile(path string) int {
	if m.pathIndex == nil {
		m.pathIndex = make(map[string]int)
	}
	if i, ok := m.pathIndex[path]; ok {
		return i
	}
	i := len(m.Files)
	m.Files = append(m.Files, path)
	m.pathIndex[path] = i
	return i
}

// AddEntry records a new candidate entry for files (each described by a
// FileInfo) mapping to resultKey, then prunes the manifest down to
// MaxFiles/MaxEntries, oldest-first, if it now exceeds either cap
// (spec.md §4.4 "On write after a miss").
func (m *Manifest) AddEntry(files []FileInfo, resultKey digest.Digest, now time.Time) {
	idxs := make([]int, len(files))
	for i, fi := range files {
		idx := m.internFile(fi.Path)
		idxs[i] = idx
		if idx == len(m.FileInfos) {
			m.FileInfos = append(m.FileInfos, fi)
		} else if idx < len(m.FileInfos) {
			m.FileInfos[idx] = fi
		}
	}
	fp := Fingerprint(files)
	m.Entries = append(m.Entries, Entry{
		FileInfoIndexes:          idxs,
		IncludedFilesFingerprint: fp,
		ResultKey:                resultKey,
		insertedAt:               now.UnixNano(),
	})
	m.prune()
}

// prune drops the oldest entries (by insertion order) until the manifest
// is within MaxEntries, and drops unreferenced files until within
// MaxFiles (spec.md §4.4: "pruning the oldest entries if the manifest
// exceeds a fixed cap (files list: 10,000; entries: 100; oldest-first)").
func (m *Manifest) prune() {
	if len(m.Entries) > MaxEntries {
		sort.SliceStable(m.Entries, func(i, j int) bool { return m.Entries[i].insertedAt < m.Entries[j].insertedAt })
		drop := len(m.Entries) - MaxEntries
		m.Entries = append([]Entry{}, m.Entries[drop:]...)
	}
	if len(m.Files) > MaxFiles {
		referenced := make(map[int]bool)
		for _, e := range m.Entries {
			for _, idx := range e.FileInfoIndexes {
				referenced[idx] = true
			}
		}
		newFiles := make([]string, 0, MaxFiles)
		newInfos := make([]FileInfo, 0, MaxFiles)
		remap := make(map[int]int, len(m.Files))
		for i, p := range m.Files {
			if !referenced[i] {
				continue
			}
			remap[i] = len(newFiles)
			newFiles = append(newFiles, p)
			newInfos = append(newInfos, m.FileInfos[i])
		}
		for i := range m.Entries {
			for j, idx := range m.Entries[i].FileInfoIndexes {
				m.Entries[i].FileInfoIndexes[j] = remap[idx]
			}
		}
		m.Files = newFiles
		m.FileInfos = newInfos
		m.pathIndex = make(map[string]int, len(newFiles))
		for i, p := range newFiles {
			m.pathIndex[p] = i
		}
	}
}

// Fingerprint computes the order-independent XOR-accumulated fingerprint
// supplement described in SPEC_FULL.md §3 (grounded on nocc's
// sha256xor.XorWith idiom, adapted to our 160-bit digest and sha1-based
// Hasher): fold in the file count, then XOR every file's content hash
// together so reordering an otherwise-identical dependency list yields
// the same fingerprint.
func Fingerprint(files []FileInfo) digest.Digest {
	var acc digest.Digest
	h := digest.New()
	h.UpdateTaggedString("COUNT", itoa(len(files)))
	for _, fi := range files {
		acc.XorWith(fi.ContentHash)
	}
	h.UpdateTagged("XOR", acc[:])
	return h.Digest()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
