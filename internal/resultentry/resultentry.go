// Package resultentry implements component F: a self-describing,
// ordered, multi-file artifact container (the "result entry").
//
// Grounded on rclone's cache objects (backend/cache/object.go,
// handle.go), which likewise represent a cached item as a set of typed
// parts materialized to named files on extraction.
package resultentry

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// FileType enumerates the part kinds spec.md §3 "Result entry" lists.
type FileType uint8

const (
	FileTypeObject FileType = iota
	FileTypeDependency
	FileTypeStderrOutput
	FileTypeCoverageUnmangled
	FileTypeStackUsage
	FileTypeDiagnostic
	FileTypeDwarfObject
	FileTypeAssemblerListing
	FileTypeIncludedPCHFile
	FileTypeCovreateData
)

func (t FileType) String() string {
	switch t {
	case FileTypeObject:
		return "object"
	case FileTypeDependency:
		return "dependency"
	case FileTypeStderrOutput:
		return "stderr_output"
	case FileTypeCoverageUnmangled:
		return "coverage_unmangled"
	case FileTypeStackUsage:
		return "stackusage"
	case FileTypeDiagnostic:
		return "diagnostic"
	case FileTypeDwarfObject:
		return "dwarf_object"
	case FileTypeAssemblerListing:
		return "assembler_listing"
	case FileTypeIncludedPCHFile:
		return "included_pch_file"
	case FileTypeCovreateData:
		return "covreate_data"
	default:
		return "unknown"
	}
}

// Part is one (file_type, payload) tuple.
type Part struct {
	Type    FileType
	Payload []byte
}

// Result is the ordered list of parts produced by a successful
// compilation. At most one Part per FileType (enforced by Validate).
type Result struct {
	Parts []Part
}

// Validate enforces the "at most one entry per file_type" invariant and,
// when expectObject is true, that an object part is present
// (spec.md §3: "object is mandatory when the request had expect_output_obj=true").
func (r *Result) Validate(expectObject bool) error {
	seen := make(map[FileType]bool, len(r.Parts))
	hasObject := false
	for _, p := range r.Parts {
		if seen[p.Type] {
			return errors.Errorf("duplicate result part of type %s", p.Type)
		}
		seen[p.Type] = true
		if p.Type == FileTypeObject {
			hasObject = true
		}
	}
	if expectObject && !hasObject {
		return errors.New("result is missing mandatory object part")
	}
	return nil
}

// Get returns the payload for FileType t, or (nil, false).
func (r *Result) Get(t FileType) ([]byte, bool) {
	for _, p := range r.Parts {
		if p.Type == t {
			return p.Payload, true
		}
	}
	return nil, false
}

// Serialize emits the parts in their given order, each framed as
// type(1) | size(8) | bytes, followed by a trailing entry count — a
// stable, simple, self-describing format (spec.md §4.5 "Result
// serializer... in a stable order with a trailing entry count").
func (r *Result) Serialize(w io.Writer) error {
	for _, p := range r.Parts {
		if _, err := w.Write([]byte{byte(p.Type)}); err != nil {
			return errors.Wrap(err, "write result part type")
		}
		var sizeBuf [8]byte
		binary.BigEndian.PutUint64(sizeBuf[:], uint64(len(p.Payload)))
		if _, err := w.Write(sizeBuf[:]); err != nil {
			return errors.Wrap(err, "write result part size")
		}
		if _, err := w.Write(p.Payload); err != nil {
			return errors.Wrap(err, "write result part payload")
		}
	}
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(r.Parts)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return errors.Wrap(err, "write result entry count")
	}
	return nil
}

// Extract parses the stream Serialize produced. It is Serialize's exact
// inverse on arbitrary part lists with unique types (spec.md §8 round-trip).
func Extract(data []byte) (*Result, error) {
	r := &Result{}
	buf := data
	// Parts are read greedily until exactly the trailing 4-byte count
	// remains; there is no per-part terminator, so the loop bound is
	// "more than just the trailing count left."
	for len(buf) > 4 {
		t := FileType(buf[0])
		if len(buf) < 9 {
			return nil, errors.New("truncated result entry part header")
		}
		size := binary.BigEndian.Uint64(buf[1:9])
		if uint64(len(buf)-9) < size {
			return nil, errors.New("truncated result entry payload")
		}
		payload := make([]byte, size)
		copy(payload, buf[9:9+size])
		r.Parts = append(r.Parts, Part{Type: t, Payload: payload})
		buf = buf[9+size:]
	}
	if len(buf) != 4 {
		return nil, errors.New("malformed result entry: missing trailing count")
	}
	count := binary.BigEndian.Uint32(buf)
	if int(count) != len(r.Parts) {
		return nil, errors.Errorf("result entry count mismatch: header says %d, found %d", count, len(r.Parts))
	}
	return r, nil
}

// Inspect renders a human-readable report of a serialized result (the
// §6 `inspect(bytes)` CLI surface function, when the bytes are a Result
// payload rather than a Manifest payload).
func Inspect(data []byte) (string, error) {
	r, err := Extract(data)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	buf.WriteString("result entry:\n")
	for _, p := range r.Parts {
		buf.WriteString("  " + p.Type.String())
		buf.WriteString(" (")
		buf.WriteString(itoa(len(p.Payload)))
		buf.WriteString(" bytes)\n")
	}
	return buf.String(), nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}
