// Package envelope implements component G: the framed, compressed,
// checksummed container wrapping a Manifest or Result payload on disk
// and over the wire (spec.md §3 "Cache entry envelope").
//
// Compression is delegated to klauspost/compress/zstd and the trailing
// checksum to cespare/xxhash/v2, both part of rclone's own dependency
// graph (go.mod require block), rather than hand-rolled equivalents.
package envelope

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Magic is the 4-byte envelope magic.
var Magic = [4]byte{'C', 'C', 'E', 'N'}

// FormatVersion gates forward/backward compatibility (spec.md §4.5: "a
// version gate reads; mismatched version fails with bad_input_file").
const FormatVersion = 1

// EntryType distinguishes a Manifest envelope from a Result envelope,
// even though both live in the same key namespace (spec.md §3).
type EntryType uint8

const (
	EntryTypeManifest EntryType = 1
	EntryTypeResult   EntryType = 2
)

// CompressionType selects the payload codec.
type CompressionType uint8

const (
	CompressionNone CompressionType = 0
	CompressionZstd CompressionType = 1
)

const (
	zstdLevelMin = 1
	zstdLevelMax = 22
	zstdDefault  = 3
)

// Envelope is the decoded header of an envelope. The payload is not part
// of it: Write takes the payload as an argument and Read returns it
// alongside the header.
type Envelope struct {
	FormatVersion   uint8
	EntryType       EntryType
	Compression     CompressionType
	CompressionLevel uint8
	SelfContained   bool
	CreationTime    int64
	CCacheVersion   string
	Namespace       string
}

// ErrBadInputFile is returned (wrapped) whenever the magic, version, or
// checksum check fails — all map onto spec.md §7's bad_input_file kind.
var ErrBadInputFile = errors.New("envelope: bad input file")

func clampLevel(level int) (int, string) {
	if level == 0 {
		return zstdDefault, ""
	}
	if level > zstdLevelMax {
		return zstdLevelMax, "compression level clamped to maximum"
	}
	if level < zstdLevelMin {
		return zstdLevelMin, "compression level raised to minimum"
	}
	return level, ""
}

// Write frames payload per spec.md §4.5/§3 and writes it to w. It returns
// a non-empty warning string when the requested level was clamped.
func Write(w io.Writer, hdr Envelope, level int, payload []byte) (warning string, err error) {
	level, warning = clampLevel(level)

	var compressed []byte
	switch hdr.Compression {
	case CompressionNone:
		compressed = payload
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return warning, errors.Wrap(err, "create zstd encoder")
		}
		compressed = enc.EncodeAll(payload, nil)
		if err := enc.Close(); err != nil {
			return warning, errors.Wrap(err, "close zstd encoder")
		}
	default:
		return warning, errors.Errorf("unknown compression type %d", hdr.Compression)
	}

	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.WriteByte(FormatVersion)
	buf.WriteByte(byte(hdr.EntryType))
	buf.WriteByte(byte(hdr.Compression))
	buf.WriteByte(byte(level))
	selfContained := byte(0)
	if hdr.SelfContained {
		selfContained = 1
	}
	buf.WriteByte(selfContained)

	var timeBuf [8]byte
	binary.BigEndian.PutUint64(timeBuf[:], uint64(hdr.CreationTime))
	buf.Write(timeBuf[:])

	writeString(&buf, hdr.CCacheVersion)
	writeString(&buf, hdr.Namespace)

	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(len(compressed)))
	buf.Write(sizeBuf[:])
	buf.Write(compressed)

	// Checksum: XXH64 (cespare/xxhash/v2's Sum64) of the *uncompressed*
	// payload. The algorithm is XXH64, not XXH3, so the stored value
	// differs from an XXH3-64 checksum of the same bytes.
	sum := xxhash.Sum64(payload)
	var sumBuf [8]byte
	binary.BigEndian.PutUint64(sumBuf[:], sum)
	buf.Write(sumBuf[:])

	if _, err := w.Write(buf.Bytes()); err != nil {
		return warning, errors.Wrap(err, "write envelope")
	}
	return warning, nil
}

func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// Read parses and verifies an envelope from data, returning its header
// and the decompressed, checksum-verified payload. Any check failure
// (magic, version, checksum) returns ErrBadInputFile-wrapped.
func Read(data []byte) (Envelope, []byte, error) {
	var hdr Envelope
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != Magic {
		return hdr, nil, errors.Wrap(ErrBadInputFile, "bad magic")
	}

	var versionByte [1]byte
	if _, err := io.ReadFull(r, versionByte[:]); err != nil {
		return hdr, nil, errors.Wrap(ErrBadInputFile, "truncated version")
	}
	if versionByte[0] != FormatVersion {
		return hdr, nil, errors.Wrapf(ErrBadInputFile, "unsupported envelope version %d", versionByte[0])
	}
	hdr.FormatVersion = versionByte[0]

	var rest [4]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return hdr, nil, errors.Wrap(ErrBadInputFile, "truncated header")
	}
	hdr.EntryType = EntryType(rest[0])
	hdr.Compression = CompressionType(rest[1])
	hdr.CompressionLevel = rest[2]
	hdr.SelfContained = rest[3] != 0

	var timeBuf [8]byte
	if _, err := io.ReadFull(r, timeBuf[:]); err != nil {
		return hdr, nil, errors.Wrap(ErrBadInputFile, "truncated creation time")
	}
	hdr.CreationTime = int64(binary.BigEndian.Uint64(timeBuf[:]))

	var err error
	hdr.CCacheVersion, err = readString(r)
	if err != nil {
		return hdr, nil, errors.Wrap(ErrBadInputFile, "truncated ccache_version")
	}
	hdr.Namespace, err = readString(r)
	if err != nil {
		return hdr, nil, errors.Wrap(ErrBadInputFile, "truncated namespace")
	}

	var sizeBuf [8]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return hdr, nil, errors.Wrap(ErrBadInputFile, "truncated entry_size")
	}
	size := binary.BigEndian.Uint64(sizeBuf[:])
	compressed := make([]byte, size)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return hdr, nil, errors.Wrap(ErrBadInputFile, "truncated payload")
	}

	var sumBuf [8]byte
	if _, err := io.ReadFull(r, sumBuf[:]); err != nil {
		return hdr, nil, errors.Wrap(ErrBadInputFile, "truncated checksum")
	}
	wantSum := binary.BigEndian.Uint64(sumBuf[:])

	var payload []byte
	switch hdr.Compression {
	case CompressionNone:
		payload = compressed
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return hdr, nil, errors.Wrap(err, "create zstd decoder")
		}
		defer dec.Close()
		payload, err = dec.DecodeAll(compressed, nil)
		if err != nil {
			return hdr, nil, errors.Wrap(ErrBadInputFile, "decompress payload")
		}
	default:
		return hdr, nil, errors.Wrapf(ErrBadInputFile, "unknown compression type %d", hdr.Compression)
	}

	if xxhash.Sum64(payload) != wantSum {
		return hdr, nil, errors.Wrap(ErrBadInputFile, "checksum mismatch")
	}

	return hdr, payload, nil
}
