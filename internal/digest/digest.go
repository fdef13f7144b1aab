// Package digest implements the 160-bit content digest used as the cache's
// key type (component C of the spec: Hasher).
package digest

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

// Size is the digest width in bytes (160 bits).
const Size = 20

// Digest is the store's key type: a 20-byte content fingerprint.
type Digest [Size]byte

// pathEncoding is the unpadded lowercase base32hex alphabet used for the
// tail of a digest's path form. base32.HexEncoding is uppercase by
// default, so a lowercase variant is derived explicitly.
var pathEncoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

// String returns the lowercase base16 (hex) representation.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the all-zero digest (never a valid content
// digest, used as a sentinel for "no result").
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseBase16 parses a 40-character lowercase base16 string into a Digest.
func ParseBase16(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, errors.Wrap(err, "parse base16 digest")
	}
	if len(b) != Size {
		return d, errors.Errorf("base16 digest has wrong length %d, want %d", len(b), Size)
	}
	copy(d[:], b)
	return d, nil
}

// PathForm renders the hybrid path form: the first 2 bytes as 4 base16
// digits, the remainder as lowercase base32hex without padding. The first
// 2 characters are the level-1 shard directory name (§3 Digest).
func (d Digest) PathForm() string {
	head := hex.EncodeToString(d[0:2])
	tail := pathEncoding.EncodeToString(d[2:])
	return head + tail
}

// Shard returns the level-1 shard directory name for d: the first 2
// characters of its path form.
func (d Digest) Shard() string {
	return hex.EncodeToString(d[0:1])
}

// ParsePathForm parses the path form produced by PathForm back into a
// Digest. Round-trips exactly with PathForm (invariant 4, §8).
func ParsePathForm(s string) (Digest, error) {
	var d Digest
	if len(s) < 4 {
		return d, errors.Errorf("path-form digest %q too short", s)
	}
	head, err := hex.DecodeString(s[:4])
	if err != nil {
		return d, errors.Wrap(err, "parse path-form digest head")
	}
	tail, err := pathEncoding.DecodeString(s[4:])
	if err != nil {
		return d, errors.Wrap(err, "parse path-form digest tail")
	}
	if len(head)+len(tail) != Size {
		return d, errors.Errorf("path-form digest %q decodes to %d bytes, want %d", s, len(head)+len(tail), Size)
	}
	copy(d[0:2], head)
	copy(d[2:], tail)
	return d, nil
}

// XorWith accumulates other into d in place, used by the manifest's
// order-independent fingerprint supplement (SPEC_FULL.md §3).
func (d *Digest) XorWith(other Digest) {
	for i := range d {
		d[i] ^= other[i]
	}
}

// Format implements fmt.Formatter so Digest values print sensibly in log
// fields without callers needing to call String() explicitly.
func (d Digest) Format(f fmt.State, verb rune) {
	_, _ = f.Write([]byte(d.String()))
}
