package digest

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // 160-bit width is the content-addressing contract, not a security boundary.
	"encoding/binary"
	"hash"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ResultFlag records which optional behaviors were applied while hashing a
// file, so callers can fold the same bits into an InodeCache entry
// (spec.md §4.3/§4.6).
type ResultFlag uint32

const (
	// FlagContainsTimestampMacro is set when the file's content mentions
	// __DATE__, __TIME__, or __TIMESTAMP__ and was hashed with that fact
	// noted for the sloppiness=time_macros decision.
	FlagContainsTimestampMacro ResultFlag = 1 << iota
)

var timestampMacros = [][]byte{
	[]byte("__DATE__"),
	[]byte("__TIME__"),
	[]byte("__TIMESTAMP__"),
}

// Hasher is a streaming constructor for a 160-bit digest. It is not safe
// for concurrent use; create one per hash computation.
type Hasher struct {
	h hash.Hash
}

// New returns a fresh Hasher.
func New() *Hasher {
	return &Hasher{h: sha1.New()} //nolint:gosec
}

// Update feeds bytes into the hash. Order-sensitive.
func (hr *Hasher) Update(b []byte) {
	hr.h.Write(b) //nolint:errcheck // hash.Hash.Write never errors.
}

// UpdateTagged feeds a canonical tag-and-length-framed field into the
// hash: tag, then a 4-byte big-endian length, then the bytes themselves.
// This is the framing spec.md §4.3 requires so adjacent fields in a
// direct-mode hash can never collide (e.g. "ARGa" + "b" vs "ARG" + "ab").
func (hr *Hasher) UpdateTagged(tag string, value []byte) {
	hr.Update([]byte(tag))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
	hr.Update(lenBuf[:])
	hr.Update(value)
}

// UpdateTaggedString is UpdateTagged for string values.
func (hr *Hasher) UpdateTaggedString(tag, value string) {
	hr.UpdateTagged(tag, []byte(value))
}

// Digest is the terminal operation: it returns the accumulated digest.
// The Hasher must not be reused afterwards.
func (hr *Hasher) Digest() Digest {
	var d Digest
	copy(d[:], hr.h.Sum(nil))
	return d
}

// InodeLookup is the subset of the inode cache consulted while hashing a
// file (component D). The engine's inodeAdapter implements it over
// *inodecache.Cache.
type InodeLookup interface {
	Get(ctx InodeKey) (Digest, bool)
	Put(ctx InodeKey, file Digest, flags ResultFlag)
}

// InodeKey mirrors the spec's InodeCache key fields (§3). Declared here,
// rather than imported from internal/inodecache, to avoid a dependency
// cycle: inodecache imports digest, not the reverse.
type InodeKey struct {
	ContentType byte
	Dev         uint64
	Ino         uint64
	Mode        uint32
	Mtime       int64
	Ctime       int64
	Size        int64
}

// HashFileOptions configures HashFile.
type HashFileOptions struct {
	// Cache is consulted before streaming the file, when non-nil.
	Cache InodeLookup
	// MinAgeElapsed reports that the file is older than the min_age window;
	// when false the file is never inserted into or consulted from the
	// cache (spec.md §4.6 min_age).
	MinAgeElapsed bool
	// CheckTimestampMacros enables scanning file content for __DATE__ /
	// __TIME__ / __TIMESTAMP__, relevant only for sloppiness=time_macros.
	CheckTimestampMacros bool
	Key                  InodeKey
}

// HashFile hashes the content of path, consulting and populating the
// inode cache per spec.md §4.3. It returns the file digest and the result
// flags observed (e.g. presence of timestamp macros).
func HashFile(path string, opt HashFileOptions) (Digest, ResultFlag, error) {
	if opt.Cache != nil && opt.MinAgeElapsed {
		if d, ok := opt.Cache.Get(opt.Key); ok {
			return d, 0, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return Digest{}, 0, errors.Wrapf(err, "hash file %q", path)
	}
	defer f.Close() //nolint:errcheck

	hr := New()
	var flags ResultFlag
	if opt.CheckTimestampMacros {
		flags, err = hashWithMacroScan(hr, f)
	} else {
		_, err = io.Copy(hr.h, f)
	}
	if err != nil {
		return Digest{}, 0, errors.Wrapf(err, "hash file %q", path)
	}

	d := hr.Digest()
	if opt.Cache != nil && opt.MinAgeElapsed {
		opt.Cache.Put(opt.Key, d, flags)
	}
	return d, flags, nil
}

// hashWithMacroScan streams r into hr while also detecting any of the
// temporal preprocessor macros, without buffering the whole file: it keeps
// a small overlap window between successive reads so a macro name split
// across a read boundary is not missed.
func hashWithMacroScan(hr *Hasher, r io.Reader) (ResultFlag, error) {
	const bufSize = 64 * 1024
	const overlap = 16 // len("__TIMESTAMP__") - 1, rounded up

	buf := make([]byte, bufSize+overlap)
	var flags ResultFlag
	carry := 0
	for {
		n, err := r.Read(buf[carry:])
		if n > 0 {
			chunk := buf[:carry+n]
			hr.h.Write(chunk[carry:]) //nolint:errcheck
			if flags&FlagContainsTimestampMacro == 0 {
				for _, macro := range timestampMacros {
					if bytes.Contains(chunk, macro) {
						flags |= FlagContainsTimestampMacro
						break
					}
				}
			}
			if n >= overlap {
				copy(buf[0:overlap], chunk[len(chunk)-overlap:])
				carry = overlap
			} else {
				carry += n
			}
		}
		if err == io.EOF {
			return flags, nil
		}
		if err != nil {
			return flags, err
		}
	}
}

// CompilerCheckMode selects how the compiler's identity is mixed into the
// direct-mode hash (spec.md §4.3).
type CompilerCheckMode string

const (
	CompilerCheckMtime  CompilerCheckMode = "mtime"
	CompilerCheckContent CompilerCheckMode = "content"
	CompilerCheckNone    CompilerCheckMode = "none"
	CompilerCheckCommand CompilerCheckMode = "command" // prefix "%compiler_check_command%"
	CompilerCheckString  CompilerCheckMode = "string"  // fixed literal string
)

// HashCompiler mixes the compiler's identity into hr per the configured
// mode. cmdOutput/fixedString supply the dynamic content for the
// "command"/"string" modes respectively; they are computed by the caller
// (engine) since running a shell command is an I/O/process concern this
// package deliberately does not own.
func HashCompiler(hr *Hasher, mode CompilerCheckMode, compilerPath string, cmdOutput, fixedString string) error {
	switch mode {
	case CompilerCheckNone:
		return nil
	case CompilerCheckString:
		hr.UpdateTaggedString("CCSTR", fixedString)
		return nil
	case CompilerCheckCommand:
		hr.UpdateTaggedString("CCCMD", cmdOutput)
		return nil
	case CompilerCheckContent:
		f, err := os.Open(compilerPath)
		if err != nil {
			return errors.Wrapf(err, "hash compiler %q", compilerPath)
		}
		defer f.Close() //nolint:errcheck
		inner := New()
		if _, err := io.Copy(inner.h, f); err != nil {
			return errors.Wrapf(err, "hash compiler %q", compilerPath)
		}
		hr.UpdateTagged("CCCONT", inner.Digest()[:])
		return nil
	case CompilerCheckMtime, "":
		fi, err := os.Stat(compilerPath)
		if err != nil {
			return errors.Wrapf(err, "stat compiler %q", compilerPath)
		}
		hr.UpdateTaggedString("CCPATH", compilerPath)
		var sizeBuf [8]byte
		binary.BigEndian.PutUint64(sizeBuf[:], uint64(fi.Size()))
		hr.UpdateTagged("CCSIZE", sizeBuf[:])
		var mtimeBuf [8]byte
		binary.BigEndian.PutUint64(mtimeBuf[:], uint64(fi.ModTime().UnixNano()))
		hr.UpdateTagged("CCMTIME", mtimeBuf[:])
		return nil
	default:
		return errors.Errorf("unknown compiler_check mode %q", mode)
	}
}
