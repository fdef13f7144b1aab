// Package inodecache implements the shared, memory-mapped LRU table that
// memoizes source-file content hashes across processes (component D).
//
// Grounded on rclone's use of golang.org/x/sys/unix for low-level POSIX
// primitives (mmap-backed shared state is not modeled by any higher-level
// library in the retrieved pack; raw mmap + atomics is the idiom the
// spec's own design notes (§9) call for: "use raw mmap + atomics with
// explicit memory ordering").
package inodecache

import (
	"encoding/binary"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ccachego/ccache/internal/digest"
)

const (
	numBuckets   = 32 * 1024
	slotsPerBucket = 4
	version      = uint32(2) // bump whenever layout or key semantics change

	keyDigestLen  = digest.Size
	fileDigestLen = digest.Size
	slotSize      = keyDigestLen + fileDigestLen + 4 // + return_value_bitmask
	bucketHeader  = 4                                // owner_pid, atomic<int32>
	bucketSize    = bucketHeader + slotsPerBucket*slotSize
	fileHeader    = 4 + 8 + 8 + 8 // version, hits, misses, errors
	regionSize    = fileHeader + numBuckets*bucketSize

	lockSpinIterations = 10000
	lockTimeout         = 5 * time.Second

	// MinAge is the default spec.md §4.6 min_age: a file whose ctime or
	// mtime is newer than now-MinAge is never inserted or consulted.
	MinAge = 2 * time.Second

	// FreeSpaceCheckInterval is the minimum interval between free-space
	// probes (spec.md §4.6: "A periodic (>=1s) free-space check").
	FreeSpaceCheckInterval = 1 * time.Second
	// FreeSpaceFloorBytes disables the cache when less than this remains
	// on the underlying filesystem.
	FreeSpaceFloorBytes = 100 * 1024 * 1024

	knownGoodFilesystemsDoc = "tmpfs, btrfs, ext2/3/4, xfs, apfs, ufs, zfs"
)

// Key mirrors spec.md §3 InodeCache Key.
type Key struct {
	ContentType byte
	Dev         uint64
	Ino         uint64
	Mode        uint32
	Mtime       int64
	Ctime       int64
	Size        int64
}

// keyDigest hashes Key into the 160-bit key used to index the table.
func (k Key) keyDigest() digest.Digest {
	h := digest.New()
	h.UpdateTagged("CT", []byte{k.ContentType})
	var buf [8]byte
	putU64 := func(tag string, v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.UpdateTagged(tag, buf[:])
	}
	putU64("DEV", k.Dev)
	putU64("INO", k.Ino)
	putU64("MODE", uint64(k.Mode))
	putU64("MTIME", uint64(k.Mtime))
	putU64("CTIME", uint64(k.Ctime))
	putU64("SIZE", uint64(k.Size))
	return h.Digest()
}

// Cache is a handle to the memory-mapped shared inode-cache region.
type Cache struct {
	path string
	data []byte
	log  *logrus.Entry

	lastSpaceCheck time.Time // explicit, never zero — see DESIGN.md Open Question decisions
}

// Open maps (creating if absent) the inode-cache file at path. The caller
// performs the filesystem-type probe described in spec.md §4.6 and passes
// its result as fsTypeKnownGood; when that is false Open returns (nil,
// nil) — "disables the cache silently" rather than an error.
func Open(path string, fsTypeKnownGood bool, log *logrus.Entry) (*Cache, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if !fsTypeKnownGood {
		log.Debugf("inodecache: filesystem not in known-good set (%s); disabling", knownGoodFilesystemsDoc)
		return nil, nil
	}

	c := &Cache{path: path, log: log, lastSpaceCheck: time.Now()}
	if err := c.openOrCreate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) openOrCreate() error {
	f, err := os.OpenFile(c.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open inode cache %q", c.path)
	}
	defer f.Close() //nolint:errcheck

	fi, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat inode cache")
	}
	if fi.Size() != int64(regionSize) {
		if err := f.Truncate(int64(regionSize)); err != nil {
			return errors.Wrap(err, "truncate inode cache")
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, regionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrap(err, "mmap inode cache")
	}
	c.data = data

	v := binary.LittleEndian.Uint32(c.data[0:4])
	if v != version {
		binary.LittleEndian.PutUint32(c.data[0:4], version)
	}
	return nil
}

// Close unmaps the region.
func (c *Cache) Close() error {
	if c == nil || c.data == nil {
		return nil
	}
	err := unix.Munmap(c.data)
	c.data = nil
	return err
}

func (c *Cache) bucketOffset(idx uint32) int {
	return fileHeader + int(idx)*bucketSize
}

// bucketIndex computes the bucket index from the key digest: big-endian
// u32 mod 32768 (spec.md §4.6 Get).
func bucketIndex(d digest.Digest) uint32 {
	v := binary.BigEndian.Uint32(d[0:4])
	return v % numBuckets
}

func (c *Cache) ownerPID(off int) *int32 {
	return (*int32)(ptrAt(c.data, off))
}

// lockBucket acquires the bucket's spin lock with ABA detection, per
// spec.md §4.6: spin for up to lockSpinIterations, then start a wall
// clock timer; if the observed owner PID changes the timer resets; after
// lockTimeout the region is considered corrupt.
func (c *Cache) lockBucket(off int) (release func(), corrupt bool) {
	mypid := int32(os.Getpid())
	ownerP := c.ownerPID(off)

	for i := 0; i < lockSpinIterations; i++ {
		if atomic.CompareAndSwapInt32(ownerP, 0, mypid) {
			return func() { atomic.StoreInt32(ownerP, 0) }, false
		}
	}

	deadline := time.Now().Add(lockTimeout)
	lastObserved := atomic.LoadInt32(ownerP)
	for time.Now().Before(deadline) {
		if atomic.CompareAndSwapInt32(ownerP, 0, mypid) {
			return func() { atomic.StoreInt32(ownerP, 0) }, false
		}
		cur := atomic.LoadInt32(ownerP)
		if cur != lastObserved {
			deadline = time.Now().Add(lockTimeout) // ABA: owner changed, reset timer
			lastObserved = cur
		}
	}
	return nil, true
}

// Get consults the cache for key, promoting a hit to slot 0.
func (c *Cache) Get(key Key) (digest.Digest, bool) {
	if c == nil || c.data == nil {
		return digest.Digest{}, false
	}
	kd := key.keyDigest()
	idx := bucketIndex(kd)
	off := c.bucketOffset(idx)

	release, corrupt := c.lockBucket(off)
	if corrupt {
		c.recover()
		return digest.Digest{}, false
	}
	defer release()

	slots := off + bucketHeader
	for s := 0; s < slotsPerBucket; s++ {
		so := slots + s*slotSize
		var sk digest.Digest
		copy(sk[:], c.data[so:so+keyDigestLen])
		if sk == kd {
			var fd digest.Digest
			copy(fd[:], c.data[so+keyDigestLen:so+keyDigestLen+fileDigestLen])
			c.promote(slots, s)
			c.bumpHeader(4, 1) // hits
			return fd, true
		}
	}
	c.bumpHeader(12, 1) // misses
	return digest.Digest{}, false
}

// Put inserts/updates key -> fileDigest, shifting older entries down and
// discarding the LRU slot (spec.md §4.6 Put).
func (c *Cache) Put(key Key, fileDigest digest.Digest, returnValueBitmask int32) {
	if c == nil || c.data == nil {
		return
	}
	kd := key.keyDigest()
	idx := bucketIndex(kd)
	off := c.bucketOffset(idx)

	release, corrupt := c.lockBucket(off)
	if corrupt {
		c.recover()
		return
	}
	defer release()

	slots := off + bucketHeader
	// Shift slots 0..2 into 1..3 (discarding slot 3).
	for s := slotsPerBucket - 1; s > 0; s-- {
		copy(c.data[slots+s*slotSize:slots+(s+1)*slotSize], c.data[slots+(s-1)*slotSize:slots+s*slotSize])
	}
	copy(c.data[slots:slots+keyDigestLen], kd[:])
	copy(c.data[slots+keyDigestLen:slots+keyDigestLen+fileDigestLen], fileDigest[:])
	binary.LittleEndian.PutUint32(c.data[slots+keyDigestLen+fileDigestLen:slots+slotSize], uint32(returnValueBitmask))
}

func (c *Cache) promote(slotsOff int, hitSlot int) {
	if hitSlot == 0 {
		return
	}
	var tmp [slotSize]byte
	copy(tmp[:], c.data[slotsOff+hitSlot*slotSize:slotsOff+(hitSlot+1)*slotSize])
	for s := hitSlot; s > 0; s-- {
		copy(c.data[slotsOff+s*slotSize:slotsOff+(s+1)*slotSize], c.data[slotsOff+(s-1)*slotSize:slotsOff+s*slotSize])
	}
	copy(c.data[slotsOff:slotsOff+slotSize], tmp[:])
}

func (c *Cache) bumpHeader(fieldOffset int, delta uint64) {
	p := (*uint64)(ptrAt(c.data, fieldOffset))
	atomic.AddUint64(p, delta)
}

// recover implements spec.md §4.6's corruption recovery path: unmap,
// unlink, recreate, remap, bump the errors counter.
func (c *Cache) recover() {
	c.log.Warn("inodecache: bucket lock timed out, treating region as corrupt; recreating")
	_ = unix.Munmap(c.data)
	c.data = nil
	_ = os.Remove(c.path)
	if err := c.openOrCreate(); err != nil {
		c.log.WithError(err).Error("inodecache: failed to recreate region")
		return
	}
	c.bumpHeader(20, 1) // errors
}

// CheckFreeSpace implements the periodic free-space probe (spec.md §4.6):
// when at least FreeSpaceCheckInterval has elapsed since the last check,
// re-probes availableBytes and disables the cache (returns false) if it
// is below FreeSpaceFloorBytes. availableBytes is supplied by the caller
// (an os-specific statfs call), keeping this package free of per-OS
// syscall branching beyond the mmap calls it already makes.
func (c *Cache) CheckFreeSpace(now time.Time, availableBytes uint64) bool {
	if now.Sub(c.lastSpaceCheck) < FreeSpaceCheckInterval {
		return true
	}
	c.lastSpaceCheck = now
	return availableBytes >= FreeSpaceFloorBytes
}

// Stats returns the header counters (hits, misses, errors).
func (c *Cache) Stats() (hits, misses, errs uint64) {
	if c == nil || c.data == nil {
		return 0, 0, 0
	}
	return binary.LittleEndian.Uint64(c.data[4:12]),
		binary.LittleEndian.Uint64(c.data[12:20]),
		binary.LittleEndian.Uint64(c.data[20:28])
}
