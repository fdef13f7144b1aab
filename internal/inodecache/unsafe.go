package inodecache

import "unsafe"

// ptrAt returns a pointer into buf at byte offset off, used to obtain
// atomic-compatible pointers into the mmap'd region. The region is page-
// aligned by the kernel and all offsets used here are naturally aligned
// for the int32/uint64 word sizes they address, so this is safe.
func ptrAt(buf []byte, off int) unsafe.Pointer {
	return unsafe.Pointer(&buf[off])
}
