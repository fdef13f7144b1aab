//go:build linux

package main

import (
	"golang.org/x/sys/unix"
)

// knownGoodFstypes mirrors spec.md §4.6's "known-good filesystems" list
// by Linux statfs magic number. Remote/unknown filesystem types disable
// the inode cache silently, per spec.
var knownGoodFstypes = map[int64]bool{
	0x01021994: true, // TMPFS_MAGIC
	0x9123683E: true, // BTRFS_SUPER_MAGIC
	0xEF53:     true, // EXT2/3/4
	0x58465342: true, // XFS_SUPER_MAGIC
	0x2FC12FC1: true, // ZFS_SUPER_MAGIC (non-standard but widely used)
}

// probeFilesystem implements spec.md §4.6's "Filesystem probe": query
// the filesystem type the cache directory lives on and the bytes
// currently free on it.
func probeFilesystem(dir string) (knownGood bool, availableBytes uint64) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return false, 0
	}
	available := st.Bavail * uint64(st.Bsize)
	fstype := int64(st.Type)
	return knownGoodFstypes[fstype], available
}
