//go:build linux

package localstore

import (
	"os"
	"syscall"
	"time"
)

// atimeFromSys extracts the true access time from a Unix Stat_t, the way
// rclone's local backend reads atime/mtime off the platform-specific
// stat result rather than trusting ModTime for both.
func atimeFromSys(info os.FileInfo) (time.Time, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(stat.Atim.Sec, stat.Atim.Nsec), true
}
