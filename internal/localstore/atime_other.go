//go:build !linux

package localstore

import (
	"os"
	"time"
)

// atimeFromSys has no portable Stat_t field on this platform; callers
// fall back to ModTime. For an entry read since it was written, ModTime
// is earlier than the true atime, so cleanup treats that entry as older
// than it is.
func atimeFromSys(info os.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
