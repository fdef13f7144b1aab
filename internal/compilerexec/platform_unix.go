//go:build !windows

package compilerexec

import (
	"os/exec"
	"syscall"
)

// configurePlatform keeps the child in the parent's process group, so a
// signal sent to the parent build tree reaches the compiler too. Caught
// signal handlers are reset to their defaults in the child by exec itself
// (spec.md §4.9's POSIX spawn discipline).
func configurePlatform(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{}
}
