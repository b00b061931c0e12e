//go:build !windows

package proc

import (
	"strconv"
	"syscall"
	"time"
)

func detachAttr(Command) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// RemovalCommand returns the detached command that sleeps for delay and
// then removes dir. Paths are passed as arguments, never spliced into the
// script.
func RemovalCommand(dir string, delay time.Duration) Command {
	return Command{
		Path: "/bin/sh",
		Args: []string{
			"-c", `sleep "$1"; rm -rf -- "$2"`,
			"handoff-cleanup",
			strconv.Itoa(delaySeconds(delay)),
			dir,
		},
		Dir: "/",
	}
}
