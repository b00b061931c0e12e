//go:build windows

package proc

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

func detachAttr(c Command) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS | windows.CREATE_NO_WINDOW,
		HideWindow:    true,
		CmdLine:       c.RawCmdLine,
	}
}

// RemovalCommand returns the detached command that waits for delay and
// then removes dir. ping is used as the delay because timeout refuses to
// run without a console.
func RemovalCommand(dir string, delay time.Duration) Command {
	cmdPath := filepath.Join(systemRoot(), "System32", "cmd.exe")
	// ping -n N waits N-1 seconds.
	pings := delaySeconds(delay) + 1
	return Command{
		Path:       cmdPath,
		RawCmdLine: fmt.Sprintf(`"%s" /C ping -n %d 127.0.0.1 >nul & rmdir /S /Q "%s"`, cmdPath, pings, dir),
		Dir:        systemRoot(),
	}
}

func systemRoot() string {
	if root := os.Getenv("SystemRoot"); root != "" {
		return root
	}
	return `C:\Windows`
}
