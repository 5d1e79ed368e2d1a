//go:build unix

package runner

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcessGroup puts the shell in its own process group so cancellation
// also kills the commands it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
}
