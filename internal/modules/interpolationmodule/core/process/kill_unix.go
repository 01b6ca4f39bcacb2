//go:build !windows

package process

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
)

// setProcAttr starts the engine in its own process group so helper
// processes it spawns are terminated with it.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcess sends SIGTERM to the process group, escalating to SIGKILL.
func killProcess(pid int, logger hclog.Logger) error {
	if err := syscall.Kill(pid, 0); err != nil {
		return nil
	}

	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}

	signal := func(sig syscall.Signal) {
		if pgid != pid {
			syscall.Kill(-pgid, sig)
		}
		syscall.Kill(pid, sig)
	}

	signal(syscall.SIGTERM)
	if waitGone(pid, 5*time.Second) {
		return nil
	}

	logger.Warn("process did not terminate gracefully, sending SIGKILL", "pid", pid)
	signal(syscall.SIGKILL)
	if waitGone(pid, 2*time.Second) {
		return nil
	}
	return fmt.Errorf("process %d could not be killed", pid)
}

func waitGone(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err != nil {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
