//go:build windows

package process

import (
	"os"
	"os/exec"

	"github.com/hashicorp/go-hclog"
)

func setProcAttr(cmd *exec.Cmd) {}

func killProcess(pid int, logger hclog.Logger) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}
