//go:build !unix

package procsup

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

type childHandle struct {
	cmd *exec.Cmd
}

func newChildHandle(cmd *exec.Cmd) killer {
	return &childHandle{cmd: cmd}
}

func (h *childHandle) Signal(sig int) error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *childHandle) ProcessGroupKill(sig int) error {
	return h.Signal(sig)
}
