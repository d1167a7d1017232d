//go:build unix

package procsup

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup configures cmd so its PID becomes the leader of a new
// process group. This lets Kill reach a whole shell pipeline (spec §9
// supplement: shell=true children may fork further descendants) instead
// of only the direct child.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// childHandle adapts an *exec.Cmd to the killer interface the record
// holds, rather than looking processes up by PID again — the source's
// findProcessByPid was non-functional (spec §9); this spec retains the
// owning handle instead.
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
	return h.cmd.Process.Signal(syscall.Signal(sig))
}

// ProcessGroupKill signals the entire process group the child leads
// (pgid == pid, since setProcessGroup made it the leader).
func (h *childHandle) ProcessGroupKill(sig int) error {
	if h.cmd.Process == nil {
		return nil
	}
	return unix.Kill(-h.cmd.Process.Pid, unix.Signal(sig))
}
