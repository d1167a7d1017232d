package procsup

import "syscall"

const (
	sigTerm = syscall.SIGTERM
	sigKill = syscall.SIGKILL
)

// isFatalSignal reports whether sig already terminates the process
// outright, in which case Kill does not need to schedule the SIGKILL
// escalation.
func isFatalSignal(sig int) bool {
	return syscall.Signal(sig) == syscall.SIGKILL
}
