// Package session implements interactive shell sessions backed by a PTY
// (spec §4.G). A session is created, commands are exec'd into it, its cwd
// and env can be mutated, and it is torn down explicitly or by the idle
// GC.
package session

import (
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/arkeep-io/sandboxagent/internal/ringbuf"
)

// Status is the session lifecycle state (spec §3 "Session record S").
type Status string

const (
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
)

const ringCapacity = ringbuf.DefaultCapacity

// Session is a single interactive shell tied to a PTY.
type Session struct {
	ID        string
	ShellPID  int
	CreatedAt time.Time

	StdoutRing *ringbuf.Ring
	StderrRing *ringbuf.Ring

	mu             sync.Mutex
	cwd            string
	env            map[string]string
	status         Status
	lastActivityAt time.Time

	ptmx     *os.File
	cmd      *exec.Cmd
	waitOnce sync.Once
}

func newSession(id string, cmd *exec.Cmd, ptmx *os.File, cwd string, env map[string]string) *Session {
	now := time.Now()
	return &Session{
		ID:             id,
		ShellPID:       cmd.Process.Pid,
		CreatedAt:      now,
		StdoutRing:     ringbuf.New(ringCapacity),
		StderrRing:     ringbuf.New(ringCapacity),
		cwd:            cwd,
		env:            cloneEnv(env),
		status:         StatusActive,
		lastActivityAt: now,
		ptmx:           ptmx,
		cmd:            cmd,
	}
}

func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// Snapshot is a consistent point-in-time view of a session's mutable
// fields, used by the "list" response and status reads.
type Snapshot struct {
	ID             string            `json:"sessionId"`
	ShellPID       int               `json:"shellPid"`
	Cwd            string            `json:"cwd"`
	Env            map[string]string `json:"env"`
	Status         Status            `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	LastActivityAt time.Time         `json:"lastActivityAt"`
}

// SessionID, SessionCwd and SessionStatus satisfy wshub.SessionInfo
// (spec §9: "use an interface that each exposes to the hub to avoid
// cycles").
func (s Snapshot) SessionID() string     { return s.ID }
func (s Snapshot) SessionCwd() string    { return s.Cwd }
func (s Snapshot) SessionStatus() string { return string(s.Status) }

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:             s.ID,
		ShellPID:       s.ShellPID,
		Cwd:            s.cwd,
		Env:            cloneEnv(s.env),
		Status:         s.status,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.lastActivityAt,
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivityAt)
}

// setTerminated transitions the session to terminated exactly once.
// Returns false if it was already terminated.
func (s *Session) setTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusTerminated {
		return false
	}
	s.status = StatusTerminated
	return true
}

func (s *Session) setCwd(cwd string) {
	s.mu.Lock()
	s.cwd = cwd
	s.mu.Unlock()
}

func (s *Session) mergeEnv(env map[string]string) {
	s.mu.Lock()
	for k, v := range env {
		s.env[k] = v
	}
	s.mu.Unlock()
}

// writeLine writes a command line to the PTY master, newline-terminated,
// so the shell reads and executes it as if typed.
func (s *Session) writeLine(line string) error {
	_, err := s.ptmx.Write([]byte(line + "\n"))
	return err
}

// reap calls cmd.Wait() exactly once regardless of how many goroutines
// race to reap the shell (terminate's explicit teardown vs readLoop's
// natural-EOF detection), so the child is never left a zombie and Wait
// is never called twice on the same *exec.Cmd.
func (s *Session) reap() {
	s.waitOnce.Do(func() {
		s.cmd.Wait()
	})
}

func defaultWinsize() *pty.Winsize {
	return &pty.Winsize{Cols: 80, Rows: 24}
}
