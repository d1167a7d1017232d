package session

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/arkeep-io/sandboxagent/internal/apierr"
	"github.com/arkeep-io/sandboxagent/internal/traceid"
)

// idleTimeout is how long a session may sit with no Exec/ChangeDir/
// MutateEnv activity before the GC sweep terminates it (spec §4.G,
// default Tᵢ = 30 minutes).
const idleTimeout = 30 * time.Minute

const gcInterval = 60 * time.Second

// execTimeout bounds how long Exec waits for the command to finish before
// giving up on the marker and returning whatever output arrived so far
// (spec §4.G).
const execTimeout = 30 * time.Second

// terminateGrace is how long Terminate waits after asking the shell to
// exit politely before killing the PTY's child outright.
const terminateGrace = time.Second

// LogSink receives each line of session output so it can be fanned out to
// subscribed WebSocket clients. Implemented by internal/wshub.Hub; session
// never imports wshub to avoid a cycle (spec §9).
type LogSink interface {
	PublishSessionLog(sessionID, stream, line string)
	PublishSessionClosed(sessionID string)
}

// Manager owns the table of live sessions (spec §3 "Ownership").
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	defaultShell string
	sink         LogSink
	logger       *zap.Logger
}

// New creates a Manager. Call StartGC to begin the idle sweep.
func New(defaultShell string, sink LogSink, logger *zap.Logger) *Manager {
	if defaultShell == "" {
		defaultShell = "/bin/bash"
	}
	return &Manager{
		sessions:     make(map[string]*Session),
		defaultShell: defaultShell,
		sink:         sink,
		logger:       logger.Named("session"),
	}
}

// StartGC runs the idle sweep until ctx is cancelled.
func (m *Manager) StartGC(ctx context.Context) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

func (m *Manager) sweepIdle() {
	now := time.Now()
	var stale []*Session

	m.mu.RLock()
	for _, sess := range m.sessions {
		if sess.Status() == StatusActive && sess.idleFor(now) >= idleTimeout {
			stale = append(stale, sess)
		}
	}
	m.mu.RUnlock()

	for _, sess := range stale {
		m.logger.Info("terminating idle session", zap.String("session_id", sess.ID))
		m.terminate(sess)
		m.remove(sess.ID)
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Create spawns a new shell attached to a PTY (spec §4.G "Create"). shell
// overrides the configured default shell for this session when non-empty.
func (m *Manager) Create(cwd string, env map[string]string, shell string) (*Session, *apierr.Error) {
	id := traceid.New()

	if shell == "" {
		shell = m.defaultShell
	}
	cmd := exec.Command(shell)
	if cwd != "" {
		cmd.Dir = cwd
	}
	if len(env) > 0 {
		envSlice := cmd.Environ()
		for k, v := range env {
			envSlice = append(envSlice, k+"="+v)
		}
		cmd.Env = envSlice
	}

	ptmx, err := pty.StartWithSize(cmd, defaultWinsize())
	if err != nil {
		return nil, apierr.Operation("failed to start session shell", err)
	}

	sess := newSession(id, cmd, ptmx, cwd, env)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	go m.readLoop(sess)

	return sess, nil
}

// readLoop continuously drains the PTY master into the session's ring and
// the log sink, until the PTY closes (shell exited or Terminate closed
// it). A PTY merges stdout and stderr onto one stream, so every line is
// attributed to "stdout"; StderrRing stays empty for PTY-backed sessions.
func (m *Manager) readLoop(sess *Session) {
	scanner := bufio.NewScanner(sess.ptmx)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		sess.StdoutRing.Push(line)
		if m.sink != nil {
			m.sink.PublishSessionLog(sess.ID, "stdout", line)
		}
	}
	// The PTY closed — either the shell exited on its own, or Terminate
	// tore it down. Either way the session is done; subscribers get one
	// final close notice (spec §4.G "Failure semantics"). reap() is
	// idempotent so it's safe even when terminate() already waited.
	sess.reap()
	if sess.setTerminated() {
		m.logger.Info("session shell exited", zap.String("session_id", sess.ID))
		if m.sink != nil {
			m.sink.PublishSessionClosed(sess.ID)
		}
		m.remove(sess.ID)
	}
}

// Get returns the session for id, or nil if it does not exist.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// List returns a snapshot of every live session, for the hub's "list"
// response (spec §4.H).
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Snapshot())
	}
	return out
}

// Exists reports whether id names a live session.
func (m *Manager) Exists(id string) bool {
	return m.Get(id) != nil
}

// SessionInfo is structurally identical to wshub.SessionInfo (see
// procsup.ProcessInfo for why this avoids an import of wshub).
type SessionInfo interface {
	SessionID() string
	SessionCwd() string
	SessionStatus() string
}

// ListInfo implements wshub.SessionLister for the hub's "list" response.
func (m *Manager) ListInfo() []SessionInfo {
	snaps := m.List()
	out := make([]SessionInfo, len(snaps))
	for i, snap := range snaps {
		out[i] = snap
	}
	return out
}

// ExecResult is the output of a single in-session command (spec §4.G
// "Exec"). ExitCode is best-effort: it is parsed from a trailing
// `echo $?` appended after the caller's command, and is -1 if the marker
// never arrived (timeout) or the exit line could not be parsed.
type ExecResult struct {
	Output   string
	ExitCode int
	TimedOut bool
}

// Exec runs command in the session's shell and waits for it to finish, up
// to execTimeout.
//
// There is no structured RPC between this process and the shell running
// inside the PTY — the shell only understands keystrokes. So Exec appends
// a marker echo after the caller's command and scans new ring output for
// a line matching it, the same trick the `expect`-family of tools use
// for non-interactive PTY automation. It is inherently fragile: a command
// that itself prints the marker text, or one that leaves a subshell
// waiting on stdin, defeats the delimiter. It is kept anyway because a
// session's entire purpose is to behave like a real interactive shell,
// which rules out a side-channel protocol.
func (m *Manager) Exec(ctx context.Context, id, command string) (*ExecResult, *apierr.Error) {
	sess := m.Get(id)
	if sess == nil {
		return nil, apierr.NotFound("session not found: " + id)
	}
	if sess.Status() != StatusActive {
		return nil, apierr.Conflict("session has already terminated")
	}
	sess.touch()

	marker := "__sandboxagent_exec_" + traceid.New() + "__"
	startLen := sess.StdoutRing.Len()

	if err := sess.writeLine(command); err != nil {
		return nil, apierr.Operation("failed to write to session", err)
	}
	if err := sess.writeLine(fmt.Sprintf("echo %s$?", marker)); err != nil {
		return nil, apierr.Operation("failed to write to session", err)
	}

	deadline := time.Now().Add(execTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, apierr.Operation("exec cancelled", ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
		if sess.Status() != StatusActive {
			break
		}
		lines := sess.StdoutRing.Snapshot()
		if startLen > len(lines) {
			startLen = 0 // the ring wrapped past where we started
		}
		for i := startLen; i < len(lines); i++ {
			if code, ok := parseMarkerLine(lines[i], marker); ok {
				output := joinLines(lines[startLen:i])
				return &ExecResult{Output: output, ExitCode: code}, nil
			}
		}
	}

	lines := sess.StdoutRing.Snapshot()
	if startLen > len(lines) {
		startLen = 0
	}
	return &ExecResult{Output: joinLines(lines[startLen:]), ExitCode: -1, TimedOut: true}, nil
}

func parseMarkerLine(line, marker string) (int, bool) {
	if len(line) <= len(marker) || line[:len(marker)] != marker {
		return 0, false
	}
	var code int
	if _, err := fmt.Sscanf(line[len(marker):], "%d", &code); err != nil {
		return 0, false
	}
	return code, true
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// MutateEnv exports additional environment variables into the running
// shell (spec §4.G "MutateEnv").
func (m *Manager) MutateEnv(id string, env map[string]string) *apierr.Error {
	sess := m.Get(id)
	if sess == nil {
		return apierr.NotFound("session not found: " + id)
	}
	if sess.Status() != StatusActive {
		return apierr.Conflict("session has already terminated")
	}
	sess.touch()
	for k, v := range env {
		if err := sess.writeLine(fmt.Sprintf("export %s=%s", k, shellQuote(v))); err != nil {
			return apierr.Operation("failed to write to session", err)
		}
	}
	sess.mergeEnv(env)
	return nil
}

// ChangeDir changes the shell's working directory (spec §4.G
// "ChangeDir").
func (m *Manager) ChangeDir(id, path string) *apierr.Error {
	sess := m.Get(id)
	if sess == nil {
		return apierr.NotFound("session not found: " + id)
	}
	if sess.Status() != StatusActive {
		return apierr.Conflict("session has already terminated")
	}
	sess.touch()
	if err := sess.writeLine(fmt.Sprintf("cd %s", shellQuote(path))); err != nil {
		return apierr.Operation("failed to write to session", err)
	}
	sess.setCwd(path)
	return nil
}

func shellQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' || c == '$' || c == '`' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	out = append(out, '"')
	return string(out)
}

// Terminate ends the session: it asks the shell to exit, waits briefly,
// then kills the PTY's child outright if it hasn't (spec §4.G
// "Terminate").
func (m *Manager) Terminate(id string) *apierr.Error {
	sess := m.Get(id)
	if sess == nil {
		return apierr.NotFound("session not found: " + id)
	}
	if sess.Status() == StatusActive {
		m.terminate(sess)
	}
	m.remove(id)
	return nil
}

// terminate asks the shell to exit, waits briefly, then kills it outright
// if needed, and closes the PTY master. setTerminated is idempotent, so
// whichever of this call or readLoop's EOF detection gets there first
// does the status transition and sink notification; the other is a
// no-op.
func (m *Manager) terminate(sess *Session) {
	sess.writeLine("exit")
	done := make(chan struct{})
	go func() {
		sess.reap()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(terminateGrace):
		sess.cmd.Process.Kill()
		<-done
	}
	sess.ptmx.Close()
	if sess.setTerminated() && m.sink != nil {
		m.sink.PublishSessionClosed(sess.ID)
	}
}
