// Package procsup implements the process supervisor: async and sync exec,
// kill, status, logs, bounded log rings, and log broadcast to the
// WebSocket hub (spec §4.F).
package procsup

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/sandboxagent/internal/apierr"
	"github.com/arkeep-io/sandboxagent/internal/traceid"
)

// killGrace is how long the supervisor waits before escalating to
// SIGKILL, both after the SIGTERM sent on timeout and after an explicit
// kill with any signal other than SIGKILL (spec §4.F, §4.K).
const killGrace = time.Second

// reapAge is how long after termination a record becomes eligible for
// the background sweep (spec §3, §4.F: "age-based sweep removes it >=1h
// after termination").
const reapAge = time.Hour

const reapInterval = 5 * time.Minute

// LogSink receives each log line produced by a supervised process so it
// can be fanned out to subscribed WebSocket clients. Implemented by
// internal/wshub.Hub; procsup never imports wshub to avoid a cycle
// (spec §9).
type LogSink interface {
	PublishProcessLog(processID, stream, line string)
}

// ExecRequest is the normalized input shared by Exec and ExecSync
// (spec §4.F, §6).
type ExecRequest struct {
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
	Shell   bool
	Timeout time.Duration
}

// Supervisor owns the table of process records (spec §3 "Ownership").
type Supervisor struct {
	mu      sync.RWMutex
	records map[string]*Record

	sink   LogSink
	logger *zap.Logger

	stopReaper chan struct{}
}

// New creates a Supervisor. Call StartReaper to begin the background
// age-based sweep.
func New(sink LogSink, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		records:    make(map[string]*Record),
		sink:       sink,
		logger:     logger.Named("procsup"),
		stopReaper: make(chan struct{}),
	}
}

// StartReaper runs the background sweep until ctx is cancelled.
func (s *Supervisor) StartReaper(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reap()
		}
	}
}

func (s *Supervisor) reap() {
	now := time.Now()
	var toRemove []string

	s.mu.RLock()
	for id, rec := range s.records {
		if ended, ok := rec.endedSince(); ok && now.Sub(ended) >= reapAge {
			toRemove = append(toRemove, id)
		}
	}
	s.mu.RUnlock()

	if len(toRemove) == 0 {
		return
	}

	s.mu.Lock()
	for _, id := range toRemove {
		delete(s.records, id)
	}
	s.mu.Unlock()

	s.logger.Info("reaped terminated process records", zap.Int("count", len(toRemove)))
}

// Exec spawns a child asynchronously and returns its record immediately;
// stdout/stderr are captured line-by-line into bounded rings as they
// arrive (spec §4.F "Exec (async)").
func (s *Supervisor) Exec(ctx context.Context, req ExecRequest) (*Record, *apierr.Error) {
	id := traceid.New()
	rec := newRecord(id, req.Command, req.Args, req.Cwd, req.Env, req.Shell, req.Timeout)

	cmd := s.buildCmd(req)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apierr.Operation("failed to create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apierr.Operation("failed to create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apierr.Operation("failed to start process", err)
	}
	rec.PID = cmd.Process.Pid
	rec.proc = newChildHandle(cmd)

	s.mu.Lock()
	s.records[id] = rec
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go s.pump(&wg, rec, "stdout", stdout)
	go s.pump(&wg, rec, "stderr", stderr)

	go s.supervise(cmd, rec, &wg, req.Timeout)

	return rec, nil
}

func (s *Supervisor) buildCmd(req ExecRequest) *exec.Cmd {
	var cmd *exec.Cmd
	if req.Shell {
		full := req.Command
		for _, a := range req.Args {
			full += " " + a
		}
		cmd = exec.Command("/bin/sh", "-c", full)
	} else {
		cmd = exec.Command(req.Command, req.Args...)
	}
	if req.Cwd != "" {
		cmd.Dir = req.Cwd
	}
	if len(req.Env) > 0 {
		env := cmd.Environ()
		for k, v := range req.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	setProcessGroup(cmd)
	return cmd
}

// pump copies lines from r into rec's ring for stream, and fans each line
// out to the log sink (spec §4.F "Broadcast").
func (s *Supervisor) pump(wg *sync.WaitGroup, rec *Record, stream string, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	ring := rec.StdoutRing
	if stream == "stderr" {
		ring = rec.StderrRing
	}
	for scanner.Scan() {
		line := scanner.Text()
		ring.Push(line)
		if s.sink != nil {
			s.sink.PublishProcessLog(rec.ID, stream, line)
		}
	}
}

// supervise waits for the child to exit or for the timeout to elapse,
// then sets the final terminal status. Only this goroutine transitions a
// record out of `running` — kill only requests the signal (spec §4.F).
func (s *Supervisor) supervise(cmd *exec.Cmd, rec *Record, wg *sync.WaitGroup, timeout time.Duration) {
	waitDone := make(chan error, 1)
	go func() {
		wg.Wait()
		waitDone <- cmd.Wait()
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-waitDone:
		s.finish(rec, err)
	case <-timeoutCh:
		rec.proc.ProcessGroupKill(int(sigTerm))
		select {
		case err := <-waitDone:
			rec.setTerminal(StatusTimeout, exitCodeOf(err))
		case <-time.After(killGrace):
			rec.proc.ProcessGroupKill(int(sigKill))
			err := <-waitDone
			rec.setTerminal(StatusTimeout, exitCodeOf(err))
		}
	}
}

// finish decides the terminal status for a process that exited on its
// own wait channel (natural exit or an explicit Kill, as opposed to the
// internal per-exec timeout handled inline in supervise). killed always
// wins over completed/failed so an explicit Kill is reported accurately
// even though the child's exit code looks like any other signal death.
func (s *Supervisor) finish(rec *Record, waitErr error) {
	if rec.Status() != StatusRunning {
		return // the timeout path already decided the terminal status
	}
	code := exitCodeOf(waitErr)
	switch {
	case rec.killWasRequested():
		rec.setTerminal(StatusKilled, code)
	case waitErr == nil && code == 0:
		rec.setTerminal(StatusCompleted, 0)
	default:
		rec.setTerminal(StatusFailed, code)
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// ExecSync runs a child to completion and returns the collected output
// (subject to the same ring caps) (spec §4.F "Exec (sync)").
type SyncResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

func (s *Supervisor) ExecSync(ctx context.Context, req ExecRequest) (*SyncResult, *apierr.Error) {
	cmd := s.buildCmd(req)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()

	if err := cmd.Start(); err != nil {
		return nil, apierr.Operation("failed to start process", err)
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	handle := newChildHandle(cmd)
	var err error
	select {
	case err = <-waitDone:
	case <-timeoutCh:
		handle.ProcessGroupKill(int(sigTerm))
		select {
		case err = <-waitDone:
		case <-time.After(killGrace):
			handle.ProcessGroupKill(int(sigKill))
			err = <-waitDone
		}
	case <-ctx.Done():
		handle.ProcessGroupKill(int(sigKill))
		err = <-waitDone
	}

	duration := time.Since(start)

	return &SyncResult{
		ExitCode: exitCodeOf(err),
		Stdout:   capTail(stdoutBuf.String(), ringCapacity),
		Stderr:   capTail(stderrBuf.String(), ringCapacity),
		Duration: duration,
	}, nil
}

func capTail(s string, maxLines int) string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}

// Get returns the record for id, or nil if it does not exist.
func (s *Supervisor) Get(id string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

// Exists reports whether id names a live record. Used by wshub to
// validate subscribe targets without importing procsup's Record type.
func (s *Supervisor) Exists(id string) bool {
	return s.Get(id) != nil
}

// ProcessInfo is structurally identical to wshub.ProcessInfo (Go treats
// interface types as identical by method set, not by name), so Snapshot
// satisfies the hub's listing interface without procsup importing wshub.
type ProcessInfo interface {
	ProcessID() string
	ProcessCommand() string
	ProcessStatus() string
}

// ListInfo implements wshub.ProcessLister for the hub's "list" response.
func (s *Supervisor) ListInfo() []ProcessInfo {
	snaps := s.List()
	out := make([]ProcessInfo, len(snaps))
	for i, snap := range snaps {
		out[i] = snap
	}
	return out
}

// List returns a snapshot of every live record, for the hub's "list"
// response (spec §4.H).
func (s *Supervisor) List() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Snapshot())
	}
	return out
}

// Logs returns the last `tail` lines of each stream, or the full ring if
// tail <= 0 (spec §4.F "Logs").
func (s *Supervisor) Logs(id string, tail int) (stdout, stderr []string, aerr *apierr.Error) {
	rec := s.Get(id)
	if rec == nil {
		return nil, nil, apierr.NotFound("process not found: " + id)
	}
	if tail > 0 {
		return rec.StdoutRing.Tail(tail), rec.StderrRing.Tail(tail), nil
	}
	return rec.StdoutRing.Snapshot(), rec.StderrRing.Snapshot(), nil
}

// Kill signals the process and returns once the signal is delivered.
// Final status is set by the supervise goroutine, not here (spec §4.F).
// Killing an already-terminated process is a conflict.
func (s *Supervisor) Kill(id string, sig int) *apierr.Error {
	rec := s.Get(id)
	if rec == nil {
		return apierr.NotFound("process not found: " + id)
	}
	if !rec.markKillRequested() {
		return apierr.Conflict("process has already terminated")
	}
	if sig == 0 {
		sig = int(sigTerm)
	}
	if err := rec.proc.ProcessGroupKill(sig); err != nil {
		return apierr.Operation("failed to signal process", err)
	}

	if !isFatalSignal(sig) {
		go func() {
			time.Sleep(killGrace)
			if rec.Status() == StatusRunning {
				rec.proc.ProcessGroupKill(int(sigKill))
			}
		}()
	}
	return nil
}

// Delete removes a terminated record explicitly (spec §3: a record lives
// "until either (a) explicitly deleted, or (b) an age-based sweep").
func (s *Supervisor) Delete(id string) *apierr.Error {
	rec := s.Get(id)
	if rec == nil {
		return apierr.NotFound("process not found: " + id)
	}
	if rec.Status() == StatusRunning {
		return apierr.Conflict("cannot delete a running process")
	}
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}
