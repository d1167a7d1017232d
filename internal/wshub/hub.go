// Package wshub implements the WebSocket pub/sub fan-out of process and
// session log events (spec §4.H). It knows nothing about how processes or
// sessions are run — it is handed small lister interfaces so it can
// answer "list" and validate subscribe targets without importing procsup
// or session, which would create a cycle (those packages call back into
// the hub to publish log lines).
package wshub

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ProcessInfo is the minimal view of a process record the hub needs for
// its "list" response. procsup.Snapshot satisfies this structurally, so
// procsup never needs to import wshub (spec §9).
type ProcessInfo interface {
	ProcessID() string
	ProcessCommand() string
	ProcessStatus() string
}

// SessionInfo is the session equivalent of ProcessInfo.
type SessionInfo interface {
	SessionID() string
	SessionCwd() string
	SessionStatus() string
}

// ProcessLister is the subset of procsup.Supervisor the hub needs.
type ProcessLister interface {
	Exists(id string) bool
	ListInfo() []ProcessInfo
}

// SessionLister is the subset of session.Manager the hub needs.
type SessionLister interface {
	Exists(id string) bool
	ListInfo() []SessionInfo
}

// Hub is the central pub/sub broker (spec §4.H, §5 "Subscriptions").
//
// Topics are (kind, targetID) pairs. Client registration and
// unregistration are serialised through a single event-loop goroutine via
// channels, following the teacher's single-writer hub design. Subscribe
// and unsubscribe take the write lock directly from the client's read
// pump, and publish holds a read lock just long enough to copy the target
// client set before sending outside the lock.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
	all    map[*Client]struct{}

	registerCh   chan *Client
	unregisterCh chan *Client

	procs    ProcessLister
	sessions SessionLister

	logger *zap.Logger

	done chan struct{}
}

// New creates an idle Hub. Call Run in a goroutine to start its event
// loop, and SetListers once the supervisor/session manager exist (they
// are constructed after the hub to let them hold a reference to it as
// their LogSink).
func New(logger *zap.Logger) *Hub {
	return &Hub{
		topics:       make(map[string]map[*Client]struct{}),
		all:          make(map[*Client]struct{}),
		registerCh:   make(chan *Client, 16),
		unregisterCh: make(chan *Client, 16),
		logger:       logger.Named("wshub"),
		done:         make(chan struct{}),
	}
}

// SetListers wires the hub to the process supervisor and session manager.
// Must be called before Run starts serving "subscribe"/"list" traffic.
func (h *Hub) SetListers(procs ProcessLister, sessions SessionLister) {
	h.procs = procs
	h.sessions = sessions
}

// Run starts the hub's registration event loop. It exits when ctx is
// cancelled, closing every connected client with code 1001 (spec §4.K).
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.registerCh:
			h.mu.Lock()
			h.all[c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unregisterCh:
			h.mu.Lock()
			delete(h.all, c)
			for _, clients := range h.topics {
				delete(clients, c)
			}
			h.mu.Unlock()

		case <-ctx.Done():
			close(h.done)
			return
		}
	}
}

func (h *Hub) register(c *Client) {
	h.registerCh <- c
}

func (h *Hub) unregister(c *Client) {
	h.unregisterCh <- c
}

func (h *Hub) targetExists(kind Kind, targetID string) bool {
	switch kind {
	case KindProcess:
		return h.procs != nil && h.procs.Exists(targetID)
	case KindSession:
		return h.sessions != nil && h.sessions.Exists(targetID)
	default:
		return false
	}
}

func (h *Hub) subscribe(c *Client, kind Kind, targetID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := topicKey(kind, targetID)
	if h.topics[key] == nil {
		h.topics[key] = make(map[*Client]struct{})
	}
	h.topics[key][c] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, kind Kind, targetID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := topicKey(kind, targetID)
	delete(h.topics[key], c)
	if len(h.topics[key]) == 0 {
		delete(h.topics, key)
	}
}

func (h *Hub) list() ([]ProcessSummary, []SessionSummary) {
	var processes []ProcessSummary
	var sessions []SessionSummary
	if h.procs != nil {
		for _, p := range h.procs.ListInfo() {
			processes = append(processes, ProcessSummary{
				ID:      p.ProcessID(),
				Command: p.ProcessCommand(),
				Status:  p.ProcessStatus(),
			})
		}
	}
	if h.sessions != nil {
		for _, sInfo := range h.sessions.ListInfo() {
			sessions = append(sessions, SessionSummary{
				ID:     sInfo.SessionID(),
				Cwd:    sInfo.SessionCwd(),
				Status: sInfo.SessionStatus(),
			})
		}
	}
	return processes, sessions
}

// publish delivers msg to every client subscribed to (kind, targetID). It
// copies the subscriber set under a read lock, then calls deliver outside
// the lock since a subscription's push is itself synchronised.
func (h *Hub) publish(kind Kind, targetID string, msg ServerMessage) {
	h.mu.RLock()
	targets := h.topics[topicKey(kind, targetID)]
	clients := make([]*Client, 0, len(targets))
	for c := range targets {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.deliver(kind, targetID, msg)
	}
}

// PublishProcessLog implements procsup.LogSink.
func (h *Hub) PublishProcessLog(processID, stream, line string) {
	h.publish(KindProcess, processID, logMessage(KindProcess, processID, stream, line))
}

// PublishSessionLog implements session.LogSink.
func (h *Hub) PublishSessionLog(sessionID, stream, line string) {
	h.publish(KindSession, sessionID, logMessage(KindSession, sessionID, stream, line))
}

// PublishSessionClosed sends the final close notice required when a
// session's PTY read loop errors out (spec §4.G "Failure semantics").
func (h *Hub) PublishSessionClosed(sessionID string) {
	h.publish(KindSession, sessionID, ServerMessage{
		Type:     "log",
		DataType: KindSession,
		TargetID: sessionID,
		Log:      &logPayload{Content: "[stdout] session terminated"},
	})
}

// ConnectedCount returns the current number of connected clients, for
// metrics.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}
