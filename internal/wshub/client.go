package wshub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait bounds a single frame write (spec §4.K graceful shutdown
	// deadlines aside, this is the per-write timeout).
	writeWait = 10 * time.Second

	// pongWait/pingPeriod implement the 30s keepalive the spec mandates
	// (spec §6 "ping/pong at 30 s keepalive").
	pingPeriod = 30 * time.Second
	pongWait   = pingPeriod * 2

	// idleTimeout closes a socket that has seen no traffic at all for 5
	// minutes (spec §6 "idle close after 5 min without traffic").
	idleTimeout = 5 * time.Minute

	maxMessageSize = 4096

	// subQueueSize is the bounded per-subscription outbound queue depth.
	// Overflow drops the oldest queued line rather than disconnecting the
	// socket (spec §4.H, a deliberate deviation from a whole-client
	// disconnect policy).
	subQueueSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// subscription is one (kind, targetID) pair a client is listening to, with
// its own bounded, oldest-drop queue so one slow or noisy target cannot
// starve another on the same socket.
type subscription struct {
	kind     Kind
	targetID string

	mu      sync.Mutex
	queue   []ServerMessage
	dropped int
}

func newSubscription(kind Kind, targetID string) *subscription {
	return &subscription{kind: kind, targetID: targetID}
}

// push enqueues msg, dropping the oldest queued message if full.
func (s *subscription) push(msg ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= subQueueSize {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, msg)
}

// drain pops everything currently queued plus a dropped-notice if any
// lines were lost since the last drain.
func (s *subscription) drain() []ServerMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 && s.dropped == 0 {
		return nil
	}
	out := s.queue
	s.queue = nil
	if s.dropped > 0 {
		out = append(out, droppedMessage(s.dropped))
		s.dropped = 0
	}
	return out
}

// Client is a single connected WebSocket peer (spec §4.H, §6). It owns its
// own set of subscriptions; the hub only tracks which clients are
// subscribed to which topic for fan-out purposes.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// wake is signalled whenever any subscription receives a new message,
	// so writePump can drain without polling.
	wake chan struct{}

	mu     sync.Mutex
	subs   map[string]*subscription // keyed by topicKey(kind, targetID)
	direct []ServerMessage          // request/response acks, never dropped

	lastActivity atomicTime

	logger *zap.Logger
}

func topicKey(kind Kind, targetID string) string {
	return string(kind) + ":" + targetID
}

// NewClient upgrades the HTTP connection and returns a ready Client.
func NewClient(hub *Hub, w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		hub:    hub,
		conn:   conn,
		wake:   make(chan struct{}, 1),
		subs:   make(map[string]*subscription),
		logger: logger.With(zap.String("remote_addr", r.RemoteAddr)),
	}
	c.lastActivity.set(time.Now())
	return c, nil
}

// Run registers the client and pumps messages until the connection
// closes. It blocks; call from the HTTP handler goroutine.
func (c *Client) Run() {
	c.hub.register(c)
	defer c.hub.unregister(c)

	go c.writePump()
	c.readPump()
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// deliver is called by the hub's Publish for every subscription this
// client holds on the published topic.
func (c *Client) deliver(kind Kind, targetID string, msg ServerMessage) {
	c.mu.Lock()
	sub, ok := c.subs[topicKey(kind, targetID)]
	c.mu.Unlock()
	if !ok {
		return
	}
	sub.push(msg)
	c.signal()
}

func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.lastActivity.set(time.Now())
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Debug("ws: unexpected close", zap.Error(err))
			}
			return
		}
		c.lastActivity.set(time.Now())

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueueDirect(errorMessage("invalid message"))
			continue
		}
		c.handleClientMessage(msg)
	}
}

func (c *Client) handleClientMessage(msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.TargetID == "" || (msg.Type != KindProcess && msg.Type != KindSession) {
			c.enqueueDirect(errorMessage("subscribe requires type and targetId"))
			return
		}
		if !c.hub.targetExists(msg.Type, msg.TargetID) {
			c.enqueueDirect(errorMessage("unknown target: " + msg.TargetID))
			return
		}
		c.mu.Lock()
		c.subs[topicKey(msg.Type, msg.TargetID)] = newSubscription(msg.Type, msg.TargetID)
		c.mu.Unlock()
		c.hub.subscribe(c, msg.Type, msg.TargetID)
		c.enqueueDirect(subscribedMessage(msg.Type, msg.TargetID))

	case "unsubscribe":
		c.mu.Lock()
		delete(c.subs, topicKey(msg.Type, msg.TargetID))
		c.mu.Unlock()
		c.hub.unsubscribe(c, msg.Type, msg.TargetID)
		c.enqueueDirect(unsubscribedMessage(msg.Type, msg.TargetID))

	case "list":
		processes, sessions := c.hub.list()
		c.enqueueDirect(listMessage(processes, sessions))

	default:
		c.enqueueDirect(errorMessage("unknown action: " + msg.Action))
	}
}

// directQueue holds messages that bypass per-subscription buffering
// (subscribed/unsubscribed/list/error acknowledgements) — these are
// request/response, not fan-out, so they are never dropped.
func (c *Client) enqueueDirect(msg ServerMessage) {
	c.mu.Lock()
	c.direct = append(c.direct, msg)
	c.mu.Unlock()
	c.signal()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	idleCheck := time.NewTicker(time.Minute)
	defer func() {
		ticker.Stop()
		idleCheck.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.hub.done:
			c.writeClose(websocket.CloseGoingAway)
			return

		case <-c.wake:
			for _, msg := range c.collect() {
				if err := c.writeJSON(msg); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-idleCheck.C:
			if time.Since(c.lastActivity.get()) >= idleTimeout {
				c.writeClose(websocket.CloseNormalClosure)
				return
			}
		}
	}
}

func (c *Client) writeJSON(msg ServerMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *Client) writeClose(code int) {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	deadline := websocket.FormatCloseMessage(code, "")
	c.conn.WriteMessage(websocket.CloseMessage, deadline)
}

// collect drains direct (request/response) messages plus every
// subscription's queue, direct messages first.
func (c *Client) collect() []ServerMessage {
	c.mu.Lock()
	direct := c.direct
	c.direct = nil
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	out := direct
	for _, s := range subs {
		out = append(out, s.drain()...)
	}
	return out
}
