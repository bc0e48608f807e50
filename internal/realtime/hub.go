// Package realtime fans job update events out to websocket clients.
//
// Clients subscribe to per-job groups; an event for a job with no
// subscribers is dropped. There is no replay: a client that connects after
// an event was published never sees it.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/newslens/newslens/internal/metrics"
	"github.com/newslens/newslens/internal/pipeline"
)

const (
	defaultWriteTimeout = 10 * time.Second
	sendBuffer          = 16
)

// GroupForJob names the subscription group for a job.
func GroupForJob(jobID string) string {
	return "job_" + jobID
}

// clientCommand is the inbound client protocol.
type clientCommand struct {
	Action string `json:"action"`
	JobID  string `json:"job_id"`
}

// serverMessage is the outbound envelope.
type serverMessage struct {
	Type    string                   `json:"type"`
	Groups  []string                 `json:"groups,omitempty"`
	Update  *pipeline.JobUpdateEvent `json:"update,omitempty"`
	Message string                   `json:"message,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	subs map[string]struct{}
}

// Hub tracks websocket clients and their per-job subscriptions.
type Hub struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	groups  map[string]map[*client]struct{}
}

// New constructs a Hub.
func New(writeTimeout time.Duration, logger *zap.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		logger:       logger,
		clients:      make(map[*client]struct{}),
		groups:       make(map[string]map[*client]struct{}),
	}
}

// Run consumes the update channel and fans events out until the context
// finishes.
func (h *Hub) Run(ctx context.Context, sub pipeline.Subscriber) error {
	events, err := sub.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to job updates: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			h.Broadcast(event)
		}
	}
}

// Broadcast delivers an event to every client subscribed to its job group.
// Events for jobs nobody watches are dropped.
func (h *Hub) Broadcast(event pipeline.JobUpdateEvent) {
	payload, err := json.Marshal(serverMessage{Type: "job_update", Update: &event})
	if err != nil {
		h.logger.Error("marshal update event", zap.Error(err))
		return
	}

	// Fan out while holding the lock. unregister closes a client's send
	// channel in the same critical section that removes it from its groups,
	// so a channel reachable here is never closed. Sends are non-blocking,
	// so the lock is held only briefly.
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.groups[GroupForJob(event.JobID)] {
		select {
		case c.send <- payload:
		default:
			// Slow consumer; drop the event rather than block the pump.
			h.logger.Warn("dropping update for slow client",
				zap.String("job_id", event.JobID))
		}
	}
}

// ServeHTTP upgrades the request and runs the client's read loop.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]struct{}),
	}
	h.register(c)
	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetRealtimeSubscribers(n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for group := range c.subs {
		h.leaveGroupLocked(c, group)
	}
	// Closing under the lock keeps Broadcast from racing a concurrent
	// disconnect onto a closed channel.
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetRealtimeSubscribers(n)
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close() //nolint:errcheck
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.send(c, serverMessage{Type: "error", Message: "malformed command"})
			continue
		}
		h.handleCommand(c, cmd)
	}
}

func (h *Hub) handleCommand(c *client, cmd clientCommand) {
	switch cmd.Action {
	case "subscribe":
		if cmd.JobID == "" {
			h.send(c, serverMessage{Type: "error", Message: "job_id is required"})
			return
		}
		h.joinGroup(c, GroupForJob(cmd.JobID))
		h.sendSubscriptions(c)
	case "unsubscribe":
		if cmd.JobID == "" {
			h.send(c, serverMessage{Type: "error", Message: "job_id is required"})
			return
		}
		h.leaveGroup(c, GroupForJob(cmd.JobID))
		h.sendSubscriptions(c)
	case "subscriptions":
		h.sendSubscriptions(c)
	default:
		h.send(c, serverMessage{Type: "error", Message: "unknown action: " + cmd.Action})
	}
}

func (h *Hub) joinGroup(c *client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*client]struct{})
		h.groups[group] = members
	}
	members[c] = struct{}{}
	c.subs[group] = struct{}{}
}

func (h *Hub) leaveGroup(c *client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveGroupLocked(c, group)
}

func (h *Hub) leaveGroupLocked(c *client, group string) {
	delete(c.subs, group)
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

func (h *Hub) sendSubscriptions(c *client) {
	h.mu.Lock()
	groups := make([]string, 0, len(c.subs))
	for group := range c.subs {
		groups = append(groups, group)
	}
	h.mu.Unlock()
	sort.Strings(groups)
	h.send(c, serverMessage{Type: "subscriptions", Groups: groups})
}

func (h *Hub) send(c *client, msg serverMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal server message", zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (h *Hub) writeLoop(c *client) {
	for payload := range c.send {
		deadline := time.Now().Add(h.writeTimeout)
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	// send channel closed by unregister; finish with a close frame.
	_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// SubscriberCount reports how many clients are connected.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// GroupSize reports how many clients are subscribed to a job's group.
func (h *Hub) GroupSize(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[GroupForJob(jobID)])
}
