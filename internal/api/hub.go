package api

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/brewlogic/internal/infrastructure/config"
	"github.com/nerrad567/brewlogic/internal/infrastructure/logging"
)

// ChannelBrewState carries every executor transition.
const ChannelBrewState = "brew.state_changed"

// SnapshotFunc returns the current value of a channel. The hub sends it to
// a client right after the client subscribes.
type SnapshotFunc func() any

// Hub fans events out to subscribed WebSocket connections.
//
// Channels must be registered with AddChannel before clients connect;
// subscribing to anything else is refused.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	channels map[string]SnapshotFunc

	mu    sync.RWMutex
	conns map[*wsConn]struct{}
}

// NewHub creates a hub with no channels.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		channels: make(map[string]SnapshotFunc),
		conns:    make(map[*wsConn]struct{}),
	}
}

// AddChannel registers a channel. snapshot may be nil.
func (h *Hub) AddChannel(name string, snapshot SnapshotFunc) {
	h.channels[name] = snapshot
}

// Channels returns the registered channel names, sorted.
func (h *Hub) Channels() []string {
	names := make([]string, 0, len(h.channels))
	for name := range h.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		delete(h.conns, c)
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func (h *Hub) add(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// remove drops c. The send channel is closed by whichever of remove and
// Run deletes the entry first.
func (h *Hub) remove(c *wsConn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()

	if ok {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends payload to every connection subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := eventMessage(channel, payload)
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	// Connection locks are taken only after the hub lock is released.
	for _, c := range targets {
		if c.subscribed(channel) {
			c.enqueue(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func eventMessage(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}
