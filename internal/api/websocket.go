package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/brewlogic/internal/infrastructure/config"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// wsSendBufferSize is the per-client outbound queue length. Events for a
// client whose queue is full are dropped.
const wsSendBufferSize = 256

// WSMessage is the envelope for every WebSocket frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// inboundMessage defers payload decoding until the type is known.
type inboundMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn is one connected client.
type wsConn struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]struct{}
}

// handleWebSocket upgrades the request. With authentication enabled the
// client must present a single-use ticket from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.secCfg.JWT.Secret != "" {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		if !s.tickets.consume(ticket) {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
		subs: make(map[string]struct{}),
	}
	s.hub.add(c)

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

func (c *wsConn) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; application traffic counts too.
		extend() //nolint:errcheck // see above
		c.dispatch(data)
	}
}

func (c *wsConn) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	deadline := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(deadline)) //nolint:errcheck // write reports the failure
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ping.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *wsConn) dispatch(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var p WSSubscribePayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &p) != nil {
			c.reply(msg.ID, WSTypeError, errorPayload("invalid "+msg.Type+" payload"))
			return
		}
		if msg.Type == WSTypeSubscribe {
			c.subscribe(msg.ID, p.Channels)
		} else {
			c.unsubscribe(msg.ID, p.Channels)
		}
	default:
		c.reply(msg.ID, WSTypeError, errorPayload("unknown message type: "+msg.Type))
	}
}

// subscribe adds channels, acknowledges, then sends each channel's snapshot.
func (c *wsConn) subscribe(id string, channels []string) {
	for _, ch := range channels {
		if _, ok := c.hub.channels[ch]; !ok {
			c.reply(id, WSTypeError, errorPayload("unknown channel "+ch+"; available: "+strings.Join(c.hub.Channels(), ", ")))
			return
		}
	}

	c.mu.Lock()
	for _, ch := range channels {
		c.subs[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.reply(id, WSTypeResponse, map[string]any{"subscribed": channels})

	for _, ch := range channels {
		snapshot := c.hub.channels[ch]
		if snapshot == nil {
			continue
		}
		if data, err := eventMessage(ch, snapshot()); err == nil {
			c.enqueue(data)
		}
	}
}

func (c *wsConn) unsubscribe(id string, channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subs, ch)
	}
	c.mu.Unlock()

	c.reply(id, WSTypeResponse, map[string]any{"unsubscribed": channels})
}

func (c *wsConn) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

func (c *wsConn) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.enqueue(data)
	}
}

// enqueue queues data without blocking. A full queue drops the frame; a
// closed one (client gone mid-broadcast) is ignored.
func (c *wsConn) enqueue(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel
	}()
	select {
	case c.send <- data:
	default:
	}
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
