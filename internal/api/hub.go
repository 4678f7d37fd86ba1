package api

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/nasa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/nasa-bridge/internal/infrastructure/logging"
)

// Message types on the stream.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels a client can subscribe to.
const (
	ChannelAttributeChanged   = "attribute.changed"
	ChannelHVACAction         = "hvac.action"
	ChannelDeviceReachability = "device.reachability"
	ChannelAvailability       = "bridge.availability"
)

var knownChannels = []string{
	ChannelAttributeChanged,
	ChannelHVACAction,
	ChannelDeviceReachability,
	ChannelAvailability,
}

const (
	wsSendBufferSize = 256

	defaultWSPingInterval = 30 * time.Second
	defaultWSPongTimeout  = 10 * time.Second
	defaultWSMaxMessage   = 8192
)

// WSMessage is one frame on the stream, in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload carries the channels of a subscribe or unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsTimings holds the stream's keepalive settings with defaults applied.
type wsTimings struct {
	ping, pong time.Duration
	maxMessage int64
}

func newWSTimings(cfg config.WebSocketConfig) wsTimings {
	t := wsTimings{
		ping:       time.Duration(cfg.PingInterval) * time.Second,
		pong:       time.Duration(cfg.PongTimeout) * time.Second,
		maxMessage: int64(cfg.MaxMessageSize),
	}
	if t.ping <= 0 {
		t.ping = defaultWSPingInterval
	}
	if t.pong <= 0 {
		t.pong = defaultWSPongTimeout
	}
	if t.maxMessage <= 0 {
		t.maxMessage = defaultWSMaxMessage
	}
	return t
}

// Hub fans engine events out to subscribed WebSocket clients.
type Hub struct {
	timings wsTimings
	logger  *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected stream. send is never closed; done signals
// the writer to stop.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	done     chan struct{}
	doneOnce sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
}

// NewHub creates a hub. Run must be started for clients to be released on
// shutdown.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		timings: newWSTimings(cfg),
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

func newWSClient(hub *Hub, conn *websocket.Conn, channels ...string) *WSClient {
	c := &WSClient{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
	for _, ch := range channels {
		c.channels[ch] = struct{}{}
	}
	return c
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.stop()
	}
}

// Register adds c to the broadcast set.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes c and stops its writer. Calling it twice is harmless.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.stop()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every client subscribed to channel. Slow
// clients whose buffer is full miss the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.subscribed(channel) {
			c.enqueue(data)
		}
	}
}

func (c *WSClient) stop() {
	c.doneOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// enqueue hands data to the writer without blocking.
func (c *WSClient) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
	}
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *WSClient) setChannels(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
}

// readLoop handles client requests until the connection drops.
func (c *WSClient) readLoop() {
	defer c.hub.Unregister(c)

	t := c.hub.timings
	extend := func() { _ = c.conn.SetReadDeadline(time.Now().Add(t.ping + t.pong)) }

	c.conn.SetReadLimit(t.maxMessage)
	extend()
	c.conn.SetPongHandler(func(string) error { extend(); return nil })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings still keep the stream open by
		// sending anything.
		extend()
		c.handleMessage(data)
	}
}

// writeLoop drains send and pings the client until stopped.
func (c *WSClient) writeLoop() {
	t := c.hub.timings
	ticker := time.NewTicker(t.ping)
	defer ticker.Stop()
	defer c.stop()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(t.pong))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-c.done:
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case data := <-c.send:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsRequest is an inbound frame with the payload left undecoded.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(req.ID, WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &sub) != nil {
			c.reply(req.ID, WSTypeError, errorPayload("invalid "+req.Type+" payload"))
			return
		}
		for _, ch := range sub.Channels {
			if !slices.Contains(knownChannels, ch) {
				c.reply(req.ID, WSTypeError, errorPayload("unknown channel: "+ch))
				return
			}
		}
		subscribe := req.Type == WSTypeSubscribe
		c.setChannels(sub.Channels, subscribe)

		key := "unsubscribed"
		if subscribe {
			key = "subscribed"
		}
		c.reply(req.ID, WSTypeResponse, map[string]any{key: sub.Channels})
	default:
		c.reply(req.ID, WSTypeError, errorPayload("unknown message type: "+req.Type))
	}
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"message": msg}
}

func (c *WSClient) reply(id, kind string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.enqueue(data)
	}
}
