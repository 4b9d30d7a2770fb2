package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/ziggy/internal/infrastructure/config"
	"github.com/nerrad567/ziggy/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeSnapshot    = "snapshot"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// Event channels.
const (
	ChannelConnectionState = "connection.state_changed"
	ChannelBridgeState     = "bridge.state_changed"
)

// Channels lists every channel a client can subscribe to.
var Channels = []string{ChannelConnectionState, ChannelBridgeState}

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// SnapshotFunc returns the current value behind a channel, or false when
// nothing has happened on it yet. Subscribers receive it immediately so
// they do not wait for the next transition.
type SnapshotFunc func(channel string) (any, bool)

// Hub tracks connected clients and fans events out to subscribers.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	snapshot SnapshotFunc

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub with no clients.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// SetSnapshot installs the current-value source for new subscriptions.
// Call before clients connect.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.snapshot = fn
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the call that removes it closes its
// send channel, so shutdown and a failing read cannot double-close.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends an event on channel to every subscribed client.
// Clients with a full buffer miss the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeMessage(WSTypeEvent, "", channel, payload)
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "channel", channel, "error", err)
		return
	}

	// Client locks are taken after the hub lock is released
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

func encodeMessage(msgType, id, channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

func isKnownChannel(channel string) bool {
	for _, c := range Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// handleWebSocket upgrades the connection and registers the client.
// The optional "channels" query parameter subscribes on connect, e.g.
// /api/v1/ws?channels=connection.state_changed,bridge.state_changed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	var initial []string
	if q := r.URL.Query().Get("channels"); q != "" {
		initial, _ = client.subscribe(strings.Split(q, ","))
	}

	s.hub.Register(client)
	client.sendSnapshots(initial)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// channelSnapshot backs Hub.SetSnapshot with the MQTT status and the last
// bridge state.
func (s *Server) channelSnapshot(channel string) (any, bool) {
	switch channel {
	case ChannelConnectionState:
		if s.mqtt == nil {
			return nil, false
		}
		return s.mqtt.Status(), true
	case ChannelBridgeState:
		st, ok := s.pipeline.BridgeState()
		return st, ok
	}
	return nil, false
}

func wsTimings(cfg config.WebSocketConfig) (pingInterval, pongWait time.Duration) {
	return time.Duration(cfg.PingInterval) * time.Second, time.Duration(cfg.PongTimeout) * time.Second
}

// readPump handles client frames until the connection fails.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pingInterval, pongWait := wsTimings(cfg)
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client frame counts as liveness, not only pongs
		_ = extend()
		c.handleMessage(data)
	}
}

// writePump sends queued frames and keepalive pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := wsTimings(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(messageType int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(pongWait))
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, nil)
				return
			}
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

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscription applies a subscribe or unsubscribe request. New
// subscriptions are acknowledged first, then followed by a snapshot of
// each channel that has a current value.
func (c *WSClient) handleSubscription(msg WSMessage) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}
	var req WSSubscribePayload
	if err := json.Unmarshal(raw, &req); err != nil || len(req.Channels) == 0 {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	if msg.Type == WSTypeUnsubscribe {
		c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": c.unsubscribe(req.Channels)})
		return
	}

	accepted, unknown := c.subscribe(req.Channels)
	if len(accepted) == 0 {
		c.sendError(msg.ID, "unknown channels: "+strings.Join(unknown, ", "))
		return
	}
	c.hub.logger.Debug("websocket client subscribed", "channels", accepted)

	resp := map[string]any{"subscribed": accepted}
	if len(unknown) > 0 {
		resp["unknown"] = unknown
	}
	c.reply(msg.ID, WSTypeResponse, resp)
	c.sendSnapshots(accepted)
}

// subscribe adds the known channels and reports the rest.
func (c *WSClient) subscribe(channels []string) (accepted, unknown []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		switch {
		case ch == "":
		case isKnownChannel(ch):
			c.subscriptions[ch] = struct{}{}
			accepted = append(accepted, ch)
		default:
			unknown = append(unknown, ch)
		}
	}
	return accepted, unknown
}

func (c *WSClient) unsubscribe(channels []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := make([]string, 0, len(channels))
	for _, ch := range channels {
		if _, ok := c.subscriptions[ch]; ok {
			delete(c.subscriptions, ch)
			removed = append(removed, ch)
		}
	}
	return removed
}

func (c *WSClient) sendSnapshots(channels []string) {
	if c.hub.snapshot == nil {
		return
	}
	for _, ch := range channels {
		payload, ok := c.hub.snapshot(ch)
		if !ok {
			continue
		}
		if data, err := encodeMessage(WSTypeSnapshot, "", ch, payload); err == nil {
			c.trySend(data)
		}
	}
}

// trySend queues data without blocking. A full buffer drops the frame and
// a closed channel (client gone mid-broadcast) is absorbed.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) reply(id, msgType string, payload any) {
	if data, err := encodeMessage(msgType, id, "", payload); err == nil {
		c.trySend(data)
	}
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
