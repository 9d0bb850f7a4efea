package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/soundmesh-core/internal/infrastructure/config"
	"github.com/nerrad567/soundmesh-core/internal/infrastructure/logging"
)

// Message types on the WebSocket wire. Clients send subscribe,
// unsubscribe, and ping; the server answers with response, pong, or
// error and pushes event frames for subscribed channels.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize bounds each client's outbound queue. A client
	// that cannot drain it loses frames rather than stalling broadcasts.
	wsSendBufferSize = 256
)

// Event channels a client may subscribe to.
const (
	ChannelSpeakerState      = "speaker.state"
	ChannelSpeakerConnection = "speaker.connection"
	ChannelGroupTopology     = "group.topology"
)

// wsChannels is the full subscription vocabulary; subscribe requests
// naming anything else are rejected whole.
var wsChannels = map[string]struct{}{
	ChannelSpeakerState:      {},
	ChannelSpeakerConnection: {},
	ChannelGroupTopology:     {},
}

// WSMessage is the outbound frame envelope.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsEnvelope is the inbound frame shape. Payload stays raw until the
// message type determines how to decode it.
type wsEnvelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSSubscribePayload carries the channel list of a subscribe or
// unsubscribe request.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub tracks the connected WebSocket clients and fans event frames out
// to the ones subscribed to each channel.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one upgraded connection with its subscription set.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}
	closed        bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checking happens in the CORS middleware.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the broadcast set.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client and releases its send channel. Whoever
// wins the map removal does the release, so a readPump exit racing
// shutdown cannot close the channel twice.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		client.shutdown()
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast pushes one event frame to every client subscribed to the
// channel. Slow clients drop the frame instead of blocking the caller.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		if client.isSubscribed(channel) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range targets {
		if client.trySend(data) {
			delivered++
		}
	}
	if delivered > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", delivered)
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
		client.shutdown()
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection and starts the client's
// pump goroutines.
//
// Browsers cannot set an Authorization header on upgrade requests, so
// the JWT arrives as a token query parameter and is validated here
// instead of in the middleware.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.secCfg.JWT.Secret != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			writeUnauthorized(w, "token query parameter is required")
			return
		}
		if err := s.validateToken(token); err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}
	}

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
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// wsKeepalive derives the ping cadence and the deadline extension from
// the configured intervals.
func wsKeepalive(cfg config.WebSocketConfig) (ping, wait time.Duration) {
	ping = time.Duration(cfg.PingInterval) * time.Second
	wait = ping + time.Duration(cfg.PongTimeout)*time.Second
	return ping, wait
}

func wsTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// readPump consumes frames until the connection drops, then detaches
// the client from the hub.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	_, wait := wsKeepalive(cfg)
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any inbound frame proves liveness, not just protocol pongs.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))
		c.handleMessage(message)
	}
}

// writePump drains the send channel and keeps the connection alive
// with protocol pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ping, wait := wsKeepalive(cfg)
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub released the channel; say goodbye and stop.
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch env.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.updateSubscriptions(env)
	case WSTypePing:
		c.sendResponse(env.ID, WSTypePong, nil)
	default:
		c.sendError(env.ID, "unknown message type: "+env.Type)
	}
}

// updateSubscriptions applies a subscribe or unsubscribe request.
// Subscribing to an unknown channel fails the whole request so a typo
// does not silently subscribe the rest of the list.
func (c *WSClient) updateSubscriptions(env wsEnvelope) {
	var req WSSubscribePayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.sendError(env.ID, "invalid "+env.Type+" payload")
		return
	}

	if env.Type == WSTypeSubscribe {
		for _, channel := range req.Channels {
			if _, known := wsChannels[channel]; !known {
				c.sendError(env.ID, "unknown channel: "+channel)
				return
			}
		}
	}

	c.mu.Lock()
	for _, channel := range req.Channels {
		if env.Type == WSTypeSubscribe {
			c.subscriptions[channel] = struct{}{}
		} else {
			delete(c.subscriptions, channel)
		}
	}
	c.mu.Unlock()

	result := "subscribed"
	if env.Type == WSTypeUnsubscribe {
		result = "unsubscribed"
	} else {
		c.hub.logger.Info("websocket client subscribed", "channels", req.Channels)
	}
	c.sendResponse(env.ID, WSTypeResponse, map[string]any{result: req.Channels})
}

// shutdown marks the client closed and releases its send channel. Only
// the caller that removed the client from the hub may invoke it.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

// trySend queues a frame for the write pump. Reports false when the
// client is already closed or its buffer is full; the closed flag is
// checked under the same lock shutdown closes the channel with, so a
// send can never hit a closed channel.
func (c *WSClient) trySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
