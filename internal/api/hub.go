package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/labdash/internal/infrastructure/config"
	"github.com/nerrad567/labdash/internal/infrastructure/logging"
	"github.com/nerrad567/labdash/internal/relay"
)

const (
	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	defaultWSMessageSize = 8192
	defaultPingInterval  = 30 * time.Second
	defaultPongTimeout   = 10 * time.Second
)

// SendHandler serves a client's send envelope.
type SendHandler func(c *WSClient, env relay.Envelope)

// Hub manages relay WebSocket connections and fans events out by channel.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	onSend   SendHandler
	onSendMu sync.RWMutex
}

// WSClient is one connected relay client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex

	// subject is the token subject, empty when auth is disabled.
	subject string
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new relay hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// SetSendHandler installs the handler for send envelopes.
func (h *Hub) SetSendHandler(handler SendHandler) {
	h.onSendMu.Lock()
	defer h.onSendMu.Unlock()
	h.onSend = handler
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
	h.mu.Unlock()
	h.logger.Debug("relay client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that removes the client from the map closes its send
// channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("relay client disconnected", "clients", h.ClientCount())
}

// Broadcast sends an event envelope to every client subscribed to channel.
// It satisfies ingest.Broadcaster.
func (h *Hub) Broadcast(channel string, payload any) {
	env, err := relay.NewEnvelope(relay.TypeEvent, payload)
	if err != nil {
		h.logger.Error("failed to encode broadcast payload", "channel", channel, "error", err)
		return
	}
	env.Channel = channel

	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot under the hub lock; client locks are taken after release.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sentCount := 0
	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
			sentCount++
		}
	}
	if sentCount > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sentCount)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
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

func (h *Hub) sendHandler() SendHandler {
	h.onSendMu.RLock()
	defer h.onSendMu.RUnlock()
	return h.onSend
}

func (h *Hub) timings() (readLimit int64, pingInterval, pongWait time.Duration) {
	readLimit = int64(h.cfg.MaxMessageSize)
	if readLimit <= 0 {
		readLimit = defaultWSMessageSize
	}
	pingInterval = time.Duration(h.cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	pongWait = time.Duration(h.cfg.PongTimeout) * time.Second
	if pongWait <= 0 {
		pongWait = defaultPongTimeout
	}
	return readLimit, pingInterval, pongWait
}

// handleWebSocket upgrades the request to a relay connection. Bearer
// authentication has already run in authMiddleware.
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
		subject:       requestSubject(r),
	}

	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	readLimit, pingInterval, pongWait := c.hub.timings()
	c.conn.SetReadLimit(readLimit)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})
	// Dashboards ping us too; answer and count it as liveness.
	c.conn.SetPingHandler(func(data string) error {
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(pongWait))
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
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes queued messages and the server heartbeat.
func (c *WSClient) writePump() {
	_, pingInterval, pongWait := c.hub.timings()
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes one inbound envelope.
func (c *WSClient) handleMessage(data []byte) {
	var env relay.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch env.Type {
	case relay.TypeSubscribe:
		c.handleSubscribe(env, true)
	case relay.TypeUnsubscribe:
		c.handleSubscribe(env, false)
	case relay.TypePing:
		c.sendEnvelope(env.ID, relay.TypePong, nil)
	case relay.TypeSend:
		handler := c.hub.sendHandler()
		if handler == nil || env.Destination == "" {
			c.sendError(env.ID, "cannot deliver to destination: "+env.Destination)
			return
		}
		handler(c, env)
	default:
		c.sendError(env.ID, "unknown message type: "+env.Type)
	}
}

// handleSubscribe adds or removes channels. The channel list comes from the
// payload, with the envelope's own channel as a shorthand for one.
func (c *WSClient) handleSubscribe(env relay.Envelope, add bool) {
	var sub relay.SubscribePayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &sub); err != nil {
			c.sendError(env.ID, "invalid "+env.Type+" payload")
			return
		}
	}
	if len(sub.Channels) == 0 && env.Channel != "" {
		sub.Channels = []string{env.Channel}
	}
	if len(sub.Channels) == 0 {
		c.sendError(env.ID, env.Type+" requires at least one channel")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if add {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if add {
		key = "subscribed"
		c.hub.logger.Debug("relay client subscribed", "channels", sub.Channels, "subject", c.subject)
	}
	c.sendEnvelope(env.ID, relay.TypeResponse, map[string]any{key: sub.Channels})
}

// trySend queues data for the client. A closed channel (client gone) or a
// full buffer (slow client) drops the message.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendEnvelope queues a reply envelope, echoing the request id when given.
func (c *WSClient) sendEnvelope(id, typ string, payload any) {
	env, err := relay.NewEnvelope(typ, payload)
	if err != nil {
		return
	}
	if id != "" {
		env.ID = id
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error envelope to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendEnvelope(id, relay.TypeError, relay.ErrorPayload{Message: message})
}
