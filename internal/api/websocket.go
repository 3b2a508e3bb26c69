package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/auth"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/bus"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mqttbridge/internal/session"
)

// WebSocket frame types.
const (
	// Client to server.
	WSTypePublish = "publish"
	WSTypeWatch   = "watch"
	WSTypeUnwatch = "unwatch"
	WSTypePing    = "ping"

	// Server to client.
	WSTypePong     = "pong"
	WSTypeMessage  = "message"
	WSTypeResponse = "response"
	WSTypeError    = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage is a gateway frame in either direction.
//
// A publish frame carries a bus topic ("brokerSubscribe/k1/req") and the
// JSON payload for it. Message frames carry bus traffic for watched
// sessions in the same shape.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	Key       string          `json:"key,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Hub tracks gateway connections.
type Hub struct {
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one gateway connection. It drives the sessions it opened
// and receives their bus traffic. Ownership of a key lasts as long as
// the session it opened; see keyTable.
type WSClient struct {
	hub    *Hub
	srv    *Server
	conn   *websocket.Conn
	send   chan []byte
	claims *auth.Claims
	done   chan struct{}

	// mu guards watches and orders watch changes against the key table.
	mu      sync.Mutex
	watches map[string][]bus.Subscription
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
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

// handleWebSocket upgrades an authenticated request to a gateway connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:     s.hub,
		srv:     s,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		claims:  claims,
		done:    make(chan struct{}),
		watches: make(map[string][]bus.Subscription),
	}

	s.hub.Register(client)
	s.logger.Info("gateway client connected", "subject", claims.Subject, "role", string(claims.Role))

	go client.writePump()
	go client.readPump()
}

// readPump reads frames until the connection closes, then releases the
// client's sessions.
func (c *WSClient) readPump() {
	defer func() {
		c.release()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	cfg := c.srv.wsCfg
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
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

// writePump writes queued frames and keepalive pings.
func (c *WSClient) writePump() {
	cfg := c.srv.wsCfg
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

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

// handleMessage processes an incoming frame.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypePublish:
		c.handlePublish(msg)
	case WSTypeWatch:
		c.handleWatch(msg)
	case WSTypeUnwatch:
		c.unwatch(msg.Key)
		c.sendResponse(msg.ID, map[string]string{"unwatched": msg.Key})
	case WSTypePing:
		c.sendFrame(WSMessage{Type: WSTypePong, ID: msg.ID})
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handlePublish validates a client frame and publishes it on the bus.
func (c *WSClient) handlePublish(msg WSMessage) {
	topic, err := bus.ParseTopic(msg.Topic)
	if err != nil {
		c.sendError(msg.ID, "invalid topic: "+msg.Topic)
		return
	}
	if !clientPublishable(topic) {
		c.sendError(msg.ID, "topic not publishable by clients: "+topic.String())
		return
	}

	payload, err := bus.DecodePayload(topic, msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload for "+topic.String())
		return
	}
	key := topic.SessionKey
	payload = withSessionKey(payload, key)

	req, connecting := payload.(bus.ConnectRequest)
	if connecting {
		if err := c.authorizeConnect(req); err != nil {
			c.sendError(msg.ID, err.Error())
			return
		}
		if err := c.open(key); err != nil {
			c.sendError(msg.ID, err.Error())
			return
		}
	} else if !c.mayDrive(key) {
		c.sendError(msg.ID, "session "+key+" was not opened by this connection")
		return
	}

	if err := c.srv.bus.Publish(topic, payload); err != nil {
		c.srv.logger.Error("gateway publish failed", "topic", topic.String(), "error", err)
		if connecting {
			c.srv.keys.drop(key, c, "")
			c.forgetKey(key, "")
		}
		c.sendError(msg.ID, "publish failed")
		return
	}
	c.sendResponse(msg.ID, map[string]string{"published": topic.String()})
}

// handleWatch starts forwarding a session's bus traffic to the client.
func (c *WSClient) handleWatch(msg WSMessage) {
	if msg.Key == "" || msg.Key == bus.Wildcard {
		c.sendError(msg.ID, "watch requires a session key")
		return
	}
	if !c.mayDrive(msg.Key) {
		c.sendError(msg.ID, "session "+msg.Key+" was not opened by this connection")
		return
	}
	c.watch(msg.Key)
	c.sendResponse(msg.ID, map[string]string{"watching": msg.Key})
}

// authorizeConnect checks a connect request against the token.
func (c *WSClient) authorizeConnect(req bus.ConnectRequest) error {
	if !c.claims.AllowsIdentity(req.Identity) {
		return fmt.Errorf("%w: %q", auth.ErrIdentityDenied, req.Identity)
	}
	if req.Broker != nil && !c.claims.Can(auth.PermBrokerConfigManage) {
		return fmt.Errorf("%w: inline broker configuration", auth.ErrForbidden)
	}
	return nil
}

// open reserves key for this client and watches it. A previous owner
// whose session has ended stops receiving the key's traffic.
func (c *WSClient) open(key string) error {
	c.mu.Lock()
	stale, err := c.srv.keys.reserve(key, c)
	if err == nil {
		c.watchLocked(key)
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if stale != nil {
		stale.forgetKey(key, "")
	}
	return nil
}

// settleConnect binds a pending reservation to the session that
// connected, or releases it when the connect failed.
func (c *WSClient) settleConnect(key string, payload any) {
	if !c.srv.keys.pending(key, c) {
		return
	}

	p, err := bus.NormalizePayload(bus.Response(bus.EventConnect, key), payload)
	res, _ := p.(bus.ConnectResponse)
	if err == nil && !res.Failed() {
		if s, live := c.srv.keys.liveSession(key); live && c.srv.keys.bind(key, c, s.ID()) {
			go c.awaitEnd(key, s)
			return
		}
	}

	c.srv.keys.drop(key, c, "")
	c.forgetKey(key, "")
}

// awaitEnd releases the key once the session it opened has ended.
func (c *WSClient) awaitEnd(key string, s *session.Session) {
	select {
	case <-s.Done():
		c.forgetKey(key, s.ID())
	case <-c.done:
	}
}

// forgetKey drops the claim bound to sessionID, if given, and stops
// watching key unless this client owns a session on it again.
func (c *WSClient) forgetKey(key, sessionID string) {
	c.mu.Lock()
	if sessionID != "" {
		c.srv.keys.drop(key, c, sessionID)
	}
	var subs []bus.Subscription
	if !c.srv.keys.owns(key, c) {
		subs = c.watches[key]
		delete(c.watches, key)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// watchedTopics are the topics a client needs to follow one session.
func watchedTopics(key string) []bus.Topic {
	return []bus.Topic{
		bus.Response(bus.EventConnect, key),
		bus.Response(bus.EventSubscribe, key),
		bus.Response(bus.EventUnsubscribe, key),
		bus.Response(bus.EventPublishFromClient, key),
		bus.Request(bus.EventPublishToClient, key),
	}
}

// watch subscribes the client to a session's outbound topics. Watching a
// key twice is a no-op.
func (c *WSClient) watch(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchLocked(key)
}

func (c *WSClient) watchLocked(key string) {
	if _, ok := c.watches[key]; ok {
		return
	}
	topics := watchedTopics(key)
	subs := make([]bus.Subscription, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, c.srv.bus.Subscribe(t, c.forward))
	}
	c.watches[key] = subs
}

// unwatch stops forwarding a session's traffic.
func (c *WSClient) unwatch(key string) {
	c.mu.Lock()
	subs := c.watches[key]
	delete(c.watches, key)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// forward runs on the bus publisher's goroutine and must not block.
// Traffic for a key is only passed on while the client may drive it.
func (c *WSClient) forward(msg bus.Message) {
	key := msg.Topic.SessionKey
	allowed := c.mayDrive(key)
	if msg.Topic.Event == bus.EventConnect && msg.Topic.Kind == bus.KindResponse {
		c.settleConnect(key, msg.Payload)
	}
	if !allowed {
		return
	}

	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		c.srv.logger.Error("encoding bus payload failed", "topic", msg.Topic.String(), "error", err)
		return
	}
	c.sendFrame(WSMessage{Type: WSTypeMessage, Topic: msg.Topic.String(), Payload: payload})
}

// release drops every watch and disconnects the sessions this client
// still owns.
func (c *WSClient) release() {
	close(c.done)
	owned := c.srv.keys.releaseAll(c)

	c.mu.Lock()
	keys := make([]string, 0, len(c.watches))
	for key := range c.watches {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.unwatch(key)
	}
	for _, key := range owned {
		if err := c.srv.bus.Publish(bus.Call(bus.EventDisconnect, key), bus.DisconnectCall{SessionKey: key}); err != nil {
			c.srv.logger.Debug("gateway disconnect publish failed", "session_key", key, "error", err)
		}
	}
	if len(owned) > 0 {
		c.srv.logger.Info("gateway client released sessions", "subject", c.claims.Subject, "sessions", len(owned))
	}
}

// mayDrive reports whether the client may act on key: it opened the
// pending or live session, or its role manages all sessions.
func (c *WSClient) mayDrive(key string) bool {
	return c.claims.Can(auth.PermSessionManage) || c.srv.keys.owns(key, c)
}

// clientPublishable reports whether topic flows from client to bridge.
func clientPublishable(t bus.Topic) bool {
	switch t.Kind {
	case bus.KindRequest:
		switch t.Event {
		case bus.EventConnect, bus.EventSubscribe, bus.EventUnsubscribe, bus.EventPublishFromClient:
			return true
		}
	case bus.KindResponse:
		return t.Event == bus.EventPublishToClient
	case bus.KindCall:
		return t.Event == bus.EventDisconnect
	}
	return false
}

// withSessionKey pins the payload's session key to the topic's.
func withSessionKey(payload any, key string) any {
	switch p := payload.(type) {
	case bus.ConnectRequest:
		p.SessionKey = key
		return p
	case bus.SubscribeRequest:
		p.SessionKey = key
		return p
	case bus.UnsubscribeRequest:
		p.SessionKey = key
		return p
	case bus.PublishFromClientRequest:
		p.SessionKey = key
		return p
	case bus.PublishToClientResponse:
		p.SessionKey = key
		return p
	case bus.DisconnectCall:
		p.SessionKey = key
		return p
	default:
		return payload
	}
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during a bus
// delivery) and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("gateway client buffer full, frame dropped", "subject", c.claims.Subject)
	}
}

// sendFrame stamps and queues a frame.
func (c *WSClient) sendFrame(msg WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendResponse acknowledges a client frame.
func (c *WSClient) sendResponse(id string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.sendFrame(WSMessage{Type: WSTypeResponse, ID: id, Payload: data})
}

// sendError reports a rejected client frame.
func (c *WSClient) sendError(id, message string) {
	data, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return
	}
	c.sendFrame(WSMessage{Type: WSTypeError, ID: id, Payload: data})
}
