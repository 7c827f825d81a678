package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/payrail/payrail/pkg/logger"
)

const (
	defaultWSMaxConnections = 100
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendBuffer       = 32

	wsMaxMessageBytes = 1 << 20
)

// WebSocketConfig configures websocket handler behavior.
type WebSocketConfig struct {
	AllowedOrigins []string
	MaxConnections int
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// EventMessage is the frame pushed to websocket clients.
type EventMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// clientCommand is what clients may send upstream: subscribe and
// unsubscribe requests scoped to one transaction.
type clientCommand struct {
	Type          string         `json:"type"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

func (c clientCommand) transactionID() string {
	if id := strings.TrimSpace(c.TransactionID); id != "" {
		return id
	}
	if c.Payload != nil {
		if value, ok := c.Payload["transaction_id"].(string); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// wsClient is one connected peer. A client with no subscriptions gets
// the full firehose; subscribing narrows delivery to the named
// transactions.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	scoped  bool
	watched map[string]struct{}

	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:    conn,
		send:    make(chan []byte, defaultSendBuffer),
		watched: make(map[string]struct{}),
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *wsClient) setWatch(transactionID string, on bool) {
	if transactionID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.watched[transactionID] = struct{}{}
	} else {
		delete(c.watched, transactionID)
	}
	c.scoped = len(c.watched) > 0
}

func (c *wsClient) wants(transactionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.scoped {
		return true
	}
	if transactionID == "" {
		return false
	}
	_, ok := c.watched[transactionID]
	return ok
}

// ConnectionManager tracks active websocket clients and fans events out
// to them.
type ConnectionManager struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	limit   int
}

// NewConnectionManager creates a manager with a connection limit.
func NewConnectionManager(maxConnections int) *ConnectionManager {
	if maxConnections <= 0 {
		maxConnections = defaultWSMaxConnections
	}
	return &ConnectionManager{
		clients: make(map[*wsClient]struct{}),
		limit:   maxConnections,
	}
}

// Register adds a client, failing when the limit is reached.
func (m *ConnectionManager) Register(client *wsClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.clients) >= m.limit {
		return errors.New("websocket connection limit reached")
	}
	m.clients[client] = struct{}{}
	return nil
}

// Unregister removes and closes a client. Safe to call twice.
func (m *ConnectionManager) Unregister(client *wsClient) {
	m.mu.Lock()
	_, known := m.clients[client]
	delete(m.clients, client)
	m.mu.Unlock()

	if known {
		client.close()
	}
}

// Count returns the number of active clients.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CanAccept reports whether one more connection fits under the limit.
func (m *ConnectionManager) CanAccept() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients) < m.limit
}

// Broadcast delivers the event to every client whose subscription set
// matches. Clients whose send buffer is full are dropped; a stalled
// peer must not hold up the rest.
func (m *ConnectionManager) Broadcast(event EventMessage) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return err
	}
	transactionID := eventTransactionID(event.Payload)

	// Deliver while holding the read lock so no client channel can be
	// closed mid-send.
	var stalled []*wsClient
	m.mu.RLock()
	for client := range m.clients {
		if !client.wants(transactionID) {
			continue
		}
		select {
		case client.send <- frame:
		default:
			stalled = append(stalled, client)
		}
	}
	m.mu.RUnlock()

	for _, client := range stalled {
		m.Unregister(client)
	}
	return nil
}

// Close disconnects every client.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for client := range m.clients {
		client.close()
		delete(m.clients, client)
	}
}

func eventTransactionID(payload any) string {
	switch value := payload.(type) {
	case map[string]any:
		id, _ := value["transaction_id"].(string)
		return id
	case map[string]string:
		return value["transaction_id"]
	default:
		return ""
	}
}

// WebSocketHandler serves /ws/events.
type WebSocketHandler struct {
	log          logger.Logger
	manager      *ConnectionManager
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
}

// NewWebSocketHandler creates a websocket handler.
func NewWebSocketHandler(log logger.Logger, cfg WebSocketConfig) *WebSocketHandler {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultWSMaxConnections
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}

	origins := append([]string(nil), cfg.AllowedOrigins...)
	return &WebSocketHandler{
		log:          log,
		manager:      NewConnectionManager(cfg.MaxConnections),
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		writeTimeout: defaultWriteTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return wsOriginAllowed(r, origins)
			},
		},
	}
}

// ServeHTTP upgrades the connection and runs the client until it
// disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !h.manager.CanAccept() {
		http.Error(w, "websocket connection limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn)
	if err := h.manager.Register(client); err != nil {
		// Lost the race for the last slot between CanAccept and here.
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many websocket connections"),
			time.Now().Add(h.writeTimeout),
		)
		_ = conn.Close()
		return
	}

	go h.writeLoop(client)
	h.readLoop(client)
}

// Broadcast pushes an event to matching clients, stamping the timestamp
// when the caller left it zero.
func (h *WebSocketHandler) Broadcast(event EventMessage) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return h.manager.Broadcast(event)
}

// Close disconnects all clients.
func (h *WebSocketHandler) Close() {
	h.manager.Close()
}

func (h *WebSocketHandler) readLoop(client *wsClient) {
	defer h.manager.Unregister(client)

	idle := h.pingInterval + h.pongTimeout
	client.conn.SetReadLimit(wsMaxMessageBytes)
	_ = client.conn.SetReadDeadline(time.Now().Add(idle))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.warn("websocket read error", "error", err)
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(cmd.Type)) {
		case "subscribe":
			client.setWatch(cmd.transactionID(), true)
		case "unsubscribe":
			client.setWatch(cmd.transactionID(), false)
		}
	}
}

func (h *WebSocketHandler) writeLoop(client *wsClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		h.manager.Unregister(client)
	}()

	for {
		select {
		case frame, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(h.writeTimeout),
				)
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) warn(msg string, args ...any) {
	if h.log != nil {
		h.log.Warn(msg, args...)
	}
}

func wsOriginAllowed(r *http.Request, allowed []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimSpace(a), origin) {
			return true
		}
	}

	// Same-host origins are always fine.
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}
