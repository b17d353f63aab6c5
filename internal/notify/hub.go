package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultSendBuffer = 16
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = pongWait * 9 / 10
	maxMessageSize    = 512
)

// Hub holds the connected WebSocket clients and the topics each one subscribed to.
type Hub struct {
	upgrader   websocket.Upgrader
	sendBuffer int

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type HubOption func(h *Hub)

// WithSendBuffer sets how many messages may queue for a client before it is dropped.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithCheckOrigin overrides the origin check of the upgrade. All origins are allowed by default.
func WithCheckOrigin(f func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = f
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sendBuffer: defaultSendBuffer,
		clients:    make(map[*client]struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	topics map[string]struct{}
}

func (c *client) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *client) subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = struct{}{}
}

func (c *client) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, topic)
}

// ServeHTTP upgrades the request to a WebSocket and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "notify: websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
		topics: make(map[string]struct{}),
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(r.Context(), c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// drop removes the client and closes its queue, which ends its write pump.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

type inbound struct {
	Type string `json:"type"`
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	defer func() {
		h.drop(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.DebugContext(ctx, "notify: websocket read failed", "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(b, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case TypeSubscribe:
			c.subscribe(TopicLeaderboard)
		case TypeUnsubscribe:
			c.unsubscribe(TopicLeaderboard)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast queues msg for every client subscribed to topic and returns how many got it.
// Clients whose queue is full are dropped.
func (h *Hub) Broadcast(topic string, msg []byte) int {
	var slow []*client
	sent := 0

	h.mu.RLock()
	for c := range h.clients {
		if !c.subscribed(topic) {
			continue
		}
		select {
		case c.send <- msg:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("notify: dropping slow websocket client", "topic", topic)
		h.drop(c)
	}

	return sent
}

// Subscribers returns the number of clients following topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients {
		if c.subscribed(topic) {
			n++
		}
	}
	return n
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
