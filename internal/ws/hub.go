package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-router/internal/observability"
	"chat-router/internal/rooms"
	"chat-router/internal/router"
)

// Frame is the JSON shape of every server-to-client message.
type Frame struct {
	Event string       `json:"event"`
	Room  rooms.RoomID `json:"room,omitempty"`
	From  int          `json:"from,omitempty"`
	Data  any          `json:"data,omitempty"`
	TS    time.Time    `json:"ts"`
}

var eventNames = map[router.Kind]string{
	router.KindBroadcast:      "receive_message",
	router.KindWhisper:        "receive_private_message",
	router.KindPin:            "update_pinned",
	router.KindUnpin:          "update_unpinned",
	router.KindTypingStart:    "user_typing",
	router.KindTypingStop:     "user_typing",
	router.KindPresenceChange: "presence",
}

type client struct {
	info      ConnInfo
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(info ConnInfo, conn *websocket.Conn, buffer int) *client {
	return &client{
		info: info,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// close stops the writer and closes the socket, which ends the reader.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Hub owns the live websocket clients and implements router.Deliverer.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger.Named("hub"),
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.info.ConnID] = c
}

func (h *Hub) remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, connID)
}

func (h *Hub) get(connID string) (*client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	return c, ok
}

// Deliver encodes d once and queues it on every listed connection.
// Connections that are gone are skipped; a connection whose queue is full
// is closed as a slow consumer.
func (h *Hub) Deliver(connIDs []string, d router.Delivery) int {
	payload, err := json.Marshal(Frame{
		Event: eventNames[d.Kind],
		Room:  d.Room,
		From:  d.Origin,
		Data:  d.Payload,
		TS:    d.At,
	})
	if err != nil {
		h.logger.Error("encode delivery failed", zap.String("kind", string(d.Kind)), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, id := range connIDs {
		if h.enqueue(id, payload) {
			delivered++
		}
	}
	return delivered
}

// Send queues a frame on a single connection.
func (h *Hub) Send(connID string, f Frame) bool {
	if f.TS.IsZero() {
		f.TS = time.Now()
	}
	payload, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("encode frame failed", zap.String("event", f.Event), zap.Error(err))
		return false
	}
	return h.enqueue(connID, payload)
}

func (h *Hub) enqueue(connID string, payload []byte) bool {
	c, ok := h.get(connID)
	if !ok {
		return false
	}
	if c.enqueue(payload) {
		return true
	}
	select {
	case <-c.done:
	default:
		h.logger.Warn("send buffer full, closing slow connection", zap.String("conn_id", connID), zap.Int("user_id", c.info.UserID))
		observability.IncWSEvent("ws_slow_consumer")
		c.close()
	}
	return false
}

// Close closes one connection if it is still open.
func (h *Hub) Close(connID string) {
	if c, ok := h.get(connID); ok {
		c.close()
	}
}

// CloseAll closes every connection, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

// Len returns the number of clients held by the hub.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
