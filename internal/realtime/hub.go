package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Winger29/FSDP-Assignment2/internal/logging"
	"github.com/Winger29/FSDP-Assignment2/internal/metrics"
)

// Envelope types sent to websocket clients
const (
	EventMessage    = "message"
	EventUserJoined = "user_joined"
	EventUserLeft   = "user_left"
	EventTyping     = "typing"
	EventHeartbeat  = "heartbeat"
	EventError      = "error"
)

// Envelope is the JSON frame exchanged with websocket clients and carried
// over the broker
type Envelope struct {
	Type      string      `json:"type"`
	Room      string      `json:"room"`
	UserID    uint        `json:"user_id,omitempty"`
	Username  string      `json:"username,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type room struct {
	clients map[*Client]struct{}
	msgs    <-chan []byte
	cancel  func()
}

type delivery struct {
	room    string
	payload []byte
}

// Hub tracks websocket clients per room. Each room with at least one local
// client holds a broker subscription on the topic of the same name, so events
// published by any instance reach every connected client.
type Hub struct {
	broker   Broker
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	rooms      map[string]*room
	register   chan *Client
	unregister chan *Client
	deliver    chan delivery

	mu   sync.RWMutex
	done chan struct{}
}

// NewHub creates a hub. An empty allowedOrigins list accepts any origin.
func NewHub(broker Broker, allowedOrigins []string, m *metrics.Metrics) *Hub {
	h := &Hub{
		broker:     broker,
		metrics:    m,
		rooms:      make(map[string]*room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, 256),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.TrimSpace(allowed) == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Run processes registrations and deliveries until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for name, r := range h.rooms {
				r.cancel()
				for c := range r.clients {
					close(c.send)
				}
				delete(h.rooms, name)
			}
			h.mu.Unlock()
			logging.L().Info("Websocket hub stopped")
			return

		case c := <-h.register:
			h.registerClient(ctx, c)

		case c := <-h.unregister:
			h.unregisterClient(c)

		case d := <-h.deliver:
			h.fanOut(d)
		}
	}
}

func (h *Hub) registerClient(ctx context.Context, c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[c.room]
	if !ok {
		msgs, cancel, err := h.broker.Subscribe(ctx, c.room)
		if err != nil {
			h.mu.Unlock()
			logging.L().Error("Failed to subscribe room", zap.String("room", c.room), zap.Error(err))
			close(c.send)
			return
		}
		r = &room{clients: make(map[*Client]struct{}), msgs: msgs, cancel: cancel}
		h.rooms[c.room] = r
		go h.forward(c.room, msgs)
	}
	r.clients[c] = struct{}{}
	c.registered = true
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordWebSocketConnection(1)
	}
	go h.Publish(context.Background(), Envelope{
		Type:     EventUserJoined,
		Room:     c.room,
		UserID:   c.userID,
		Username: c.username,
	})
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[c.room]
	if !ok || !c.registered {
		h.mu.Unlock()
		return
	}
	if _, member := r.clients[c]; !member {
		h.mu.Unlock()
		return
	}
	delete(r.clients, c)
	close(c.send)
	empty := len(r.clients) == 0
	if empty {
		r.cancel()
		delete(h.rooms, c.room)
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordWebSocketConnection(-1)
	}
	if !empty {
		go h.Publish(context.Background(), Envelope{
			Type:     EventUserLeft,
			Room:     c.room,
			UserID:   c.userID,
			Username: c.username,
		})
	}
}

// forward moves broker payloads for a room into the hub loop. If the broker
// ends the subscription on its own, the room's clients are disconnected so
// they reconnect instead of missing events.
func (h *Hub) forward(roomName string, msgs <-chan []byte) {
	for payload := range msgs {
		select {
		case h.deliver <- delivery{room: roomName, payload: payload}:
		case <-h.done:
			return
		}
	}
	h.dropRoom(roomName, msgs)
}

func (h *Hub) dropRoom(roomName string, msgs <-chan []byte) {
	h.mu.Lock()
	r, ok := h.rooms[roomName]
	if !ok || r.msgs != msgs {
		h.mu.Unlock()
		return
	}
	n := len(r.clients)
	for c := range r.clients {
		close(c.send)
	}
	r.cancel()
	delete(h.rooms, roomName)
	h.mu.Unlock()

	logging.L().Warn("Realtime subscription ended, disconnecting room", zap.String("room", roomName), zap.Int("clients", n))
	if h.metrics != nil {
		h.metrics.RecordWebSocketConnection(-n)
	}
}

func (h *Hub) fanOut(d delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rooms[d.room]
	if !ok {
		return
	}
	for c := range r.clients {
		select {
		case c.send <- d.payload:
			if h.metrics != nil {
				h.metrics.RecordWebSocketMessage("out")
			}
		default:
			logging.L().Warn("Websocket send buffer full, dropping message", zap.Uint("user_id", c.userID))
		}
	}
}

// Publish sends an event to every client in env.Room, across instances
func (h *Hub) Publish(ctx context.Context, env Envelope) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := h.broker.Publish(ctx, env.Room, payload); err != nil {
		logging.L().Warn("Failed to publish realtime event", zap.String("room", env.Room), zap.Error(err))
		return err
	}
	return nil
}

// RoomSize returns the number of local clients in a room
func (h *Hub) RoomSize(roomName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[roomName]; ok {
		return len(r.clients)
	}
	return 0
}

// ServeWS upgrades the request and attaches the connection to roomName.
// Authentication and membership checks are the caller's job.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, roomName string, userID uint, username string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &Client{
		hub:      h,
		conn:     conn,
		room:     roomName,
		userID:   userID,
		username: username,
		send:     make(chan []byte, 256),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return context.Canceled
	}
	go c.writePump()
	go c.readPump()
	return nil
}

// Stats returns the number of active rooms and connected clients
func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, r := range h.rooms {
		clients += len(r.clients)
	}
	return len(h.rooms), clients
}
