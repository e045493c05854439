package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Winger29/FSDP-Assignment2/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 8192
)

// Client is one websocket connection attached to a room
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	room       string
	userID     uint
	username   string
	send       chan []byte
	registered bool
}

// readPump handles frames sent by the browser. Chat messages are created
// over HTTP; the socket only carries typing notices and heartbeats.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.L().Debug("Websocket read error", zap.Uint("user_id", c.userID), zap.Error(err))
			}
			return
		}
		if c.hub.metrics != nil {
			c.hub.metrics.RecordWebSocketMessage("in")
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendDirect(Envelope{Type: EventError, Room: c.room, Data: "invalid message format"})
			continue
		}

		switch env.Type {
		case EventTyping:
			_ = c.hub.Publish(context.Background(), Envelope{
				Type:     EventTyping,
				Room:     c.room,
				UserID:   c.userID,
				Username: c.username,
			})
		case EventHeartbeat:
			c.sendDirect(Envelope{Type: EventHeartbeat, Room: c.room, Data: map[string]bool{"pong": true}})
		default:
			c.sendDirect(Envelope{Type: EventError, Room: c.room, Data: "unsupported message type"})
		}
	}
}

// writePump writes queued frames and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendDirect queues a frame for this client only. The membership check runs
// under the hub lock, which is also held when send is closed.
func (c *Client) sendDirect(env Envelope) {
	env.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if r, ok := c.hub.rooms[c.room]; ok {
		if _, member := r.clients[c]; member {
			select {
			case c.send <- payload:
			default:
			}
		}
	}
}
