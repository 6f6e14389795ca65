package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Envelope is the wire form of every hub message.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ChatFunc answers a chat message sent by a UI client.
type ChatFunc func(ctx context.Context, text string) string

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans named events out to websocket clients and accepts chat
// messages from them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	chat    ChatFunc
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{clients: make(map[*hubClient]struct{}), logger: logger}
}

// SetChatHandler wires inbound chat to fn.
func (h *Hub) SetChatHandler(fn ChatFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chat = fn
}

// Emit sends a named event to every client. Slow clients drop messages.
func (h *Hub) Emit(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal hub payload", zap.String("event", name), zap.Error(err))
		return
	}
	msg, err := json.Marshal(Envelope{Event: name, Data: data, Timestamp: time.Now()})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("hub client too slow, dropping event", zap.String("event", name))
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	c := &hubClient{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("ws client connected", zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(c)
	}()

	h.readLoop(r.Context(), c)

	h.mu.Lock()
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
	<-done
	h.logger.Info("ws client disconnected", zap.String("remote", r.RemoteAddr))
}

func (h *Hub) readLoop(ctx context.Context, c *hubClient) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in struct {
			Event   string `json:"event"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &in); err != nil || in.Event != "chat" || in.Message == "" {
			continue
		}

		h.mu.RLock()
		chat := h.chat
		h.mu.RUnlock()
		if chat == nil {
			continue
		}
		if reply := chat(ctx, in.Message); reply != "" {
			h.Emit("chat_reply", map[string]string{"message": reply})
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
