package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub maintains connected game-server clients and fans frames out to them.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	log     zerolog.Logger
	onCount func(int)
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	name string
	send chan []byte
}

func NewHub(log zerolog.Logger, onCount func(int)) *Hub {
	if onCount == nil {
		onCount = func(int) {}
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
		log:        log,
		onCount:    onCount,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.onCount(n)
			h.log.Info().Str("client_id", client.id).Str("client", client.name).Int("clients", n).Msg("bridge client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.onCount(n)
			h.log.Info().Str("client_id", client.id).Int("clients", n).Msg("bridge client unregistered")

		case frame := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					// Slow client; drop it rather than stall everyone else.
					close(client.send)
					delete(h.clients, client)
					h.log.Warn().Str("client_id", client.id).Msg("bridge client send buffer full, dropped")
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			return
		}
	}
}

// Broadcast queues frame for every connected client and returns how many
// clients were connected.
func (h *Hub) Broadcast(frame []byte) int {
	n := h.Count()
	if n == 0 {
		return 0
	}
	select {
	case h.broadcast <- frame:
	case <-h.done:
		return 0
	}
	return n
}

// SendTo queues frame for a single client. It reports false when the client
// is gone or its buffer is full.
func (h *Hub) SendTo(client *Client, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return false
	}
	select {
	case client.send <- frame:
		return true
	default:
		return false
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll sends a close frame with reason to every client and closes the
// connections.
func (h *Hub) CloseAll(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		_ = client.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = client.conn.Close()
	}
}

func (c *Client) readPump(limit int64, idle time.Duration, dispatch func(*Client, []byte)) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(limit)
	c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(idle))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn().Err(err).Str("client_id", c.id).Msg("bridge read failed")
			}
			return
		}
		dispatch(c, frame)
	}
}

func (c *Client) writePump(pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.done:
			return
		}
	}
}
