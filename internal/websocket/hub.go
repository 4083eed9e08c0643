package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/lcnr/docker-queue/internal/events"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the daemon binds to localhost
	},
}

type client struct {
	conn      *websocket.Conn
	requestID string
	mu        sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub streams lifecycle events to websocket subscribers. A subscriber may
// pass ?request_id=<id> to only see one request.
type Hub struct {
	clients map[*client]struct{}
	mu      sync.RWMutex
	logger  *logrus.Entry
}

func NewHub(logger *logrus.Entry) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.WithField("component", "websocket"),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("failed to upgrade connection")
		return
	}

	c := &client{conn: conn, requestID: r.URL.Query().Get("request_id")}
	h.register(c)
	defer h.unregister(c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	h.logger.WithField("clients", len(h.clients)).Debug("client connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.conn.Close()
	h.logger.WithField("clients", len(h.clients)).Debug("client disconnected")
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Name() string { return "websocket" }

// Publish implements events.Sink.
func (h *Hub) Publish(ctx context.Context, ev events.Event) error {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.requestID == "" || c.requestID == ev.RequestID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var failed int
	for _, c := range targets {
		if err := c.write(data); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to deliver event to %d of %d clients", failed, len(targets))
	}
	return nil
}
