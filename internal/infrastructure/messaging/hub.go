// Package messaging provides the websocket hub that streams collection
// changes to connected clients.
package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
)

// Client is one connected websocket consumer of a store's change feed.
type Client struct {
	Conn   *websocket.Conn
	Store  string
	Models map[string]bool // empty means every model
	Send   chan []byte
}

// NewClient creates a client with a buffered send queue.
func NewClient(conn *websocket.Conn, store string, models []string) *Client {
	c := &Client{Conn: conn, Store: store, Send: make(chan []byte, 64)}
	if len(models) > 0 {
		c.Models = make(map[string]bool, len(models))
		for _, m := range models {
			c.Models[m] = true
		}
	}
	return c
}

func (c *Client) wants(ev stores.ChangeEvent) bool {
	return len(c.Models) == 0 || c.Models[ev.Model]
}

// Hub tracks clients per store and delivers change events to them.
type Hub struct {
	storeClients map[string]map[*Client]bool
	register     chan *Client
	unregister   chan *Client
	broadcast    chan stores.ChangeEvent
	done         chan struct{}
	logger       *logging.ChanneledLogger
	mu           sync.RWMutex
}

// NewHub creates a hub. Run must be started before clients register.
func NewHub(logger *logging.ChanneledLogger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		storeClients: make(map[string]map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan stores.ChangeEvent, 256),
		done:         make(chan struct{}),
		logger:       logger,
	}
}

// Run is the hub's main loop. It returns when ctx is done, closing every
// client's send queue.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for store, clients := range h.storeClients {
				for client := range clients {
					close(client.Send)
				}
				delete(h.storeClients, store)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.storeClients[client.Store]; !ok {
				h.storeClients[client.Store] = make(map[*Client]bool)
			}
			h.storeClients[client.Store][client] = true
			h.mu.Unlock()
			h.logger.Realtime().Debug("Change feed client registered", "store", client.Store)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.storeClients[client.Store]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.storeClients, client.Store)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Realtime().Debug("Change feed client unregistered", "store", client.Store)

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

// Register queues a client for registration. After the hub stops the
// client's send queue is closed instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister queues a client for removal. It is a no-op once the hub stops.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish hands an event to the hub without blocking the caller. Events are
// dropped when the hub is saturated.
func (h *Hub) Publish(ev stores.ChangeEvent) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Realtime().Warn("Change feed saturated, event dropped", "store", ev.Store, "model", ev.Model, "kind", string(ev.Kind))
	}
}

// ClientCount returns the number of clients connected to store.
func (h *Hub) ClientCount(store string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.storeClients[store])
}

func (h *Hub) deliver(ev stores.ChangeEvent) {
	message, err := json.Marshal(ev)
	if err != nil {
		h.logger.Realtime().Error("Failed to encode change event", "error", err.Error())
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.storeClients[ev.Store] {
		if !client.wants(ev) {
			continue
		}
		select {
		case client.Send <- message:
		default:
			h.logger.Realtime().Warn("Change feed client queue full, message dropped", "store", ev.Store)
		}
	}
}

// WritePump copies queued messages to the connection and keeps it alive with
// pings. It returns when the send queue is closed or a write fails.
func WritePump(client *Client, pingInterval, writeTimeout time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.Send:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump discards incoming messages until the peer goes away, then
// unregisters the client.
func ReadPump(h Broadcaster, client *Client, pongWait time.Duration) {
	defer h.Unregister(client)
	client.Conn.SetReadLimit(512)
	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
