package websocket

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"fogpulse/internal/dispatch"
	"fogpulse/internal/logger"
	"fogpulse/internal/metrics"
)

// Registry is the part of the dispatch router the hub needs.
type Registry interface {
	Register(sub dispatch.Subscriber, filter dispatch.Filter) error
	Unregister(id string) error
}

// Hub upgrades dashboard connections and registers each one with the
// router as its own subscriber, so every client gets its own filter and
// delivery queue.
type Hub struct {
	registry Registry
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
}

func NewHub(registry Registry) *Hub {
	return &Hub{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

// ServeHTTP handles GET /ws?min=warning&tier=fog,cloud.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("websocket")

	q := r.URL.Query()
	filter, err := dispatch.ParseFilter(q.Get("min"), q.Get("tier"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(h, conn)
	if err := h.registry.Register(c, filter); err != nil {
		log.Error().Err(err).Str("client", c.id).Msg("websocket client not registered")
		conn.Close()
		return
	}

	h.mu.Lock()
	if h.closed {
		// Close ran while the client was registering.
		h.mu.Unlock()
		c.closeSend()
		if err := h.registry.Unregister(c.id); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("unregister failed")
		}
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.WebsocketClients.Inc()

	log.Info().
		Str("client", c.id).
		Str("remote_addr", conn.RemoteAddr().String()).
		Str("min_severity", filter.MinSeverity.String()).
		Msg("websocket client connected")

	go c.writePump()
	go c.readPump()
}

// remove unregisters c and stops its write pump. Safe to call twice.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}

	log := logger.WithComponent("websocket")
	metrics.WebsocketClients.Dec()
	c.closeSend()
	if err := h.registry.Unregister(c.id); err != nil {
		log.Debug().Err(err).Str("client", c.id).Msg("unregister failed")
	}
	log.Info().Str("client", c.id).Msg("websocket client disconnected")
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}
