package ws

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/vedran77/mavis/internal/service"
)

// Hub tracks live WebSocket clients and the services they talk to.
type Hub struct {
	auth     *service.AuthService
	presence *service.PresenceService
	realtime *service.RealtimeService
	logger   *zap.Logger

	connections prometheus.Gauge

	mu       sync.Mutex
	clients  map[*Client]struct{}
	closing  bool
	draining sync.WaitGroup
}

// NewHub builds a hub. reg may be nil, in which case the connection gauge is
// not registered anywhere.
func NewHub(
	auth *service.AuthService,
	presence *service.PresenceService,
	realtime *service.RealtimeService,
	reg prometheus.Registerer,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		auth:     auth,
		presence: presence,
		realtime: realtime,
		logger:   logger.With(zap.String("component", "ws")),
		connections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "mavis",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
		clients: make(map[*Client]struct{}),
	}
}

// register adds c unless the hub is shutting down.
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.clients[c] = struct{}{}
	h.draining.Add(1)
	h.connections.Inc()
	h.logger.Debug("client connected", zap.String("user_id", c.userID), zap.Int("total", len(h.clients)))
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.draining.Done()
	h.connections.Dec()
	h.logger.Debug("client disconnected", zap.String("user_id", c.userID), zap.Int("total", len(h.clients)))
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every client and waits until each has cancelled its
// subscriptions and disconnected its presence session, or ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for c := range h.clients {
		c.cancel()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.draining.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
