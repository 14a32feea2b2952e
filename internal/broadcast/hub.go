// Package broadcast fans heartbeat events out to websocket watchers.
// Delivery is best-effort: a slow client drops events, it never stalls
// the pipeline.
package broadcast

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/botastrophic/botastrophic/internal/observability"
)

const (
	clientQueueSize = 64
	writeTimeout    = 10 * time.Second
	pingInterval    = 30 * time.Second
	pongWait        = 90 * time.Second
)

type client struct {
	send chan map[string]any
}

// Hub tracks connected watchers and pushes events to each of them.
type Hub struct {
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(metrics *observability.Metrics, logger *zap.Logger, allowAnyOrigin bool) *Hub {
	return &Hub{
		metrics: metrics,
		logger:  logger.Named("broadcast"),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser connections must come from the same origin unless
				// explicitly opened up. Non-browser clients omit Origin.
				if allowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// Broadcast queues an event for every connected client. Clients whose
// queue is full miss this event.
func (h *Hub) Broadcast(event map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			h.metrics.BroadcastDrops.Inc()
		}
	}
}

// ClientCount reports the number of connected watchers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the request and streams events until the client
// disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := &client{send: make(chan map[string]any, clientQueueSize)}
	h.add(c)
	defer h.remove(c)

	h.logger.Info("activity watcher connected", zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})

	// Reads are only for pong and close detection; clients do not send
	// application messages on this socket.
	go func() {
		defer close(done)
		conn.SetReadLimit(1 << 16)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.WSClients.Set(float64(count))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.WSClients.Set(float64(count))
}
