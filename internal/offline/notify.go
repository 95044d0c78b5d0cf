package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/fitfusion/fitfusion/internal/logger"
)

// Notifier shows a notification to the user.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

// Show logs n
func (LogNotifier) Show(_ context.Context, n Notification) error {
	logger.L().With("component", "notify").Info("notification", "title", n.Title, "body", n.Body, "url", n.URL)
	return nil
}

const (
	hubClientBuffer = 16
	hubWriteTimeout = 5 * time.Second
)

// Hub broadcasts notifications to pages connected over websocket.
// A client whose buffer is full misses the notification rather than
// blocking the broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	log     *slog.Logger
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan []byte]struct{}),
		log:     logger.L().With("component", "notify"),
	}
}

// Clients returns the number of connected pages
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Show sends n to every connected page as JSON
func (h *Hub) Show(_ context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for ch := range h.clients {
		select {
		case ch <- data:
			delivered++
		default:
			h.log.Warn("client buffer full, notification dropped")
		}
	}
	h.log.Info("notification broadcast", "title", n.Title, "clients", delivered)
	return nil
}

func (h *Hub) register() chan []byte {
	ch := make(chan []byte, hubClientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unregister(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request to a websocket and streams notifications
// until the page disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ch := h.register()
	defer h.unregister(ch)

	// Pages never send anything; CloseRead handles control frames and
	// cancels ctx once the connection goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data := <-ch:
			wctx, cancel := context.WithTimeout(ctx, hubWriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
