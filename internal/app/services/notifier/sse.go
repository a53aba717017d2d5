package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

// SSEHub streams events to subscribers over server-sent events. Like the
// websocket hub, delivery fails when the subscription has no live stream so
// the queue's retry policy applies.
type SSEHub struct {
	log *logger.Logger

	mu      sync.Mutex
	streams map[string][]chan json.RawMessage
}

var _ Notifier = (*SSEHub)(nil)

// NewSSEHub creates an empty hub.
func NewSSEHub(log *logger.Logger) *SSEHub {
	if log == nil {
		log = logger.NewDefault("notifier-sse")
	}
	return &SSEHub{log: log, streams: make(map[string][]chan json.RawMessage)}
}

func (h *SSEHub) Method() notification.DeliveryMethod { return notification.MethodSSE }

// HandleStream serves an SSE stream for the subscription until the client
// disconnects.
func (h *SSEHub) HandleStream(w http.ResponseWriter, r *http.Request, subscriptionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	events := make(chan json.RawMessage, 16)
	h.mu.Lock()
	h.streams[subscriptionID] = append(h.streams[subscriptionID], events)
	h.mu.Unlock()
	defer h.removeStream(subscriptionID, events)

	h.log.WithField("subscription_id", subscriptionID).Info("sse subscriber connected")

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-events:
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (h *SSEHub) removeStream(subscriptionID string, events chan json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	streams := h.streams[subscriptionID]
	for i, s := range streams {
		if s == events {
			h.streams[subscriptionID] = append(streams[:i], streams[i+1:]...)
			break
		}
	}
	if len(h.streams[subscriptionID]) == 0 {
		delete(h.streams, subscriptionID)
	}
}

func (h *SSEHub) Deliver(_ context.Context, sub notification.Subscription, payload json.RawMessage) error {
	h.mu.Lock()
	streams := append([]chan json.RawMessage(nil), h.streams[sub.ID]...)
	h.mu.Unlock()

	if len(streams) == 0 {
		return fmt.Errorf("no sse stream for subscription %s", sub.ID)
	}

	delivered := 0
	for _, stream := range streams {
		select {
		case stream <- payload:
			delivered++
		default:
			// Slow consumer; skip rather than block the delivery worker.
		}
	}
	if delivered == 0 {
		return fmt.Errorf("all sse streams for subscription %s are backed up", sub.ID)
	}
	return nil
}
