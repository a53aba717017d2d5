// Package httpapi is the HTTP surface of the oracle: feed and subscription
// management, price reads, delivery streams and operational endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/quotient-labs/price-oracle/internal/app/metrics"
	"github.com/quotient-labs/price-oracle/internal/app/services/feeds"
	"github.com/quotient-labs/price-oracle/internal/app/services/notifier"
	"github.com/quotient-labs/price-oracle/internal/app/services/pricing"
	"github.com/quotient-labs/price-oracle/internal/app/services/source"
	"github.com/quotient-labs/price-oracle/internal/app/storage"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Handler bundles the services the API exposes.
type Handler struct {
	feeds      *feeds.Service
	pricing    *pricing.Service
	subs       storage.SubscriptionStore
	tasks      storage.NotificationStore
	dispatcher *notifier.Dispatcher
	registry   *source.Registry
	wsHub      *notifier.WebsocketHub
	sseHub     *notifier.SSEHub
	log        *logger.Logger
}

// New constructs the API handler. wsHub and sseHub may be nil; the stream
// endpoints then answer 404.
func New(
	feedSvc *feeds.Service,
	pricingSvc *pricing.Service,
	subs storage.SubscriptionStore,
	tasks storage.NotificationStore,
	dispatcher *notifier.Dispatcher,
	registry *source.Registry,
	wsHub *notifier.WebsocketHub,
	sseHub *notifier.SSEHub,
	log *logger.Logger,
) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Handler{
		feeds:      feedSvc,
		pricing:    pricingSvc,
		subs:       subs,
		tasks:      tasks,
		dispatcher: dispatcher,
		registry:   registry,
		wsHub:      wsHub,
		sseHub:     sseHub,
		log:        log,
	}
}

// Router builds the route table.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /feeds", h.createFeed)
	mux.HandleFunc("GET /feeds", h.listFeeds)
	mux.HandleFunc("GET /feeds/{id}", h.getFeed)
	mux.HandleFunc("PUT /feeds/{id}", h.updateFeed)
	mux.HandleFunc("DELETE /feeds/{id}", h.deleteFeed)
	mux.HandleFunc("GET /feeds/{id}/status", h.feedStatus)
	mux.HandleFunc("POST /feeds/{id}/pause", h.pauseFeed)
	mux.HandleFunc("POST /feeds/{id}/resume", h.resumeFeed)

	mux.HandleFunc("POST /subscriptions", h.createSubscription)
	mux.HandleFunc("GET /subscriptions", h.listSubscriptions)
	mux.HandleFunc("GET /subscriptions/{id}", h.getSubscription)
	mux.HandleFunc("DELETE /subscriptions/{id}", h.deactivateSubscription)

	mux.HandleFunc("GET /tasks/{id}", h.getTask)
	mux.HandleFunc("GET /tasks/{id}/deliveries", h.listDeliveries)

	mux.HandleFunc("GET /prices/{asset}", h.getPrice)
	mux.HandleFunc("GET /prices/{asset}/history", h.getPriceHistory)

	mux.HandleFunc("GET /ws", h.websocket)
	mux.HandleFunc("GET /events", h.sse)

	mux.HandleFunc("GET /healthz", h.health)
	mux.Handle("GET /metrics", metrics.Handler())

	return metrics.InstrumentHandler(mux)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Warn("encode response failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeStoreError maps storage errors onto HTTP status codes.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	h.log.WithError(err).Error("request failed")
	h.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
