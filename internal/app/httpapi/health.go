package httpapi

import (
	"net/http"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/services/source"
)

var startedAt = time.Now().UTC()

type healthResponse struct {
	Status    string                  `json:"status"`
	UptimeSec int64                   `json:"uptime_seconds"`
	Providers []source.HealthSnapshot `json:"providers"`
	Pending   int                     `json:"pending_notifications"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		UptimeSec: int64(time.Since(startedAt).Seconds()),
	}
	if h.registry != nil {
		resp.Providers = h.registry.Health()
	}
	if h.tasks != nil {
		if pending, err := h.tasks.CountPending(r.Context()); err == nil {
			resp.Pending = pending
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}
