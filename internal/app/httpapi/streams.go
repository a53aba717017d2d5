package httpapi

import (
	"errors"
	"net/http"

	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
)

// resolveStreamSubscription validates that the subscription exists, is
// active and uses the expected delivery method before a stream attaches.
func (h *Handler) resolveStreamSubscription(w http.ResponseWriter, r *http.Request, method notification.DeliveryMethod) (notification.Subscription, bool) {
	id := r.URL.Query().Get("subscription_id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("subscription_id is required"))
		return notification.Subscription{}, false
	}
	sub, err := h.subs.GetSubscription(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return notification.Subscription{}, false
	}
	if !sub.IsActive {
		h.writeError(w, http.StatusGone, errors.New("subscription is not active"))
		return notification.Subscription{}, false
	}
	if sub.Method != method {
		h.writeError(w, http.StatusBadRequest, errors.New("subscription uses a different delivery method"))
		return notification.Subscription{}, false
	}
	return sub, true
}

func (h *Handler) websocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		http.NotFound(w, r)
		return
	}
	sub, ok := h.resolveStreamSubscription(w, r, notification.MethodWebsocket)
	if !ok {
		return
	}
	h.wsHub.HandleConnect(w, r, sub.ID)
}

func (h *Handler) sse(w http.ResponseWriter, r *http.Request) {
	if h.sseHub == nil {
		http.NotFound(w, r)
		return
	}
	sub, ok := h.resolveStreamSubscription(w, r, notification.MethodSSE)
	if !ok {
		return
	}
	h.sseHub.HandleStream(w, r, sub.ID)
}
