package httpapi

import (
	"net/http"

	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
)

// subscriptionRequest is the create payload. The secret is write-only: it is
// accepted here and never serialized back out.
type subscriptionRequest struct {
	FeedID     string               `json:"feed_id"`
	Method     string               `json:"method"`
	Endpoint   string               `json:"endpoint"`
	Secret     string               `json:"secret"`
	Filters    notification.Filters `json:"filters"`
	MaxRetries int                  `json:"max_retries"`
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	method, err := notification.ParseDeliveryMethod(req.Method)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	sub := notification.Subscription{
		FeedID:     req.FeedID,
		Method:     method,
		Endpoint:   req.Endpoint,
		Secret:     req.Secret,
		Filters:    req.Filters,
		MaxRetries: req.MaxRetries,
		IsActive:   true,
	}
	if err := sub.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := h.feeds.Get(r.Context(), sub.FeedID); err != nil {
		h.writeStoreError(w, err)
		return
	}

	created, err := h.subs.CreateSubscription(r.Context(), sub)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	feedID := r.URL.Query().Get("feed_id")
	activeOnly := r.URL.Query().Get("include_inactive") != "true"

	list, err := h.subs.ListSubscriptions(r.Context(), feedID, activeOnly)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subs.GetSubscription(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) deactivateSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.subs.DeactivateSubscription(r.Context(), r.PathValue("id")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if _, err := h.tasks.GetTask(r.Context(), taskID); err != nil {
		h.writeStoreError(w, err)
		return
	}
	records, err := h.tasks.ListDeliveries(r.Context(), taskID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}
