package httpapi

import (
	"errors"
	"net/http"

	"github.com/quotient-labs/price-oracle/internal/app/domain/feed"
	"github.com/quotient-labs/price-oracle/internal/app/services/feeds"
)

func (h *Handler) createFeed(w http.ResponseWriter, r *http.Request) {
	var f feed.Feed
	if err := decodeJSON(r, &f); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	f.Active = true
	if err := f.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.feeds.Create(r.Context(), f)
	if err != nil {
		if errors.Is(err, feeds.ErrExists) {
			h.writeError(w, http.StatusConflict, err)
			return
		}
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listFeeds(w http.ResponseWriter, r *http.Request) {
	list, err := h.feeds.List(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) getFeed(w http.ResponseWriter, r *http.Request) {
	f, err := h.feeds.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, f)
}

func (h *Handler) updateFeed(w http.ResponseWriter, r *http.Request) {
	var f feed.Feed
	if err := decodeJSON(r, &f); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	f.ID = r.PathValue("id")
	if err := f.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := h.feeds.Update(r.Context(), f)
	if err != nil {
		if errors.Is(err, feeds.ErrImmutablePair) {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteFeed(w http.ResponseWriter, r *http.Request) {
	if err := h.feeds.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) feedStatus(w http.ResponseWriter, r *http.Request) {
	sched, err := h.feeds.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sched)
}

func (h *Handler) pauseFeed(w http.ResponseWriter, r *http.Request) {
	sched, err := h.feeds.Pause(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sched)
}

func (h *Handler) resumeFeed(w http.ResponseWriter, r *http.Request) {
	sched, err := h.feeds.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sched)
}
