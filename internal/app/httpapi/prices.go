package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultCurrency = "USD"

func (h *Handler) getPrice(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("asset")
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = defaultCurrency
	}

	agg, err := h.pricing.GetPrice(r.Context(), assetID, currency)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, agg)
}

func (h *Handler) getPriceHistory(w http.ResponseWriter, r *http.Request) {
	assetID := r.PathValue("asset")
	q := r.URL.Query()
	currency := q.Get("currency")
	if currency == "" {
		currency = defaultCurrency
	}

	var from, to time.Time
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = parseTime(v); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = parseTime(v); err != nil {
			h.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
	}

	history, err := h.pricing.GetPriceHistory(r.Context(), assetID, currency, from, to, limit)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

// parseTime accepts RFC 3339 timestamps and unix seconds.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.New("timestamps must be RFC 3339 or unix seconds")
	}
	return t.UTC(), nil
}
