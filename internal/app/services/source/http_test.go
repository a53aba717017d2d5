package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestHTTPAdapterFetchExtractsFields(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"data":{"price":"50123.45","volume":"1200.5","trust":0.95}}`))
	}))
	defer srv.Close()

	adapter, err := NewHTTPAdapter(HTTPConfig{
		Name:           "testprovider",
		URL:            srv.URL + "/price/{asset}/{currency}",
		PricePath:      "data.price",
		VolumePath:     "data.volume",
		ConfidencePath: "data.trust",
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewHTTPAdapter: %v", err)
	}

	q, err := adapter.Fetch(context.Background(), "BTC", "USD")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotPath != "/price/BTC/USD" {
		t.Fatalf("request path = %s, placeholders not substituted", gotPath)
	}
	if !q.Price.Equal(decimal.RequireFromString("50123.45")) {
		t.Fatalf("price = %s, want 50123.45", q.Price)
	}
	if !q.Volume.Equal(decimal.RequireFromString("1200.5")) {
		t.Fatalf("volume = %s, want 1200.5", q.Volume)
	}
	if q.Confidence != 0.95 {
		t.Fatalf("confidence = %f, want 0.95", q.Confidence)
	}
	if q.Source != "testprovider" {
		t.Fatalf("source = %s, want testprovider", q.Source)
	}
}

func TestHTTPAdapterFetchDefaultsConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":"100"}`))
	}))
	defer srv.Close()

	adapter, err := NewHTTPAdapter(HTTPConfig{Name: "p", URL: srv.URL, PricePath: "price"}, nil, nil)
	if err != nil {
		t.Fatalf("NewHTTPAdapter: %v", err)
	}
	q, err := adapter.Fetch(context.Background(), "BTC", "USD")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if q.Confidence != 1.0 {
		t.Fatalf("confidence = %f, want default 1.0", q.Confidence)
	}
}

func TestHTTPAdapterFetchSendsAPIKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		w.Write([]byte(`{"price":"100"}`))
	}))
	defer srv.Close()

	adapter, err := NewHTTPAdapter(HTTPConfig{
		Name:         "p",
		URL:          srv.URL,
		PricePath:    "price",
		APIKeyHeader: "X-Api-Key",
		APIKey:       "k123",
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewHTTPAdapter: %v", err)
	}
	if _, err := adapter.Fetch(context.Background(), "BTC", "USD"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotKey != "k123" {
		t.Fatalf("api key header = %q, want k123", gotKey)
	}
}

func TestHTTPAdapterFetchErrorsAreTagged(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"error status", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}},
		{"invalid json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
		{"missing price path", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"other":1}`))
		}},
		{"non-positive price", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"price":"0"}`))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			adapter, err := NewHTTPAdapter(HTTPConfig{Name: "p", URL: srv.URL, PricePath: "price"}, nil, nil)
			if err != nil {
				t.Fatalf("NewHTTPAdapter: %v", err)
			}
			_, err = adapter.Fetch(context.Background(), "BTC", "USD")
			var provErr *ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("err = %v (%T), want ProviderError", err, err)
			}
			if provErr.Provider != "p" {
				t.Fatalf("provider tag = %s, want p", provErr.Provider)
			}
		})
	}
}

func TestNewHTTPAdapterValidation(t *testing.T) {
	if _, err := NewHTTPAdapter(HTTPConfig{URL: "http://x", PricePath: "p"}, nil, nil); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := NewHTTPAdapter(HTTPConfig{Name: "p", PricePath: "p"}, nil, nil); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := NewHTTPAdapter(HTTPConfig{Name: "p", URL: "http://x"}, nil, nil); err == nil {
		t.Fatal("expected error for missing price path")
	}
}

