package notifier

import (
	"context"
	"crypto/hmac"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
)

func TestWebhookDeliverSignsBody(t *testing.T) {
	const secret = "topsecret"
	payload := []byte(`{"type":"price_update"}`)

	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(nil, 0, nil)
	sub := notification.Subscription{ID: "s1", Endpoint: srv.URL, Secret: secret}
	if err := wh.Deliver(context.Background(), sub, payload); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if string(gotBody) != string(payload) {
		t.Fatalf("body = %s, want %s", gotBody, payload)
	}
	if !hmac.Equal([]byte(gotSig), []byte(Sign(secret, payload))) {
		t.Fatalf("signature mismatch: %s", gotSig)
	}
}

func TestWebhookDeliverOmitsSignatureWithoutSecret(t *testing.T) {
	var sawHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawHeader = r.Header.Get(SignatureHeader) != ""
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(nil, 0, nil)
	sub := notification.Subscription{ID: "s1", Endpoint: srv.URL}
	if err := wh.Deliver(context.Background(), sub, []byte(`{}`)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if sawHeader {
		t.Fatal("signature header set without a secret")
	}
}

func TestWebhookDeliverFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook(nil, 0, nil)
	sub := notification.Subscription{ID: "s1", Endpoint: srv.URL}
	if err := wh.Deliver(context.Background(), sub, []byte(`{}`)); err == nil {
		t.Fatal("expected error on 502 response")
	}
}

func TestWebhookDeliverFailsOnUnreachableEndpoint(t *testing.T) {
	wh := NewWebhook(nil, 0, nil)
	sub := notification.Subscription{ID: "s1", Endpoint: "http://127.0.0.1:1/hook"}
	if err := wh.Deliver(context.Background(), sub, []byte(`{}`)); err == nil {
		t.Fatal("expected error on connection failure")
	}
}
