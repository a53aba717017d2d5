package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body, computed
// with the subscriber's secret when one is configured.
const SignatureHeader = "X-Oracle-Signature"

// DefaultWebhookTimeout bounds a single webhook POST.
const DefaultWebhookTimeout = 15 * time.Second

// Webhook delivers events by POSTing JSON to the subscription endpoint.
type Webhook struct {
	client  *http.Client
	timeout time.Duration
	log     *logger.Logger
}

var _ Notifier = (*Webhook)(nil)

// NewWebhook constructs the webhook notifier. timeout <= 0 uses the default.
func NewWebhook(client *http.Client, timeout time.Duration, log *logger.Logger) *Webhook {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = logger.NewDefault("notifier-webhook")
	}
	return &Webhook{client: client, timeout: timeout, log: log}
}

func (w *Webhook) Method() notification.DeliveryMethod { return notification.MethodWebhook }

func (w *Webhook) Deliver(ctx context.Context, sub notification.Subscription, payload json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sub.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(sub.Secret, payload))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
