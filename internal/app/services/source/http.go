package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

// DefaultTimeout bounds a single provider fetch when no per-provider timeout
// is configured.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 1 << 20

// HTTPConfig describes one HTTP price provider. URL may contain {asset} and
// {currency} placeholders; the paths are gjson expressions evaluated against
// the response body.
type HTTPConfig struct {
	Name           string        `json:"name"`
	URL            string        `json:"url"`
	PricePath      string        `json:"price_path"`
	VolumePath     string        `json:"volume_path,omitempty"`
	ConfidencePath string        `json:"confidence_path,omitempty"`
	APIKeyHeader   string        `json:"api_key_header,omitempty"`
	APIKey         string        `json:"api_key,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	RequestsPerMin int           `json:"requests_per_minute,omitempty"`
}

// HTTPAdapter fetches quotes from a JSON-over-HTTP provider.
type HTTPAdapter struct {
	cfg    HTTPConfig
	client *http.Client
	log    *logger.Logger
}

var _ Adapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter constructs an adapter from the provider configuration.
func NewHTTPAdapter(cfg HTTPConfig, client *http.Client, log *logger.Logger) (*HTTPAdapter, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("provider name required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("provider %s: url required", cfg.Name)
	}
	if strings.TrimSpace(cfg.PricePath) == "" {
		return nil, fmt.Errorf("provider %s: price_path required", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logger.NewDefault("source-" + cfg.Name)
	}
	return &HTTPAdapter{cfg: cfg, client: client, log: log}, nil
}

func (a *HTTPAdapter) Name() string { return a.cfg.Name }

// Fetch retrieves one quote. Any transport, status, or payload problem is
// returned as a ProviderError so the caller can tag the result and move on.
func (a *HTTPAdapter) Fetch(ctx context.Context, assetID, currency string) (quote.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	url := strings.NewReplacer("{asset}", assetID, "{currency}", currency).Replace(a.cfg.URL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return quote.Quote{}, &ProviderError{Provider: a.cfg.Name, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if a.cfg.APIKey != "" {
		header := a.cfg.APIKeyHeader
		if header == "" {
			header = "Authorization"
		}
		req.Header.Set(header, a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return quote.Quote{}, &ProviderError{Provider: a.cfg.Name, Message: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return quote.Quote{}, &ProviderError{Provider: a.cfg.Name, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return quote.Quote{}, &ProviderError{Provider: a.cfg.Name, Message: "read body", Err: err}
	}
	if !gjson.ValidBytes(body) {
		return quote.Quote{}, &ProviderError{Provider: a.cfg.Name, Message: "invalid json payload"}
	}

	priceRaw := gjson.GetBytes(body, a.cfg.PricePath)
	if !priceRaw.Exists() {
		return quote.Quote{}, &ProviderError{Provider: a.cfg.Name, Message: fmt.Sprintf("price path %q missing", a.cfg.PricePath)}
	}
	price, err := decimal.NewFromString(priceRaw.String())
	if err != nil {
		return quote.Quote{}, &ProviderError{Provider: a.cfg.Name, Message: "parse price", Err: err}
	}
	if !price.IsPositive() {
		return quote.Quote{}, &ProviderError{Provider: a.cfg.Name, Message: fmt.Sprintf("non-positive price %s", price)}
	}

	q := quote.Quote{
		AssetID:    assetID,
		Currency:   currency,
		Price:      price,
		Confidence: 1.0,
		Source:     a.cfg.Name,
		ObservedAt: time.Now().UTC(),
	}

	if a.cfg.VolumePath != "" {
		if v := gjson.GetBytes(body, a.cfg.VolumePath); v.Exists() {
			if vol, err := decimal.NewFromString(v.String()); err == nil && !vol.IsNegative() {
				q.Volume = vol
			}
		}
	}
	if a.cfg.ConfidencePath != "" {
		if c := gjson.GetBytes(body, a.cfg.ConfidencePath); c.Exists() {
			if conf := c.Float(); conf >= 0 && conf <= 1 {
				q.Confidence = conf
			}
		}
	}
	return q, nil
}
