package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
)

// DefaultPauseThreshold is the number of consecutive failed cycles after
// which a feed auto-pauses. Overridable per feed via PauseThreshold.
const DefaultPauseThreshold = 5

// DefaultMinSources is the minimum surviving quote count a cycle needs.
const DefaultMinSources = 2

// Provider binds a source adapter to a feed with its aggregation weight.
type Provider struct {
	ID     string          `json:"id"`
	Weight decimal.Decimal `json:"weight"`
}

// Feed is a configured (asset, currency) price pipeline.
type Feed struct {
	ID                 string          `json:"id"`
	AssetID            string          `json:"asset_id"`
	Currency           string          `json:"currency"`
	UpdateInterval     string          `json:"update_interval"` // duration ("30s") or cron spec ("@every 1m")
	Providers          []Provider      `json:"providers"`
	Method             quote.Method    `json:"method"`
	DeviationThreshold decimal.Decimal `json:"deviation_threshold"` // percent
	MinSources         int             `json:"min_sources,omitempty"`     // 0 => DefaultMinSources
	PauseThreshold     int             `json:"pause_threshold,omitempty"` // 0 => DefaultPauseThreshold
	Active             bool            `json:"active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Validate enforces the configuration invariants checked at the API boundary.
func (f Feed) Validate() error {
	if strings.TrimSpace(f.AssetID) == "" {
		return fmt.Errorf("asset_id is required")
	}
	if strings.TrimSpace(f.Currency) == "" {
		return fmt.Errorf("currency is required")
	}
	if _, err := ParseInterval(f.UpdateInterval); err != nil {
		return fmt.Errorf("update_interval: %w", err)
	}
	if len(f.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	seen := make(map[string]struct{}, len(f.Providers))
	for _, p := range f.Providers {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("provider id is required")
		}
		if !p.Weight.IsPositive() {
			return fmt.Errorf("provider %s: weight must be positive", p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("provider %s listed twice", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	if _, err := quote.ParseMethod(string(f.Method)); err != nil {
		return err
	}
	if f.DeviationThreshold.IsNegative() {
		return fmt.Errorf("deviation_threshold must not be negative")
	}
	if f.MinSources < 0 {
		return fmt.Errorf("min_sources must not be negative")
	}
	if f.PauseThreshold < 0 {
		return fmt.Errorf("pause_threshold must not be negative")
	}
	return nil
}

// EffectiveMinSources resolves the per-feed override against the default.
func (f Feed) EffectiveMinSources() int {
	if f.MinSources > 0 {
		return f.MinSources
	}
	return DefaultMinSources
}

// EffectivePauseThreshold resolves the per-feed override against the default.
func (f Feed) EffectivePauseThreshold() int {
	if f.PauseThreshold > 0 {
		return f.PauseThreshold
	}
	return DefaultPauseThreshold
}

// Weight returns the configured weight for a provider id.
func (f Feed) Weight(providerID string) (decimal.Decimal, bool) {
	for _, p := range f.Providers {
		if p.ID == providerID {
			return p.Weight, true
		}
	}
	return decimal.Decimal{}, false
}

// Schedule tracks the update cadence state for one feed. Mutated after every
// scheduling cycle through atomic store operations only.
type Schedule struct {
	FeedID              string    `json:"feed_id"`
	NextUpdateAt        time.Time `json:"next_update_at"`
	LastUpdateAt        time.Time `json:"last_update_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	IsPaused            bool      `json:"is_paused"`
	Running             bool      `json:"running"`
	UpdatedAt           time.Time `json:"updated_at"`
}
