package quote

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Scale is the fixed rounding scale for all emitted price arithmetic.
// Intermediate divisions round to this many fractional digits so repeated
// aggregation does not drift, and it matches the numeric(30,8) columns in the
// persisted schema.
const Scale = 8

// Quote is one provider's raw price observation. Immutable once recorded.
type Quote struct {
	ID         string            `json:"id,omitempty"`
	AssetID    string            `json:"asset_id"`
	Currency   string            `json:"currency"`
	Price      decimal.Decimal   `json:"price"`
	Volume     decimal.Decimal   `json:"volume,omitempty"`
	Confidence float64           `json:"confidence"`
	Source     string            `json:"source"`
	ObservedAt time.Time         `json:"observed_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at,omitempty"`
}

// Validate checks the invariants a quote must satisfy before it is recorded.
func (q Quote) Validate() error {
	if strings.TrimSpace(q.AssetID) == "" {
		return fmt.Errorf("asset_id is required")
	}
	if strings.TrimSpace(q.Currency) == "" {
		return fmt.Errorf("currency is required")
	}
	if !q.Price.IsPositive() {
		return fmt.Errorf("price must be positive")
	}
	if q.Confidence < 0 || q.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1]")
	}
	if strings.TrimSpace(q.Source) == "" {
		return fmt.Errorf("source is required")
	}
	return nil
}

// Method identifies the statistical reconciliation applied to a set of quotes.
type Method string

const (
	MethodMean            Method = "mean"
	MethodMedian          Method = "median"
	MethodWeightedAverage Method = "weighted_average"
	MethodVolumeWeighted  Method = "volume_weighted"
)

// ParseMethod normalizes and validates an aggregation method string.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodMean, MethodMedian, MethodWeightedAverage, MethodVolumeWeighted:
		return m, nil
	case "":
		return MethodMedian, nil
	default:
		return "", fmt.Errorf("unknown aggregation method %q", s)
	}
}

// AggregatedPrice is the reconciled output for (asset_id, currency) at one
// point in time. It is derived and never mutated; the next cycle supersedes
// it. Stale is a read-path annotation, not a persisted column.
type AggregatedPrice struct {
	ID               string          `json:"id,omitempty"`
	AssetID          string          `json:"asset_id"`
	Currency         string          `json:"currency"`
	Price            decimal.Decimal `json:"price"`
	Confidence       float64         `json:"confidence"`
	Method           Method          `json:"method"`
	SourceCount      int             `json:"source_count"`
	DeviationPercent decimal.Decimal `json:"deviation_percent"`
	OutliersRemoved  int             `json:"outliers_removed"`
	Flagged          bool            `json:"flagged"`
	ProcessingTime   time.Duration   `json:"processing_time_ns"`
	Stale            bool            `json:"stale"`
	CreatedAt        time.Time       `json:"created_at"`
}
