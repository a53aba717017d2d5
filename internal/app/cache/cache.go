// Package cache holds the short-TTL quote cache that absorbs read traffic
// between aggregation cycles.
package cache

import (
	"context"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
)

// DefaultTTL is used when no TTL is configured. The cache bridges provider
// latency between cycles, it is not a store of record.
const DefaultTTL = 5 * time.Minute

// Cache stores the latest raw quote per (asset, provider) and the latest
// aggregated price per (asset, currency).
type Cache interface {
	SetQuote(ctx context.Context, q quote.Quote) error
	GetQuote(ctx context.Context, assetID, provider string) (quote.Quote, bool)
	SetAggregated(ctx context.Context, agg quote.AggregatedPrice) error
	GetAggregated(ctx context.Context, assetID, currency string) (quote.AggregatedPrice, bool)
}
