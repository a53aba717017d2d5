package source

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
)

// Limited wraps an adapter with a token-bucket rate limit. Each provider
// enforces its own configured requests/minute; a blocked fetch still honors
// the context deadline, so a starved provider surfaces as a ProviderError
// for that cycle rather than stalling it.
type Limited struct {
	adapter Adapter
	limiter *rate.Limiter
}

var _ Adapter = (*Limited)(nil)

// Limit wraps adapter with a requests-per-minute budget. Zero or negative
// rpm disables limiting.
func Limit(adapter Adapter, requestsPerMinute int) Adapter {
	if requestsPerMinute <= 0 {
		return adapter
	}
	limiter := rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute)
	return &Limited{adapter: adapter, limiter: limiter}
}

func (l *Limited) Name() string { return l.adapter.Name() }

func (l *Limited) Fetch(ctx context.Context, assetID, currency string) (quote.Quote, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return quote.Quote{}, &ProviderError{Provider: l.adapter.Name(), Message: "rate limit wait", Err: err}
	}
	return l.adapter.Fetch(ctx, assetID, currency)
}
