// Package source contains the adapters that poll external price providers.
package source

import (
	"context"
	"fmt"

	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
)

// Adapter is the uniform interface to one external price provider. New
// providers are added by registering an Adapter, never by touching the
// aggregation path.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, assetID, currency string) (quote.Quote, error)
}

// AdapterFunc adapts a function to the Adapter interface. Used by tests.
type AdapterFunc struct {
	ID string
	Fn func(ctx context.Context, assetID, currency string) (quote.Quote, error)
}

func (a AdapterFunc) Name() string { return a.ID }

func (a AdapterFunc) Fetch(ctx context.Context, assetID, currency string) (quote.Quote, error) {
	return a.Fn(ctx, assetID, currency)
}

// ProviderError tags a failed fetch with the provider that produced it. It is
// surfaced as a per-provider result, never raised into the cycle: the
// aggregator proceeds with the surviving sources.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Result is the tagged outcome of one provider fetch within a cycle.
type Result struct {
	Provider string
	Quote    quote.Quote
	Err      error
}
