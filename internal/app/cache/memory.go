package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
)

type quoteEntry struct {
	expiresAt time.Time
	quote     quote.Quote
}

type aggEntry struct {
	expiresAt time.Time
	agg       quote.AggregatedPrice
}

// Memory is an in-process TTL cache. Expired entries are dropped lazily on
// read and opportunistically on write.
type Memory struct {
	ttl time.Duration

	mu     sync.RWMutex
	quotes map[string]quoteEntry
	aggs   map[string]aggEntry
}

var _ Cache = (*Memory)(nil)

// NewMemory creates a cache with the given TTL. ttl <= 0 uses DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:    ttl,
		quotes: make(map[string]quoteEntry),
		aggs:   make(map[string]aggEntry),
	}
}

func quoteKey(assetID, provider string) string {
	return strings.ToLower(assetID) + "|" + strings.ToLower(provider)
}

func aggKey(assetID, currency string) string {
	return strings.ToLower(assetID) + "|" + strings.ToLower(currency)
}

func (m *Memory) SetQuote(_ context.Context, q quote.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[quoteKey(q.AssetID, q.Source)] = quoteEntry{expiresAt: time.Now().Add(m.ttl), quote: q}
	m.sweepLocked()
	return nil
}

func (m *Memory) GetQuote(_ context.Context, assetID, provider string) (quote.Quote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.quotes[quoteKey(assetID, provider)]
	if !ok || time.Now().After(e.expiresAt) {
		return quote.Quote{}, false
	}
	return e.quote, true
}

func (m *Memory) SetAggregated(_ context.Context, agg quote.AggregatedPrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggs[aggKey(agg.AssetID, agg.Currency)] = aggEntry{expiresAt: time.Now().Add(m.ttl), agg: agg}
	return nil
}

func (m *Memory) GetAggregated(_ context.Context, assetID, currency string) (quote.AggregatedPrice, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.aggs[aggKey(assetID, currency)]
	if !ok || time.Now().After(e.expiresAt) {
		return quote.AggregatedPrice{}, false
	}
	return e.agg, true
}

// sweepLocked drops expired quote entries. Bounded: runs over the quote map
// only, which is small (one entry per asset and provider).
func (m *Memory) sweepLocked() {
	now := time.Now()
	for k, e := range m.quotes {
		if now.After(e.expiresAt) {
			delete(m.quotes, k)
		}
	}
}
