// Package pricing is the read path: latest and historical aggregated prices
// with staleness annotation.
package pricing

import (
	"context"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/cache"
	"github.com/quotient-labs/price-oracle/internal/app/domain/feed"
	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
	"github.com/quotient-labs/price-oracle/internal/app/storage"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

// DefaultHistoryLimit bounds history queries that do not pass a limit.
const DefaultHistoryLimit = 100

// stalenessFactor: a price older than this many intervals is flagged stale.
const stalenessFactor = 2

// Service answers price reads from the cache first, falling back to the
// historical store.
type Service struct {
	feeds     storage.FeedStore
	schedules storage.ScheduleStore
	quotes    storage.QuoteStore
	cache     cache.Cache
	log       *logger.Logger
	now       func() time.Time
}

// New constructs the read service. cache may be nil.
func New(feeds storage.FeedStore, schedules storage.ScheduleStore, quotes storage.QuoteStore, c cache.Cache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("pricing")
	}
	return &Service{
		feeds:     feeds,
		schedules: schedules,
		quotes:    quotes,
		cache:     c,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock injects a time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// GetPrice returns the latest aggregated price for the pair. Stale is set
// when the feed is paused or the price is older than twice its update
// interval, so consumers can decide whether to trust it.
func (s *Service) GetPrice(ctx context.Context, assetID, currency string) (quote.AggregatedPrice, error) {
	var agg quote.AggregatedPrice
	var ok bool
	if s.cache != nil {
		agg, ok = s.cache.GetAggregated(ctx, assetID, currency)
	}
	if !ok {
		var err error
		agg, err = s.quotes.LatestAggregate(ctx, assetID, currency)
		if err != nil {
			return quote.AggregatedPrice{}, err
		}
	}

	agg.Stale = s.isStale(ctx, assetID, currency, agg.CreatedAt)
	return agg, nil
}

// GetPriceHistory returns aggregates for the pair within [from, to], newest
// first. A zero to means now; limit <= 0 uses the default.
func (s *Service) GetPriceHistory(ctx context.Context, assetID, currency string, from, to time.Time, limit int) ([]quote.AggregatedPrice, error) {
	if to.IsZero() {
		to = s.now()
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.quotes.ListAggregates(ctx, assetID, currency, from, to, limit)
}

func (s *Service) isStale(ctx context.Context, assetID, currency string, createdAt time.Time) bool {
	f, err := s.feeds.FindFeed(ctx, assetID, currency)
	if err != nil {
		// No feed definition: fall back to age alone with the default TTL.
		return s.now().Sub(createdAt) > stalenessFactor*cache.DefaultTTL
	}
	if sched, err := s.schedules.GetSchedule(ctx, f.ID); err == nil && sched.IsPaused {
		return true
	}
	interval, err := feed.IntervalDuration(f.UpdateInterval)
	if err != nil || interval <= 0 {
		interval = cache.DefaultTTL
	}
	return s.now().Sub(createdAt) > stalenessFactor*interval
}
