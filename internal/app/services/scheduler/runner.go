package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/cache"
	"github.com/quotient-labs/price-oracle/internal/app/domain/feed"
	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
	"github.com/quotient-labs/price-oracle/internal/app/metrics"
	"github.com/quotient-labs/price-oracle/internal/app/services/aggregator"
	"github.com/quotient-labs/price-oracle/internal/app/services/notifier"
	"github.com/quotient-labs/price-oracle/internal/app/services/source"
	"github.com/quotient-labs/price-oracle/internal/app/storage"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

// Runner executes one full update cycle for a claimed feed: fetch from every
// provider, aggregate the survivors, persist, cache, and emit events.
type Runner struct {
	feeds     storage.FeedStore
	schedules storage.ScheduleStore
	quotes    storage.QuoteStore
	registry  *source.Registry
	agg       *aggregator.Aggregator
	cache     cache.Cache
	emitter   *notifier.Emitter
	log       *logger.Logger
	now       func() time.Time
}

// NewRunner wires a cycle runner. cache and emitter may be nil; the cycle
// then skips those steps.
func NewRunner(
	feeds storage.FeedStore,
	schedules storage.ScheduleStore,
	quotes storage.QuoteStore,
	registry *source.Registry,
	agg *aggregator.Aggregator,
	c cache.Cache,
	emitter *notifier.Emitter,
	log *logger.Logger,
) *Runner {
	if log == nil {
		log = logger.NewDefault("scheduler-runner")
	}
	return &Runner{
		feeds:     feeds,
		schedules: schedules,
		quotes:    quotes,
		registry:  registry,
		agg:       agg,
		cache:     c,
		emitter:   emitter,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock injects a time source for tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	if now != nil {
		r.now = now
	}
	return r
}

// RunCycle runs one update cycle for a schedule previously claimed through
// ClaimDue. It always writes the schedule back, clearing the running flag,
// so a feed can never wedge in the claimed state.
func (r *Runner) RunCycle(ctx context.Context, sched feed.Schedule) {
	start := r.now()
	log := r.log.WithField("feed_id", sched.FeedID)

	f, err := r.feeds.GetFeed(ctx, sched.FeedID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Feed deleted after the schedule was claimed.
			if derr := r.schedules.DeleteSchedule(ctx, sched.FeedID); derr != nil {
				log.WithError(derr).Warn("delete orphaned schedule failed")
			}
			return
		}
		log.WithError(err).Error("load feed failed")
		r.completeCycle(ctx, f, sched, false)
		return
	}
	if !f.Active {
		r.completeCycle(ctx, f, sched, true)
		return
	}

	agg, err := r.runOnce(ctx, f, log)
	success := err == nil
	if success {
		metrics.SetFeedConfidence(f.AssetID, f.Currency, agg.Confidence)
	}
	r.completeCycle(ctx, f, sched, success)
	metrics.RecordCycle(f.ID, success, r.now().Sub(start))
}

// runOnce is the fetch-aggregate-persist pipeline for one active feed.
func (r *Runner) runOnce(ctx context.Context, f feed.Feed, log *logger.Logger) (quote.AggregatedPrice, error) {
	results := r.registry.FetchAll(ctx, f)

	survivors := make([]quote.Quote, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			log.WithError(res.Err).WithField("provider", res.Provider).Warn("provider fetch failed")
			continue
		}
		q := res.Quote
		q.AssetID = f.AssetID
		q.Currency = f.Currency
		q.Source = res.Provider
		if q.ObservedAt.IsZero() {
			q.ObservedAt = r.now()
		}
		if err := q.Validate(); err != nil {
			log.WithError(err).WithField("provider", res.Provider).Warn("provider quote rejected")
			continue
		}
		survivors = append(survivors, q)
		if r.cache != nil {
			if err := r.cache.SetQuote(ctx, q); err != nil {
				log.WithError(err).Warn("cache quote failed")
			}
		}
	}

	agg, err := r.agg.Aggregate(survivors, f)
	if err != nil {
		log.WithError(err).
			WithField("fetched", len(results)).
			WithField("survivors", len(survivors)).
			Warn("aggregation failed")
		return quote.AggregatedPrice{}, err
	}

	if err := r.quotes.InsertQuotes(ctx, survivors); err != nil {
		log.WithError(err).Error("persist quotes failed")
		return quote.AggregatedPrice{}, err
	}
	stored, err := r.quotes.InsertAggregate(ctx, agg)
	if err != nil {
		log.WithError(err).Error("persist aggregate failed")
		return quote.AggregatedPrice{}, err
	}

	if r.cache != nil {
		if err := r.cache.SetAggregated(ctx, stored); err != nil {
			log.WithError(err).Warn("cache aggregate failed")
		}
	}
	if r.emitter != nil {
		r.emitter.Emit(ctx, f, stored)
	}

	log.WithField("price", stored.Price.String()).
		WithField("sources", stored.SourceCount).
		WithField("outliers_removed", stored.OutliersRemoved).
		Info("feed updated")
	return stored, nil
}

// completeCycle writes the post-cycle schedule state. Failures accumulate
// until the feed's pause threshold trips; any success resets the streak. The
// store merges the pause flag, so an operator pause issued mid-cycle is
// preserved.
func (r *Runner) completeCycle(ctx context.Context, f feed.Feed, sched feed.Schedule, success bool) {
	now := r.now()
	if success {
		sched.ConsecutiveFailures = 0
		sched.LastUpdateAt = now
	} else {
		sched.ConsecutiveFailures++
		if sched.ConsecutiveFailures >= f.EffectivePauseThreshold() {
			sched.IsPaused = true
			r.log.WithField("feed_id", sched.FeedID).
				WithField("consecutive_failures", sched.ConsecutiveFailures).
				Warn("feed paused after consecutive failures")
		}
	}

	sched.NextUpdateAt = nextUpdate(f.UpdateInterval, now)
	sched.Running = false
	sched.UpdatedAt = now

	if err := r.schedules.CompleteSchedule(ctx, sched); err != nil {
		r.log.WithError(err).WithField("feed_id", sched.FeedID).Error("update schedule failed")
	}
}

// nextUpdate computes the next due time from the feed's interval spec. An
// unparseable spec falls back to a minute so the feed keeps surfacing its
// configuration error instead of going silent.
func nextUpdate(spec string, now time.Time) time.Time {
	sched, err := feed.ParseInterval(spec)
	if err != nil {
		return now.Add(time.Minute)
	}
	return sched.Next(now)
}
