package notifier

import (
	"context"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/domain/feed"
	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
	"github.com/quotient-labs/price-oracle/internal/app/storage"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

// Event priorities. Threshold breaches jump the queue ahead of routine
// price updates.
const (
	priorityPriceUpdate     = 5
	priorityThresholdBreach = 2
)

// PriceEvent is the payload delivered for both event types.
type PriceEvent struct {
	Type             notification.EventType `json:"type"`
	FeedID           string                 `json:"feed_id"`
	AssetID          string                 `json:"asset_id"`
	Currency         string                 `json:"currency"`
	Price            string                 `json:"price"`
	Method           quote.Method           `json:"method"`
	Confidence       float64                `json:"confidence"`
	DeviationPercent string                 `json:"deviation_percent"`
	SourceCount      int                    `json:"source_count"`
	Timestamp        time.Time              `json:"timestamp"`
}

// Emitter translates aggregation results into queued notification tasks for
// every matching subscriber of the feed.
type Emitter struct {
	dispatcher *Dispatcher
	subs       storage.SubscriptionStore
	log        *logger.Logger
}

// NewEmitter constructs an emitter publishing through the dispatcher's queue.
func NewEmitter(dispatcher *Dispatcher, subs storage.SubscriptionStore, log *logger.Logger) *Emitter {
	if log == nil {
		log = logger.NewDefault("notifier-events")
	}
	return &Emitter{dispatcher: dispatcher, subs: subs, log: log}
}

// Emit enqueues a price_update for every active subscriber whose filters
// match, plus a threshold_breach when the aggregation flagged excessive
// deviation. Enqueue failures are logged and skipped so one bad subscriber
// cannot block the others.
func (e *Emitter) Emit(ctx context.Context, f feed.Feed, agg quote.AggregatedPrice) {
	subs, err := e.subs.ListSubscriptions(ctx, f.ID, true)
	if err != nil {
		e.log.WithError(err).WithField("feed_id", f.ID).Warn("list subscriptions failed")
		return
	}
	if len(subs) == 0 {
		return
	}

	deviation := agg.DeviationPercent.InexactFloat64()
	for _, sub := range subs {
		e.emitOne(ctx, sub, f, agg, notification.EventPriceUpdate, deviation, priorityPriceUpdate)
		if agg.Flagged {
			e.emitOne(ctx, sub, f, agg, notification.EventThresholdBreach, deviation, priorityThresholdBreach)
		}
	}
}

func (e *Emitter) emitOne(ctx context.Context, sub notification.Subscription, f feed.Feed, agg quote.AggregatedPrice, eventType notification.EventType, deviation float64, priority int) {
	if !sub.Filters.Matches(eventType, deviation) {
		return
	}
	event := PriceEvent{
		Type:             eventType,
		FeedID:           f.ID,
		AssetID:          agg.AssetID,
		Currency:         agg.Currency,
		Price:            agg.Price.String(),
		Method:           agg.Method,
		Confidence:       agg.Confidence,
		DeviationPercent: agg.DeviationPercent.String(),
		SourceCount:      agg.SourceCount,
		Timestamp:        agg.CreatedAt,
	}
	if _, err := e.dispatcher.Enqueue(ctx, sub.ID, f.ID, eventType, event, priority); err != nil {
		e.log.WithError(err).
			WithField("subscription_id", sub.ID).
			WithField("event_type", string(eventType)).
			Warn("enqueue notification failed")
	}
}
