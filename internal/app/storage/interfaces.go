package storage

import (
	"context"
	"errors"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/domain/feed"
	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
)

// ErrNotFound is returned by every store when the requested record does not
// exist. ErrNoTask distinguishes an empty claim result from a genuine lookup
// miss.
var (
	ErrNotFound = errors.New("record not found")
	ErrNoTask   = errors.New("no claimable task")
)

// FeedStore persists feed definitions.
type FeedStore interface {
	CreateFeed(ctx context.Context, f feed.Feed) (feed.Feed, error)
	UpdateFeed(ctx context.Context, f feed.Feed) (feed.Feed, error)
	GetFeed(ctx context.Context, id string) (feed.Feed, error)
	FindFeed(ctx context.Context, assetID, currency string) (feed.Feed, error)
	ListFeeds(ctx context.Context) ([]feed.Feed, error)
	DeleteFeed(ctx context.Context, id string) error
}

// ScheduleStore persists per-feed cadence state. ClaimDue, CompleteSchedule,
// PauseSchedule and ResumeSchedule are atomic read-modify-write operations: a
// feed claimed by one worker is invisible to others until its cycle
// completes, and a pause issued while that cycle runs survives its
// completion.
type ScheduleStore interface {
	PutSchedule(ctx context.Context, s feed.Schedule) error
	GetSchedule(ctx context.Context, feedID string) (feed.Schedule, error)
	ListSchedules(ctx context.Context) ([]feed.Schedule, error)
	// ClaimDue atomically marks up to limit due schedules as running and
	// returns them ordered by next_update_at ascending. Paused and already
	// running feeds are skipped.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]feed.Schedule, error)
	// CompleteSchedule writes the post-cycle state and clears the running
	// flag. The stored pause flag is merged in: a pause set after the claim
	// is never overwritten by the completing cycle.
	CompleteSchedule(ctx context.Context, s feed.Schedule) error
	// PauseSchedule atomically sets the pause flag, leaving the failure
	// counter and next due time untouched.
	PauseSchedule(ctx context.Context, feedID string) (feed.Schedule, error)
	// ResumeSchedule atomically clears the pause flag and failure counter and
	// makes the feed due at nextUpdateAt.
	ResumeSchedule(ctx context.Context, feedID string, nextUpdateAt time.Time) (feed.Schedule, error)
	DeleteSchedule(ctx context.Context, feedID string) error
}

// QuoteStore is the append-only historical ledger of raw quotes and
// aggregation results.
type QuoteStore interface {
	InsertQuotes(ctx context.Context, quotes []quote.Quote) error
	InsertAggregate(ctx context.Context, agg quote.AggregatedPrice) (quote.AggregatedPrice, error)
	LatestAggregate(ctx context.Context, assetID, currency string) (quote.AggregatedPrice, error)
	ListAggregates(ctx context.Context, assetID, currency string, from, to time.Time, limit int) ([]quote.AggregatedPrice, error)
	// PruneQuotes drops raw quote detail observed before the cutoff, keeping
	// one representative row per asset per day. It returns the number of rows
	// removed.
	PruneQuotes(ctx context.Context, before time.Time) (int64, error)
}

// SubscriptionStore persists subscriber bindings. Deactivate soft-deletes.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub notification.Subscription) (notification.Subscription, error)
	UpdateSubscription(ctx context.Context, sub notification.Subscription) (notification.Subscription, error)
	GetSubscription(ctx context.Context, id string) (notification.Subscription, error)
	ListSubscriptions(ctx context.Context, feedID string, activeOnly bool) ([]notification.Subscription, error)
	DeactivateSubscription(ctx context.Context, id string) error
}

// NotificationStore persists the outbound delivery queue and its history.
type NotificationStore interface {
	CreateTask(ctx context.Context, task notification.Task) (notification.Task, error)
	GetTask(ctx context.Context, id string) (notification.Task, error)
	// ClaimNextTask atomically transitions the highest-priority pending task
	// whose retry_after has elapsed to processing and returns it. ErrNoTask
	// when the queue is drained.
	ClaimNextTask(ctx context.Context, now time.Time) (notification.Task, error)
	// UpdateTask writes the post-attempt state of a claimed task.
	UpdateTask(ctx context.Context, task notification.Task) (notification.Task, error)
	CountPending(ctx context.Context) (int, error)
	AppendDelivery(ctx context.Context, rec notification.DeliveryRecord) (notification.DeliveryRecord, error)
	ListDeliveries(ctx context.Context, taskID string) ([]notification.DeliveryRecord, error)
	// PruneTasks removes terminal tasks updated before the cutoff.
	PruneTasks(ctx context.Context, before time.Time) (int64, error)
}
