package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
	"github.com/quotient-labs/price-oracle/internal/app/metrics"
	"github.com/quotient-labs/price-oracle/internal/app/storage"
	"github.com/quotient-labs/price-oracle/internal/app/system"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

var _ system.Service = (*Dispatcher)(nil)

// DefaultWorkers sizes the delivery pool. Sized independently from the
// polling pool: subscriber endpoints have unrelated latency and failure
// characteristics, and a slow subscriber must not starve price polling.
const DefaultWorkers = 4

const idleInterval = time.Second

// Dispatcher owns the outbound notification queue. Tasks are claimed through
// the store's atomic pending-to-processing transition, so concurrent workers
// never process the same task.
type Dispatcher struct {
	store     storage.NotificationStore
	subs      storage.SubscriptionStore
	log       *logger.Logger
	workers   int
	notifiers map[notification.DeliveryMethod]Notifier
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewDispatcher constructs a dispatcher with the default worker pool size.
func NewDispatcher(store storage.NotificationStore, subs storage.SubscriptionStore, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("notifier-dispatcher")
	}
	return &Dispatcher{
		store:     store,
		subs:      subs,
		log:       log,
		workers:   DefaultWorkers,
		notifiers: make(map[notification.DeliveryMethod]Notifier),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithWorkers overrides the delivery pool size. Call before Start.
func (d *Dispatcher) WithWorkers(n int) *Dispatcher {
	if n > 0 {
		d.workers = n
	}
	return d
}

// WithClock injects a time source. Used by tests to drive backoff without
// real timers.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	if now != nil {
		d.now = now
	}
	return d
}

// RegisterNotifier adds a delivery transport.
func (d *Dispatcher) RegisterNotifier(n Notifier) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.notifiers[n.Method()]; exists {
		return fmt.Errorf("notifier for %s already registered", n.Method())
	}
	d.notifiers[n.Method()] = n
	return nil
}

// Enqueue creates a pending delivery task for the subscription. Priority is
// clamped to [1,10]; max retries come from the subscription.
func (d *Dispatcher) Enqueue(ctx context.Context, subscriptionID, feedID string, eventType notification.EventType, payload any, priority int) (string, error) {
	sub, err := d.subs.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if !sub.IsActive {
		return "", fmt.Errorf("subscription %s is not active", subscriptionID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	if priority < notification.PriorityHighest {
		priority = notification.PriorityHighest
	}
	if priority > notification.PriorityLowest {
		priority = notification.PriorityLowest
	}

	task, err := d.store.CreateTask(ctx, notification.Task{
		SubscriptionID: subscriptionID,
		FeedID:         feedID,
		Type:           eventType,
		Payload:        body,
		Priority:       priority,
		Status:         notification.StatusPending,
		MaxRetries:     sub.EffectiveMaxRetries(),
	})
	if err != nil {
		return "", err
	}
	if pending, err := d.store.CountPending(ctx); err == nil {
		metrics.SetQueueDepth(pending)
	}
	return task.ID, nil
}

func (d *Dispatcher) Name() string { return "notification-dispatcher" }

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.workerLoop(runCtx)
		}()
	}

	d.log.WithField("workers", d.workers).Info("notification dispatcher started")
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.log.Info("notification dispatcher stopped")
	return nil
}

func (d *Dispatcher) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := d.store.ClaimNextTask(ctx, d.now())
		if err != nil {
			if !errors.Is(err, storage.ErrNoTask) {
				d.log.WithError(err).Warn("claim notification task failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleInterval):
			}
			continue
		}
		d.process(ctx, task)
	}
}

// DrainOnce claims and processes at most one task. Test hook: exercises the
// exact claim/deliver/retry path without the worker loop's timers.
func (d *Dispatcher) DrainOnce(ctx context.Context) (bool, error) {
	task, err := d.store.ClaimNextTask(ctx, d.now())
	if err != nil {
		if errors.Is(err, storage.ErrNoTask) {
			return false, nil
		}
		return false, err
	}
	d.process(ctx, task)
	return true, nil
}

func (d *Dispatcher) process(ctx context.Context, task notification.Task) {
	sub, err := d.subs.GetSubscription(ctx, task.SubscriptionID)
	if err != nil || !sub.IsActive {
		task.Status = notification.StatusCancelled
		task.LastError = "subscription missing or inactive"
		if _, err := d.store.UpdateTask(ctx, task); err != nil {
			d.log.WithError(err).WithField("task_id", task.ID).Warn("cancel task failed")
		}
		return
	}

	d.mu.Lock()
	transport, ok := d.notifiers[sub.Method]
	d.mu.Unlock()

	attempt := task.RetryCount + 1
	var deliverErr error
	if !ok {
		deliverErr = fmt.Errorf("no notifier registered for method %s", sub.Method)
	} else {
		deliverErr = transport.Deliver(ctx, sub, task.Payload)
	}

	rec := notification.DeliveryRecord{
		TaskID:         task.ID,
		SubscriptionID: sub.ID,
		Attempt:        attempt,
		Success:        deliverErr == nil,
		DeliveredAt:    d.now(),
	}
	if deliverErr != nil {
		rec.Error = deliverErr.Error()
	}
	if _, err := d.store.AppendDelivery(ctx, rec); err != nil {
		d.log.WithError(err).WithField("task_id", task.ID).Warn("append delivery record failed")
	}

	if deliverErr == nil {
		task.Status = notification.StatusSent
		task.RetryAfter = time.Time{}
		task.LastError = ""
		if _, err := d.store.UpdateTask(ctx, task); err != nil {
			d.log.WithError(err).WithField("task_id", task.ID).Warn("mark task sent failed")
		}
		sub.SentCount++
		sub.FailureStreak = 0
		if _, err := d.subs.UpdateSubscription(ctx, sub); err != nil {
			d.log.WithError(err).WithField("subscription_id", sub.ID).Warn("update subscription counters failed")
		}
		metrics.RecordDelivery(string(sub.Method), true)
		return
	}

	task.LastError = deliverErr.Error()
	if task.RetryCount < task.MaxRetries {
		task.RetryCount++
		task.RetryAfter = d.now().Add(backoff(task.RetryCount))
		task.Status = notification.StatusPending
		if _, err := d.store.UpdateTask(ctx, task); err != nil {
			d.log.WithError(err).WithField("task_id", task.ID).Warn("requeue task failed")
		}
		d.log.WithError(deliverErr).
			WithField("task_id", task.ID).
			WithField("retry_count", task.RetryCount).
			Warn("delivery failed, retrying")
		return
	}

	task.Status = notification.StatusFailed
	task.RetryAfter = time.Time{}
	if _, err := d.store.UpdateTask(ctx, task); err != nil {
		d.log.WithError(err).WithField("task_id", task.ID).Warn("mark task failed failed")
	}
	sub.FailedCount++
	sub.FailureStreak++
	if _, err := d.subs.UpdateSubscription(ctx, sub); err != nil {
		d.log.WithError(err).WithField("subscription_id", sub.ID).Warn("update subscription counters failed")
	}
	metrics.RecordDelivery(string(sub.Method), false)
	d.log.WithError(deliverErr).
		WithField("task_id", task.ID).
		WithField("subscription_id", sub.ID).
		Warn("delivery failed terminally")
}

// backoff returns 2^retryCount minutes, capped at 24h.
func backoff(retryCount int) time.Duration {
	if retryCount > 10 {
		retryCount = 10
	}
	return time.Duration(math.Pow(2, float64(retryCount))) * time.Minute
}
