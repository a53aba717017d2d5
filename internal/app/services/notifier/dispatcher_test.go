package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
	"github.com/quotient-labs/price-oracle/internal/app/storage/memory"
)

// fakeNotifier fails the first failures deliveries, then succeeds.
type fakeNotifier struct {
	method   notification.DeliveryMethod
	failures int
	attempts int
}

func (f *fakeNotifier) Method() notification.DeliveryMethod { return f.method }

func (f *fakeNotifier) Deliver(context.Context, notification.Subscription, json.RawMessage) error {
	f.attempts++
	if f.attempts <= f.failures {
		return errors.New("endpoint unavailable")
	}
	return nil
}

func newTestDispatcher(t *testing.T, transport Notifier) (*Dispatcher, *memory.Store, notification.Subscription, *time.Time) {
	t.Helper()
	store := memory.New()

	sub, err := store.CreateSubscription(context.Background(), notification.Subscription{
		FeedID:     "f1",
		Method:     transport.Method(),
		Endpoint:   "https://example.com/hook",
		MaxRetries: 3,
		IsActive:   true,
	})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := NewDispatcher(store, store, nil).WithClock(func() time.Time { return now })
	if err := d.RegisterNotifier(transport); err != nil {
		t.Fatalf("RegisterNotifier: %v", err)
	}
	return d, store, sub, &now
}

func TestDispatcherDeliversAndRecordsSuccess(t *testing.T) {
	ctx := context.Background()
	transport := &fakeNotifier{method: notification.MethodWebhook}
	d, store, sub, _ := newTestDispatcher(t, transport)

	taskID, err := d.Enqueue(ctx, sub.ID, "f1", notification.EventPriceUpdate, map[string]string{"hello": "world"}, 5)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	processed, err := d.DrainOnce(ctx)
	if err != nil || !processed {
		t.Fatalf("DrainOnce: processed=%v err=%v", processed, err)
	}

	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != notification.StatusSent {
		t.Fatalf("status = %s, want sent", task.Status)
	}

	records, err := store.ListDeliveries(ctx, taskID)
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	if len(records) != 1 || !records[0].Success {
		t.Fatalf("delivery records = %+v, want one successful attempt", records)
	}

	got, _ := store.GetSubscription(ctx, sub.ID)
	if got.SentCount != 1 || got.FailureStreak != 0 {
		t.Fatalf("sub counters = sent %d streak %d, want 1/0", got.SentCount, got.FailureStreak)
	}
}

func TestDispatcherBackoffDoubles(t *testing.T) {
	ctx := context.Background()
	transport := &fakeNotifier{method: notification.MethodWebhook, failures: 100}
	d, store, sub, now := newTestDispatcher(t, transport)

	taskID, err := d.Enqueue(ctx, sub.ID, "f1", notification.EventPriceUpdate, "payload", 5)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Attempt n sets retry_after to now + 2^n minutes.
	wantDelays := []time.Duration{2 * time.Minute, 4 * time.Minute, 8 * time.Minute}
	for i, want := range wantDelays {
		processed, err := d.DrainOnce(ctx)
		if err != nil || !processed {
			t.Fatalf("attempt %d: processed=%v err=%v", i+1, processed, err)
		}
		task, err := store.GetTask(ctx, taskID)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if task.Status != notification.StatusPending {
			t.Fatalf("attempt %d: status = %s, want pending", i+1, task.Status)
		}
		if got := task.RetryAfter.Sub(*now); got != want {
			t.Fatalf("attempt %d: backoff = %s, want %s", i+1, got, want)
		}

		// The task is invisible until the backoff elapses.
		if processed, _ := d.DrainOnce(ctx); processed {
			t.Fatalf("attempt %d: task claimed before retry_after", i+1)
		}
		*now = task.RetryAfter
	}
}

func TestDispatcherTerminalFailureAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	transport := &fakeNotifier{method: notification.MethodWebhook, failures: 100}
	d, store, sub, now := newTestDispatcher(t, transport)

	taskID, err := d.Enqueue(ctx, sub.ID, "f1", notification.EventPriceUpdate, "payload", 5)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// MaxRetries 3: attempts 1..3 requeue, attempt 4 is terminal.
	for i := 0; i < 4; i++ {
		processed, err := d.DrainOnce(ctx)
		if err != nil || !processed {
			t.Fatalf("attempt %d: processed=%v err=%v", i+1, processed, err)
		}
		task, _ := store.GetTask(ctx, taskID)
		*now = now.Add(24 * time.Hour)
		if i < 3 && task.Status != notification.StatusPending {
			t.Fatalf("attempt %d: status = %s, want pending", i+1, task.Status)
		}
	}

	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != notification.StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if task.LastError == "" {
		t.Fatal("last error not recorded")
	}

	records, _ := store.ListDeliveries(ctx, taskID)
	if len(records) != 4 {
		t.Fatalf("delivery records = %d, want 4", len(records))
	}

	got, _ := store.GetSubscription(ctx, sub.ID)
	if got.FailedCount != 1 || got.FailureStreak != 1 {
		t.Fatalf("sub counters = failed %d streak %d, want 1/1", got.FailedCount, got.FailureStreak)
	}
}

func TestDispatcherRecoversAfterTransientFailures(t *testing.T) {
	ctx := context.Background()
	transport := &fakeNotifier{method: notification.MethodWebhook, failures: 2}
	d, store, sub, now := newTestDispatcher(t, transport)

	taskID, err := d.Enqueue(ctx, sub.ID, "f1", notification.EventPriceUpdate, "payload", 5)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 0; i < 3; i++ {
		if processed, err := d.DrainOnce(ctx); err != nil || !processed {
			t.Fatalf("attempt %d: processed=%v err=%v", i+1, processed, err)
		}
		*now = now.Add(time.Hour)
	}

	task, _ := store.GetTask(ctx, taskID)
	if task.Status != notification.StatusSent {
		t.Fatalf("status = %s, want sent after recovery", task.Status)
	}
	got, _ := store.GetSubscription(ctx, sub.ID)
	if got.FailureStreak != 0 {
		t.Fatalf("failure streak = %d, want 0 after success", got.FailureStreak)
	}
}

func TestDispatcherCancelsTaskForInactiveSubscription(t *testing.T) {
	ctx := context.Background()
	transport := &fakeNotifier{method: notification.MethodWebhook}
	d, store, sub, _ := newTestDispatcher(t, transport)

	taskID, err := d.Enqueue(ctx, sub.ID, "f1", notification.EventPriceUpdate, "payload", 5)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := store.DeactivateSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("DeactivateSubscription: %v", err)
	}

	if processed, err := d.DrainOnce(ctx); err != nil || !processed {
		t.Fatalf("DrainOnce: processed=%v err=%v", processed, err)
	}

	task, _ := store.GetTask(ctx, taskID)
	if task.Status != notification.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", task.Status)
	}
	if transport.attempts != 0 {
		t.Fatalf("transport called %d times for inactive subscription", transport.attempts)
	}
}

func TestDispatcherEnqueueRejectsInactiveSubscription(t *testing.T) {
	ctx := context.Background()
	transport := &fakeNotifier{method: notification.MethodWebhook}
	d, store, sub, _ := newTestDispatcher(t, transport)

	if err := store.DeactivateSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("DeactivateSubscription: %v", err)
	}
	if _, err := d.Enqueue(ctx, sub.ID, "f1", notification.EventPriceUpdate, "payload", 5); err == nil {
		t.Fatal("expected error enqueueing for inactive subscription")
	}
}

func TestDispatcherHigherPriorityFirst(t *testing.T) {
	ctx := context.Background()
	transport := &fakeNotifier{method: notification.MethodWebhook}
	d, store, sub, _ := newTestDispatcher(t, transport)

	routine, err := d.Enqueue(ctx, sub.ID, "f1", notification.EventPriceUpdate, "p", 5)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	urgent, err := d.Enqueue(ctx, sub.ID, "f1", notification.EventThresholdBreach, "p", 2)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if processed, err := d.DrainOnce(ctx); err != nil || !processed {
		t.Fatalf("DrainOnce: processed=%v err=%v", processed, err)
	}
	urgentTask, _ := store.GetTask(ctx, urgent)
	routineTask, _ := store.GetTask(ctx, routine)
	if urgentTask.Status != notification.StatusSent {
		t.Fatalf("urgent task status = %s, want sent first", urgentTask.Status)
	}
	if routineTask.Status != notification.StatusPending {
		t.Fatalf("routine task status = %s, want still pending", routineTask.Status)
	}
}
