package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/quotient-labs/price-oracle/internal/app/domain/feed"
	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
	"github.com/quotient-labs/price-oracle/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestGetFeedScansProviders(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "asset_id", "currency", "update_interval", "providers", "method",
		"deviation_threshold", "min_sources", "pause_threshold", "active", "created_at", "updated_at",
	}).AddRow(
		"feed-1", "BTC", "USD", "30s", []byte(`[{"id":"alpha","weight":"1"},{"id":"beta","weight":"2"}]`),
		"median", "10", 2, 3, true, now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM oracle_feeds WHERE id").
		WithArgs("feed-1").
		WillReturnRows(rows)

	f, err := store.GetFeed(context.Background(), "feed-1")
	if err != nil {
		t.Fatalf("GetFeed: %v", err)
	}
	if f.AssetID != "BTC" || f.Currency != "USD" {
		t.Fatalf("pair = %s/%s", f.AssetID, f.Currency)
	}
	if len(f.Providers) != 2 || f.Providers[1].ID != "beta" {
		t.Fatalf("providers = %+v", f.Providers)
	}
	w, ok := f.Weight("beta")
	if !ok || w.String() != "2" {
		t.Fatalf("beta weight = %s/%v", w, ok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetFeedMapsNoRows(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM oracle_feeds WHERE id").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetFeed(context.Background(), "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCompleteScheduleMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE oracle_feed_schedules").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.CompleteSchedule(context.Background(), feed.Schedule{FeedID: "ghost", NextUpdateAt: time.Now()})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCompleteScheduleMergesStoredPause(t *testing.T) {
	store, mock := newMockStore(t)

	// The statement must OR against the stored flag so a pause set while the
	// cycle ran is never overwritten.
	mock.ExpectExec(`UPDATE oracle_feed_schedules\s+SET next_update_at = \$2, last_update_at = \$3, consecutive_failures = \$4, is_paused = \(is_paused OR \$5\), running = FALSE`).
		WithArgs("feed-1", sqlmock.AnyArg(), sqlmock.AnyArg(), 0, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CompleteSchedule(context.Background(), feed.Schedule{FeedID: "feed-1", NextUpdateAt: time.Now()})
	if err != nil {
		t.Fatalf("CompleteSchedule: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPauseAndResumeSchedule(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	cols := []string{"feed_id", "next_update_at", "last_update_at", "consecutive_failures", "is_paused", "running", "updated_at"}
	mock.ExpectQuery("UPDATE oracle_feed_schedules\\s+SET is_paused = TRUE").
		WithArgs("feed-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("feed-1", now.Add(time.Hour), nil, 2, true, false, now))

	paused, err := store.PauseSchedule(context.Background(), "feed-1")
	if err != nil {
		t.Fatalf("PauseSchedule: %v", err)
	}
	if !paused.IsPaused || paused.ConsecutiveFailures != 2 {
		t.Fatalf("paused = %+v, want pause set and failure counter kept", paused)
	}

	mock.ExpectQuery("UPDATE oracle_feed_schedules\\s+SET is_paused = FALSE, consecutive_failures = 0").
		WithArgs("feed-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("feed-1", now, nil, 0, false, false, now))

	resumed, err := store.ResumeSchedule(context.Background(), "feed-1", now)
	if err != nil {
		t.Fatalf("ResumeSchedule: %v", err)
	}
	if resumed.IsPaused || resumed.ConsecutiveFailures != 0 {
		t.Fatalf("resumed = %+v, want pause and failures cleared", resumed)
	}

	mock.ExpectQuery("UPDATE oracle_feed_schedules\\s+SET is_paused = TRUE").
		WithArgs("ghost", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)
	if _, err := store.PauseSchedule(context.Background(), "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("pause ghost: err = %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimDueMarksRunning(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"feed_id", "next_update_at", "last_update_at", "consecutive_failures", "is_paused", "running", "updated_at",
	}).AddRow("feed-1", now.Add(-time.Second), nil, 0, false, false, now)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM oracle_feed_schedules").
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE oracle_feed_schedules SET running = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	claimed, err := store.ClaimDue(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 1 || claimed[0].FeedID != "feed-1" {
		t.Fatalf("claimed = %+v", claimed)
	}
	if !claimed[0].Running {
		t.Fatal("claimed schedule not marked running")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimNextTaskTransitionsToProcessing(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "subscription_id", "feed_id", "type", "payload", "priority", "status",
		"retry_count", "max_retries", "retry_after", "last_error", "created_at", "updated_at",
	}).AddRow(
		"task-1", "sub-1", "feed-1", "price_update", []byte(`{"price":"100"}`), 5, "pending",
		0, 5, nil, "", now, now,
	)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM oracle_notification_tasks").
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE oracle_notification_tasks SET status = 'processing'").
		WithArgs("task-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, err := store.ClaimNextTask(context.Background(), now)
	if err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}
	if task.ID != "task-1" || task.Status != notification.StatusProcessing {
		t.Fatalf("task = %s/%s", task.ID, task.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimNextTaskEmptyQueue(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM oracle_notification_tasks").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.ClaimNextTask(context.Background(), time.Now())
	if !errors.Is(err, storage.ErrNoTask) {
		t.Fatalf("err = %v, want ErrNoTask", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeactivateSubscriptionMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE oracle_subscriptions SET is_active = FALSE").
		WithArgs("ghost", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeactivateSubscription(context.Background(), "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCountPending(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT(.+) FROM oracle_notification_tasks").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := store.CountPending(context.Background())
	if err != nil || n != 7 {
		t.Fatalf("CountPending = %d, %v; want 7", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPruneTasksReportsRemoved(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM oracle_notification_tasks").
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := store.PruneTasks(context.Background(), time.Now().Add(-7*24*time.Hour))
	if err != nil || removed != 3 {
		t.Fatalf("PruneTasks = %d, %v; want 3", removed, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
