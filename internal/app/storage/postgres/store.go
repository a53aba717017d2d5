package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/quotient-labs/price-oracle/internal/app/domain/feed"
	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
	"github.com/quotient-labs/price-oracle/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL. Claim
// operations rely on FOR UPDATE SKIP LOCKED so concurrent workers never
// double-process the same schedule or task.
type Store struct {
	db *sqlx.DB
}

var _ storage.FeedStore = (*Store)(nil)
var _ storage.ScheduleStore = (*Store)(nil)
var _ storage.QuoteStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// --- FeedStore ---------------------------------------------------------------

func (s *Store) CreateFeed(ctx context.Context, f feed.Feed) (feed.Feed, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	providersJSON, err := json.Marshal(f.Providers)
	if err != nil {
		return feed.Feed{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oracle_feeds (id, asset_id, currency, update_interval, providers, method, deviation_threshold, min_sources, pause_threshold, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, f.ID, f.AssetID, f.Currency, f.UpdateInterval, providersJSON, f.Method, f.DeviationThreshold, f.MinSources, f.PauseThreshold, f.Active, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return feed.Feed{}, err
	}
	return f, nil
}

func (s *Store) UpdateFeed(ctx context.Context, f feed.Feed) (feed.Feed, error) {
	existing, err := s.GetFeed(ctx, f.ID)
	if err != nil {
		return feed.Feed{}, err
	}
	f.AssetID = existing.AssetID
	f.Currency = existing.Currency
	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = time.Now().UTC()

	providersJSON, err := json.Marshal(f.Providers)
	if err != nil {
		return feed.Feed{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE oracle_feeds
		SET update_interval = $2, providers = $3, method = $4, deviation_threshold = $5, min_sources = $6, pause_threshold = $7, active = $8, updated_at = $9
		WHERE id = $1
	`, f.ID, f.UpdateInterval, providersJSON, f.Method, f.DeviationThreshold, f.MinSources, f.PauseThreshold, f.Active, f.UpdatedAt)
	if err != nil {
		return feed.Feed{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return feed.Feed{}, storage.ErrNotFound
	}
	return f, nil
}

const feedColumns = `id, asset_id, currency, update_interval, providers, method, deviation_threshold, min_sources, pause_threshold, active, created_at, updated_at`

func scanFeed(row interface{ Scan(...any) error }) (feed.Feed, error) {
	var (
		f            feed.Feed
		providersRaw []byte
	)
	if err := row.Scan(&f.ID, &f.AssetID, &f.Currency, &f.UpdateInterval, &providersRaw, &f.Method, &f.DeviationThreshold, &f.MinSources, &f.PauseThreshold, &f.Active, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return feed.Feed{}, err
	}
	if len(providersRaw) > 0 {
		if err := json.Unmarshal(providersRaw, &f.Providers); err != nil {
			return feed.Feed{}, err
		}
	}
	return f, nil
}

func (s *Store) GetFeed(ctx context.Context, id string) (feed.Feed, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM oracle_feeds WHERE id = $1`, id)
	f, err := scanFeed(row)
	if err != nil {
		return feed.Feed{}, mapNotFound(err)
	}
	return f, nil
}

func (s *Store) FindFeed(ctx context.Context, assetID, currency string) (feed.Feed, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+feedColumns+` FROM oracle_feeds
		WHERE lower(asset_id) = lower($1) AND lower(currency) = lower($2)
	`, assetID, currency)
	f, err := scanFeed(row)
	if err != nil {
		return feed.Feed{}, mapNotFound(err)
	}
	return f, nil
}

func (s *Store) ListFeeds(ctx context.Context) ([]feed.Feed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+feedColumns+` FROM oracle_feeds ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []feed.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (s *Store) DeleteFeed(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM oracle_feeds WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- ScheduleStore -----------------------------------------------------------

func (s *Store) PutSchedule(ctx context.Context, sched feed.Schedule) error {
	sched.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oracle_feed_schedules (feed_id, next_update_at, last_update_at, consecutive_failures, is_paused, running, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (feed_id) DO UPDATE SET
			next_update_at = EXCLUDED.next_update_at,
			last_update_at = EXCLUDED.last_update_at,
			consecutive_failures = EXCLUDED.consecutive_failures,
			is_paused = EXCLUDED.is_paused,
			running = EXCLUDED.running,
			updated_at = EXCLUDED.updated_at
	`, sched.FeedID, sched.NextUpdateAt, toNullTime(sched.LastUpdateAt), sched.ConsecutiveFailures, sched.IsPaused, sched.Running, sched.UpdatedAt)
	return err
}

const scheduleColumns = `feed_id, next_update_at, last_update_at, consecutive_failures, is_paused, running, updated_at`

func scanSchedule(row interface{ Scan(...any) error }) (feed.Schedule, error) {
	var (
		sched   feed.Schedule
		lastRun sql.NullTime
	)
	if err := row.Scan(&sched.FeedID, &sched.NextUpdateAt, &lastRun, &sched.ConsecutiveFailures, &sched.IsPaused, &sched.Running, &sched.UpdatedAt); err != nil {
		return feed.Schedule{}, err
	}
	if lastRun.Valid {
		sched.LastUpdateAt = lastRun.Time.UTC()
	}
	return sched, nil
}

func (s *Store) GetSchedule(ctx context.Context, feedID string) (feed.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM oracle_feed_schedules WHERE feed_id = $1`, feedID)
	sched, err := scanSchedule(row)
	if err != nil {
		return feed.Schedule{}, mapNotFound(err)
	}
	return sched, nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]feed.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM oracle_feed_schedules ORDER BY feed_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []feed.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sched)
	}
	return result, rows.Err()
}

func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]feed.Schedule, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM oracle_feed_schedules
		WHERE next_update_at <= $1 AND NOT is_paused AND NOT running
		ORDER BY next_update_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}

	var claimed []feed.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, sched)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range claimed {
		claimed[i].Running = true
		if _, err := tx.ExecContext(ctx, `
			UPDATE oracle_feed_schedules SET running = TRUE, updated_at = $2 WHERE feed_id = $1
		`, claimed[i].FeedID, time.Now().UTC()); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteSchedule merges the stored pause flag in one statement so a pause
// issued while the cycle ran is never overwritten by its completion.
func (s *Store) CompleteSchedule(ctx context.Context, sched feed.Schedule) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE oracle_feed_schedules
		SET next_update_at = $2, last_update_at = $3, consecutive_failures = $4, is_paused = (is_paused OR $5), running = FALSE, updated_at = $6
		WHERE feed_id = $1
	`, sched.FeedID, sched.NextUpdateAt, toNullTime(sched.LastUpdateAt), sched.ConsecutiveFailures, sched.IsPaused, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) PauseSchedule(ctx context.Context, feedID string) (feed.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE oracle_feed_schedules
		SET is_paused = TRUE, updated_at = $2
		WHERE feed_id = $1
		RETURNING `+scheduleColumns+`
	`, feedID, time.Now().UTC())
	sched, err := scanSchedule(row)
	if err != nil {
		return feed.Schedule{}, mapNotFound(err)
	}
	return sched, nil
}

func (s *Store) ResumeSchedule(ctx context.Context, feedID string, nextUpdateAt time.Time) (feed.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE oracle_feed_schedules
		SET is_paused = FALSE, consecutive_failures = 0, next_update_at = $2, updated_at = $3
		WHERE feed_id = $1
		RETURNING `+scheduleColumns+`
	`, feedID, nextUpdateAt, time.Now().UTC())
	sched, err := scanSchedule(row)
	if err != nil {
		return feed.Schedule{}, mapNotFound(err)
	}
	return sched, nil
}

func (s *Store) DeleteSchedule(ctx context.Context, feedID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM oracle_feed_schedules WHERE feed_id = $1`, feedID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- QuoteStore --------------------------------------------------------------

func (s *Store) InsertQuotes(ctx context.Context, quotes []quote.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, q := range quotes {
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		metadataJSON, err := json.Marshal(q.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO oracle_quotes (id, asset_id, currency, price, volume, confidence, source, observed_at, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, q.ID, q.AssetID, q.Currency, q.Price, q.Volume, q.Confidence, q.Source, q.ObservedAt.UTC(), metadataJSON, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) InsertAggregate(ctx context.Context, agg quote.AggregatedPrice) (quote.AggregatedPrice, error) {
	if agg.ID == "" {
		agg.ID = uuid.NewString()
	}
	if agg.CreatedAt.IsZero() {
		agg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oracle_aggregates (id, asset_id, currency, price, confidence, method, source_count, deviation_percent, outliers_removed, flagged, processing_time_us, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, agg.ID, agg.AssetID, agg.Currency, agg.Price, agg.Confidence, agg.Method, agg.SourceCount, agg.DeviationPercent, agg.OutliersRemoved, agg.Flagged, agg.ProcessingTime.Microseconds(), agg.CreatedAt)
	if err != nil {
		return quote.AggregatedPrice{}, err
	}
	return agg, nil
}

const aggregateColumns = `id, asset_id, currency, price, confidence, method, source_count, deviation_percent, outliers_removed, flagged, processing_time_us, created_at`

func scanAggregate(row interface{ Scan(...any) error }) (quote.AggregatedPrice, error) {
	var (
		agg    quote.AggregatedPrice
		procUS int64
	)
	if err := row.Scan(&agg.ID, &agg.AssetID, &agg.Currency, &agg.Price, &agg.Confidence, &agg.Method, &agg.SourceCount, &agg.DeviationPercent, &agg.OutliersRemoved, &agg.Flagged, &procUS, &agg.CreatedAt); err != nil {
		return quote.AggregatedPrice{}, err
	}
	agg.ProcessingTime = time.Duration(procUS) * time.Microsecond
	return agg, nil
}

func (s *Store) LatestAggregate(ctx context.Context, assetID, currency string) (quote.AggregatedPrice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+aggregateColumns+`
		FROM oracle_aggregates
		WHERE lower(asset_id) = lower($1) AND lower(currency) = lower($2)
		ORDER BY created_at DESC
		LIMIT 1
	`, assetID, currency)
	agg, err := scanAggregate(row)
	if err != nil {
		return quote.AggregatedPrice{}, mapNotFound(err)
	}
	return agg, nil
}

func (s *Store) ListAggregates(ctx context.Context, assetID, currency string, from, to time.Time, limit int) ([]quote.AggregatedPrice, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+aggregateColumns+`
		FROM oracle_aggregates
		WHERE lower(asset_id) = lower($1) AND lower(currency) = lower($2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at <= $4)
		ORDER BY created_at DESC
		LIMIT $5
	`, assetID, currency, toNullTime(from), toNullTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []quote.AggregatedPrice
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, agg)
	}
	return result, rows.Err()
}

func (s *Store) PruneQuotes(ctx context.Context, before time.Time) (int64, error) {
	// Keep one representative row per asset per day beyond the cutoff.
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM oracle_quotes q
		WHERE q.observed_at < $1
		  AND q.id NOT IN (
			SELECT DISTINCT ON (asset_id, date_trunc('day', observed_at)) id
			FROM oracle_quotes
			WHERE observed_at < $1
			ORDER BY asset_id, date_trunc('day', observed_at), observed_at DESC
		  )
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- SubscriptionStore -------------------------------------------------------

func (s *Store) CreateSubscription(ctx context.Context, sub notification.Subscription) (notification.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	filtersJSON, err := json.Marshal(sub.Filters)
	if err != nil {
		return notification.Subscription{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oracle_subscriptions (id, feed_id, method, endpoint, secret, filters, max_retries, is_active, sent_count, failed_count, failure_streak, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, sub.ID, sub.FeedID, sub.Method, sub.Endpoint, sub.Secret, filtersJSON, sub.MaxRetries, sub.IsActive, sub.SentCount, sub.FailedCount, sub.FailureStreak, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return notification.Subscription{}, err
	}
	return sub, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub notification.Subscription) (notification.Subscription, error) {
	existing, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		return notification.Subscription{}, err
	}
	sub.FeedID = existing.FeedID
	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = time.Now().UTC()

	filtersJSON, err := json.Marshal(sub.Filters)
	if err != nil {
		return notification.Subscription{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE oracle_subscriptions
		SET method = $2, endpoint = $3, secret = $4, filters = $5, max_retries = $6, is_active = $7,
		    sent_count = $8, failed_count = $9, failure_streak = $10, updated_at = $11
		WHERE id = $1
	`, sub.ID, sub.Method, sub.Endpoint, sub.Secret, filtersJSON, sub.MaxRetries, sub.IsActive, sub.SentCount, sub.FailedCount, sub.FailureStreak, sub.UpdatedAt)
	if err != nil {
		return notification.Subscription{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return notification.Subscription{}, storage.ErrNotFound
	}
	return sub, nil
}

const subscriptionColumns = `id, feed_id, method, endpoint, secret, filters, max_retries, is_active, sent_count, failed_count, failure_streak, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (notification.Subscription, error) {
	var (
		sub        notification.Subscription
		filtersRaw []byte
	)
	if err := row.Scan(&sub.ID, &sub.FeedID, &sub.Method, &sub.Endpoint, &sub.Secret, &filtersRaw, &sub.MaxRetries, &sub.IsActive, &sub.SentCount, &sub.FailedCount, &sub.FailureStreak, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return notification.Subscription{}, err
	}
	if len(filtersRaw) > 0 {
		if err := json.Unmarshal(filtersRaw, &sub.Filters); err != nil {
			return notification.Subscription{}, err
		}
	}
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (notification.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM oracle_subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		return notification.Subscription{}, mapNotFound(err)
	}
	return sub, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, feedID string, activeOnly bool) ([]notification.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM oracle_subscriptions
		WHERE ($1 = '' OR feed_id = $1) AND (NOT $2 OR is_active)
		ORDER BY created_at
	`, feedID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notification.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (s *Store) DeactivateSubscription(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE oracle_subscriptions SET is_active = FALSE, updated_at = $2 WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- NotificationStore -------------------------------------------------------

func (s *Store) CreateTask(ctx context.Context, task notification.Task) (notification.Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = notification.StatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oracle_notification_tasks (id, subscription_id, feed_id, type, payload, priority, status, retry_count, max_retries, retry_after, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, task.ID, task.SubscriptionID, task.FeedID, task.Type, []byte(task.Payload), task.Priority, task.Status, task.RetryCount, task.MaxRetries, toNullTime(task.RetryAfter), task.LastError, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return notification.Task{}, err
	}
	return task, nil
}

const taskColumns = `id, subscription_id, feed_id, type, payload, priority, status, retry_count, max_retries, retry_after, last_error, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (notification.Task, error) {
	var (
		task       notification.Task
		payload    []byte
		retryAfter sql.NullTime
	)
	if err := row.Scan(&task.ID, &task.SubscriptionID, &task.FeedID, &task.Type, &payload, &task.Priority, &task.Status, &task.RetryCount, &task.MaxRetries, &retryAfter, &task.LastError, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return notification.Task{}, err
	}
	task.Payload = payload
	if retryAfter.Valid {
		task.RetryAfter = retryAfter.Time.UTC()
	}
	return task, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (notification.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM oracle_notification_tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if err != nil {
		return notification.Task{}, mapNotFound(err)
	}
	return task, nil
}

func (s *Store) ClaimNextTask(ctx context.Context, now time.Time) (notification.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return notification.Task{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM oracle_notification_tasks
		WHERE status = 'pending' AND (retry_after IS NULL OR retry_after <= $1)
		ORDER BY priority ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, now)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notification.Task{}, storage.ErrNoTask
		}
		return notification.Task{}, err
	}

	task.Status = notification.StatusProcessing
	task.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE oracle_notification_tasks SET status = 'processing', updated_at = $2 WHERE id = $1
	`, task.ID, task.UpdatedAt); err != nil {
		return notification.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return notification.Task{}, err
	}
	return task, nil
}

func (s *Store) UpdateTask(ctx context.Context, task notification.Task) (notification.Task, error) {
	task.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE oracle_notification_tasks
		SET status = $2, retry_count = $3, retry_after = $4, last_error = $5, updated_at = $6
		WHERE id = $1
	`, task.ID, task.Status, task.RetryCount, toNullTime(task.RetryAfter), task.LastError, task.UpdatedAt)
	if err != nil {
		return notification.Task{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return notification.Task{}, storage.ErrNotFound
	}
	return task, nil
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM oracle_notification_tasks WHERE status IN ('pending', 'processing')
	`).Scan(&count)
	return count, err
}

func (s *Store) AppendDelivery(ctx context.Context, rec notification.DeliveryRecord) (notification.DeliveryRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.DeliveredAt.IsZero() {
		rec.DeliveredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oracle_notification_history (id, task_id, subscription_id, attempt, success, error, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.TaskID, rec.SubscriptionID, rec.Attempt, rec.Success, rec.Error, rec.DeliveredAt)
	if err != nil {
		return notification.DeliveryRecord{}, err
	}
	return rec, nil
}

func (s *Store) ListDeliveries(ctx context.Context, taskID string) ([]notification.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, subscription_id, attempt, success, error, delivered_at
		FROM oracle_notification_history
		WHERE task_id = $1
		ORDER BY attempt
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notification.DeliveryRecord
	for rows.Next() {
		var rec notification.DeliveryRecord
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.SubscriptionID, &rec.Attempt, &rec.Success, &rec.Error, &rec.DeliveredAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *Store) PruneTasks(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM oracle_notification_tasks
		WHERE status IN ('sent', 'failed', 'cancelled') AND updated_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
