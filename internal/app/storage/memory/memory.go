package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/domain/feed"
	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
	"github.com/quotient-labs/price-oracle/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. Claim operations hold the write lock for the whole
// read-modify-write so two workers can never claim the same schedule or task.
type Store struct {
	mu            sync.RWMutex
	nextID        int64
	feeds         map[string]feed.Feed
	schedules     map[string]feed.Schedule
	quotes        []quote.Quote
	aggregates    []quote.AggregatedPrice
	subscriptions map[string]notification.Subscription
	tasks         map[string]notification.Task
	deliveries    map[string][]notification.DeliveryRecord
}

var _ storage.FeedStore = (*Store)(nil)
var _ storage.ScheduleStore = (*Store)(nil)
var _ storage.QuoteStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:        1,
		feeds:         make(map[string]feed.Feed),
		schedules:     make(map[string]feed.Schedule),
		subscriptions: make(map[string]notification.Subscription),
		tasks:         make(map[string]notification.Task),
		deliveries:    make(map[string][]notification.DeliveryRecord),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// FeedStore implementation ----------------------------------------------------

func (s *Store) CreateFeed(_ context.Context, f feed.Feed) (feed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = s.nextIDLocked()
	} else if _, exists := s.feeds[f.ID]; exists {
		return feed.Feed{}, fmt.Errorf("feed %s already exists", f.ID)
	}
	for _, existing := range s.feeds {
		if strings.EqualFold(existing.AssetID, f.AssetID) && strings.EqualFold(existing.Currency, f.Currency) {
			return feed.Feed{}, fmt.Errorf("feed for %s/%s already exists", f.AssetID, f.Currency)
		}
	}

	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	s.feeds[f.ID] = cloneFeed(f)
	return cloneFeed(f), nil
}

func (s *Store) UpdateFeed(_ context.Context, f feed.Feed) (feed.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.feeds[f.ID]
	if !ok {
		return feed.Feed{}, storage.ErrNotFound
	}
	f.AssetID = existing.AssetID
	f.Currency = existing.Currency
	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = time.Now().UTC()
	s.feeds[f.ID] = cloneFeed(f)
	return cloneFeed(f), nil
}

func (s *Store) GetFeed(_ context.Context, id string) (feed.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.feeds[id]
	if !ok {
		return feed.Feed{}, storage.ErrNotFound
	}
	return cloneFeed(f), nil
}

func (s *Store) FindFeed(_ context.Context, assetID, currency string) (feed.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.feeds {
		if strings.EqualFold(f.AssetID, assetID) && strings.EqualFold(f.Currency, currency) {
			return cloneFeed(f), nil
		}
	}
	return feed.Feed{}, storage.ErrNotFound
}

func (s *Store) ListFeeds(_ context.Context) ([]feed.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]feed.Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		result = append(result, cloneFeed(f))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeleteFeed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.feeds[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.feeds, id)
	delete(s.schedules, id)
	return nil
}

// ScheduleStore implementation ------------------------------------------------

func (s *Store) PutSchedule(_ context.Context, sched feed.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched.UpdatedAt = time.Now().UTC()
	s.schedules[sched.FeedID] = sched
	return nil
}

func (s *Store) GetSchedule(_ context.Context, feedID string) (feed.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[feedID]
	if !ok {
		return feed.Schedule{}, storage.ErrNotFound
	}
	return sched, nil
}

func (s *Store) ListSchedules(_ context.Context) ([]feed.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]feed.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		result = append(result, sched)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FeedID < result[j].FeedID })
	return result, nil
}

func (s *Store) ClaimDue(_ context.Context, now time.Time, limit int) ([]feed.Schedule, error) {
	if limit <= 0 {
		limit = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]feed.Schedule, 0, limit)
	for _, sched := range s.schedules {
		if sched.IsPaused || sched.Running {
			continue
		}
		if sched.NextUpdateAt.After(now) {
			continue
		}
		due = append(due, sched)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextUpdateAt.Before(due[j].NextUpdateAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	for i := range due {
		due[i].Running = true
		due[i].UpdatedAt = time.Now().UTC()
		s.schedules[due[i].FeedID] = due[i]
	}
	return due, nil
}

func (s *Store) CompleteSchedule(_ context.Context, sched feed.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.schedules[sched.FeedID]
	if !ok {
		return storage.ErrNotFound
	}
	// A pause issued while the cycle was in flight must survive it.
	sched.IsPaused = sched.IsPaused || current.IsPaused
	sched.Running = false
	sched.UpdatedAt = time.Now().UTC()
	s.schedules[sched.FeedID] = sched
	return nil
}

func (s *Store) PauseSchedule(_ context.Context, feedID string) (feed.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[feedID]
	if !ok {
		return feed.Schedule{}, storage.ErrNotFound
	}
	sched.IsPaused = true
	sched.UpdatedAt = time.Now().UTC()
	s.schedules[feedID] = sched
	return sched, nil
}

func (s *Store) ResumeSchedule(_ context.Context, feedID string, nextUpdateAt time.Time) (feed.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[feedID]
	if !ok {
		return feed.Schedule{}, storage.ErrNotFound
	}
	sched.IsPaused = false
	sched.ConsecutiveFailures = 0
	sched.NextUpdateAt = nextUpdateAt
	sched.UpdatedAt = time.Now().UTC()
	s.schedules[feedID] = sched
	return sched, nil
}

func (s *Store) DeleteSchedule(_ context.Context, feedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[feedID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.schedules, feedID)
	return nil
}

// QuoteStore implementation ---------------------------------------------------

func (s *Store) InsertQuotes(_ context.Context, quotes []quote.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, q := range quotes {
		if q.ID == "" {
			q.ID = s.nextIDLocked()
		}
		q.CreatedAt = now
		s.quotes = append(s.quotes, q)
	}
	return nil
}

func (s *Store) InsertAggregate(_ context.Context, agg quote.AggregatedPrice) (quote.AggregatedPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agg.ID == "" {
		agg.ID = s.nextIDLocked()
	}
	if agg.CreatedAt.IsZero() {
		agg.CreatedAt = time.Now().UTC()
	}
	s.aggregates = append(s.aggregates, agg)
	return agg, nil
}

func (s *Store) LatestAggregate(_ context.Context, assetID, currency string) (quote.AggregatedPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest quote.AggregatedPrice
		found  bool
	)
	for _, agg := range s.aggregates {
		if !strings.EqualFold(agg.AssetID, assetID) || !strings.EqualFold(agg.Currency, currency) {
			continue
		}
		if !found || agg.CreatedAt.After(latest.CreatedAt) {
			latest = agg
			found = true
		}
	}
	if !found {
		return quote.AggregatedPrice{}, storage.ErrNotFound
	}
	return latest, nil
}

func (s *Store) ListAggregates(_ context.Context, assetID, currency string, from, to time.Time, limit int) ([]quote.AggregatedPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []quote.AggregatedPrice
	for _, agg := range s.aggregates {
		if !strings.EqualFold(agg.AssetID, assetID) || !strings.EqualFold(agg.Currency, currency) {
			continue
		}
		if !from.IsZero() && agg.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && agg.CreatedAt.After(to) {
			continue
		}
		result = append(result, agg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) PruneQuotes(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type dayKey struct {
		asset string
		day   string
	}
	kept := make(map[dayKey]bool)
	retained := s.quotes[:0]
	var removed int64
	for _, q := range s.quotes {
		if !q.ObservedAt.Before(before) {
			retained = append(retained, q)
			continue
		}
		key := dayKey{asset: q.AssetID, day: q.ObservedAt.UTC().Format("2006-01-02")}
		if kept[key] {
			removed++
			continue
		}
		kept[key] = true
		retained = append(retained, q)
	}
	s.quotes = retained
	return removed, nil
}

// QuoteCount reports stored raw quotes. Test helper.
func (s *Store) QuoteCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes)
}

// SubscriptionStore implementation --------------------------------------------

func (s *Store) CreateSubscription(_ context.Context, sub notification.Subscription) (notification.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ID == "" {
		sub.ID = s.nextIDLocked()
	} else if _, exists := s.subscriptions[sub.ID]; exists {
		return notification.Subscription{}, fmt.Errorf("subscription %s already exists", sub.ID)
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	s.subscriptions[sub.ID] = sub
	return sub, nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub notification.Subscription) (notification.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[sub.ID]
	if !ok {
		return notification.Subscription{}, storage.ErrNotFound
	}
	sub.FeedID = existing.FeedID
	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[sub.ID] = sub
	return sub, nil
}

func (s *Store) GetSubscription(_ context.Context, id string) (notification.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return notification.Subscription{}, storage.ErrNotFound
	}
	return sub, nil
}

func (s *Store) ListSubscriptions(_ context.Context, feedID string, activeOnly bool) ([]notification.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []notification.Subscription
	for _, sub := range s.subscriptions {
		if feedID != "" && sub.FeedID != feedID {
			continue
		}
		if activeOnly && !sub.IsActive {
			continue
		}
		result = append(result, sub)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeactivateSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return storage.ErrNotFound
	}
	sub.IsActive = false
	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[id] = sub
	return nil
}

// NotificationStore implementation --------------------------------------------

func (s *Store) CreateTask(_ context.Context, task notification.Task) (notification.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = notification.StatusPending
	}
	s.tasks[task.ID] = task
	return task, nil
}

func (s *Store) GetTask(_ context.Context, id string) (notification.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return notification.Task{}, storage.ErrNotFound
	}
	return task, nil
}

func (s *Store) ClaimNextTask(_ context.Context, now time.Time) (notification.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  notification.Task
		found bool
	)
	for _, task := range s.tasks {
		if task.Status != notification.StatusPending {
			continue
		}
		if !task.RetryAfter.IsZero() && task.RetryAfter.After(now) {
			continue
		}
		if !found || less(task, best) {
			best = task
			found = true
		}
	}
	if !found {
		return notification.Task{}, storage.ErrNoTask
	}
	best.Status = notification.StatusProcessing
	best.UpdatedAt = time.Now().UTC()
	s.tasks[best.ID] = best
	return best, nil
}

// less orders tasks by (priority asc, created_at asc, id asc).
func less(a, b notification.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *Store) UpdateTask(_ context.Context, task notification.Task) (notification.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[task.ID]
	if !ok {
		return notification.Task{}, storage.ErrNotFound
	}
	task.SubscriptionID = existing.SubscriptionID
	task.FeedID = existing.FeedID
	task.CreatedAt = existing.CreatedAt
	task.UpdatedAt = time.Now().UTC()
	s.tasks[task.ID] = task
	return task, nil
}

func (s *Store) CountPending(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, task := range s.tasks {
		if task.Status == notification.StatusPending || task.Status == notification.StatusProcessing {
			count++
		}
	}
	return count, nil
}

func (s *Store) AppendDelivery(_ context.Context, rec notification.DeliveryRecord) (notification.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = s.nextIDLocked()
	}
	if rec.DeliveredAt.IsZero() {
		rec.DeliveredAt = time.Now().UTC()
	}
	s.deliveries[rec.TaskID] = append(s.deliveries[rec.TaskID], rec)
	return rec, nil
}

func (s *Store) ListDeliveries(_ context.Context, taskID string) ([]notification.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.deliveries[taskID]
	result := make([]notification.DeliveryRecord, len(records))
	copy(result, records)
	return result, nil
}

func (s *Store) PruneTasks(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, task := range s.tasks {
		if task.Status.Terminal() && task.UpdatedAt.Before(before) {
			delete(s.tasks, id)
			delete(s.deliveries, id)
			removed++
		}
	}
	return removed, nil
}

func cloneFeed(f feed.Feed) feed.Feed {
	providers := make([]feed.Provider, len(f.Providers))
	copy(providers, f.Providers)
	f.Providers = providers
	return f
}
