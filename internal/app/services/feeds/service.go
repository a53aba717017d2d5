// Package feeds manages feed definitions and their schedule rows.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/domain/feed"
	"github.com/quotient-labs/price-oracle/internal/app/storage"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

// ErrExists reports a second feed for an asset/currency pair.
var ErrExists = errors.New("feed already exists")

// ErrImmutablePair rejects updates that change a feed's asset or currency.
var ErrImmutablePair = errors.New("asset_id and currency are immutable")

// Service owns feed configuration. Every feed gets exactly one schedule row,
// created with it and removed with it.
type Service struct {
	feeds     storage.FeedStore
	schedules storage.ScheduleStore
	log       *logger.Logger
	now       func() time.Time
}

// New constructs the feed service.
func New(feeds storage.FeedStore, schedules storage.ScheduleStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("feeds")
	}
	return &Service{
		feeds:     feeds,
		schedules: schedules,
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

// Create validates and persists a feed, then seeds its schedule so the first
// cycle runs immediately.
func (s *Service) Create(ctx context.Context, f feed.Feed) (feed.Feed, error) {
	if err := f.Validate(); err != nil {
		return feed.Feed{}, err
	}
	if _, err := s.feeds.FindFeed(ctx, f.AssetID, f.Currency); err == nil {
		return feed.Feed{}, fmt.Errorf("%s/%s: %w", f.AssetID, f.Currency, ErrExists)
	}

	created, err := s.feeds.CreateFeed(ctx, f)
	if err != nil {
		return feed.Feed{}, err
	}

	now := s.now()
	sched := feed.Schedule{
		FeedID:       created.ID,
		NextUpdateAt: now,
		UpdatedAt:    now,
	}
	if err := s.schedules.PutSchedule(ctx, sched); err != nil {
		// Roll back so a feed never exists without a schedule.
		if derr := s.feeds.DeleteFeed(ctx, created.ID); derr != nil {
			s.log.WithError(derr).WithField("feed_id", created.ID).Error("rollback feed create failed")
		}
		return feed.Feed{}, err
	}

	s.log.WithField("feed_id", created.ID).
		WithField("asset_id", created.AssetID).
		WithField("currency", created.Currency).
		Info("feed created")
	return created, nil
}

// Update validates and persists changed feed configuration. The schedule
// state is untouched; the new interval takes effect after the next cycle.
func (s *Service) Update(ctx context.Context, f feed.Feed) (feed.Feed, error) {
	if err := f.Validate(); err != nil {
		return feed.Feed{}, err
	}
	current, err := s.feeds.GetFeed(ctx, f.ID)
	if err != nil {
		return feed.Feed{}, err
	}
	if current.AssetID != f.AssetID || current.Currency != f.Currency {
		return feed.Feed{}, ErrImmutablePair
	}
	return s.feeds.UpdateFeed(ctx, f)
}

// Get returns one feed by id.
func (s *Service) Get(ctx context.Context, id string) (feed.Feed, error) {
	return s.feeds.GetFeed(ctx, id)
}

// List returns all feeds.
func (s *Service) List(ctx context.Context) ([]feed.Feed, error) {
	return s.feeds.ListFeeds(ctx)
}

// Delete removes a feed and its schedule.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.feeds.DeleteFeed(ctx, id); err != nil {
		return err
	}
	if err := s.schedules.DeleteSchedule(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	s.log.WithField("feed_id", id).Info("feed deleted")
	return nil
}

// Status returns the schedule state for a feed.
func (s *Service) Status(ctx context.Context, id string) (feed.Schedule, error) {
	if _, err := s.feeds.GetFeed(ctx, id); err != nil {
		return feed.Schedule{}, err
	}
	return s.schedules.GetSchedule(ctx, id)
}

// Pause stops scheduling. The store operation is atomic and leaves the
// failure counter untouched, so an operator pause and an auto-pause stay
// distinguishable by the counter.
func (s *Service) Pause(ctx context.Context, id string) (feed.Schedule, error) {
	if _, err := s.feeds.GetFeed(ctx, id); err != nil {
		return feed.Schedule{}, err
	}
	sched, err := s.schedules.PauseSchedule(ctx, id)
	if err != nil {
		return feed.Schedule{}, err
	}
	s.log.WithField("feed_id", id).Info("feed paused")
	return sched, nil
}

// Resume clears a pause, resets the failure streak and makes the feed due
// immediately.
func (s *Service) Resume(ctx context.Context, id string) (feed.Schedule, error) {
	if _, err := s.feeds.GetFeed(ctx, id); err != nil {
		return feed.Schedule{}, err
	}
	sched, err := s.schedules.ResumeSchedule(ctx, id, s.now())
	if err != nil {
		return feed.Schedule{}, err
	}
	s.log.WithField("feed_id", id).Info("feed resumed")
	return sched, nil
}
