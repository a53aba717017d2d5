// Package app composes the oracle: storage, cache, services and the HTTP
// surface, managed as one lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/cache"
	"github.com/quotient-labs/price-oracle/internal/app/httpapi"
	"github.com/quotient-labs/price-oracle/internal/app/services/aggregator"
	"github.com/quotient-labs/price-oracle/internal/app/services/feeds"
	"github.com/quotient-labs/price-oracle/internal/app/services/notifier"
	"github.com/quotient-labs/price-oracle/internal/app/services/pricing"
	"github.com/quotient-labs/price-oracle/internal/app/services/scheduler"
	"github.com/quotient-labs/price-oracle/internal/app/services/source"
	"github.com/quotient-labs/price-oracle/internal/app/storage"
	"github.com/quotient-labs/price-oracle/internal/app/storage/memory"
	"github.com/quotient-labs/price-oracle/internal/app/system"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

// Stores bundles the persistence interfaces. Any nil field falls back to the
// shared in-memory store.
type Stores struct {
	Feeds         storage.FeedStore
	Schedules     storage.ScheduleStore
	Quotes        storage.QuoteStore
	Subscriptions storage.SubscriptionStore
	Notifications storage.NotificationStore
}

func (s *Stores) fillDefaults() {
	var mem *memory.Store
	ensure := func() *memory.Store {
		if mem == nil {
			mem = memory.New()
		}
		return mem
	}
	if s.Feeds == nil {
		s.Feeds = ensure()
	}
	if s.Schedules == nil {
		s.Schedules = ensure()
	}
	if s.Quotes == nil {
		s.Quotes = ensure()
	}
	if s.Subscriptions == nil {
		s.Subscriptions = ensure()
	}
	if s.Notifications == nil {
		s.Notifications = ensure()
	}
}

// Options tunes the composed services. Zero values select defaults.
type Options struct {
	Cache            cache.Cache
	Providers        []source.HTTPConfig
	MinSources       int
	SchedulerTick    time.Duration
	SchedulerBatch   int
	SchedulerWorkers int
	NotifierWorkers  int
}

// Application is the wired oracle. Construct with New, then Start.
type Application struct {
	manager    *system.Manager
	handler    *httpapi.Handler
	registry   *source.Registry
	feeds      *feeds.Service
	pricing    *pricing.Service
	dispatcher *notifier.Dispatcher
	log        *logger.Logger
}

// New wires the application graph.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	stores.fillDefaults()

	c := opts.Cache
	if c == nil {
		c = cache.NewMemory(0)
	}

	registry := source.NewRegistry(log.WithField("component", "sources"))
	for _, cfg := range opts.Providers {
		adapter, err := source.NewHTTPAdapter(cfg, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		var a source.Adapter = adapter
		if cfg.RequestsPerMin > 0 {
			a = source.Limit(a, cfg.RequestsPerMin)
		}
		if err := registry.Register(a); err != nil {
			return nil, err
		}
	}

	dispatcher := notifier.NewDispatcher(stores.Notifications, stores.Subscriptions, log.WithField("component", "dispatcher"))
	if opts.NotifierWorkers > 0 {
		dispatcher.WithWorkers(opts.NotifierWorkers)
	}
	wsHub := notifier.NewWebsocketHub(log.WithField("component", "websocket"))
	sseHub := notifier.NewSSEHub(log.WithField("component", "sse"))
	if err := dispatcher.RegisterNotifier(notifier.NewWebhook(nil, 0, log.WithField("component", "webhook"))); err != nil {
		return nil, err
	}
	if err := dispatcher.RegisterNotifier(wsHub); err != nil {
		return nil, err
	}
	if err := dispatcher.RegisterNotifier(sseHub); err != nil {
		return nil, err
	}
	emitter := notifier.NewEmitter(dispatcher, stores.Subscriptions, log.WithField("component", "events"))

	agg := aggregator.New(opts.MinSources, log.WithField("component", "aggregator"))
	runner := scheduler.NewRunner(stores.Feeds, stores.Schedules, stores.Quotes, registry, agg, c, emitter, log.WithField("component", "runner"))
	sched := scheduler.New(stores.Schedules, runner, log.WithField("component", "scheduler"))
	if opts.SchedulerTick > 0 {
		sched.WithTick(opts.SchedulerTick)
	}
	if opts.SchedulerBatch > 0 {
		sched.WithBatch(opts.SchedulerBatch)
	}
	if opts.SchedulerWorkers > 0 {
		sched.WithWorkers(opts.SchedulerWorkers)
	}

	feedSvc := feeds.New(stores.Feeds, stores.Schedules, log.WithField("component", "feeds"))
	pricingSvc := pricing.New(stores.Feeds, stores.Schedules, stores.Quotes, c, log.WithField("component", "pricing"))
	pruner := pricing.NewPruner(stores.Quotes, stores.Notifications, log.WithField("component", "pruner"))

	manager := system.NewManager()
	for _, svc := range []system.Service{dispatcher, sched, pruner} {
		if err := manager.Register(svc); err != nil {
			return nil, err
		}
	}

	handler := httpapi.New(feedSvc, pricingSvc, stores.Subscriptions, stores.Notifications, dispatcher, registry, wsHub, sseHub, log.WithField("component", "httpapi"))

	return &Application{
		manager:    manager,
		handler:    handler,
		registry:   registry,
		feeds:      feedSvc,
		pricing:    pricingSvc,
		dispatcher: dispatcher,
		log:        log,
	}, nil
}

// Start brings up the background services.
func (a *Application) Start(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	a.log.Info("application started")
	return nil
}

// Stop shuts the background services down in reverse start order.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if err == nil {
		a.log.Info("application stopped")
	}
	return err
}

// Router returns the HTTP API.
func (a *Application) Router() http.Handler {
	return a.handler.Router()
}

// Feeds exposes the feed service for embedding callers.
func (a *Application) Feeds() *feeds.Service { return a.feeds }

// Pricing exposes the read service for embedding callers.
func (a *Application) Pricing() *pricing.Service { return a.pricing }

// Sources exposes the provider registry for embedding callers.
func (a *Application) Sources() *source.Registry { return a.registry }
