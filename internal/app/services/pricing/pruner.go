package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/quotient-labs/price-oracle/internal/app/storage"
	"github.com/quotient-labs/price-oracle/internal/app/system"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

var _ system.Service = (*Pruner)(nil)

// Retention windows. Raw quote detail compacts to one row per asset per day
// after QuoteRetention; terminal notification tasks drop after TaskRetention.
const (
	QuoteRetention = 30 * 24 * time.Hour
	TaskRetention  = 7 * 24 * time.Hour

	pruneInterval = 24 * time.Hour
)

// Pruner enforces the retention policy on a daily cadence.
type Pruner struct {
	quotes storage.QuoteStore
	tasks  storage.NotificationStore
	log    *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPruner constructs the retention service. tasks may be nil when no
// notification queue is configured.
func NewPruner(quotes storage.QuoteStore, tasks storage.NotificationStore, log *logger.Logger) *Pruner {
	if log == nil {
		log = logger.NewDefault("pruner")
	}
	return &Pruner{
		quotes: quotes,
		tasks:  tasks,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *Pruner) Name() string { return "retention-pruner" }

func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.RunOnce(runCtx)
			}
		}
	}()

	p.log.Info("retention pruner started")
	return nil
}

func (p *Pruner) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// RunOnce applies the retention policy a single time.
func (p *Pruner) RunOnce(ctx context.Context) {
	now := p.now()

	removed, err := p.quotes.PruneQuotes(ctx, now.Add(-QuoteRetention))
	if err != nil {
		p.log.WithError(err).Warn("prune quotes failed")
	} else if removed > 0 {
		p.log.WithField("removed", removed).Info("pruned raw quotes")
	}

	if p.tasks == nil {
		return
	}
	removed, err = p.tasks.PruneTasks(ctx, now.Add(-TaskRetention))
	if err != nil {
		p.log.WithError(err).Warn("prune notification tasks failed")
	} else if removed > 0 {
		p.log.WithField("removed", removed).Info("pruned notification tasks")
	}
}
