package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/quotient-labs/price-oracle/internal/app/domain/feed"
	"github.com/quotient-labs/price-oracle/internal/app/metrics"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

// Registry holds the registered provider adapters and their health counters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	health   map[string]*health
	log      *logger.Logger
}

type health struct {
	Successes           int64
	Failures            int64
	ConsecutiveFailures int64
}

// HealthSnapshot is a point-in-time copy of one provider's counters.
type HealthSnapshot struct {
	Provider            string  `json:"provider"`
	Successes           int64   `json:"successes"`
	Failures            int64   `json:"failures"`
	ConsecutiveFailures int64   `json:"consecutive_failures"`
	SuccessRate         float64 `json:"success_rate"`
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewDefault("source-registry")
	}
	return &Registry{
		adapters: make(map[string]Adapter),
		health:   make(map[string]*health),
		log:      log,
	}
}

// Register adds an adapter under its name.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil || adapter.Name() == "" {
		return fmt.Errorf("adapter with empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[adapter.Name()]; exists {
		return fmt.Errorf("provider %s already registered", adapter.Name())
	}
	r.adapters[adapter.Name()] = adapter
	r.health[adapter.Name()] = &health{}
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// Names lists registered provider ids, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FetchAll polls every provider configured on the feed concurrently and
// returns one tagged result per provider. It waits for all fetches; each
// adapter bounds its own call with its per-provider timeout, so the slowest
// allowed timeout bounds the whole fan-out.
func (r *Registry) FetchAll(ctx context.Context, f feed.Feed) []Result {
	results := make([]Result, len(f.Providers))

	var wg sync.WaitGroup
	for i, p := range f.Providers {
		adapter, ok := r.Get(p.ID)
		if !ok {
			results[i] = Result{Provider: p.ID, Err: &ProviderError{Provider: p.ID, Message: "not registered"}}
			continue
		}

		wg.Add(1)
		go func(i int, providerID string, adapter Adapter) {
			defer wg.Done()
			q, err := adapter.Fetch(ctx, f.AssetID, f.Currency)
			if err != nil {
				r.recordFailure(providerID)
				metrics.RecordProviderRequest(providerID, false)
				results[i] = Result{Provider: providerID, Err: err}
				return
			}
			r.recordSuccess(providerID)
			metrics.RecordProviderRequest(providerID, true)
			results[i] = Result{Provider: providerID, Quote: q}
		}(i, p.ID, adapter)
	}
	wg.Wait()
	return results
}

func (r *Registry) recordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[name]; ok {
		h.Successes++
		h.ConsecutiveFailures = 0
	}
}

func (r *Registry) recordFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[name]; ok {
		h.Failures++
		h.ConsecutiveFailures++
	}
}

// Health returns counters for every registered provider, sorted by id.
func (r *Registry) Health() []HealthSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]HealthSnapshot, 0, len(r.health))
	for name, h := range r.health {
		snap := HealthSnapshot{
			Provider:            name,
			Successes:           h.Successes,
			Failures:            h.Failures,
			ConsecutiveFailures: h.ConsecutiveFailures,
		}
		if total := h.Successes + h.Failures; total > 0 {
			snap.SuccessRate = float64(h.Successes) / float64(total)
		}
		snapshots = append(snapshots, snap)
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Provider < snapshots[j].Provider })
	return snapshots
}
