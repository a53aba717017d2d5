package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotient-labs/price-oracle/internal/app/cache"
	"github.com/quotient-labs/price-oracle/internal/app/domain/feed"
	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
	"github.com/quotient-labs/price-oracle/internal/app/storage"
	"github.com/quotient-labs/price-oracle/internal/app/storage/memory"
)

type priceFixture struct {
	store *memory.Store
	cache *cache.Memory
	svc   *Service
	feed  feed.Feed
	now   time.Time
}

func newPriceFixture(t *testing.T) *priceFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	f, err := store.CreateFeed(ctx, feed.Feed{
		AssetID:        "BTC",
		Currency:       "USD",
		UpdateInterval: "1m",
		Providers:      []feed.Provider{{ID: "alpha", Weight: decimal.NewFromInt(1)}},
		Method:         quote.MethodMedian,
		Active:         true,
	})
	if err != nil {
		t.Fatalf("CreateFeed: %v", err)
	}
	if err := store.PutSchedule(ctx, feed.Schedule{FeedID: f.ID, NextUpdateAt: time.Now()}); err != nil {
		t.Fatalf("PutSchedule: %v", err)
	}

	fx := &priceFixture{
		store: store,
		cache: cache.NewMemory(0),
		feed:  f,
		now:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	fx.svc = New(store, store, store, fx.cache, nil).WithClock(func() time.Time { return fx.now })
	return fx
}

func (fx *priceFixture) insertAggregate(t *testing.T, createdAt time.Time, price string) {
	t.Helper()
	_, err := fx.store.InsertAggregate(context.Background(), quote.AggregatedPrice{
		AssetID:   "BTC",
		Currency:  "USD",
		Price:     decimal.RequireFromString(price),
		Method:    quote.MethodMedian,
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("InsertAggregate: %v", err)
	}
}

func TestGetPriceFreshFromStore(t *testing.T) {
	fx := newPriceFixture(t)
	fx.insertAggregate(t, fx.now.Add(-30*time.Second), "50000")

	agg, err := fx.svc.GetPrice(context.Background(), "BTC", "USD")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if !agg.Price.Equal(decimal.RequireFromString("50000")) {
		t.Fatalf("price = %s, want 50000", agg.Price)
	}
	if agg.Stale {
		t.Fatal("30s old price flagged stale for a 1m feed")
	}
}

func TestGetPricePrefersCache(t *testing.T) {
	fx := newPriceFixture(t)
	fx.insertAggregate(t, fx.now.Add(-30*time.Second), "50000")

	cached := quote.AggregatedPrice{
		AssetID:   "BTC",
		Currency:  "USD",
		Price:     decimal.RequireFromString("50100"),
		Method:    quote.MethodMedian,
		CreatedAt: fx.now.Add(-10 * time.Second),
	}
	if err := fx.cache.SetAggregated(context.Background(), cached); err != nil {
		t.Fatalf("SetAggregated: %v", err)
	}

	agg, err := fx.svc.GetPrice(context.Background(), "BTC", "USD")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if !agg.Price.Equal(decimal.RequireFromString("50100")) {
		t.Fatalf("price = %s, want cached 50100", agg.Price)
	}
}

func TestGetPriceStaleWhenOld(t *testing.T) {
	fx := newPriceFixture(t)
	// 1m interval: anything older than 2m is stale.
	fx.insertAggregate(t, fx.now.Add(-3*time.Minute), "50000")

	agg, err := fx.svc.GetPrice(context.Background(), "BTC", "USD")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if !agg.Stale {
		t.Fatal("3m old price not flagged stale for a 1m feed")
	}
}

func TestGetPriceStaleWhenFeedPaused(t *testing.T) {
	fx := newPriceFixture(t)
	fx.insertAggregate(t, fx.now.Add(-10*time.Second), "50000")

	sched, err := fx.store.GetSchedule(context.Background(), fx.feed.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	sched.IsPaused = true
	if err := fx.store.PutSchedule(context.Background(), sched); err != nil {
		t.Fatalf("PutSchedule: %v", err)
	}

	agg, err := fx.svc.GetPrice(context.Background(), "BTC", "USD")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if !agg.Stale {
		t.Fatal("price from a paused feed not flagged stale")
	}
}

func TestGetPriceUnknownPair(t *testing.T) {
	fx := newPriceFixture(t)
	if _, err := fx.svc.GetPrice(context.Background(), "DOGE", "USD"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetPriceHistoryDefaultsAndLimit(t *testing.T) {
	fx := newPriceFixture(t)
	for i := 0; i < 5; i++ {
		fx.insertAggregate(t, fx.now.Add(-time.Duration(i)*time.Hour), "50000")
	}

	history, err := fx.svc.GetPriceHistory(context.Background(), "BTC", "USD", time.Time{}, time.Time{}, 3)
	if err != nil {
		t.Fatalf("GetPriceHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history = %d entries, want limit 3", len(history))
	}
}

func TestPrunerRunOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	old := now.Add(-40 * 24 * time.Hour)
	err := store.InsertQuotes(ctx, []quote.Quote{
		{AssetID: "BTC", Currency: "USD", Price: decimal.NewFromInt(1), Confidence: 1, Source: "a", ObservedAt: old},
		{AssetID: "BTC", Currency: "USD", Price: decimal.NewFromInt(2), Confidence: 1, Source: "b", ObservedAt: old.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("InsertQuotes: %v", err)
	}

	p := NewPruner(store, store, nil)
	p.now = func() time.Time { return now }
	p.RunOnce(ctx)

	if got := store.QuoteCount(); got != 1 {
		t.Fatalf("quotes after prune = %d, want 1 per asset per day", got)
	}
}
