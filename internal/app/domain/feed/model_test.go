package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
)

func validFeed() Feed {
	return Feed{
		AssetID:        "BTC",
		Currency:       "USD",
		UpdateInterval: "30s",
		Providers: []Provider{
			{ID: "alpha", Weight: decimal.NewFromInt(1)},
			{ID: "beta", Weight: decimal.NewFromInt(2)},
		},
		Method: quote.MethodMedian,
	}
}

func TestFeedValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Feed)
		wantErr string
	}{
		{"valid", func(f *Feed) {}, ""},
		{"missing asset", func(f *Feed) { f.AssetID = " " }, "asset_id"},
		{"missing currency", func(f *Feed) { f.Currency = "" }, "currency"},
		{"bad interval", func(f *Feed) { f.UpdateInterval = "soon" }, "update_interval"},
		{"no providers", func(f *Feed) { f.Providers = nil }, "provider"},
		{"zero weight", func(f *Feed) { f.Providers[0].Weight = decimal.Zero }, "weight"},
		{"duplicate provider", func(f *Feed) { f.Providers[1].ID = "alpha" }, "twice"},
		{"bad method", func(f *Feed) { f.Method = "harmonic" }, "method"},
		{"negative threshold", func(f *Feed) { f.DeviationThreshold = decimal.NewFromInt(-1) }, "deviation_threshold"},
		{"negative min sources", func(f *Feed) { f.MinSources = -1 }, "min_sources"},
		{"negative pause threshold", func(f *Feed) { f.PauseThreshold = -2 }, "pause_threshold"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := validFeed()
			tc.mutate(&f)
			err := f.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestEffectiveDefaults(t *testing.T) {
	f := validFeed()
	if got := f.EffectiveMinSources(); got != DefaultMinSources {
		t.Fatalf("min sources = %d, want default %d", got, DefaultMinSources)
	}
	if got := f.EffectivePauseThreshold(); got != DefaultPauseThreshold {
		t.Fatalf("pause threshold = %d, want default %d", got, DefaultPauseThreshold)
	}

	f.MinSources = 3
	f.PauseThreshold = 7
	if got := f.EffectiveMinSources(); got != 3 {
		t.Fatalf("min sources = %d, want override 3", got)
	}
	if got := f.EffectivePauseThreshold(); got != 7 {
		t.Fatalf("pause threshold = %d, want override 7", got)
	}
}

func TestWeightLookup(t *testing.T) {
	f := validFeed()
	w, ok := f.Weight("beta")
	if !ok || !w.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("weight = %s/%v, want 2", w, ok)
	}
	if _, ok := f.Weight("unknown"); ok {
		t.Fatal("unexpected weight for unknown provider")
	}
}

func TestParseIntervalDurations(t *testing.T) {
	sched, err := ParseInterval("30s")
	if err != nil {
		t.Fatalf("ParseInterval: %v", err)
	}
	now := time.Now()
	if got := sched.Next(now).Sub(now); got < 29*time.Second || got > 31*time.Second {
		t.Fatalf("next firing in %s, want ~30s", got)
	}
}

func TestParseIntervalCronSpecs(t *testing.T) {
	if _, err := ParseInterval("@every 5m"); err != nil {
		t.Fatalf("@every spec rejected: %v", err)
	}
	if _, err := ParseInterval("0 * * * *"); err != nil {
		t.Fatalf("cron spec rejected: %v", err)
	}
}

func TestParseIntervalRejectsInvalid(t *testing.T) {
	for _, spec := range []string{"", "  ", "never", "-5s", "0s"} {
		if _, err := ParseInterval(spec); err == nil {
			t.Fatalf("spec %q accepted", spec)
		}
	}
}

func TestIntervalDuration(t *testing.T) {
	d, err := IntervalDuration("45s")
	if err != nil || d != 45*time.Second {
		t.Fatalf("IntervalDuration = %s, %v; want 45s", d, err)
	}
	d, err = IntervalDuration("@every 2m")
	if err != nil || d != 2*time.Minute {
		t.Fatalf("IntervalDuration = %s, %v; want 2m", d, err)
	}
}
