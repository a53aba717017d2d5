// Package aggregator reconciles a cycle's surviving quotes into one
// aggregated price. All arithmetic is fixed-point decimal; divisions round
// to quote.Scale fractional digits.
package aggregator

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotient-labs/price-oracle/internal/app/domain/feed"
	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

// Cycle-level failures. Both abort the cycle with no price emitted; the
// scheduler counts them as a failed cycle.
var (
	ErrInsufficientSources = errors.New("insufficient sources")
	ErrAllOutliers         = errors.New("all quotes removed as outliers")
)

// iqrFence is the Tukey fence multiplier for outlier removal.
var iqrFence = decimal.RequireFromString("1.5")

var hundred = decimal.NewFromInt(100)

// Aggregator computes aggregated prices. The zero value is not usable; use New.
type Aggregator struct {
	minSources int
	log        *logger.Logger
}

// New constructs an aggregator. minSources <= 0 falls back to the default.
func New(minSources int, log *logger.Logger) *Aggregator {
	if minSources <= 0 {
		minSources = feed.DefaultMinSources
	}
	if log == nil {
		log = logger.NewDefault("aggregator")
	}
	return &Aggregator{minSources: minSources, log: log}
}

// Aggregate reconciles quotes for the given feed. Deterministic: the same
// quotes and feed configuration always produce the same price, confidence
// and deviation.
func (a *Aggregator) Aggregate(quotes []quote.Quote, f feed.Feed) (quote.AggregatedPrice, error) {
	start := time.Now()

	minSources := a.minSources
	if f.MinSources > 0 {
		minSources = f.MinSources
	}
	if len(quotes) < minSources {
		return quote.AggregatedPrice{}, ErrInsufficientSources
	}

	accepted, removed := removeOutliers(quotes)
	if len(accepted) == 0 {
		return quote.AggregatedPrice{}, ErrAllOutliers
	}
	if len(accepted) < minSources {
		return quote.AggregatedPrice{}, ErrInsufficientSources
	}

	method, err := quote.ParseMethod(string(f.Method))
	if err != nil {
		return quote.AggregatedPrice{}, err
	}

	var price decimal.Decimal
	switch method {
	case quote.MethodMean:
		price = mean(accepted)
	case quote.MethodMedian:
		price = median(accepted)
	case quote.MethodWeightedAverage:
		price = weighted(accepted, f, false)
	case quote.MethodVolumeWeighted:
		price = weighted(accepted, f, true)
	}

	deviation := deviationPercent(accepted)
	confidence, flagged := scaleConfidence(baseConfidence(accepted), deviation, f.DeviationThreshold)

	return quote.AggregatedPrice{
		AssetID:          f.AssetID,
		Currency:         f.Currency,
		Price:            price,
		Confidence:       confidence,
		Method:           method,
		SourceCount:      len(accepted),
		DeviationPercent: deviation,
		OutliersRemoved:  removed,
		Flagged:          flagged,
		ProcessingTime:   time.Since(start),
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// removeOutliers discards quotes beyond the 1.5*IQR Tukey fences. With fewer
// than four quotes the quartiles are not meaningful and nothing is removed.
func removeOutliers(quotes []quote.Quote) (accepted []quote.Quote, removed int) {
	if len(quotes) < 4 {
		return quotes, 0
	}

	prices := make([]decimal.Decimal, len(quotes))
	for i, q := range quotes {
		prices[i] = q.Price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })

	q1 := quartile(prices, 0.25)
	q3 := quartile(prices, 0.75)
	iqr := q3.Sub(q1)
	lower := q1.Sub(iqr.Mul(iqrFence))
	upper := q3.Add(iqr.Mul(iqrFence))

	accepted = make([]quote.Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.Price.LessThan(lower) || q.Price.GreaterThan(upper) {
			removed++
			continue
		}
		accepted = append(accepted, q)
	}
	return accepted, removed
}

// quartile computes the p-quantile of sorted prices by linear interpolation.
func quartile(sorted []decimal.Decimal, p float64) decimal.Decimal {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p * float64(n-1)
	idx := int(pos)
	frac := pos - float64(idx)
	if idx >= n-1 {
		return sorted[n-1]
	}
	delta := sorted[idx+1].Sub(sorted[idx])
	return sorted[idx].Add(delta.Mul(decimal.NewFromFloat(frac)).Round(quote.Scale))
}

func mean(quotes []quote.Quote) decimal.Decimal {
	sum := decimal.Zero
	for _, q := range quotes {
		sum = sum.Add(q.Price)
	}
	return sum.DivRound(decimal.NewFromInt(int64(len(quotes))), quote.Scale)
}

func median(quotes []quote.Quote) decimal.Decimal {
	prices := make([]decimal.Decimal, len(quotes))
	for i, q := range quotes {
		prices[i] = q.Price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })

	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid]
	}
	return prices[mid-1].Add(prices[mid]).DivRound(decimal.NewFromInt(2), quote.Scale)
}

// weighted computes sum(price*weight)/sum(weight). With byVolume set, the weight is
// the provider-reported trade volume when present, falling back to the
// configured provider weight; unknown providers weigh 1.
func weighted(quotes []quote.Quote, f feed.Feed, byVolume bool) decimal.Decimal {
	weightedSum := decimal.Zero
	totalWeight := decimal.Zero
	for _, q := range quotes {
		w, ok := f.Weight(q.Source)
		if !ok {
			w = decimal.NewFromInt(1)
		}
		if byVolume && q.Volume.IsPositive() {
			w = q.Volume
		}
		weightedSum = weightedSum.Add(q.Price.Mul(w))
		totalWeight = totalWeight.Add(w)
	}
	if totalWeight.IsZero() {
		return mean(quotes)
	}
	return weightedSum.DivRound(totalWeight, quote.Scale)
}

// deviationPercent is (max-min)/mean * 100 over the accepted set.
func deviationPercent(quotes []quote.Quote) decimal.Decimal {
	min := quotes[0].Price
	max := quotes[0].Price
	for _, q := range quotes[1:] {
		if q.Price.LessThan(min) {
			min = q.Price
		}
		if q.Price.GreaterThan(max) {
			max = q.Price
		}
	}
	m := mean(quotes)
	if m.IsZero() {
		return decimal.Zero
	}
	return max.Sub(min).Mul(hundred).DivRound(m, quote.Scale)
}

func baseConfidence(quotes []quote.Quote) float64 {
	sum := 0.0
	for _, q := range quotes {
		sum += q.Confidence
	}
	return sum / float64(len(quotes))
}

// scaleConfidence reduces confidence proportionally to how far the deviation
// exceeds the threshold, floored at zero. A zero threshold disables the check.
func scaleConfidence(confidence float64, deviation, threshold decimal.Decimal) (float64, bool) {
	if !threshold.IsPositive() || deviation.LessThanOrEqual(threshold) {
		return confidence, false
	}
	excess, _ := deviation.Sub(threshold).DivRound(threshold, quote.Scale).Float64()
	factor := 1.0 - excess
	if factor < 0 {
		factor = 0
	}
	return confidence * factor, true
}
