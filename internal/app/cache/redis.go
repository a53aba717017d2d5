package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/quotient-labs/price-oracle/internal/app/domain/quote"
	"github.com/quotient-labs/price-oracle/pkg/logger"
)

// Redis implements Cache on a shared Redis instance so multiple replicas see
// the same latest values. Values are JSON-encoded; TTL is enforced by Redis.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

var _ Cache = (*Redis)(nil)

// NewRedis creates a Redis-backed cache. ttl <= 0 uses DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.NewDefault("cache-redis")
	}
	return &Redis{client: client, ttl: ttl, log: log}
}

func (r *Redis) SetQuote(ctx context.Context, q quote.Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, "oracle:quote:"+quoteKey(q.AssetID, q.Source), data, r.ttl).Err()
}

func (r *Redis) GetQuote(ctx context.Context, assetID, provider string) (quote.Quote, bool) {
	data, err := r.client.Get(ctx, "oracle:quote:"+quoteKey(assetID, provider)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.log.WithError(err).Warn("redis quote read failed")
		}
		return quote.Quote{}, false
	}
	var q quote.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		r.log.WithError(err).Warn("redis quote decode failed")
		return quote.Quote{}, false
	}
	return q, true
}

func (r *Redis) SetAggregated(ctx context.Context, agg quote.AggregatedPrice) error {
	data, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, "oracle:agg:"+aggKey(agg.AssetID, agg.Currency), data, r.ttl).Err()
}

func (r *Redis) GetAggregated(ctx context.Context, assetID, currency string) (quote.AggregatedPrice, bool) {
	data, err := r.client.Get(ctx, "oracle:agg:"+aggKey(assetID, currency)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.log.WithError(err).Warn("redis aggregate read failed")
		}
		return quote.AggregatedPrice{}, false
	}
	var agg quote.AggregatedPrice
	if err := json.Unmarshal(data, &agg); err != nil {
		r.log.WithError(err).Warn("redis aggregate decode failed")
		return quote.AggregatedPrice{}, false
	}
	return agg, true
}
