// Package notifier delivers outbound events to subscribers through a durable
// task queue with priority ordering and exponential-backoff retries.
package notifier

import (
	"context"
	"encoding/json"

	"github.com/quotient-labs/price-oracle/internal/app/domain/notification"
)

// Notifier is the single delivery capability all transports implement.
// New channels are added by registration on the dispatcher, not by changing
// the delivery loop.
type Notifier interface {
	Method() notification.DeliveryMethod
	Deliver(ctx context.Context, sub notification.Subscription, payload json.RawMessage) error
}
