package notification

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DeliveryMethod names a transport a subscriber can receive events over.
type DeliveryMethod string

const (
	MethodWebhook   DeliveryMethod = "webhook"
	MethodWebsocket DeliveryMethod = "websocket"
	MethodSSE       DeliveryMethod = "sse"
)

// ParseDeliveryMethod validates a delivery method string.
func ParseDeliveryMethod(s string) (DeliveryMethod, error) {
	switch m := DeliveryMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodWebhook, MethodWebsocket, MethodSSE:
		return m, nil
	default:
		return "", fmt.Errorf("unknown delivery method %q", s)
	}
}

// EventType classifies an outbound event.
type EventType string

const (
	EventPriceUpdate     EventType = "price_update"
	EventThresholdBreach EventType = "threshold_breach"
)

// Filters narrows which events a subscription receives.
type Filters struct {
	// EventTypes limits delivery to the listed types. Empty means all.
	EventTypes []EventType `json:"event_types,omitempty"`
	// MinDeviationPercent suppresses price updates whose deviation is below
	// the given percentage.
	MinDeviationPercent float64 `json:"min_deviation_percent,omitempty"`
}

// Matches reports whether an event of the given type and deviation passes.
func (f Filters) Matches(eventType EventType, deviationPercent float64) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == eventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if eventType == EventPriceUpdate && deviationPercent < f.MinDeviationPercent {
		return false
	}
	return true
}

// DefaultMaxRetries bounds delivery attempts when a subscription does not
// override it.
const DefaultMaxRetries = 5

// Subscription is a (feed, subscriber, delivery-method) binding. Soft-deleted
// via IsActive=false so delivery history stays attributable.
type Subscription struct {
	ID            string         `json:"id"`
	FeedID        string         `json:"feed_id"`
	Method        DeliveryMethod `json:"method"`
	Endpoint      string         `json:"endpoint"`
	Secret        string         `json:"-"`
	Filters       Filters        `json:"filters"`
	MaxRetries    int            `json:"max_retries"`
	IsActive      bool           `json:"is_active"`
	SentCount     int            `json:"sent_count"`
	FailedCount   int            `json:"failed_count"`
	FailureStreak int            `json:"failure_streak"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Validate enforces subscription invariants at the API boundary.
func (s Subscription) Validate() error {
	if strings.TrimSpace(s.FeedID) == "" {
		return fmt.Errorf("feed_id is required")
	}
	if _, err := ParseDeliveryMethod(string(s.Method)); err != nil {
		return err
	}
	if s.Method == MethodWebhook && strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("endpoint is required for webhook subscriptions")
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

// EffectiveMaxRetries resolves the per-subscription override.
func (s Subscription) EffectiveMaxRetries() int {
	if s.MaxRetries > 0 {
		return s.MaxRetries
	}
	return DefaultMaxRetries
}

// TaskStatus is the lifecycle state of a notification task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusSent       TaskStatus = "sent"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether a status ends the task lifecycle.
func (s TaskStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// Priority bounds. 1 is most urgent.
const (
	PriorityHighest = 1
	PriorityLowest  = 10
)

// Task is one queued, retryable delivery obligation to a subscriber.
type Task struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	FeedID         string          `json:"feed_id"`
	Type           EventType       `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Priority       int             `json:"priority"`
	Status         TaskStatus      `json:"status"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	RetryAfter     time.Time       `json:"retry_after,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// DeliveryRecord is appended on every delivery attempt, successful or not.
type DeliveryRecord struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	SubscriptionID string    `json:"subscription_id"`
	Attempt        int       `json:"attempt"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	DeliveredAt    time.Time `json:"delivered_at"`
}
