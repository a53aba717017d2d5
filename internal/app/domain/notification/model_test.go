package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeliveryMethod(t *testing.T) {
	for _, s := range []string{"webhook", "WebSocket", " sse "} {
		m, err := ParseDeliveryMethod(s)
		require.NoError(t, err, "method %q", s)
		assert.NotEmpty(t, m)
	}

	_, err := ParseDeliveryMethod("carrier-pigeon")
	assert.Error(t, err)
}

func TestFiltersMatches(t *testing.T) {
	cases := []struct {
		name      string
		filters   Filters
		eventType EventType
		deviation float64
		want      bool
	}{
		{"empty filters pass everything", Filters{}, EventPriceUpdate, 0, true},
		{"type allowed", Filters{EventTypes: []EventType{EventPriceUpdate}}, EventPriceUpdate, 0, true},
		{"type excluded", Filters{EventTypes: []EventType{EventThresholdBreach}}, EventPriceUpdate, 0, false},
		{"deviation below floor", Filters{MinDeviationPercent: 5}, EventPriceUpdate, 4.9, false},
		{"deviation at floor", Filters{MinDeviationPercent: 5}, EventPriceUpdate, 5, true},
		{"breach ignores deviation floor", Filters{MinDeviationPercent: 5}, EventThresholdBreach, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filters.Matches(tc.eventType, tc.deviation))
		})
	}
}

func TestSubscriptionValidate(t *testing.T) {
	valid := Subscription{FeedID: "f1", Method: MethodWebhook, Endpoint: "https://example.com/hook"}
	require.NoError(t, valid.Validate())

	missingFeed := valid
	missingFeed.FeedID = " "
	assert.Error(t, missingFeed.Validate())

	badMethod := valid
	badMethod.Method = "smoke-signal"
	assert.Error(t, badMethod.Validate())

	webhookNoEndpoint := valid
	webhookNoEndpoint.Endpoint = ""
	assert.Error(t, webhookNoEndpoint.Validate())

	// Streaming methods carry no endpoint; the client connects to us.
	ws := Subscription{FeedID: "f1", Method: MethodWebsocket}
	assert.NoError(t, ws.Validate())

	negative := valid
	negative.MaxRetries = -1
	assert.Error(t, negative.Validate())
}

func TestEffectiveMaxRetries(t *testing.T) {
	assert.Equal(t, DefaultMaxRetries, Subscription{}.EffectiveMaxRetries())
	assert.Equal(t, 3, Subscription{MaxRetries: 3}.EffectiveMaxRetries())
}

func TestTaskStatusTerminal(t *testing.T) {
	for status, terminal := range map[TaskStatus]bool{
		StatusPending:    false,
		StatusProcessing: false,
		StatusSent:       true,
		StatusFailed:     true,
		StatusCancelled:  true,
	} {
		assert.Equal(t, terminal, status.Terminal(), "status %s", status)
	}
}
