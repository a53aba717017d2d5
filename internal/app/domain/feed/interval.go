package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseInterval parses a feed update interval. Plain Go durations ("30s",
// "5m") and cron specs ("@every 1m", "0 * * * *") are both accepted so feed
// definitions can carry either form.
func ParseInterval(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("interval is required")
	}
	if !strings.HasPrefix(spec, "@") && !strings.Contains(spec, " ") {
		d, err := time.ParseDuration(spec)
		if err != nil {
			return nil, fmt.Errorf("parse duration %q: %w", spec, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("interval must be positive")
		}
		return cron.Every(d), nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return sched, nil
}

// IntervalDuration approximates the interval length, used for staleness
// checks on the read path. Cron specs report the gap between the next two
// firings.
func IntervalDuration(spec string) (time.Duration, error) {
	sched, err := ParseInterval(spec)
	if err != nil {
		return 0, err
	}
	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		return every.Delay, nil
	}
	now := time.Now()
	first := sched.Next(now)
	return sched.Next(first).Sub(first), nil
}
