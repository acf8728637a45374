package page

import (
	"context"
	"strings"
	"time"

	"usagewatch/internal/config"
)

// WaitPolicy masks client-side rendering latency: re-read the page until a
// percent sign shows up or attempts run out, then wait one settle delay and
// take the final read. A heuristic, not a guarantee.
type WaitPolicy struct {
	Attempts int
	Interval time.Duration
	Settle   time.Duration
}

func PolicyFromConfig(cfg config.PageConfig) (WaitPolicy, error) {
	interval, err := config.DurationOr("page.wait_interval", cfg.WaitInterval, 500*time.Millisecond)
	if err != nil {
		return WaitPolicy{}, err
	}
	settle, err := config.DurationOr("page.settle_delay", cfg.SettleDelay, 3*time.Second)
	if err != nil {
		return WaitPolicy{}, err
	}
	attempts := cfg.WaitAttempts
	if attempts <= 0 {
		attempts = 30
	}
	return WaitPolicy{Attempts: attempts, Interval: interval, Settle: settle}, nil
}

// AwaitRender polls src under the policy and returns the settled content.
// A transient fetch error during polling is tolerated; only the final read's
// error is reported.
func AwaitRender(ctx context.Context, src Source, p WaitPolicy) (string, error) {
	for attempt := 1; attempt < p.Attempts; attempt++ {
		content, err := src.Fetch(ctx)
		if err == nil && strings.Contains(content, "%") {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.Interval):
		}
	}

	if p.Settle > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.Settle):
		}
	}
	return src.Fetch(ctx)
}
