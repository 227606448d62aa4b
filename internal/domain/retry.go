package domain

import "time"

// RetryPolicy is a fixed delay ladder with an attempt bound. The same ladder
// is shared by token-fetch retries and reconnect retries, each concern
// keeping its own attempt counter.
type RetryPolicy struct {
	Delays      []time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy is the 200/600/1200 ms ladder with three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Delays:      []time.Duration{200 * time.Millisecond, 600 * time.Millisecond, 1200 * time.Millisecond},
		MaxAttempts: 3,
	}
}

// Delay returns the backoff before attempt n (1-based). Attempts beyond the
// ladder reuse the last rung.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Delays) {
		i = len(p.Delays) - 1
	}
	return p.Delays[i]
}

// Exhausted reports whether attempt n (1-based) exceeds the bound.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt > p.MaxAttempts
}
