package resilience

import (
	"time"
)

// FromConfig converts config values to a Policy. Zero or negative values
// keep the defaults.
func FromConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier float64, timeout, maxTimeout time.Duration, timeoutGrowth float64) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		p.BaseDelay = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		p.MaxDelay = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if multiplier > 0 {
		p.Multiplier = multiplier
	}
	if timeout > 0 {
		p.Timeout = timeout
	}
	if maxTimeout > 0 {
		p.MaxTimeout = maxTimeout
	}
	if timeoutGrowth >= 1 {
		p.TimeoutGrowth = timeoutGrowth
	}
	return p
}
