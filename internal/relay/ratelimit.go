package relay

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimit bounds how many envelopes a single session may send: Burst
// envelopes per RefillInterval, refilled continuously.
type RateLimit struct {
	Burst          int
	RefillInterval time.Duration
}

// newLimiter returns nil when rate limiting is disabled.
func (rl RateLimit) newLimiter() *rate.Limiter {
	if rl.Burst <= 0 {
		return nil
	}
	interval := rl.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	perSecond := float64(rl.Burst) / interval.Seconds()
	return rate.NewLimiter(rate.Limit(perSecond), rl.Burst)
}
