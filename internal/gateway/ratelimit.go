package gateway

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter returns a token bucket refilling continuously to allow events per
// window, with a burst equal to the full allowance. This replaces the teacher's
// fixed-window eventCount/windowStart counter (reset to zero at each window boundary,
// which lets a client burst up to 2x the limit across a boundary); a token bucket has
// no such edge and matches spec.md §4.7's "continuous refill" requirement.
func newRateLimiter(events int, window time.Duration) *rate.Limiter {
	r := rate.Limit(float64(events) / window.Seconds())
	return rate.NewLimiter(r, events)
}
