package scraper

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket shared by every caller of one endpoint class.
// Acquire never rejects; callers just wait longer.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter admits rps requests per second with a bucket of ceil(rps)
// tokens. The bucket starts empty so a cold start cannot burst past the rate.
// rps <= 0 disables limiting.
func NewRateLimiter(rps float64) *RateLimiter {
	if rps <= 0 {
		return &RateLimiter{}
	}
	burst := int(math.Ceil(rps))
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	lim.AllowN(time.Now(), burst)
	return &RateLimiter{lim: lim}
}

func (l *RateLimiter) Acquire(ctx context.Context) error {
	if l == nil || l.lim == nil {
		return nil
	}
	return l.lim.Wait(ctx)
}

func (l *RateLimiter) Limit() float64 {
	if l == nil || l.lim == nil {
		return 0
	}
	return float64(l.lim.Limit())
}
