package fallback

import (
	"time"

	"golang.org/x/time/rate"
)

// Budget caps how often the reasoner may be called. Calls beyond the budget
// are refused up front and the engine denies without asking.
type Budget struct {
	limiter *rate.Limiter
}

// NewBudget allows perMinute calls per minute with the given burst.
// perMinute <= 0 means unlimited.
func NewBudget(perMinute, burst int) *Budget {
	if perMinute <= 0 {
		return &Budget{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Budget{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)}
}

// Allow reports whether one more call fits in the budget at now and spends it.
// A nil Budget allows everything.
func (b *Budget) Allow(now time.Time) bool {
	if b == nil {
		return true
	}
	return b.limiter.AllowN(now, 1)
}
