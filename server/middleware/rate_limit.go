package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	apierrors "github.com/hrygo/brandpulse/server/internal/errors"
)

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*entry
	rps    rate.Limit
	burst  int
	idle   time.Duration
	now    func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per key
// with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		limits: make(map[string]*entry),
		rps:    rate.Limit(rps),
		burst:  burst,
		idle:   10 * time.Minute,
		now:    time.Now,
	}
}

// getLimiter gets or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if e, ok := rl.limits[key]; ok {
		e.lastSeen = now
		return e.limiter
	}

	limiter := rate.NewLimiter(rl.rps, rl.burst)
	rl.limits[key] = &entry{limiter: limiter, lastSeen: now}
	return limiter
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Wait waits for a request to be allowed.
// Returns error if the context is cancelled or rate limit exceeded.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.getLimiter(key).Wait(ctx)
}

// Prune drops limiters of clients not seen for the idle period.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	removed := 0
	for key, e := range rl.limits {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limits, key)
			removed++
		}
	}
	return removed
}

// Middleware rejects requests over the limit with 429, keyed by client IP.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.Allow(c.RealIP()) {
				err := apierrors.RateLimitExceeded("rate limit exceeded")
				return c.JSON(err.Code.HTTPStatus(), err.Body())
			}
			return next(c)
		}
	}
}
