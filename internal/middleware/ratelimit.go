package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/mediadrop/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadrop/internal/metrics"
)

// Limiter decides whether a request for key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is an in-process token bucket per client
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps int, burst int) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow consumes one token for key
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	return rl.getLimiter(key).AllowN(rl.now(), 1), nil
}

// getLimiter returns a rate limiter for a specific key
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = rl.now()

	return v.limiter
}

// Prune drops limiters idle for longer than idle and returns how many went
func (rl *RateLimiter) Prune(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	var removed int
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
			removed++
		}
	}
	return removed
}

// Cleanup prunes idle limiters every interval until ctx is done
func (rl *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Prune(interval)
		}
	}
}

// WindowCounter counts requests in a shared fixed window
type WindowCounter interface {
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

// SharedRateLimiter applies a fixed-window limit kept in Redis so that every
// API replica sees the same counts
type SharedRateLimiter struct {
	counter WindowCounter
	limit   int64
	window  time.Duration
}

// NewSharedRateLimiter creates a limiter allowing limit requests per window
func NewSharedRateLimiter(counter WindowCounter, limit int64, window time.Duration) *SharedRateLimiter {
	return &SharedRateLimiter{counter: counter, limit: limit, window: window}
}

// Allow counts one request for key
func (s *SharedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return s.counter.CheckRateLimit(ctx, key, s.limit, s.window)
}

// RateLimit middleware limits requests per client IP. Limiter errors let the
// request through.
func RateLimit(l Limiter, backend string, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ip:%s", c.ClientIP())

		allowed, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			logger.WithError(err).Warnf("Rate limiter unavailable, allowing %s", key)
			c.Next()
			return
		}

		if !allowed {
			metrics.RecordRateLimited(backend)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
				"kind":  "rate_limited",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
