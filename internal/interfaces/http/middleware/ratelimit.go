package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/freight/recognition/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// RateLimiter is a fixed window request counter keyed by caller
type RateLimiter struct {
	mu      sync.Mutex
	callers map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
}

type window struct {
	remaining int
	startedAt time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per period for each key.
// Expired keys are swept until ctx is done.
func NewRateLimiter(ctx context.Context, limit int, period time.Duration) *RateLimiter {
	rl := &RateLimiter{
		callers: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
	go rl.sweep(ctx)
	return rl
}

func (rl *RateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(rl.period * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, w := range rl.callers {
				if now.Sub(w.startedAt) > rl.period*2 {
					delete(rl.callers, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow consumes one request for key and reports whether it fits the window
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.callers[key]
	if !ok || now.Sub(w.startedAt) >= rl.period {
		rl.callers[key] = &window{remaining: rl.limit - 1, startedAt: now}
		return rl.limit > 0
	}
	if w.remaining > 0 {
		w.remaining--
		return true
	}
	return false
}

// Remaining returns the requests left for key in the current window
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.callers[key]
	if !ok || rl.now().Sub(w.startedAt) >= rl.period {
		return rl.limit
	}
	return w.remaining
}

// Limit returns the requests allowed per window
func (rl *RateLimiter) Limit() int {
	return rl.limit
}

// RateLimit limits requests per company and client IP. Place it after the
// JWT middleware so the company is resolved.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return RateLimitByKey(limiter, func(c *gin.Context) string {
		if company := GetCompany(c); company != "" {
			return company + ":" + c.ClientIP()
		}
		return c.ClientIP()
	})
}

// RateLimitByKey limits requests using a custom key extractor
func RateLimitByKey(limiter *RateLimiter, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)

		if !limiter.Allow(key) {
			c.Header("Retry-After", strconv.Itoa(int(limiter.period.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRateLimited,
				"Too many requests. Please try again later.",
				GetRequestID(c),
			))
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))
		c.Next()
	}
}
