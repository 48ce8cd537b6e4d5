// rate_limiter.go - Per-caller token bucket rate limiting
package api

import (
	"sync"
	"time"
)

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
	now          func() time.Time
}

// NewRateLimiter creates a bucket of maxTokens that regains refillRate tokens
// every refillPeriod.
func NewRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return newRateLimiter(maxTokens, refillRate, refillPeriod, time.Now)
}

func newRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   now(),
		refillPeriod: refillPeriod,
		now:          now,
	}
}

// Allow consumes a token if one is available
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if refills := int(now.Sub(rl.lastRefill) / rl.refillPeriod); refills > 0 {
		rl.tokens += refills * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = rl.lastRefill.Add(time.Duration(refills) * rl.refillPeriod)
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens returns the current number of available tokens
func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens
}

// Reset refills the bucket
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = rl.maxTokens
	rl.lastRefill = rl.now()
}

// CallerRateLimiter keeps one bucket per caller
type CallerRateLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*RateLimiter
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
	now          func() time.Time
}

// NewCallerRateLimiter creates a limiter whose buckets refill every refillPeriod
func NewCallerRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *CallerRateLimiter {
	return &CallerRateLimiter{
		limiters:     make(map[string]*RateLimiter),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

// Allow checks if a request from caller is allowed
func (c *CallerRateLimiter) Allow(caller string) bool {
	c.mu.Lock()
	limiter, ok := c.limiters[caller]
	if !ok {
		limiter = newRateLimiter(c.maxTokens, c.refillRate, c.refillPeriod, c.now)
		c.limiters[caller] = limiter
	}
	c.mu.Unlock()

	return limiter.Allow()
}

// Tokens returns the tokens left for caller
func (c *CallerRateLimiter) Tokens(caller string) int {
	c.mu.Lock()
	limiter, ok := c.limiters[caller]
	c.mu.Unlock()
	if !ok {
		return c.maxTokens
	}
	return limiter.Tokens()
}

// Reset refills the bucket of caller
func (c *CallerRateLimiter) Reset(caller string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limiter, ok := c.limiters[caller]; ok {
		limiter.Reset()
	}
}
