// ratelimit.go implements token-bucket rate limiting for the Polymarket
// HTTP APIs.
//
// The CLOB enforces per-category limits measured in requests per 10-second
// windows; the Data API is undocumented but throttles aggressive pollers.
// Buckets refill continuously (rather than in 10s bursts) to stay clear of
// the hard limits.
//
// Two buckets are maintained:
//   - Activity: 30 burst / 5 per sec — Data API activity pulls
//   - Book:     150 burst / 15 per sec (maps to the CLOB 1500/10s limit)
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by upstream endpoint category.
// Each fetch must call the appropriate bucket's Wait() before making the
// HTTP request.
type RateLimiter struct {
	Activity *TokenBucket // GET /activity — source trade pulls
	Book     *TokenBucket // GET /book — order book probes
}

// NewRateLimiter creates rate limiters tuned to the upstream limits.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Activity: NewTokenBucket(30, 5),
		Book:     NewTokenBucket(150, 15), // 1500 per 10s window
	}
}
