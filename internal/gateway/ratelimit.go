// Package gateway implements the Order Gateway Client: authenticated
// order submission, cancellation, status, balance, and fee-rate queries
// against the exchange's trading API.
package gateway

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a continuously-refilling rate limiter. Callers block in
// Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{tokens: capacity, capacity: capacity, rate: ratePerSecond, lastTime: time.Now()}
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

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups token buckets by gateway endpoint category. Each
// trading operation calls the appropriate bucket's Wait() before making
// the HTTP request.
type RateLimiter struct {
	Order  *TokenBucket
	Cancel *TokenBucket
	Book   *TokenBucket
}

// NewRateLimiter creates rate limiters tuned to the gateway's published
// per-10-second limits, with capacities set to the burst allowance and
// smooth refill rates of 50, 30 and 15 tokens per second for orders,
// cancels and book reads.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(350, 50),
		Cancel: NewTokenBucket(300, 30),
		Book:   NewTokenBucket(150, 15),
	}
}
