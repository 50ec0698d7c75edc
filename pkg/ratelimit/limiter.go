package ratelimit

import (
	"math/rand"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow checks if a request is allowed under the current rate limit
	Allow() bool
	// Wait blocks until the rate limit allows another request
	Wait()
	// Reset resets the rate limiter state
	Reset()
}

// Interval enforces a fixed minimum spacing between consecutive
// operations, plus a small random jitter so the request pattern is not
// perfectly periodic.
type Interval struct {
	minDelay time.Duration
	jitter   time.Duration
	last     time.Time
	mu       sync.Mutex

	sleep func(time.Duration) // test hook
	now   func() time.Time    // test hook
}

// NewInterval creates an interval limiter with the given minimum
// spacing and jitter bound.
func NewInterval(minDelay, jitter time.Duration) *Interval {
	return &Interval{
		minDelay: minDelay,
		jitter:   jitter,
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// Allow reports whether the minimum spacing has elapsed; if it has,
// the operation is recorded.
func (i *Interval) Allow() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	if !i.last.IsZero() && now.Sub(i.last) < i.minDelay {
		return false
	}
	i.last = now
	return true
}

// Wait blocks until the minimum spacing plus a random jitter has
// elapsed since the previous operation, then records the operation.
func (i *Interval) Wait() {
	i.mu.Lock()
	now := i.now()
	var delay time.Duration
	if !i.last.IsZero() {
		elapsed := now.Sub(i.last)
		if elapsed < i.minDelay {
			delay = i.minDelay - elapsed
		}
	}
	if i.jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(i.jitter) + 1))
	}
	i.mu.Unlock()

	if delay > 0 {
		i.sleep(delay)
	}

	i.mu.Lock()
	i.last = i.now()
	i.mu.Unlock()
}

// Reset forgets the last recorded operation
func (i *Interval) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.last = time.Time{}
}

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	capacity     int
	tokens       int
	refillPeriod time.Duration
	lastRefill   time.Time
	mu           sync.Mutex
}

// NewTokenBucket creates a new token bucket rate limiter
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		lastRefill:   time.Now(),
	}
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	return false
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait() {
	for !tb.Allow() {
		tb.mu.Lock()
		timeUntilRefill := tb.refillPeriod - time.Since(tb.lastRefill)
		tb.mu.Unlock()

		if timeUntilRefill > 0 {
			time.Sleep(timeUntilRefill)
		} else {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// Reset resets the token bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = time.Now()
}

// refill adds tokens based on elapsed time
func (tb *TokenBucket) refill() {
	now := time.Now()
	if now.Sub(tb.lastRefill) >= tb.refillPeriod {
		tb.tokens = tb.capacity
		tb.lastRefill = now
	}
}
