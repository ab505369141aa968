// Package ratelimit provides a small per-key token bucket used by
// the HTTP rate-limit middleware. It is intentionally minimal: the
// presence server treats rate limiting as an external collaborator
// whose only interesting surface is the response headers it emits.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a single token bucket: maxTokens capacity, refilling one
// token every refillRate.
type Bucket struct {
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
	mu         sync.Mutex
}

// NewBucket creates a full bucket.
func NewBucket(maxTokens int, refillRate time.Duration) *Bucket {
	return &Bucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (b *Bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill)

	tokensToAdd := int(elapsed / b.refillRate)
	if tokensToAdd > 0 {
		b.tokens += tokensToAdd
		if b.tokens > b.maxTokens {
			b.tokens = b.maxTokens
		}
		b.lastRefill = now
	}
}

// Allow consumes a token if one is available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Remaining returns the current token count without consuming one.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// SecondsToNextToken estimates the wait until at least one token is
// available, for a Retry-After header.
func (b *Bucket) SecondsToNextToken() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens > 0 {
		return 0
	}
	remaining := b.refillRate - time.Since(b.lastRefill)
	if remaining < 0 {
		remaining = 0
	}
	secs := int(remaining.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter keys a Bucket per client, creating one on first sight.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*Bucket
	maxTokens int
	refillRate time.Duration
}

// NewLimiter creates a limiter where each distinct key gets its own
// bucket of maxTokens capacity, refilling at requestsPerSecond.
func NewLimiter(maxTokens int, requestsPerSecond float64) *Limiter {
	refillRate := time.Duration(float64(time.Second) / requestsPerSecond)
	return &Limiter{
		buckets:    make(map[string]*Bucket),
		maxTokens:  maxTokens,
		refillRate: refillRate,
	}
}

// Bucket returns (creating if necessary) the bucket for a key.
func (l *Limiter) Bucket(key string) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = NewBucket(l.maxTokens, l.refillRate)
		l.buckets[key] = b
	}
	return b
}
