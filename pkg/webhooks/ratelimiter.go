package webhooks

import (
	"sync"
	"time"
)

// RateLimiter keeps one token bucket per webhook so a slow or noisy
// receiver cannot absorb every delivery worker.
type RateLimiter struct {
	buckets   map[int64]*tokenBucket
	mutex     sync.Mutex
	maxTokens float64
	period    time.Duration
	now       func() time.Time
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter allows maxRequests per period for each webhook, refilled
// continuously. maxRequests <= 0 disables limiting.
func NewRateLimiter(maxRequests int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:   make(map[int64]*tokenBucket),
		maxTokens: float64(maxRequests),
		period:    period,
		now:       time.Now,
	}
}

// Allow takes a token for webhookID if one is available.
func (rl *RateLimiter) Allow(webhookID int64) bool {
	if rl.maxTokens <= 0 {
		return true
	}
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	bucket := rl.refill(webhookID)
	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}
	return false
}

// Remaining returns the whole tokens left for webhookID.
func (rl *RateLimiter) Remaining(webhookID int64) int {
	if rl.maxTokens <= 0 {
		return 0
	}
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return int(rl.refill(webhookID).tokens)
}

// Reset forgets the bucket for webhookID.
func (rl *RateLimiter) Reset(webhookID int64) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	delete(rl.buckets, webhookID)
}

// refill must be called with the mutex held.
func (rl *RateLimiter) refill(webhookID int64) *tokenBucket {
	now := rl.now()
	bucket, ok := rl.buckets[webhookID]
	if !ok {
		bucket = &tokenBucket{tokens: rl.maxTokens, lastRefill: now}
		rl.buckets[webhookID] = bucket
		return bucket
	}
	elapsed := now.Sub(bucket.lastRefill)
	if elapsed > 0 {
		bucket.tokens += rl.maxTokens * float64(elapsed) / float64(rl.period)
		if bucket.tokens > rl.maxTokens {
			bucket.tokens = rl.maxTokens
		}
		bucket.lastRefill = now
	}
	return bucket
}
