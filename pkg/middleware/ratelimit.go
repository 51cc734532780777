package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/galaxyhub/pkg/auth"
	"github.com/platinummonkey/galaxyhub/pkg/contextkeys"
	"github.com/platinummonkey/galaxyhub/pkg/httputil"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// AnonymousRateLimitConfig derives the limits for unauthenticated clients
// from the per-user limits: a tenth of the rate, at least 60 per window.
func AnonymousRateLimitConfig(user *RateLimitConfig) *RateLimitConfig {
	n := user.RequestsPerWindow / 10
	if n < 60 {
		n = 60
	}
	return &RateLimitConfig{
		RequestsPerWindow: n,
		WindowDuration:    user.WindowDuration,
		BurstSize:         user.BurstSize / 5,
	}
}

// Limiter decides whether one more request for key fits its budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Remaining(ctx context.Context, key string) (int, error)
	Config() *RateLimitConfig
}

// RateLimiter is an in-process token bucket limiter.
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
	}
}

// Config returns the limits in force.
func (rl *RateLimiter) Config() *RateLimitConfig { return rl.config }

func (rl *RateLimiter) capacity() int {
	return rl.config.RequestsPerWindow + rl.config.BurstSize
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: rl.capacity(), lastUpdate: time.Now()}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastUpdate)

	tokensToAdd := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if tokensToAdd > 0 {
		b.tokens += tokensToAdd
		if b.tokens > rl.capacity() {
			b.tokens = rl.capacity()
		}
		b.lastUpdate = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Remaining returns the number of remaining tokens for a key
func (rl *RateLimiter) Remaining(_ context.Context, key string) (int, error) {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		return rl.capacity(), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens, nil
}

// Cleanup removes buckets idle for two windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup runs Cleanup once per window until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware limits authenticated users per account and anonymous
// clients per address. Superusers are not limited.
type RateLimitMiddleware struct {
	userLimiter      Limiter
	anonymousLimiter Limiter
	audit            *auth.AuditLogger
	// failOpen lets requests through when the limiter itself errors.
	failOpen bool
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(user, anonymous Limiter, audit *auth.AuditLogger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		userLimiter:      user,
		anonymousLimiter: anonymous,
		audit:            audit,
		failOpen:         true,
	}
}

// SetFailOpen controls whether limiter errors allow (true) or reject
// (false, 503) the request.
func (m *RateLimitMiddleware) SetFailOpen(enabled bool) {
	m.failOpen = enabled
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		user := contextkeys.User(ctx)
		if user.IsSuperuser {
			next.ServeHTTP(w, r)
			return
		}

		var key string
		var limiter Limiter
		if user.IsAnonymous() {
			key = "ip:" + auth.ClientIP(r)
			limiter = m.anonymousLimiter
		} else {
			key = fmt.Sprintf("user:%d", user.ID)
			limiter = m.userLimiter
		}

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			logrus.WithError(err).WithField("key", key).Warn("rate limiter unavailable")
			if !m.failOpen {
				httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "Service temporarily unavailable.")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		cfg := limiter.Config()
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))
		if !allowed {
			m.audit.LogFromRequest(r, auth.ActionRateLimitExceeded, "request", key, auth.StatusDenied, nil)
			retryAfter := cfg.WindowDuration.Seconds()
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
			w.Header().Set("X-RateLimit-Remaining", "0")
			httputil.WriteTooManyRequests(w, fmt.Sprintf("Request was throttled. Expected available in %.0f seconds.", retryAfter))
			return
		}

		if remaining, err := limiter.Remaining(ctx, key); err == nil {
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		}
		next.ServeHTTP(w, r)
	})
}
