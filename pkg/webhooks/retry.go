package webhooks

import (
	"math"
	"net/http"
	"time"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff retry logic
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy fills zero fields of config from DefaultRetryConfig.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	def := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = def.BackoffMultiplier
	}

	return &RetryPolicy{
		config: config,
	}
}

// MaxAttempts is the attempt limit, first attempt included.
func (p *RetryPolicy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// ShouldRetry reports whether a failed attempt is worth repeating. A
// receiver answering 4xx rejected the payload itself, so only 408 and 429
// are retried from that range. statusCode is 0 when no response arrived.
func (p *RetryPolicy) ShouldRetry(attempts, statusCode int, err error) bool {
	if err == nil {
		return false
	}
	if attempts >= p.config.MaxAttempts {
		return false
	}
	if statusCode >= 400 && statusCode < 500 {
		return statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests
	}
	return true
}

// NextRetryDelay calculates the delay before the next retry
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}

	// delay = initialDelay * (multiplier ^ (attempts - 1))
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))

	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}

	return time.Duration(delay)
}

// Budget is the longest a full delivery can take when every attempt runs
// for perAttempt and every retry waits its full delay.
func (p *RetryPolicy) Budget(perAttempt time.Duration) time.Duration {
	total := time.Duration(p.config.MaxAttempts) * perAttempt
	for attempt := 1; attempt < p.config.MaxAttempts; attempt++ {
		total += p.NextRetryDelay(attempt)
	}
	return total
}
