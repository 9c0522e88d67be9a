// Package server implements a token bucket rate limiter for per-connection
// and per-client throttling that protects rooms from abuse.
package server

import (
	"sync"
	"time"
)

type rateLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	rate := float64(capacity) / interval.Seconds()
	if rate <= 0 {
		rate = float64(capacity)
	}

	return &rateLimiter{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      rate,
		lastCheck: time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastCheck).Seconds()
	rl.lastCheck = now

	if elapsed > 0 {
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
	}

	if rl.tokens < 1 {
		return false
	}

	rl.tokens--
	return true
}

func (rl *rateLimiter) idleSince() time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.lastCheck
}

// maxLimiters bounds the number of tracked clients before idle ones are
// pruned.
const maxLimiters = 1024

// limiterSet keeps one rateLimiter per client key for requests that have no
// long-lived connection, such as HTTP posts.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rateLimiter
	cfg      RateLimitConfig
}

func newLimiterSet(cfg RateLimitConfig) *limiterSet {
	return &limiterSet{
		limiters: make(map[string]*rateLimiter),
		cfg:      cfg,
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	rl, ok := s.limiters[key]
	if !ok {
		if len(s.limiters) >= maxLimiters {
			s.prune()
		}
		rl = newRateLimiter(s.cfg.Burst, s.cfg.RefillInterval)
		s.limiters[key] = rl
	}
	s.mu.Unlock()

	return rl.allow()
}

// prune drops limiters idle long enough to have refilled. Must be called
// with s.mu held.
func (s *limiterSet) prune() {
	cutoff := time.Now().Add(-s.cfg.RefillInterval)
	for key, rl := range s.limiters {
		if rl.idleSince().Before(cutoff) {
			delete(s.limiters, key)
		}
	}
}
