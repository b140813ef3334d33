// Package ratelimit implements a token bucket admission limiter keyed by capture owner.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/compliance-archiver/internal/metrics"
)

// Limiter manages per-owner rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	PerOwnerRPS float64
	Burst       int
}

// New creates a new Limiter. A non-positive rate disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.PerOwnerRPS)
	if cfg.PerOwnerRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

func (l *Limiter) bucket(owner string) *rate.Limiter {
	key := strings.TrimSpace(owner)
	if key == "" {
		key = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[key] = limiter
	}
	return limiter
}

// Allow reports whether owner may start another capture now. Rejections are counted.
func (l *Limiter) Allow(owner string) bool {
	if l.bucket(owner).Allow() {
		return true
	}
	metrics.ObserveAdmissionRejected()
	return false
}

// RetryAfter estimates how long owner must wait for the next token.
func (l *Limiter) RetryAfter(owner string) time.Duration {
	r := l.bucket(owner).Reserve()
	defer r.Cancel()
	if !r.OK() {
		return time.Second
	}
	return r.Delay()
}

// Wait blocks until owner has a token, respecting ctx. Used by queue consumers.
func (l *Limiter) Wait(ctx context.Context, owner string) error {
	if err := l.bucket(owner).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
