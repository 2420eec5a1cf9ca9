package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter provides per-host rate limiting using token bucket algorithm
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter creates a new rate limiter with the specified RPS and burst capacity.
// A non-positive rps disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) getLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[host]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists := l.limiters[host]; exists {
		return limiter
	}

	limit := rate.Limit(l.rps)
	if l.rps <= 0 {
		limit = rate.Inf
	}
	limiter = rate.NewLimiter(limit, l.burst)
	l.limiters[host] = limiter
	return limiter
}

// Wait blocks until a request for the specified host is allowed or context is cancelled
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.getLimiter(host).Wait(ctx)
}

// Stats returns statistics for all host limiters
func (l *Limiter) Stats() map[string]Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]Stats, len(l.limiters))
	for host, limiter := range l.limiters {
		s := Stats{Host: host, Burst: limiter.Burst()}
		if limiter.Limit() == rate.Inf {
			s.Unlimited = true
			s.TokensAvailable = float64(limiter.Burst())
		} else {
			s.RPS = float64(limiter.Limit())
			s.TokensAvailable = limiter.Tokens()
			s.Throttled = s.TokensAvailable < 1
		}
		stats[host] = s
	}
	return stats
}

// Stats is a point-in-time view of one host limiter. Throttled means the next
// request would have to wait.
type Stats struct {
	Host            string  `json:"host"`
	RPS             float64 `json:"rps"`
	Unlimited       bool    `json:"unlimited"`
	Burst           int     `json:"burst"`
	TokensAvailable float64 `json:"tokens_available"`
	Throttled       bool    `json:"throttled"`
}
