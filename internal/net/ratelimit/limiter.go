package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config sets the token bucket shared by every key unless an override exists
type Config struct {
	RPS       float64            `yaml:"rps"`
	Burst     int                `yaml:"burst"`
	Overrides map[string]float64 `yaml:"overrides"` // key -> rps, e.g. "options" -> 20
}

// DefaultConfig returns limits suited to a single quote gateway
func DefaultConfig() Config {
	return Config{
		RPS:   10,
		Burst: 20,
		Overrides: map[string]float64{
			"options": 25, // one request per leg
		},
	}
}

// Limiter provides per-key rate limiting using a token bucket per key.
// Keys are "<host>/<endpoint family>" for the market data gateway.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	cfg      Config
}

// NewLimiter creates a limiter with uniform RPS and burst capacity
func NewLimiter(rps float64, burst int) *Limiter {
	return NewLimiterWithConfig(Config{RPS: rps, Burst: burst})
}

// NewLimiterWithConfig creates a limiter honouring per-family overrides
func NewLimiterWithConfig(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
	}
}

// Key builds the limiter key for a host and endpoint family
func Key(host, family string) string {
	return fmt.Sprintf("%s/%s", host, family)
}

// getLimiter returns or creates the limiter for key
func (l *Limiter) getLimiter(key, family string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[key]; exists {
		return limiter
	}

	rps := l.cfg.RPS
	if override, ok := l.cfg.Overrides[family]; ok && override > 0 {
		rps = override
	}
	limiter = rate.NewLimiter(rate.Limit(rps), l.cfg.Burst)
	l.limiters[key] = limiter
	return limiter
}

// Allow returns true if a request for host/family may proceed now
func (l *Limiter) Allow(host, family string) bool {
	return l.getLimiter(Key(host, family), family).Allow()
}

// Wait blocks until a request for host/family is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context, host, family string) error {
	return l.getLimiter(Key(host, family), family).Wait(ctx)
}

// Stats returns statistics for all key limiters
func (l *Limiter) Stats() map[string]LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]LimiterStats)
	now := time.Now()

	for key, limiter := range l.limiters {
		reservation := limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel() // only probing

		stats[key] = LimiterStats{
			Key:             key,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.Tokens(),
			NextAllowedAt:   now.Add(delay),
			Delay:           delay,
		}
	}

	return stats
}

// LimiterStats represents statistics for a single key limiter
type LimiterStats struct {
	Key             string        `json:"key"`
	RPS             float64       `json:"rps"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	NextAllowedAt   time.Time     `json:"next_allowed_at"`
	Delay           time.Duration `json:"delay"`
}

// IsThrottled returns true if the limiter is currently throttling requests
func (s *LimiterStats) IsThrottled() bool {
	return s.Delay > 0
}
