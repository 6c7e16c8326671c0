package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"
)

// ErrOpen is returned while a breaker rejects calls
var ErrOpen = errors.New("circuit breaker open")

// Config tunes trip and recovery behaviour
type Config struct {
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	MinRequests         uint32        `yaml:"min_requests"`
	FailureRatio        float64       `yaml:"failure_ratio"`
}

// DefaultConfig trips after 3 consecutive failures or >5% failures over 20+ requests
func DefaultConfig() Config {
	return Config{
		Interval:            60 * time.Second,
		Timeout:             60 * time.Second,
		ConsecutiveFailures: 3,
		MinRequests:         20,
		FailureRatio:        0.05,
	}
}

// Breaker guards one endpoint family of the market data gateway
type Breaker struct{ cb *cb.CircuitBreaker }

// New creates a named breaker
func New(name string, cfg Config) *Breaker {
	st := cb.Settings{Name: name, Interval: cfg.Interval, Timeout: cfg.Timeout}
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
			return true
		}
		if counts.Requests < cfg.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > cfg.FailureRatio
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker. Rejections map to ErrOpen.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	out, err := b.cb.Execute(fn)
	if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
		return nil, ErrOpen
	}
	return out, err
}

// State reports the breaker state name
func (b *Breaker) State() string { return b.cb.State().String() }

// Set lazily creates one breaker per endpoint family
type Set struct {
	mu       sync.Mutex
	cfg      Config
	prefix   string
	breakers map[string]*Breaker
}

// NewSet creates an empty breaker set
func NewSet(prefix string, cfg Config) *Set {
	return &Set{cfg: cfg, prefix: prefix, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for family, creating it on first use
func (s *Set) Get(family string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[family]
	if !ok {
		b = New(s.prefix+"_"+family, s.cfg)
		s.breakers[family] = b
	}
	return b
}

// States reports each breaker's current state
func (s *Set) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.breakers))
	for family, b := range s.breakers {
		out[family] = b.State()
	}
	return out
}
