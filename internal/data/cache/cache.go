package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Cache stores opaque encoded values with a TTL
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

// Observer receives hit and miss events, typically the metrics registry
type Observer interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// Config selects and sizes the cache backend
type Config struct {
	RedisAddr     string        `yaml:"redis_addr" env:"TRADEGATE_REDIS_ADDR"`
	RedisDB       int           `yaml:"redis_db"`
	OpTimeout     time.Duration `yaml:"op_timeout"`
	MaxEntries    int           `yaml:"max_entries"`
	SnapshotTTL   time.Duration `yaml:"snapshot_ttl"`
	InstrumentTTL time.Duration `yaml:"instrument_ttl"`
	QuoteTTL      time.Duration `yaml:"quote_ttl"`
	CalendarTTL   time.Duration `yaml:"calendar_ttl"`
}

// DefaultConfig returns an in-memory cache with short quote TTLs
func DefaultConfig() Config {
	return Config{
		OpTimeout:     500 * time.Millisecond,
		MaxEntries:    10000,
		SnapshotTTL:   60 * time.Second,
		InstrumentTTL: 5 * time.Minute,
		QuoteTTL:      5 * time.Second,
		CalendarTTL:   6 * time.Hour,
	}
}

// NewAuto returns a redis-backed cache when an address is configured and an
// in-memory TTL cache otherwise.
func NewAuto(cfg Config) Cache {
	if cfg.RedisAddr != "" {
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis market data cache")
		return NewRedis(cfg)
	}
	return NewMemory(cfg.MaxEntries)
}

// Instrumented wraps a cache and reports hits and misses under a cache type label
type Instrumented struct {
	Cache
	name     string
	observer Observer
}

// WithObserver decorates c so lookups are reported to o
func WithObserver(c Cache, name string, o Observer) Cache {
	if o == nil {
		return c
	}
	return &Instrumented{Cache: c, name: name, observer: o}
}

// Get reports the lookup outcome before returning it
func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, bool) {
	v, ok := i.Cache.Get(ctx, key)
	if ok {
		i.observer.RecordCacheHit(i.name)
	} else {
		i.observer.RecordCacheMiss(i.name)
	}
	return v, ok
}
