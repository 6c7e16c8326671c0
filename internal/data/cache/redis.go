package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis is a cache backed by a shared redis instance
type Redis struct {
	client    *redis.Client
	opTimeout time.Duration
	prefix    string
}

// NewRedis connects lazily; failures surface as cache misses
func NewRedis(cfg Config) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB}), cfg.OpTimeout)
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, opTimeout time.Duration) *Redis {
	if opTimeout <= 0 {
		opTimeout = 500 * time.Millisecond
	}
	return &Redis{client: client, opTimeout: opTimeout, prefix: "tradegate:"}
}

// Get reads key; any redis error is treated as a miss
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("redis get failed")
		}
		return nil, false
	}
	return v, true
}

// Set writes key with ttl; errors are logged and dropped
func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.prefix+key, val, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("redis set failed")
	}
}

// Ping verifies connectivity
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Close releases the client
func (r *Redis) Close() error {
	return r.client.Close()
}
