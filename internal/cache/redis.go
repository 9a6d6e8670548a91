package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is the remote key-value backend. TTL enforcement is delegated to
// the store itself; no local sweeper runs.
type Redis struct {
	client  *redis.Client
	metrics Metrics
	logger  *zap.Logger
}

// RedisConfig holds the remote store connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	UseTLS   bool
}

// NewRedis connects a cache to a remote redis store.
func NewRedis(cfg RedisConfig, logger *zap.Logger) *Redis {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return NewRedisFromClient(redis.NewClient(opts), logger)
}

// NewRedisFromClient wraps an existing client. Used by tests running
// against miniredis.
func NewRedisFromClient(client *redis.Client, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, logger: logger.Named("cache")}
}

// Get implements Cache. Store errors degrade to misses so search can
// proceed uncached.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Debug("redis get failed", zap.String("key", key), zap.Error(err))
		}
		r.metrics.misses.Add(1)
		return nil, false
	}
	r.metrics.hits.Add(1)
	return val, true
}

// SetWithTTL implements Cache with SETEX semantics.
func (r *Redis) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Debug("redis set failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Stats returns the cache boundary metrics.
func (r *Redis) Stats() Stats { return r.metrics.Snapshot() }

// Close releases the underlying client.
func (r *Redis) Close() error { return r.client.Close() }
