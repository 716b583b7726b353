package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	// KeyPrefix namespaces ledger keys, typically with the bridge id.
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisLedger is an AckLedger stored in Redis, so that acknowledgments survive
// a bridge restart and are shared by bridge replicas.
type RedisLedger struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	ttl         time.Duration
	prefix      string
}

// NewRedisLedger creates and connects a new RedisLedger.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisLedger(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisLedger, error) {
	if cfg == nil {
		return nil, errors.New("redis config cannot be nil")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisLedger{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisLedger").Logger(),
		ttl:         cfg.TTL,
		prefix:      cfg.KeyPrefix,
	}, nil
}

// Record stores digest under key with the configured TTL.
func (l *RedisLedger) Record(ctx context.Context, key, digest string) error {
	redisKey := l.prefix + key
	if err := l.redisClient.Set(ctx, redisKey, digest, l.ttl).Err(); err != nil {
		l.logger.Error().Err(err).Str("key", redisKey).Msg("Failed to record acknowledgment in Redis.")
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	l.logger.Debug().Str("key", redisKey).Msg("Recorded acknowledgment in Redis.")
	return nil
}

// Lookup returns the digest stored under key. A missing key is not an error.
func (l *RedisLedger) Lookup(ctx context.Context, key string) (string, bool, error) {
	redisKey := l.prefix + key
	digest, err := l.redisClient.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		l.logger.Error().Err(err).Str("key", redisKey).Msg("Unexpected Redis error during lookup.")
		return "", false, fmt.Errorf("failed to get from redis: %w", err)
	}
	return digest, true, nil
}

// Close closes the Redis client connection.
func (l *RedisLedger) Close() error {
	if l.redisClient != nil {
		l.logger.Info().Msg("Closing Redis client connection...")
		return l.redisClient.Close()
	}
	return nil
}
