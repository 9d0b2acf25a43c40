/*
Package cache holds the display-only balance cache.

PURPOSE:
  The mobile points screen is read far more often than balances change.
  The cache stores the last ledger-computed balance per customer so the
  screen can skip the ledger fold.

CONTRACT:
  - Values are only ever written from a ledger computation.
  - Every write to a customer's ledger invalidates their entry after the
    database transaction commits.
  - Nothing that moves points reads from here. Redemption, cancellation
    and refunds always fold the ledger inside their own transaction.

IMPLEMENTATIONS:
  - Redis: shared across instances, entries expire after a TTL
  - Nop:   used when Redis is disabled; every Get misses

SEE ALSO:
  - rewards/engine.go: DisplayBalance and invalidation
  - config/config.go: RedisConfig
*/
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BalanceCache caches display balances by customer id.
type BalanceCache interface {
	// Get returns the cached balance and whether it was present.
	Get(ctx context.Context, customerID string) (int64, bool, error)
	Set(ctx context.Context, customerID string, points int64) error
	Invalidate(ctx context.Context, customerID string) error
}

// =============================================================================
// NOP
// =============================================================================

// Nop is a cache that never holds anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (int64, bool, error) { return 0, false, nil }
func (Nop) Set(context.Context, string, int64) error         { return nil }
func (Nop) Invalidate(context.Context, string) error         { return nil }

// =============================================================================
// REDIS
// =============================================================================

const defaultKeyPrefix = "loyalty:balance:"

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis implements BalanceCache on a Redis server.
type Redis struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedis connects to Redis and checks the connection.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisWithClient(client, "", cfg.TTL), nil
}

// NewRedisWithClient wraps an existing client. An empty prefix uses the
// default; a zero ttl keeps entries for five minutes.
func NewRedisWithClient(client *redis.Client, keyPrefix string, ttl time.Duration) *Redis {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (r *Redis) key(customerID string) string {
	return r.keyPrefix + customerID
}

func (r *Redis) Get(ctx context.Context, customerID string) (int64, bool, error) {
	n, err := r.client.Get(ctx, r.key(customerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cached balance: %w", err)
	}
	return n, true, nil
}

func (r *Redis) Set(ctx context.Context, customerID string, points int64) error {
	if err := r.client.Set(ctx, r.key(customerID), points, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache balance: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, customerID string) error {
	if err := r.client.Del(ctx, r.key(customerID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached balance: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
