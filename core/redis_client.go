// Package core: Redis client wrapper with database isolation and key
// namespacing, adapted from the reference framework's discovery-module
// Redis conventions. Used as the optional distributed backing for the
// telemetry bus's bounded per-instance windows, which default to an
// in-memory Store and only reach for this when a RedisURL is configured
// (core.Config.RedisURL). The Cost Optimizer's price ring buffer is
// in-memory only and does not use it.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis DB allocation. Each distributed component gets its own DB for
// isolation, the same way the reference framework partitions discovery,
// rate limiting, and session state.
const (
	// RedisDBCostOptimizer is the DB slot set aside for the cost
	// optimizer's price history; nothing in this module writes to it.
	RedisDBCostOptimizer = 0

	// RedisDBTelemetry holds the bounded per-instance telemetry window.
	RedisDBTelemetry = 1

	// RedisDBReservedStart/End mark DBs left free for future components.
	RedisDBReservedStart = 2
	RedisDBReservedEnd   = 15
)

// RedisClient wraps go-redis with DB isolation and key namespacing.
type RedisClient struct {
	client    *redis.Client
	dbID      int
	namespace string
	logger    Logger
}

// RedisClientOptions configures a RedisClient.
type RedisClientOptions struct {
	RedisURL  string
	DB        int
	Namespace string
	Logger    Logger
}

// NewRedisClient parses RedisURL, selects DB for isolation, and verifies
// connectivity with a bounded Ping before returning.
func NewRedisClient(opts RedisClientOptions) (*RedisClient, error) {
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}
	if opts.DB >= 0 && opts.DB <= 15 {
		redisOpt.DB = opts.DB
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis DB %d: %w", opts.DB, err)
	}

	rc := &RedisClient{client: client, dbID: opts.DB, namespace: opts.Namespace, logger: opts.Logger}
	if rc.logger != nil {
		rc.logger.Info("redis client connected", map[string]interface{}{
			"db": opts.DB, "namespace": opts.Namespace,
		})
	}
	return rc, nil
}

// Close closes the underlying connection.
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// GetDB returns the DB number in use.
func (r *RedisClient) GetDB() int { return r.dbID }

// GetNamespace returns the configured key namespace.
func (r *RedisClient) GetNamespace() string { return r.namespace }

func (r *RedisClient) formatKey(key string) string {
	if r.namespace != "" {
		return fmt.Sprintf("%s:%s", r.namespace, key)
	}
	return key
}

// Get retrieves a value.
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, r.formatKey(key)).Result()
}

// Set stores a value with an optional TTL (0 means no expiry).
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, r.formatKey(key), value, ttl).Err()
}

// Del deletes keys.
func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	formatted := make([]string, len(keys))
	for i, k := range keys {
		formatted[i] = r.formatKey(k)
	}
	return r.client.Del(ctx, formatted...).Err()
}

// LRange returns a namespaced list's elements in [start, stop] (inclusive,
// supports negative indices the way Redis LRANGE does).
func (r *RedisClient) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, r.formatKey(key), start, stop).Result()
}

// Pipeline returns a raw pipeliner for callers that need to batch several
// operations (e.g. RPush+LTrim) in one round trip. Callers are
// responsible for namespacing their own keys via FormatKey.
func (r *RedisClient) Pipeline() redis.Pipeliner {
	return r.client.Pipeline()
}

// FormatKey exposes the namespace-prefixing logic to callers building
// raw pipeline commands.
func (r *RedisClient) FormatKey(key string) string {
	return r.formatKey(key)
}

// HealthCheck verifies connectivity.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
