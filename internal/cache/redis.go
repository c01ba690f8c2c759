package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/steemit/pulse/pkg/config"
	"github.com/steemit/pulse/pkg/logging"
)

const defaultOpTimeout = 500 * time.Millisecond

var (
	// ErrStoreUnavailable is returned when the counter store cannot be reached or does not answer in time
	ErrStoreUnavailable = errors.New("counter store unavailable")
	// ErrCacheDisabled is returned when operations are attempted on a nil cache
	ErrCacheDisabled = errors.New("cache is disabled")
)

// Cache is the counter store: a Redis client handle plus the key schema and per-call timeout
type Cache struct {
	client    *redis.Client
	keys      Keys
	opTimeout time.Duration
}

// New connects to Redis and verifies the connection
func New(cfg *config.RedisConfig) (*Cache, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis connection established",
		zap.String("addr", opt.Addr),
		zap.String("namespace", cfg.Namespace))

	return NewWithClient(client, cfg.Namespace, cfg.OpTimeout), nil
}

// NewWithClient wraps an existing client; the cache takes ownership and closes it on Close
func NewWithClient(client *redis.Client, namespace string, opTimeout time.Duration) *Cache {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &Cache{
		client:    client,
		keys:      NewKeys(namespace),
		opTimeout: opTimeout,
	}
}

// Client returns the underlying Redis client
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Keys returns the key schema
func (c *Cache) Keys() Keys {
	return c.keys
}

// Call runs fn under the per-operation timeout and classifies its error
func (c *Cache) Call(ctx context.Context, fn func(ctx context.Context, rdb *redis.Client) error) error {
	if c == nil || c.client == nil {
		return ErrCacheDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return Classify(fn(ctx, c.client))
}

// GetJSON decodes the JSON value at key into v; found is false on a miss
func (c *Cache) GetJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	var raw []byte
	err := c.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
		var err error
		raw, err = rdb.Get(ctx, key).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v as JSON at key with ttl
func (c *Cache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Set(ctx, key, data, ttl).Err()
	})
}

// Delete removes keys
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	return c.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Del(ctx, keys...).Err()
	})
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Health checks Redis health
func (c *Cache) Health(ctx context.Context) error {
	return c.Call(ctx, func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Ping(ctx).Err()
	})
}

// Classify maps transport failures to ErrStoreUnavailable. Misses, aborted
// transactions, server replies and caller cancellation pass through unchanged.
func Classify(err error) error {
	if err == nil ||
		errors.Is(err, redis.Nil) ||
		errors.Is(err, redis.TxFailedErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
