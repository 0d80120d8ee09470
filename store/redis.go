package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/rpccache/cache"
	"github.com/jonwraymond/rpccache/resilience"
)

// RedisPool is a pool of go-redis clients.
type RedisPool = Pool[*redis.Client]

// NewRedisPool creates a pool dialing url. A non-empty token replaces the
// password in the URL.
func NewRedisPool(name, url, token string, config PoolConfig[*redis.Client]) (*RedisPool, error) {
	opts, err := redisOptions(url, token)
	if err != nil {
		return nil, err
	}
	config.Dial = func(ctx context.Context) (*redis.Client, error) {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, err
		}
		return client, nil
	}
	config.Close = func(c *redis.Client) error { return c.Close() }
	config.Ping = func(ctx context.Context, c *redis.Client) error { return c.Ping(ctx).Err() }
	return NewPool(name, config), nil
}

func redisOptions(url, token string) (*redis.Options, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if token != "" {
		opts.Password = token
	}
	return opts, nil
}

// StringStore is a string-oriented backend over Redis. Values are stored as
// JSON text.
type StringStore struct {
	pool  *RedisPool
	guard *resilience.Guard
}

// NewStringStore creates a StringStore. A nil guard runs operations directly.
func NewStringStore(pool *RedisPool, guard *resilience.Guard) *StringStore {
	return &StringStore{pool: pool, guard: guard}
}

type stringRead struct {
	raw   string
	found bool
}

// Get returns the stored value parsed as JSON. Text that is not JSON is
// returned as a string. A stored JSON null is a hit with a nil value.
func (s *StringStore) Get(ctx context.Context, key string) (any, bool, error) {
	read, err := resilience.Call(ctx, s.guard, func(ctx context.Context) (stringRead, error) {
		client, err := s.pool.Get(ctx)
		if err != nil {
			return stringRead{}, err
		}
		raw, err := client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return stringRead{}, nil
		}
		if err != nil {
			return stringRead{}, err
		}
		return stringRead{raw: raw, found: true}, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: redis get: %w", err)
	}
	if !read.found {
		return nil, false, nil
	}
	return decodeString(read.raw), true, nil
}

func decodeString(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// Set stores value as JSON. Whole-second TTLs use SETEX; other positive TTLs
// use SET with PX; ttl <= 0 stores without expiry.
func (s *StringStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	text, ok := cache.SafeStringify(value)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnserializable, key)
	}

	err := s.guard.Do(ctx, func(ctx context.Context) error {
		client, err := s.pool.Get(ctx)
		if err != nil {
			return err
		}
		switch {
		case ttl > 0 && ttl%time.Second == 0:
			return client.SetEx(ctx, key, text, ttl).Err()
		case ttl > 0:
			return client.Set(ctx, key, text, ttl).Err()
		default:
			return client.Set(ctx, key, text, 0).Err()
		}
	})
	if err != nil {
		return fmt.Errorf("store: redis set: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *StringStore) Delete(ctx context.Context, key string) error {
	err := s.guard.Do(ctx, func(ctx context.Context) error {
		client, err := s.pool.Get(ctx)
		if err != nil {
			return err
		}
		return client.Del(ctx, key).Err()
	})
	if err != nil {
		return fmt.Errorf("store: redis del: %w", err)
	}
	return nil
}

var _ cache.Backend = (*StringStore)(nil)
