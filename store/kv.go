package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jonwraymond/rpccache/cache"
	"github.com/jonwraymond/rpccache/resilience"
)

// SetOptions are per-write options of a KVClient.
type SetOptions struct {
	// EX is the expiry. Zero stores without expiry.
	EX time.Duration
}

// KVClient is a natively typed key-value client. It owns the wire encoding
// of values: Set accepts any sanitized value and Get returns it decoded.
type KVClient interface {
	// Get returns nil when key is absent.
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any, opts *SetOptions) error
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// MsgpackClient is a KVClient storing msgpack-encoded values over the Redis
// protocol.
type MsgpackClient struct {
	rdb *redis.Client
}

// NewMsgpackClient wraps a go-redis client.
func NewMsgpackClient(rdb *redis.Client) *MsgpackClient {
	return &MsgpackClient{rdb: rdb}
}

func (c *MsgpackClient) Get(ctx context.Context, key string) (any, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeMsgpack(b)
}

func (c *MsgpackClient) Set(ctx context.Context, key string, value any, opts *SetOptions) error {
	b, err := encodeMsgpack(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnserializable, err)
	}
	var ex time.Duration
	if opts != nil && opts.EX > 0 {
		ex = opts.EX
	}
	return c.rdb.Set(ctx, key, b, ex).Err()
}

func (c *MsgpackClient) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *MsgpackClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *MsgpackClient) Close() error {
	return c.rdb.Close()
}

func encodeMsgpack(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeMsgpack widens integers to int64/uint64 and floats to float64.
func decodeMsgpack(b []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	return dec.DecodeInterfaceLoose()
}

// KVPool is a pool of KV clients.
type KVPool = Pool[KVClient]

// NewKVPool creates a pool of msgpack clients dialing url. A non-empty token
// replaces the password in the URL.
func NewKVPool(name, url, token string, config PoolConfig[KVClient]) (*KVPool, error) {
	opts, err := redisOptions(url, token)
	if err != nil {
		return nil, err
	}
	config.Dial = func(ctx context.Context) (KVClient, error) {
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, err
		}
		return NewMsgpackClient(rdb), nil
	}
	config.Close = func(c KVClient) error { return c.Close() }
	config.Ping = func(ctx context.Context, c KVClient) error { return c.Ping(ctx) }
	return NewPool(name, config), nil
}

// NativeStore is a natively typed backend over a KVClient.
type NativeStore struct {
	pool  *KVPool
	guard *resilience.Guard
}

// NewNativeStore creates a NativeStore. A nil guard runs operations directly.
func NewNativeStore(pool *KVPool, guard *resilience.Guard) *NativeStore {
	return &NativeStore{pool: pool, guard: guard}
}

// Get returns the decoded value. A nil stored value is a miss.
func (s *NativeStore) Get(ctx context.Context, key string) (any, bool, error) {
	v, err := resilience.Call(ctx, s.guard, func(ctx context.Context) (any, error) {
		client, err := s.pool.Get(ctx)
		if err != nil {
			return nil, err
		}
		return client.Get(ctx, key)
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: kv get: %w", err)
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// Set sanitizes value and stores it. A positive ttl is passed as EX.
func (s *NativeStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	var opts *SetOptions
	if ttl > 0 {
		opts = &SetOptions{EX: ttl}
	}
	clean := cache.Sanitize(value)

	err := s.guard.Do(ctx, func(ctx context.Context) error {
		client, err := s.pool.Get(ctx)
		if err != nil {
			return err
		}
		return client.Set(ctx, key, clean, opts)
	})
	if err != nil {
		return fmt.Errorf("store: kv set: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *NativeStore) Delete(ctx context.Context, key string) error {
	err := s.guard.Do(ctx, func(ctx context.Context) error {
		client, err := s.pool.Get(ctx)
		if err != nil {
			return err
		}
		return client.Del(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("store: kv del: %w", err)
	}
	return nil
}

var (
	_ KVClient      = (*MsgpackClient)(nil)
	_ cache.Backend = (*NativeStore)(nil)
)
