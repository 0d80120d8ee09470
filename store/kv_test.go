package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type recordingKV struct {
	mu     sync.Mutex
	values map[string]any
	opts   map[string]*SetOptions
	err    error
}

func newRecordingKV() *recordingKV {
	return &recordingKV{values: make(map[string]any), opts: make(map[string]*SetOptions)}
}

func (k *recordingKV) Get(_ context.Context, key string) (any, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.values[key], k.err
}

func (k *recordingKV) Set(_ context.Context, key string, value any, opts *SetOptions) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return k.err
	}
	k.values[key] = value
	k.opts[key] = opts
	return nil
}

func (k *recordingKV) Del(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.values, key)
	return k.err
}

func (k *recordingKV) Ping(context.Context) error { return k.err }
func (k *recordingKV) Close() error               { return nil }

func newNativeStore(client KVClient) *NativeStore {
	pool := NewPool("kv", PoolConfig[KVClient]{
		Dial: func(context.Context) (KVClient, error) { return client, nil },
	})
	return NewNativeStore(pool, nil)
}

type invoice struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
	notify func()
}

func TestNativeStore_SetOptions(t *testing.T) {
	kv := newRecordingKV()
	s := newNativeStore(kv)
	ctx := context.Background()

	if err := s.Set(ctx, "ttl", "v", 30*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "forever", "v", 0); err != nil {
		t.Fatal(err)
	}

	if o := kv.opts["ttl"]; o == nil || o.EX != 30*time.Second {
		t.Errorf("opts[ttl] = %+v, want EX 30s", o)
	}
	if o := kv.opts["forever"]; o != nil {
		t.Errorf("opts[forever] = %+v, want nil", o)
	}
}

func TestNativeStore_SanitizesBeforeClient(t *testing.T) {
	kv := newRecordingKV()
	s := newNativeStore(kv)

	in := invoice{ID: "inv-1", Amount: 9.5, notify: func() {}}
	if err := s.Set(context.Background(), "k", in, 0); err != nil {
		t.Fatal(err)
	}
	m, ok := kv.values["k"].(map[string]any)
	if !ok || m["id"] != "inv-1" || m["amount"] != 9.5 || len(m) != 2 {
		t.Errorf("client received %#v", kv.values["k"])
	}
}

func TestNativeStore_NilIsMiss(t *testing.T) {
	kv := newRecordingKV()
	kv.values["nil"] = nil
	kv.values["zero"] = 0
	s := newNativeStore(kv)

	if _, found, err := s.Get(context.Background(), "nil"); err != nil || found {
		t.Errorf("Get(nil) found = %v, err = %v", found, err)
	}
	if v, found, err := s.Get(context.Background(), "zero"); err != nil || !found || v != 0 {
		t.Errorf("Get(zero) = %v, %v, %v", v, found, err)
	}
}

func TestNativeStore_ClientError(t *testing.T) {
	kv := newRecordingKV()
	kv.err = errors.New("kv unavailable")
	s := newNativeStore(kv)
	ctx := context.Background()

	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, kv.err) {
		t.Errorf("Get() error = %v", err)
	}
	if err := s.Set(ctx, "k", 1, 0); !errors.Is(err, kv.err) {
		t.Errorf("Set() error = %v", err)
	}
	if err := s.Delete(ctx, "k"); !errors.Is(err, kv.err) {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestMsgpackClient_OverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	pool, err := NewKVPool("kv", "redis://"+mr.Addr(), "", PoolConfig[KVClient]{})
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	s := NewNativeStore(pool, nil)
	ctx := context.Background()

	value := map[string]any{
		"user":  map[string]any{"id": 7, "tags": []any{"a", "b"}},
		"ratio": 0.25,
		"ok":    true,
	}
	if err := s.Set(ctx, "native", value, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := mr.TTL("native"); got != time.Minute {
		t.Errorf("TTL = %v, want 1m", got)
	}

	got, found, err := s.Get(ctx, "native")
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v", found, err)
	}
	m := got.(map[string]any)
	user := m["user"].(map[string]any)
	if user["id"] != int64(7) || m["ratio"] != 0.25 || m["ok"] != true {
		t.Errorf("Get() = %#v", got)
	}
	if tags := user["tags"].([]any); len(tags) != 2 || tags[1] != "b" {
		t.Errorf("tags = %#v", user["tags"])
	}

	if err := s.Delete(ctx, "native"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.Get(ctx, "native"); found {
		t.Error("Get() after Delete() found = true")
	}
}

func TestMsgpackClient_StoredNilIsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	pool, _ := NewKVPool("kv", "redis://"+mr.Addr(), "", PoolConfig[KVClient]{})
	defer pool.Close()
	s := NewNativeStore(pool, nil)

	if err := s.Set(context.Background(), "k", nil, 0); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("k") {
		t.Fatal("nil value was not written")
	}
	if _, found, err := s.Get(context.Background(), "k"); err != nil || found {
		t.Errorf("Get() found = %v, err = %v; want miss", found, err)
	}
}
