package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonwraymond/rpccache/observe"
)

func BenchmarkMemoryStore_Get_Hit(b *testing.B) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, "key", "value", time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = s.Get(ctx, "key")
	}
}

func BenchmarkMemoryStore_Set(b *testing.B) {
	s := NewMemoryStore()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Set(ctx, fmt.Sprintf("key-%d", i%1000), i, time.Hour)
	}
}

func BenchmarkMemoryStore_Concurrent_ReadHeavy(b *testing.B) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_ = s.Set(ctx, fmt.Sprintf("key-%d", i), i, time.Hour)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _, _ = s.Get(ctx, fmt.Sprintf("key-%d", i%100))
			i++
		}
	})
}

func BenchmarkDeriveKey(b *testing.B) {
	call := Call{Route: "post.list", Input: map[string]any{"page": 1, "tags": []any{"go", "rpc"}}, CallerID: "u1"}
	cfg := Config{UserSpecific: true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DeriveKey(call, cfg)
	}
}

func BenchmarkIsRepresentable(b *testing.B) {
	v := map[string]any{
		"items": []any{map[string]any{"id": 1, "name": "a"}, map[string]any{"id": 2, "name": "b"}},
		"total": 2,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = IsRepresentable(v)
	}
}

func BenchmarkSanitize_Struct(b *testing.B) {
	v := profile{ID: 1, Name: "n", Email: "e", OnSave: func() {}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Sanitize(v)
	}
}

func BenchmarkMiddleware_Intercept_Hit(b *testing.B) {
	m, _ := New(Config{Backend: BackendMemory}, StaticResolver(NewMemoryStore()), WithLogger(observe.NopLogger()))
	ctx := context.Background()
	call := Call{Route: "r", Input: map[string]any{"q": 1}}
	next := func(context.Context) (any, error) { return "v", nil }
	_, _ = m.Intercept(ctx, call, next)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = m.Intercept(ctx, call, next)
	}
}

func BenchmarkMiddleware_Intercept_Miss(b *testing.B) {
	m, _ := New(Config{Backend: BackendMemory}, StaticResolver(NewMemoryStore()), WithLogger(observe.NopLogger()))
	ctx := context.Background()
	next := func(context.Context) (any, error) { return "v", nil }

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = m.Intercept(ctx, Call{Route: "r", Input: i}, next)
	}
}
