package cache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/rpccache/auth"
	"github.com/jonwraymond/rpccache/observe"
)

// mockProcedure counts calls and returns configured results.
type mockProcedure struct {
	calls  int
	result any
	err    error
}

func (p *mockProcedure) run(context.Context) (any, error) {
	p.calls++
	return p.result, p.err
}

type logEntry struct {
	level string
	msg   string
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

func (l *recordingLogger) Info(_ context.Context, msg string, _ ...observe.Field)  { l.add("info", msg) }
func (l *recordingLogger) Warn(_ context.Context, msg string, _ ...observe.Field)  { l.add("warn", msg) }
func (l *recordingLogger) Error(_ context.Context, msg string, _ ...observe.Field) { l.add("error", msg) }
func (l *recordingLogger) Debug(_ context.Context, msg string, _ ...observe.Field) { l.add("debug", msg) }
func (l *recordingLogger) WithProcedure(observe.ProcedureMeta) observe.Logger   { return l }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

type recordingMetrics struct {
	mu       sync.Mutex
	lookups  []string
	writes   int
	failures int
}

func (m *recordingMetrics) RecordLookup(_ context.Context, _ string, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, outcome)
}

func (m *recordingMetrics) RecordWrite(_ context.Context, _ string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if err != nil {
		m.failures++
	}
}

type apiResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (r apiResult) OK() bool { return r.Success }

func newTestMiddleware(t *testing.T, cfg Config, b Backend, opts ...Option) (*Middleware, *recordingLogger) {
	t.Helper()
	logger := &recordingLogger{}
	opts = append([]Option{WithLogger(logger)}, opts...)
	m, err := New(cfg, StaticResolver(b), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, logger
}

func TestMiddleware_CacheHit(t *testing.T) {
	backend := newFakeBackend()
	m, _ := newTestMiddleware(t, Config{TTL: time.Minute}, backend)
	proc := &mockProcedure{result: map[string]any{"status": "ok"}}
	ctx := context.Background()
	call := Call{Route: "status.get", Input: map[string]any{"q": "hello"}}

	first, err := m.Intercept(ctx, call, proc.run)
	if err != nil {
		t.Fatalf("first Intercept() error = %v", err)
	}
	second, err := m.Intercept(ctx, call, proc.run)
	if err != nil {
		t.Fatalf("second Intercept() error = %v", err)
	}

	if proc.calls != 1 {
		t.Errorf("procedure calls = %d, want 1", proc.calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached result = %v, want %v", second, first)
	}
}

func TestMiddleware_MissWritesWithTTL(t *testing.T) {
	backend := newFakeBackend()
	m, _ := newTestMiddleware(t, Config{TTL: 90 * time.Second}, backend)
	proc := &mockProcedure{result: "v"}

	if _, err := m.Intercept(context.Background(), Call{Route: "r", Input: 1}, proc.run); err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}

	const key = "cache:r:1"
	if backend.entries[key] != "v" {
		t.Errorf("stored value = %v, want %q", backend.entries[key], "v")
	}
	if backend.ttls[key] != 90*time.Second {
		t.Errorf("stored ttl = %v, want %v", backend.ttls[key], 90*time.Second)
	}
}

func TestMiddleware_DifferentInputsMiss(t *testing.T) {
	backend := newFakeBackend()
	m, _ := newTestMiddleware(t, Config{}, backend)
	proc := &mockProcedure{result: 1}
	ctx := context.Background()

	_, _ = m.Intercept(ctx, Call{Route: "r", Input: "a"}, proc.run)
	_, _ = m.Intercept(ctx, Call{Route: "r", Input: "b"}, proc.run)

	if proc.calls != 2 {
		t.Errorf("procedure calls = %d, want 2", proc.calls)
	}
}

func TestMiddleware_ErrorNotCached(t *testing.T) {
	backend := newFakeBackend()
	m, _ := newTestMiddleware(t, Config{}, backend)
	wantErr := errors.New("upstream down")
	proc := &mockProcedure{err: wantErr}
	ctx := context.Background()
	call := Call{Route: "r"}

	for i := 0; i < 2; i++ {
		if _, err := m.Intercept(ctx, call, proc.run); !errors.Is(err, wantErr) {
			t.Fatalf("Intercept() error = %v, want %v", err, wantErr)
		}
	}
	if proc.calls != 2 {
		t.Errorf("procedure calls = %d, want 2", proc.calls)
	}
	if backend.sets != 0 {
		t.Errorf("backend writes = %d, want 0", backend.sets)
	}

	proc.err, proc.result = nil, "recovered"
	for i := 0; i < 2; i++ {
		got, err := m.Intercept(ctx, call, proc.run)
		if err != nil || got != "recovered" {
			t.Fatalf("Intercept() after recovery = (%v, %v)", got, err)
		}
	}
	if proc.calls != 3 {
		t.Errorf("procedure calls = %d, want 3 (second success served from cache)", proc.calls)
	}
}

func TestMiddleware_UnsuccessfulOutcomeNotCached(t *testing.T) {
	backend := newFakeBackend()
	m, _ := newTestMiddleware(t, Config{}, backend)
	proc := &mockProcedure{result: apiResult{Success: false, Message: "not found"}}
	ctx := context.Background()

	got, err := m.Intercept(ctx, Call{Route: "r"}, proc.run)
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if got.(apiResult).Message != "not found" {
		t.Errorf("Intercept() = %v, want the procedure result", got)
	}
	if backend.sets != 0 {
		t.Errorf("backend writes = %d, want 0", backend.sets)
	}

	proc.result = apiResult{Success: true}
	_, _ = m.Intercept(ctx, Call{Route: "r"}, proc.run)
	if backend.sets != 1 {
		t.Errorf("backend writes = %d, want 1 for a successful outcome", backend.sets)
	}
}

func TestMiddleware_ReadFailureDegrades(t *testing.T) {
	backend := newFakeBackend()
	backend.getErr = errors.New("connection refused")
	m, logger := newTestMiddleware(t, Config{}, backend)
	proc := &mockProcedure{result: "fresh"}

	got, err := m.Intercept(context.Background(), Call{Route: "r"}, proc.run)
	if err != nil {
		t.Fatalf("Intercept() error = %v, want nil", err)
	}
	if got != "fresh" || proc.calls != 1 {
		t.Errorf("Intercept() = (%v, calls %d), want (fresh, 1)", got, proc.calls)
	}
	if backend.sets != 0 {
		t.Errorf("backend writes = %d, want 0 after a failed read", backend.sets)
	}
	if logger.count("error") != 1 {
		t.Errorf("error logs = %d, want 1", logger.count("error"))
	}
}

func TestMiddleware_BackendOutage(t *testing.T) {
	backend := newFakeBackend()
	backend.getErr = errors.New("connection refused")
	backend.setErr = errors.New("connection refused")
	m, _ := newTestMiddleware(t, Config{TTL: time.Minute}, backend)
	proc := &mockProcedure{result: "fresh"}
	call := Call{Route: "r", Input: 1}

	for i := 1; i <= 5; i++ {
		got, err := m.Intercept(context.Background(), call, proc.run)
		if err != nil || got != "fresh" {
			t.Fatalf("call %d: Intercept() = (%v, %v), want (fresh, nil)", i, got, err)
		}
		if proc.calls != i {
			t.Fatalf("call %d: procedure calls = %d", i, proc.calls)
		}
	}
	if backend.sets != 0 {
		t.Errorf("backend writes = %d, want 0", backend.sets)
	}
	if len(backend.keys()) != 0 {
		t.Errorf("entries = %v, want none", backend.keys())
	}
}

func TestMiddleware_WriteFailureDoesNotReinvoke(t *testing.T) {
	backend := newFakeBackend()
	backend.setErr = errors.New("read only replica")
	m, logger := newTestMiddleware(t, Config{}, backend)
	proc := &mockProcedure{result: "fresh"}

	got, err := m.Intercept(context.Background(), Call{Route: "r"}, proc.run)
	if err != nil {
		t.Fatalf("Intercept() error = %v, want nil", err)
	}
	if got != "fresh" {
		t.Errorf("Intercept() = %v, want fresh", got)
	}
	if proc.calls != 1 {
		t.Errorf("procedure calls = %d, want 1", proc.calls)
	}
	if logger.count("error") != 1 {
		t.Errorf("error logs = %d, want 1", logger.count("error"))
	}
}

func TestMiddleware_KeyFailureDegrades(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		opts []Option
	}{
		{
			name: "panicking key func",
			cfg:  Config{GetCacheKey: func(string, any) string { panic("bad key") }},
		},
		{
			name: "blank key from keyer",
			opts: []Option{WithKeyer(KeyerFunc(func(Call) (string, error) { return " ", nil }))},
		},
		{
			name: "keyer error",
			opts: []Option{WithKeyer(KeyerFunc(func(Call) (string, error) { return "", errors.New("no key") }))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			m, logger := newTestMiddleware(t, tt.cfg, backend, tt.opts...)
			proc := &mockProcedure{result: 1}

			got, err := m.Intercept(context.Background(), Call{Route: "r"}, proc.run)
			if err != nil || got != 1 {
				t.Fatalf("Intercept() = (%v, %v), want (1, nil)", got, err)
			}
			if backend.gets != 0 || backend.sets != 0 {
				t.Errorf("backend touched: gets %d sets %d", backend.gets, backend.sets)
			}
			if logger.count("error") != 1 {
				t.Errorf("error logs = %d, want 1", logger.count("error"))
			}
		})
	}
}

func TestMiddleware_BlankCustomKeyUsedVerbatim(t *testing.T) {
	backend := newFakeBackend()
	m, _ := newTestMiddleware(t, Config{GetCacheKey: func(string, any) string { return "" }}, backend)
	proc := &mockProcedure{result: "v"}
	ctx := context.Background()

	_, _ = m.Intercept(ctx, Call{Route: "a"}, proc.run)
	_, _ = m.Intercept(ctx, Call{Route: "b"}, proc.run)

	if proc.calls != 1 {
		t.Errorf("procedure calls = %d, want 1", proc.calls)
	}
	if keys := backend.keys(); len(keys) != 1 || keys[0] != "" {
		t.Errorf("stored keys = %q, want one empty key", keys)
	}
}

func TestMiddleware_ReturnsUnsanitizedResult(t *testing.T) {
	backend := newFakeBackend()
	m, _ := newTestMiddleware(t, Config{}, backend)
	type withHook struct {
		Name   string `json:"name"`
		OnLoad func()
	}
	result := &withHook{Name: "n", OnLoad: func() {}}
	proc := &mockProcedure{result: result}

	got, err := m.Intercept(context.Background(), Call{Route: "r"}, proc.run)
	if err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if got != result {
		t.Error("Intercept() did not return the procedure's own result")
	}

	stored := backend.entries["cache:r:"]
	want := map[string]any{"name": "n"}
	if !reflect.DeepEqual(stored, want) {
		t.Errorf("stored value = %#v, want %#v", stored, want)
	}
}

func TestMiddleware_UserScopeIsolatesCallers(t *testing.T) {
	backend := newFakeBackend()
	m, _ := newTestMiddleware(t, Config{UserSpecific: true}, backend)
	proc := &mockProcedure{result: "profile"}
	ctx := context.Background()

	_, _ = m.Intercept(ctx, Call{Route: "me", CallerID: "u1"}, proc.run)
	_, _ = m.Intercept(ctx, Call{Route: "me", CallerID: "u2"}, proc.run)
	_, _ = m.Intercept(ctx, Call{Route: "me", CallerID: "u1"}, proc.run)

	if proc.calls != 2 {
		t.Errorf("procedure calls = %d, want 2", proc.calls)
	}
}

func TestMiddleware_GlobalScopeSharesCallers(t *testing.T) {
	backend := newFakeBackend()
	m, _ := newTestMiddleware(t, Config{GlobalCache: true, UserSpecific: true}, backend)
	proc := &mockProcedure{result: "shared"}
	ctx := context.Background()

	for _, caller := range []string{"u1", "u2", ""} {
		got, err := m.Intercept(ctx, Call{Route: "feed", Input: 1, CallerID: caller}, proc.run)
		if err != nil || got != "shared" {
			t.Fatalf("Intercept(%q) = (%v, %v)", caller, got, err)
		}
	}
	if proc.calls != 1 {
		t.Errorf("procedure calls = %d, want 1", proc.calls)
	}
}

func TestMiddleware_NilResultOnNativeStoreMisses(t *testing.T) {
	m, _ := newTestMiddleware(t, Config{Backend: BackendMemory}, NewMemoryStore())
	proc := &mockProcedure{result: nil}
	ctx := context.Background()

	_, _ = m.Intercept(ctx, Call{Route: "r"}, proc.run)
	_, _ = m.Intercept(ctx, Call{Route: "r"}, proc.run)

	if proc.calls != 2 {
		t.Errorf("procedure calls = %d, want 2", proc.calls)
	}
}

func TestMiddleware_CallerMutationDoesNotReachMemoryStore(t *testing.T) {
	m, _ := newTestMiddleware(t, Config{Backend: BackendMemory}, NewMemoryStore())
	proc := &mockProcedure{result: map[string]any{"n": 1}}
	ctx := context.Background()

	first, _ := m.Intercept(ctx, Call{Route: "r"}, proc.run)
	first.(map[string]any)["n"] = 999

	hit, _ := m.Intercept(ctx, Call{Route: "r"}, proc.run)
	hit.(map[string]any)["n"] = 7

	again, _ := m.Intercept(ctx, Call{Route: "r"}, proc.run)
	if proc.calls != 1 {
		t.Fatalf("procedure calls = %d, want 1", proc.calls)
	}
	if n := again.(map[string]any)["n"]; n != 1 {
		t.Errorf("cached n = %v, want 1", n)
	}
}

func TestMiddleware_DebugGatesInfoLogs(t *testing.T) {
	for _, debug := range []bool{false, true} {
		backend := newFakeBackend()
		m, logger := newTestMiddleware(t, Config{Debug: debug}, backend)
		proc := &mockProcedure{result: 1}
		ctx := context.Background()

		_, _ = m.Intercept(ctx, Call{Route: "r"}, proc.run)
		_, _ = m.Intercept(ctx, Call{Route: "r"}, proc.run)

		// miss, set, hit
		want := 0
		if debug {
			want = 3
		}
		if got := logger.count("info"); got != want {
			t.Errorf("Debug=%v: info logs = %d, want %d", debug, got, want)
		}
	}
}

func TestMiddleware_Metrics(t *testing.T) {
	backend := newFakeBackend()
	metrics := &recordingMetrics{}
	m, _ := newTestMiddleware(t, Config{}, backend, WithMetrics(metrics))
	proc := &mockProcedure{result: 1}
	ctx := context.Background()

	_, _ = m.Intercept(ctx, Call{Route: "r"}, proc.run)
	_, _ = m.Intercept(ctx, Call{Route: "r"}, proc.run)
	backend.getErr = errors.New("down")
	_, _ = m.Intercept(ctx, Call{Route: "r"}, proc.run)

	want := []string{"miss", "hit", "unavailable"}
	if !reflect.DeepEqual(metrics.lookups, want) {
		t.Errorf("lookups = %v, want %v", metrics.lookups, want)
	}
	if metrics.writes != 1 || metrics.failures != 0 {
		t.Errorf("writes = %d failures = %d, want 1 and 0", metrics.writes, metrics.failures)
	}
}

func TestMiddleware_Invalidate(t *testing.T) {
	backend := newFakeBackend()
	m, _ := newTestMiddleware(t, Config{GlobalCache: true}, backend)
	proc := &mockProcedure{result: "v"}
	ctx := context.Background()
	call := Call{Route: "r", Input: 1}

	_, _ = m.Intercept(ctx, call, proc.run)
	if err := m.Invalidate(ctx, call); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	_, _ = m.Intercept(ctx, call, proc.run)

	if proc.calls != 2 {
		t.Errorf("procedure calls = %d, want 2", proc.calls)
	}

	backend.delErr = errors.New("down")
	if err := m.Invalidate(ctx, call); err == nil {
		t.Error("Invalidate() error = nil, want backend error")
	}
}

func TestNew_Errors(t *testing.T) {
	resolveErr := errors.New("no such pool")
	tests := []struct {
		name     string
		cfg      Config
		resolver Resolver
		wantErr  error
	}{
		{"negative ttl", Config{TTL: -1}, StaticResolver(NewMemoryStore()), ErrInvalidConfig},
		{"unknown backend", Config{Backend: "disk"}, StaticResolver(NewMemoryStore()), ErrUnknownKind},
		{"nil resolver", Config{}, nil, ErrNilResolver},
		{"nil backend", Config{}, StaticResolver(nil), ErrNilBackend},
		{
			"resolver error",
			Config{},
			ResolverFunc(func(BackendKind, Connection) (Backend, error) { return nil, resolveErr }),
			resolveErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.resolver)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_ResolvesConfiguredBackend(t *testing.T) {
	var gotKind BackendKind
	var gotConn Connection
	resolver := ResolverFunc(func(kind BackendKind, conn Connection) (Backend, error) {
		gotKind, gotConn = kind, conn
		return NewMemoryStore(), nil
	})

	conn := Connection{URL: "redis://other:6379"}
	if _, err := New(Config{Backend: BackendKV, Connection: conn}, resolver); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if gotKind != BackendKV || gotConn != conn {
		t.Errorf("resolved (%q, %+v), want (%q, %+v)", gotKind, gotConn, BackendKV, conn)
	}
}

func TestWrap(t *testing.T) {
	type req struct {
		ID int `json:"id"`
	}
	backend := newFakeBackend()
	m, _ := newTestMiddleware(t, Config{UserSpecific: true}, backend)

	calls := 0
	get := Wrap(m, "item.get", func(_ context.Context, in req) (apiResult, error) {
		calls++
		return apiResult{Success: true, Message: "item"}, nil
	})

	ctx := auth.WithCaller(context.Background(), &auth.Caller{ID: "u1"})
	first, err := get(ctx, req{ID: 4})
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}

	// Emulate a string store, which hands back decoded JSON.
	for k := range backend.entries {
		backend.entries[k] = map[string]any{"success": true, "message": "item"}
	}

	second, err := get(ctx, req{ID: 4})
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if calls != 1 {
		t.Errorf("procedure calls = %d, want 1", calls)
	}
	if first != second {
		t.Errorf("cached result = %+v, want %+v", second, first)
	}
	if keys := backend.keys(); len(keys) != 1 || keys[0] != `cache:user:item.get:u1:{"id":4}` {
		t.Errorf("keys = %v", keys)
	}
}

func TestWrap_UndecodableHitRunsProcedure(t *testing.T) {
	backend := newFakeBackend()
	m, logger := newTestMiddleware(t, Config{}, backend)
	backend.entries["cache:n:"] = "not a number"

	calls := 0
	get := Wrap(m, "n", func(context.Context, any) (int, error) {
		calls++
		return 7, nil
	})

	got, err := get(context.Background(), nil)
	if err != nil || got != 7 {
		t.Fatalf("call = (%v, %v), want (7, nil)", got, err)
	}
	if calls != 1 {
		t.Errorf("procedure calls = %d, want 1", calls)
	}
	if logger.count("error") != 1 {
		t.Errorf("error logs = %d, want 1", logger.count("error"))
	}
}

func TestAs(t *testing.T) {
	got, err := As[apiResult](map[string]any{"success": true, "message": "m"})
	if err != nil {
		t.Fatalf("As() error = %v", err)
	}
	if got != (apiResult{Success: true, Message: "m"}) {
		t.Errorf("As() = %+v", got)
	}

	n, err := As[int](nil)
	if err != nil || n != 0 {
		t.Errorf("As[int](nil) = (%v, %v), want (0, nil)", n, err)
	}

	if _, err := As[int]("x"); err == nil {
		t.Error("As[int](\"x\") error = nil, want error")
	}
}

func TestLookupState_String(t *testing.T) {
	tests := map[LookupState]string{
		LookupHit:         "hit",
		LookupMiss:        "miss",
		LookupUnavailable: "unavailable",
		LookupState(42):   "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("LookupState(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
