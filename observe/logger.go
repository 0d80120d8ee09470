package observe

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Logger is the structured logger handed to procedures and the cache layer.
// Implementations must be safe for concurrent use and must never panic.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// WithProcedure tags every entry with the procedure's route and kind.
	WithProcedure(meta ProcedureMeta) Logger
}

// Field is one key/value pair on a log entry.
type Field struct {
	Key   string
	Value any
}

// LogLevel orders log severities.
type LogLevel = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var levelNames = map[string]LogLevel{
	"debug": LevelDebug,
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
}

// ParseLogLevel maps a level name, in any case, to its level. Unknown names mean info.
func ParseLogLevel(s string) LogLevel {
	if l, ok := levelNames[strings.ToLower(s)]; ok {
		return l
	}
	return LevelInfo
}

func knownLevel(s string) bool {
	_, ok := levelNames[strings.ToLower(s)]
	return s == "" || ok
}

const redactedValue = "[REDACTED]"

// sensitiveKeys never reach the output. Call inputs are included because
// they routinely carry user data.
var sensitiveKeys = map[string]struct{}{
	"input":         {},
	"inputs":        {},
	"password":      {},
	"secret":        {},
	"token":         {},
	"api_key":       {},
	"apikey":        {},
	"credential":    {},
	"authorization": {},
}

// redact replaces sensitive attributes and strips credentials from URLs,
// such as a redis URL carrying a password.
func redact(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch a.Key {
		case slog.TimeKey:
			return slog.String("timestamp", a.Value.Time().UTC().Format(time.RFC3339Nano))
		case slog.LevelKey:
			if l, ok := a.Value.Any().(slog.Level); ok {
				return slog.String(slog.LevelKey, strings.ToLower(l.String()))
			}
			return a
		case slog.MessageKey:
			return a
		}
	}
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redactedValue)
	}
	if a.Value.Kind() == slog.KindString {
		s := a.Value.String()
		if strings.Contains(s, "@") && strings.Contains(s, "://") {
			if u, err := url.Parse(s); err == nil && u.User != nil {
				return slog.String(a.Key, u.Redacted())
			}
		}
	}
	return a
}

type slogLogger struct {
	l *slog.Logger
}

// NewLogger returns a JSON logger writing to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter returns a JSON logger writing one line per entry to w.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLogLevel(level),
		ReplaceAttr: redact,
	})
	return &slogLogger{l: slog.New(h)}
}

func (s *slogLogger) WithProcedure(meta ProcedureMeta) Logger {
	args := []any{slog.String("rpc.route", meta.Route)}
	if meta.Kind != "" {
		args = append(args, slog.String("rpc.kind", string(meta.Kind)))
	}
	return &slogLogger{l: s.l.With(args...)}
}

func (s *slogLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, LevelDebug, msg, fields)
}

func (s *slogLogger) Info(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, LevelInfo, msg, fields)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, LevelWarn, msg, fields)
}

func (s *slogLogger) Error(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, LevelError, msg, fields)
}

func (s *slogLogger) log(ctx context.Context, level LogLevel, msg string, fields []Field) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.l.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields)+2)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	s.l.LogAttrs(ctx, level, msg, attrs...)
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...Field) {}
func (nopLogger) Info(context.Context, string, ...Field)  {}
func (nopLogger) Warn(context.Context, string, ...Field)  {}
func (nopLogger) Error(context.Context, string, ...Field) {}
func (n nopLogger) WithProcedure(ProcedureMeta) Logger    { return n }

var (
	_ Logger = (*slogLogger)(nil)
	_ Logger = nopLogger{}
)
