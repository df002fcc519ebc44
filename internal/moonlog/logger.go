// Package moonlog provides the gateway's structured logging: JSON or text
// output on top of log/slog, request/session correlation pulled from
// context.Context, and redaction of token-shaped values before a line is
// written.
package moonlog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger wraps a *slog.Logger with correlation-field extraction and secret
// redaction.
type Logger struct {
	logger  *slog.Logger
	config  Config
	redacts []*regexp.Regexp
}

// Config configures a Logger.
type Config struct {
	// Level is "debug", "info", "warn", or "error".
	Level string
	// Format is "json" or "text".
	Format string
	// Output defaults to os.Stdout.
	Output io.Writer
	// AddSource includes file:line in each record.
	AddSource bool
	// RedactPatterns are additional regexes merged with DefaultRedactPatterns.
	RedactPatterns []string
}

// ContextKey is the type used for correlation fields stashed on a context.
type ContextKey string

const (
	RequestIDKey         ContextKey = "request_id"
	SessionIDKey         ContextKey = "session_id"
	UserIDKey            ContextKey = "user_id"
	ChannelSessionKeyKey ContextKey = "channel_session_key"
	TaskIDKey            ContextKey = "task_id"
	InvocationIDKey      ContextKey = "invocation_id"
)

// DefaultRedactPatterns cover common secret shapes: API keys, bearer tokens,
// passwords, provider-specific key prefixes, and JWTs.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
	`(?i)(secret|key|token)[\s:=]+["']?([a-fA-F0-9]{32,})["']?`,
}

// New creates a Logger from Config, applying defaults for empty fields.
func New(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}

	opts := &slog.HandlerOptions{Level: LevelFromString(config.Level), AddSource: config.AddSource}
	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	patterns := append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{logger: slog.New(handler), config: config, redacts: redacts}
}

// LevelFromString converts a string to a slog.Level, defaulting to Info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithFields returns a child logger with the given fields attached to every
// subsequent record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), config: l.config, redacts: l.redacts}
}

// Slog returns the underlying *slog.Logger, for components that take one
// directly (internal/gatewayrpc, internal/transport, internal/orchestrator,
// internal/planner) rather than moonlog's own ctx-first/redacting signature.
// Records written through it bypass redaction, so callers should prefer the
// Logger methods above for anything that might carry a token or secret.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelDebug, msg, args...) }
func (l *Logger) Info(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelWarn, msg, args...) }
func (l *Logger) Error(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelError, msg, args...) }

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)

	redacted := make([]any, len(args))
	for i, a := range args {
		redacted[i] = l.redactValue(a)
	}

	attrs := make([]any, 0, len(redacted)+10)
	for _, kv := range correlationAttrs(ctx) {
		attrs = append(attrs, kv[0], kv[1])
	}
	attrs = append(attrs, redacted...)

	l.logger.Log(ctx, level, msg, attrs...)
}

func correlationAttrs(ctx context.Context) [][2]string {
	var attrs [][2]string
	add := func(key ContextKey, name string) {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, [2]string{name, v})
		}
	}
	add(RequestIDKey, "request_id")
	add(SessionIDKey, "session_id")
	add(UserIDKey, "user_id")
	add(ChannelSessionKeyKey, "channel_session_key")
	add(TaskIDKey, "task_id")
	add(InvocationIDKey, "invocation_id")
	return attrs
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	case map[string]any:
		return l.redactMap(val)
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

var sensitiveKeys = map[string]bool{
	"password": true, "passwd": true, "secret": true, "token": true,
	"api_key": true, "apikey": true, "private_key": true, "privatekey": true,
	"auth": true, "authorization": true,
}

func (l *Logger) redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sensitiveKeys[strings.ToLower(strings.ReplaceAll(k, "-", "_"))] {
			out[k] = "[REDACTED]"
		} else {
			out[k] = l.redactValue(v)
		}
	}
	return out
}

// WithContext bakes the correlation fields already on ctx into the returned
// logger so later calls don't need to pass ctx again for those fields.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := correlationAttrs(ctx)
	if len(attrs) == 0 {
		return l
	}
	args := make([]any, 0, len(attrs)*2)
	for _, kv := range attrs {
		args = append(args, kv[0], kv[1])
	}
	return l.WithFields(args...)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

func WithChannelSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ChannelSessionKeyKey, key)
}

func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TaskIDKey, id)
}

func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, InvocationIDKey, id)
}
