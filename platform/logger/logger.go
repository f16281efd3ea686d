// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// UserIDKey is the context key for user ID
	UserIDKey contextKey = "user_id"
	// RunIDKey is the context key for a reconcile or dispatch run
	RunIDKey contextKey = "run_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter creates a logger writing to w. Tests pass io.Discard.
func NewWithWriter(env string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter("test", io.Discard)
}

// WithContext returns a logger with request_id, user_id and run_id
// extracted from ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	out := l
	for _, key := range []contextKey{RequestIDKey, UserIDKey, RunIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			out = &Logger{Logger: out.With(slog.String(string(key), v))}
		}
	}
	return out
}

// WithRequestID returns a logger with request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.With(slog.String("request_id", requestID))}
}

// WithRun returns a logger tagged with a run id and the trigger that started it.
func (l *Logger) WithRun(runID, trigger string) *Logger {
	return &Logger{Logger: l.With(slog.String("run_id", runID), slog.String("trigger", trigger))}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}

// LedgerEntry logs one recorded side-effect attempt. Failures log at warn.
func (l *Logger) LedgerEntry(action, outcome, reason, leadID, correlationID string) {
	attrs := []any{
		slog.String("action", action),
		slog.String("outcome", outcome),
		slog.String("lead_id", leadID),
	}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}
	if outcome == "failed" {
		l.Warn("ledger_entry", attrs...)
		return
	}
	l.Info("ledger_entry", attrs...)
}

// UpstreamError logs a provider failure. The body is only logged at debug.
func (l *Logger) UpstreamError(provider, operation string, status int, err error) {
	l.Error("upstream_error",
		slog.String("provider", provider),
		slog.String("operation", operation),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
}

// RunSummary logs the counters of a finished batch run.
func (l *Logger) RunSummary(kind string, counts map[string]int) {
	attrs := make([]any, 0, len(counts)+1)
	attrs = append(attrs, slog.String("kind", kind))
	for k, v := range counts {
		attrs = append(attrs, slog.Int(k, v))
	}
	l.Info("run_summary", attrs...)
}
