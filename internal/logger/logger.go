// Package logger configures the process-wide slog JSON logger. Every
// record carries the service name; signal-scoped records additionally
// carry a trace id (see SignalTrace) so one detection can be followed
// from the detector log line to its journal row and pubsub frame.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"solswing/internal/model"
)

type ctxKey struct{}

// Init builds the JSON logger for the given service, installs it as the
// slog default and returns it. Output goes to stdout.
func Init(service string, level slog.Level) *slog.Logger {
	return InitTo(os.Stdout, service, level)
}

// InitTo is Init with an explicit output, for tests.
func InitTo(w io.Writer, service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logg := slog.New(h).With(slog.String("service", service))
	slog.SetDefault(logg)
	return logg
}

// ParseLevel maps the LOG_LEVEL config string to a slog level. Unknown
// values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// SignalTrace derives the stable trace id for a confirmed signal:
// "{symbol}-{side}-{confirm epoch}". Deterministic, so replaying the
// same series yields the same ids.
func SignalTrace(symbol string, sig model.Signal) string {
	return fmt.Sprintf("%s-%s-%d", symbol, sig.Side, sig.ConfirmEpoch)
}

// WithTraceID stores a trace id in the context for downstream sinks.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// TraceID extracts the trace id from the context. "" when unset.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// TraceAttrs returns the slog attributes for ctx's trace id; nil when
// unset. Usage: slog.Info("msg", logger.TraceAttrs(ctx)...).
func TraceAttrs(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
