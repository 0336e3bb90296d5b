// Package logging configures the process-wide slog logger and carries
// request-scoped loggers through context.Context.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/masq"
)

type ctxKey struct{}

var defaultLogger atomic.Pointer[slog.Logger]

func init() {
	defaultLogger.Store(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Config mirrors the log section of the YAML config.
type Config struct {
	Level  string
	Format string
}

// New builds a logger writing to w. Format "json" emits structured JSON with
// secrets redacted; anything else selects the colored console handler.
func New(cfg Config, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: redactor(),
		}))
	}

	return slog.New(clog.New(
		clog.WithWriter(w),
		clog.WithLevel(level),
		clog.WithColor(true),
	))
}

// secretKeys are attribute keys whose values never reach the log output.
var secretKeys = map[string]bool{
	"api_key":  true,
	"apikey":   true,
	"password": true,
}

// redactor masks secret top-level attributes and delegates nested struct
// fields to masq.
func redactor() func(groups []string, a slog.Attr) slog.Attr {
	nested := masq.New(
		masq.WithFieldName("APIKey"),
		masq.WithFieldName("Password"),
	)
	return func(groups []string, a slog.Attr) slog.Attr {
		if secretKeys[strings.ToLower(a.Key)] {
			return slog.String(a.Key, redacted)
		}
		return nested(groups, a)
	}
}

const redacted = "[REDACTED]"

// ParseLevel maps a textual level to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
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

// Default returns the process-wide logger.
func Default() *slog.Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *slog.Logger) {
	defaultLogger.Store(l)
}

// With returns a copy of ctx carrying l.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger carried by ctx, or Default.
func From(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return Default()
}

// ErrorAttr renders err as a log attribute, expanding goerr values.
func ErrorAttr(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	var ge *goerr.Error
	if errors.As(err, &ge) {
		return slog.Group("error",
			slog.String("message", err.Error()),
			slog.Any("values", ge.Values()),
		)
	}
	return slog.String("error", err.Error())
}
