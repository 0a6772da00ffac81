package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey struct{}

var key = ctxKey{}

// LogConfig selects the level and handler of the process wide logger.
type LogConfig struct {
	Level  slog.Level
	Format string
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR in any case to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init sets up the process wide base logger.
func Init(cfg LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.Level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				a.Key = "severity"
			} else if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("app", "internal-contribution-forks"))
	slog.SetDefault(logger)
	return logger
}

// Inject stores a request scoped logger in ctx.
func Inject(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, key, l)
}

// From returns the logger stored in ctx, or the default logger.
func From(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(key).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
