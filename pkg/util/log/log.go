// Package log holds the go-kit logger plumbing shared by dagframe packages.
package log

import (
	"context"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// Logger is the process-wide default logger. It discards everything until
// the CLI replaces it.
var Logger = log.NewNopLogger()

// New creates a logger writing to w in the given format and dropping records
// below lvl. The zero Level logs at info.
func New(lvl dslog.Level, format dslog.Format, w io.Writer) log.Logger {
	logger := dslog.NewGoKitWithWriter(format.String(), log.NewSyncWriter(w))
	opt := lvl.Option
	if opt == nil {
		opt = level.AllowInfo()
	}
	logger = level.NewFilter(logger, opt)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

// ParseLevel parses a level name such as "debug" or "warn".
func ParseLevel(name string) (dslog.Level, error) {
	var lvl dslog.Level
	err := lvl.Set(name)
	return lvl, err
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying logger.
func WithContext(ctx context.Context, logger log.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or Logger if there is none.
func FromContext(ctx context.Context) log.Logger {
	if logger, ok := ctx.Value(contextKey{}).(log.Logger); ok {
		return logger
	}
	return Logger
}

// OrNop returns logger, or a no-op logger when logger is nil.
func OrNop(logger log.Logger) log.Logger {
	if logger == nil {
		return log.NewNopLogger()
	}
	return logger
}
