// Package logging provides logging configuration and utility functions.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

type Config struct {
	JSON  bool              `hcl:"json,optional" help:"Enable JSON logging."`
	Level slog.Level        `hcl:"level,optional" help:"Set the logging level." default:"info"`
	Remap map[string]string `hcl:"remap,optional" help:"Remap JSON field names from old to new (e.g., msg=message, time=timestamp)."`
}

type logKey struct{}

// Configure builds a logger writing to stderr and stores it in the returned context.
func Configure(ctx context.Context, config Config) (*slog.Logger, context.Context) {
	logger := New(os.Stderr, config)
	return logger, ContextWithLogger(ctx, logger)
}

// New creates a logger writing to w.
func New(w io.Writer, config Config) *slog.Logger {
	if config.JSON {
		options := &slog.HandlerOptions{Level: config.Level}
		if len(config.Remap) > 0 {
			options.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
				if len(groups) > 0 {
					return a
				}
				if newName, ok := config.Remap[a.Key]; ok {
					a.Key = newName
				}
				return a
			}
		}
		return slog.New(slog.NewJSONHandler(w, options))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      config.Level,
		TimeFormat: "15:04:05",
		NoColor:    !isTerminal(w),
	}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(logKey{}).(*slog.Logger)
	if !ok {
		panic("no logger in context")
	}
	return logger
}

// ContextWithLogger returns a new context with the given logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

// With returns a context whose logger carries the given attributes, along with that logger.
func With(ctx context.Context, args ...any) (context.Context, *slog.Logger) {
	logger := FromContext(ctx).With(args...)
	return ContextWithLogger(ctx, logger), logger
}
