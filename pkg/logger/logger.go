package logger

import (
	"io"
	"log/slog"
	"os"
)

type Options struct {
	Verbose bool
	Format  string // "text" or "json"
	Output  io.Writer
}

// Setup builds the process logger. Verbose lowers the level to Debug, which
// is where per-connection events are reported.
func Setup(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch opts.Format {
	case "json":
		handler = slog.NewJSONHandler(opts.Output, hopts)
	default:
		handler = slog.NewTextHandler(opts.Output, hopts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
