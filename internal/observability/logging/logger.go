package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/m-mizutani/clog"
)

type Options struct {
	Service string
	Version string
	Level   string
	// Format is "json" (default) or "console".
	Format string
	// Writer defaults to stdout for json and stderr for console.
	Writer io.Writer
}

// New builds the process logger. Every record carries service and version, and passes through
// the scrubber before reaching the output handler.
func New(opts Options) *slog.Logger {
	level := parseLevel(opts.Level)
	w := opts.Writer

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "console") {
		if w == nil {
			w = os.Stderr
		}
		handler = clog.New(
			clog.WithWriter(w),
			clog.WithLevel(level),
			clog.WithTimeFmt("15:04:05"),
			clog.WithSource(false),
		)
	} else {
		if w == nil {
			w = os.Stdout
		}
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(scrubber{next: handler}).With("service", opts.Service)
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
