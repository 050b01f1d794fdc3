package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/brewlogic/internal/infrastructure/config"
)

// ServiceName is attached to every entry as the "service" attribute.
const ServiceName = "brewlogic"

// Logger is a slog.Logger carrying the service and version attributes.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to stderr when cfg.Output says so and to
// stdout otherwise.
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(w, cfg, version)
}

// NewWithWriter creates a Logger writing to w. cfg.Output is ignored.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)}
}

// parseLevel accepts slog level names in any case plus "warning".
// Anything else is info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// With returns a child Logger with extra attributes.
//
//	execLog := logger.With("component", "executor")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the JSON info logger used until configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}
