package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/soundmesh-core/internal/infrastructure/config"
)

// Logger is the process-wide structured logger. It embeds *slog.Logger,
// so it satisfies the small four-method logger interfaces declared by
// the speaker, grouping, and mqtt packages without adapters.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of config.yaml.
// Every record carries the service name and version so log lines from
// co-located services stay attributable.
//
// Parameters:
//   - cfg: Logging configuration (level, format, output)
//   - version: Build version stamped on every record
//
// Returns:
//   - *Logger: Ready to use, safe for concurrent callers
func New(cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	out := outputFor(cfg.Output)

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "soundmesh"),
		slog.String("version", version),
	})

	return &Logger{Logger: slog.New(handler)}
}

// Default returns a stdout JSON logger at info level, for the window
// between process start and config load.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// With returns a child logger carrying extra default attributes.
//
//	wsLog := log.With("component", "websocket")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func outputFor(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel maps the config string to a slog level; unknown values
// fall back to info rather than failing startup.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
