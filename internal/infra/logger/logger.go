package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"shellherd/internal/infra/config"
)

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// New builds the process logger from cfg. The returned closer releases the
// log destination and must be called on shutdown; for the standard streams
// it is a no-op. Debug level also switches on source locations.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	w, closer, err := destination(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), closer, nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), closer, nil
}

// parseLevel resolves a config level name, defaulting to info for anything
// unrecognized.
func parseLevel(name string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// destination maps an output name to a writer. Anything that is not a
// well-known stream name is treated as a file path and opened append-only.
func destination(output string) (io.Writer, func() error, error) {
	nop := func() error { return nil }
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, nop, nil
	case "stderr", "":
		return os.Stderr, nop, nil
	case "discard":
		return io.Discard, nop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
