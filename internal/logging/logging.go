// Package logging configures the process-wide slog.Logger from a
// populated logging configuration. The Verbose field maps the
// forwarder's verbose flag onto slog.LevelDebug as a normal/verbose
// split, independent of the structured Level setting, so an operator
// can get full per-query detail with one flag.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Level            string
	Verbose          bool
	Structured       bool
	StructuredFormat string
	IncludePID       bool
	NodeID           string
}

func Configure(cfg Config) *slog.Logger {
	level := parseLevel(cfg.Level)
	if cfg.Verbose && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	out := io.Writer(os.Stderr)

	attrs := make([]slog.Attr, 0, 2)
	if cfg.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", cfg.NodeID))
	}
	if cfg.IncludePID {
		attrs = append(attrs, slog.Int("pid", os.Getpid()))
	}

	if cfg.Structured {
		if strings.ToLower(cfg.StructuredFormat) == "json" {
			handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
		} else {
			// key=value-ish output
			handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
		}
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}

	if len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
