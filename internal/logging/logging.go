// Package logging builds the slog logger configured by types.Config.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// New returns a logger writing to w in cfg.LogFormat at cfg.LogLevel. An
// empty format selects JSON.
func New(w io.Writer, cfg types.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps debug, warn and error to their slog levels. Anything else
// is info.
func ParseLevel(level string) slog.Level {
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
