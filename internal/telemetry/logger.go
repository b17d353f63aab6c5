package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// SetupLogger installs the default slog logger. Format is "text" or "json".
func SetupLogger(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("log format %q: want text or json", format)
	}

	slog.SetDefault(slog.New(h))
	return nil
}
