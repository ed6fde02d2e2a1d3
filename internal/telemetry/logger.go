package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetupLogger installs a JSON or text slog handler writing to w as the default logger.
func SetupLogger(c LogConfig, w io.Writer) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.Level))); err != nil && c.Level != "" {
		return fmt.Errorf("log level %q: %w", c.Level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(c.Format) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}

	slog.SetDefault(slog.New(h))

	return nil
}
