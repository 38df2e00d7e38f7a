package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns JSON logger writing to w. LOG_LEVEL env overrides fallback level (default warn).
// Stdout is reserved for the menu-bar report, so callers pass os.Stderr.
func New(w io.Writer, fallback string) *slog.Logger {
	level := slog.LevelWarn
	for _, v := range []string{fallback, os.Getenv("LOG_LEVEL")} {
		if v == "" {
			continue
		}
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(v)); err == nil {
			level = parsed
		}
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}
