package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// parseLevel accepts slog level names in any case ("debug", "WARN", "info+2").
// Anything else logs at info.
func parseLevel(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// setupLogger builds the process logger. Logs go to w so stdout stays free for
// the JSON summary.
func setupLogger(w io.Writer, level, format, node string) *slog.Logger {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl, AddSource: lvl <= slog.LevelDebug}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	return slog.New(h).With(
		"service", appName,
		"version", Version,
		"node", node,
		"pid", os.Getpid(),
	)
}
