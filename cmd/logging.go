package cmd

import (
	"log/slog"
	"os"
	"strings"
)

// setupLogging installs the default slog handler from TEER_LOG_LEVEL and
// TEER_LOG_FORMAT. The CLI logs warnings and up unless asked; the agent
// defaults to info.
func setupLogging(agent bool) {
	level := slog.LevelWarn
	if agent {
		level = slog.LevelInfo
	}
	switch strings.ToLower(os.Getenv("TEER_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("TEER_LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
