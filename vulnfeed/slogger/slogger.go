// Package slogger configures the process-wide slog logger.
//
// Call Init once at the start of main, after configuration is loaded. The
// level string accepts "debug", "info", "warn" and "error" (default "info");
// the format is "text" or "json" (default "text"). Legacy log.Print* calls
// are routed through the same handler by slog.SetDefault.
package slogger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// level holds the dynamic log level so it can be queried at runtime.
var level *slog.LevelVar

// Init builds a handler on stdout and sets it as the default logger.
func Init(levelName, format string) {
	slog.SetDefault(New(os.Stdout, levelName, format))
}

// New returns a logger writing to w. The shared level is replaced, so Level
// and IsDebug reflect the most recent call.
func New(w io.Writer, levelName, format string) *slog.Logger {
	level = &slog.LevelVar{}
	level.Set(parseLevel(levelName))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", "vulnfeed")
}

// SetLevel changes the level of the installed handler.
func SetLevel(levelName string) {
	if level == nil {
		return
	}
	level.Set(parseLevel(levelName))
}

// Level returns the current slog.Level.
func Level() slog.Level {
	if level == nil {
		return slog.LevelInfo
	}
	return level.Level()
}

// IsDebug returns true when the current log level is debug or lower.
func IsDebug() bool {
	return Level() <= slog.LevelDebug
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
