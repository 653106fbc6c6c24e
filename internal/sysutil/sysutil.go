// Package sysutil holds small process-level helpers shared by the server
// binary: logging bootstrap and build-version resolution.
package sysutil

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging applies the configured global log level and, when pretty is
// set, swaps the global logger to a human-readable console writer for local
// development. Unknown level strings fall back to info.
func SetupLogging(level string, pretty bool) {
	zerolog.SetGlobalLevel(parseLevel(level))
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// parseLevel maps a level string (case-insensitive, surrounding whitespace
// ignored) to a zerolog level. "warning" is accepted as an alias for warn.
func parseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// Version resolves the build version reported in logs and traces:
// APP_VERSION when set, otherwise fallback.
func Version(fallback string) string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return fallback
}
