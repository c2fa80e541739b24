package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a structured JSON logger for a component.
// Log format: structured JSON to stdout. Production default: info.
// Level comes from STRAT_LOG_LEVEL unless set via config.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, ParseLogLevel(os.Getenv("STRAT_LOG_LEVEL")))
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// NewRotatingLogger writes to both stdout and a size-rotated log file. Used
// when the alert/log-analyzer pipeline tails a file instead of container
// stdout.
func NewRotatingLogger(component, path string, maxSizeMB, maxBackups int, level zerolog.Level) zerolog.Logger {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     14, // days
		Compress:   true,
	}
	return zerolog.New(io.MultiWriter(os.Stdout, sink)).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLogLevel maps a config string to a zerolog level (default info).
func ParseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
