package observability

import (
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	outputOnce sync.Once
	output     io.Writer = os.Stdout
)

// logOutput returns stdout, or a rotating file when LENDING_LOG_FILE is set.
// All component loggers share one writer so rotation happens in one place.
func logOutput() io.Writer {
	outputOnce.Do(func() {
		path := os.Getenv("LENDING_LOG_FILE")
		if path == "" {
			return
		}
		output = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    envInt("LENDING_LOG_MAX_SIZE_MB", 100),
			MaxBackups: envInt("LENDING_LOG_MAX_BACKUPS", 5),
			MaxAge:     envInt("LENDING_LOG_MAX_AGE_DAYS", 28),
			Compress:   true,
		}
	})
	return output
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

// NewLogger creates a structured JSON logger.
// Production default: info. Set via LENDING_LOG_LEVEL env var.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, parseLogLevel(os.Getenv("LENDING_LOG_LEVEL")))
}

// NewLoggerWithLevel creates a logger with an explicit level.
func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(logOutput()).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func parseLogLevel(s string) zerolog.Level {
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
