// Package logger provides structured logging for hamsterdb
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with hamsterdb-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	// Set global log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Pretty printing for development
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	// Create logger
	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "hamsterdb").
		Logger()

	// Add caller information if requested
	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Fatal().Str("msg", msg)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// EnvLogger returns a logger scoped to an environment-level operation
// (open, flush, checkpoint, recovery).
func (l *Logger) EnvLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "env").
			Str("operation", operation).
			Logger(),
	}
}

// DbLogger returns a logger for database operations
func (l *Logger) DbLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "database").
			Str("operation", operation).
			Logger(),
	}
}

// LogEnvOperation logs an environment-scoped operation with structured fields.
func (l *Logger) LogEnvOperation(operation string, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "env").
		Str("operation", operation).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "env").
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("environment operation completed")
}

// LogDbOperation logs database operation with structured fields
func (l *Logger) LogDbOperation(operation string, duration time.Duration, recordCount int, err error) {
	event := l.zlog.Debug().
		Str("component", "database").
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("record_count", recordCount)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "database").
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("database operation completed")
}

// LogRecovery logs the outcome of a recovery pass at environment open.
func (l *Logger) LogRecovery(txnsRolledBack, txnsReplayed int, duration time.Duration) {
	l.zlog.Info().
		Str("event", "recovery_complete").
		Int("txns_replayed", txnsReplayed).
		Int("txns_rolled_back", txnsRolledBack).
		Dur("duration_ms", duration).
		Msg("write-ahead log recovery finished")
}

// LogCheckpoint logs a completed checkpoint.
func (l *Logger) LogCheckpoint(freelistRoot uint64, truncatedFiles int) {
	l.zlog.Info().
		Str("event", "checkpoint").
		Uint64("freelist_root", freelistRoot).
		Int("truncated_files", truncatedFiles).
		Msg("checkpoint completed")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		// Initialize with defaults if not set
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
