// ABOUTME: Structured logging for the BeeDB engine
// ABOUTME: Wraps zerolog with component-scoped sub-loggers

package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with BeeDB-specific functionality
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

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "beedb").
		Logger()

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

// ComponentLogger returns a logger scoped to one engine component
// (storage, buffer, concurrency, heap, index, engine).
func (l *Logger) ComponentLogger(component string) zerolog.Logger {
	return l.zlog.With().
		Str("component", component).
		Logger()
}

// LogEngineOpen logs engine startup
func (l *Logger) LogEngineOpen(path string, frames int, replacement string) {
	l.zlog.Info().
		Str("event", "engine_open").
		Str("path", path).
		Int("buffer_frames", frames).
		Str("replacement", replacement).
		Msg("BeeDB engine opening")
}

// LogEngineClose logs engine shutdown with final counters
func (l *Logger) LogEngineClose(pages uint32, evictions uint64) {
	l.zlog.Info().
		Str("event", "engine_close").
		Uint32("pages", pages).
		Uint64("evicted_frames", evictions).
		Msg("BeeDB engine closed")
}

// LogTransaction logs a transaction outcome with its timing
func (l *Logger) LogTransaction(outcome string, beginTime uint64, duration time.Duration) {
	l.zlog.Debug().
		Str("component", "concurrency").
		Str("outcome", outcome).
		Uint64("begin_time", beginTime).
		Dur("duration_ms", duration).
		Msg("Transaction finished")
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
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
