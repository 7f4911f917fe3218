package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a wrapper around zerolog.Logger
type Logger struct {
	zerolog.Logger
}

// LoggerOptions contains options for creating a logger
type LoggerOptions struct {
	Level   string
	Format  string // "pretty" or "json"
	Output  io.Writer
	Verbose bool
}

// NewLogger creates a new logger with the given options
func NewLogger(opts LoggerOptions) *Logger {
	var output io.Writer = os.Stderr
	if opts.Output != nil {
		output = opts.Output
	}

	if opts.Format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	level := parseLogLevel(opts.Level)
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{Logger: logger}
}

// NewDefaultLogger creates a logger with default settings
func NewDefaultLogger() *Logger {
	return NewLogger(LoggerOptions{
		Level:  "info",
		Format: "pretty",
	})
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("component", component).Logger(),
	}
}

// WithRequest returns a logger carrying the bundle coordinates
func (l *Logger) WithRequest(owner, repo, ref, path string) *Logger {
	return &Logger{
		Logger: l.Logger.With().
			Str("owner", owner).
			Str("repository", repo).
			Str("ref", ref).
			Str("path", path).
			Logger(),
	}
}

// OrNop returns l, or a discarding logger when l is nil
func (l *Logger) OrNop() *Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l
}
