package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	LevelError = iota
	LevelInfo
	LevelDebug
)

// Config controls logger verbosity and output format.
type Config struct {
	Level  int
	Format string // "console" (default) or "json"
	Output io.Writer
}

// Logger wraps zerolog so that callers do not depend on the logging backend
// directly.
type Logger struct {
	zl zerolog.Logger
}

func NewLogger(c Config) *Logger {
	out := c.Output
	if out == nil {
		out = os.Stderr
	}

	if c.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	zl := zerolog.New(out).With().Timestamp().Logger()

	switch c.Level {
	case LevelDebug:
		zl = zl.Level(zerolog.DebugLevel)
	case LevelInfo:
		zl = zl.Level(zerolog.InfoLevel)
	default:
		zl = zl.Level(zerolog.ErrorLevel)
	}

	return &Logger{zl: zl}
}

// NewNopLogger returns a logger that discards everything. Used in tests.
func NewNopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// WithName returns a child logger tagged with a component name.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}

// Zerolog exposes the underlying logger for adapters that integrate with
// zerolog directly (e.g. SQL statement logging).
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

func (l *Logger) DebugEnabled() bool {
	return l.zl.GetLevel() <= zerolog.DebugLevel
}
