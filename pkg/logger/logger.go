// Package logger provides the structured logger used across the service.
// It wraps zerolog behind a small chaining API so call sites stay stable if
// the backend changes.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a component-scoped structured logger.
type Logger struct {
	z zerolog.Logger
}

// Config controls logger construction.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json (default) or console
	Output io.Writer
}

// New constructs a logger for the named component.
func New(component string, cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil && cfg.Level != "" {
		level = parsed
	}

	z := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{z: z}
}

// NewDefault returns an info-level JSON logger for the named component.
// Services fall back to it when constructed with a nil logger.
func NewDefault(component string) *Logger {
	return New(component, Config{})
}

// SetOutput redirects log output. Used by tests and examples.
func (l *Logger) SetOutput(w io.Writer) {
	l.z = l.z.Output(w)
}

// WithField returns a logger with an additional field attached.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{z: l.z.With().AnErr("error", err).Logger()}
}

func (l *Logger) Debug(msg string) { l.z.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.z.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.z.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.z.Error().Msg(msg) }
