// Package logger provides structured logging for client calls.
package logger

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log levels.
type Level = zerolog.Level

// Log levels.
const (
	DebugLevel    = zerolog.DebugLevel
	InfoLevel     = zerolog.InfoLevel
	WarnLevel     = zerolog.WarnLevel
	ErrorLevel    = zerolog.ErrorLevel
	DisabledLevel = zerolog.Disabled
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	zl zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level     Level
	Pretty    bool // console writer instead of JSON lines
	Output    io.Writer
	Component string // e.g. "client", "request", "cli"
}

// DefaultConfig logs warnings and above to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  WarnLevel,
		Pretty: true,
		Output: os.Stderr,
	}
}

// New creates a logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	ctx := zerolog.New(out).Level(cfg.Level).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	return &Logger{zl: ctx.Logger()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// ParseLevel parses a level name; "disabled" turns logging off.
func ParseLevel(name string) (Level, error) {
	return zerolog.ParseLevel(name)
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zl: fn(l.zl.With()).Logger()}
}

// WithComponent tags entries with the emitting component.
func (l *Logger) WithComponent(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("component", component) })
}

// WithEndpoint tags entries with a method identity such as "Users.Get".
func (l *Logger) WithEndpoint(endpoint string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("endpoint", endpoint) })
}

// WithFields returns a new logger with additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

// WithError returns a new logger carrying err.
func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

func (l *Logger) Debug(msg string)                  { l.zl.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Info(msg string)                   { l.zl.Info().Msg(msg) }
func (l *Logger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warn(msg string)                   { l.zl.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Error(msg string)                  { l.zl.Error().Msg(msg) }
func (l *Logger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

// Exchange logs a completed HTTP exchange at debug level.
func (l *Logger) Exchange(method, url string, status int, elapsed time.Duration) {
	l.zl.Debug().
		Str("method", method).
		Str("url", url).
		Int("status", status).
		Dur("elapsed", elapsed).
		Msg("exchange")
}

// ExchangeFailed logs an exchange that produced no response.
func (l *Logger) ExchangeFailed(method, url string, err error) {
	l.zl.Warn().
		Err(err).
		Str("method", method).
		Str("url", url).
		Msg("exchange failed")
}

var global atomic.Pointer[Logger]

func init() {
	global.Store(Nop())
}

// SetGlobal replaces the logger used by components built without one.
func SetGlobal(l *Logger) {
	if l == nil {
		l = Nop()
	}
	global.Store(l)
}

// Global returns the process-wide fallback logger. It discards by default.
func Global() *Logger {
	return global.Load()
}
