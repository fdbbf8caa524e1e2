package boot

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the bootloader's logging hook. All methods are safe to call
// with a nil receiver's zero value (NoopLogger) when the caller doesn't
// want logging at all.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// NoopLogger discards everything. It is the default when no Logger is
// configured.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...interface{}) {}
func (NoopLogger) Info(string, ...interface{})  {}
func (NoopLogger) Error(string, ...interface{}) {}

// ZerologLogger adapts a zerolog.Logger to the Logger interface and is the
// bootloader's production logger.
type ZerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger builds a ZerologLogger writing structured JSON lines to
// w (use os.Stdout/os.Stderr, or a file opened by the caller).
func NewZerologLogger(w io.Writer) *ZerologLogger {
	return &ZerologLogger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// NewConsoleLogger builds a ZerologLogger with zerolog's human-readable
// console writer, used by the CLIs for interactive runs.
func NewConsoleLogger() *ZerologLogger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return &ZerologLogger{zl: zerolog.New(cw).With().Timestamp().Logger()}
}

func (l *ZerologLogger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}
