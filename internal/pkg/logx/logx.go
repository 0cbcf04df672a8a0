/*
Package logx provides a structured logging wrapper based on zerolog.

Both binaries call Init once at startup with the writer their logs belong on: the relay server
logs to stdout, the terminal client to stderr so the chat transcript stays clean. Packages then
take a component logger with Component, or use the package-level helpers for one-off lines.
*/
package logx

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger to write to out.
// Development: Debug level, human-readable console lines.
// Production: Info level, one JSON object per line.
// Every line carries a Unix timestamp and the caller.
func Init(out io.Writer, isDevelopment bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if isDevelopment {
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	log.Logger = zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Logger returns the global logger.
func Logger() *zerolog.Logger {
	return &log.Logger
}

// Component returns a child of the global logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// Info records msg with optional key-value fields.
func Info(msg string, fields ...any) {
	write(Logger().Info(), nil, msg, fields)
}

// Warn records msg with optional key-value fields.
func Warn(msg string, fields ...any) {
	write(Logger().Warn(), nil, msg, fields)
}

// Error records err and msg with optional key-value fields.
func Error(err error, msg string, fields ...any) {
	write(Logger().Error(), err, msg, fields)
}

// Fatal records err and msg, then exits the process with status 1.
func Fatal(err error, msg string, fields ...any) {
	write(Logger().Fatal(), err, msg, fields)
}

// write finishes ev for the helpers above. An odd field list would make zerolog panic, so it
// is dropped and reported instead.
func write(ev *zerolog.Event, err error, msg string, fields []any) {
	if len(fields)%2 != 0 {
		Logger().Warn().
			Int("fields_count", len(fields)).
			Str("log_message", msg).
			Msg("Odd number of log fields, fields ignored.")
		fields = nil
	}
	if err != nil {
		ev = ev.Err(err)
	}

	// skip write and the exported helper
	ev.Fields(fields).CallerSkipFrame(2).Msg(msg)
}
