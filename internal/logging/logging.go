// Package logging provides Chronicle's structured diagnostic logging.
// Every hook invocation logs to a rotating file under the install
// directory (spec §7) — never to stdout, which is reserved for the
// hook's JSON response — using component-scoped child loggers in the
// same shape as the pack's zerolog-based logger packages.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger plus the rotating sink backing it, so
// callers can Close() it to close the log file.
type Logger struct {
	zerolog.Logger
	sink *rotatingFile
}

// New builds the root logger, writing JSON lines to
// <installDir>/logs/chronicle.log with 5 MiB x 5 file rotation
// (spec §7), unless silent is true, in which case only error-level and
// above diagnostics are ever written (spec §4.1 "log.silent").
func New(installDir, level string, silent bool) (*Logger, error) {
	logDir := filepath.Join(installDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	sink, err := newRotatingFile(filepath.Join(logDir, "chronicle.log"), maxFileBytes, maxBackups)
	if err != nil {
		return nil, err
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if silent && lvl < zerolog.ErrorLevel {
		lvl = zerolog.ErrorLevel
	}

	var w io.Writer = sink
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "chronicle").Logger()

	return &Logger{Logger: zl, sink: sink}, nil
}

// Component returns a child logger tagged with a component name, the
// same pattern as the pack's streamspace logger.Security()/Database()
// helpers, generalized to an arbitrary name instead of a fixed set.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close flushes and releases the underlying file sink.
func (l *Logger) Close() error {
	if l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Discard returns a logger that drops everything, used when New fails
// and the hook must still make progress without ever crashing into the
// host.
func Discard() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}
