// Package logging holds the structured logger used across the backend.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the name of the log file created inside the log directory.
const FileName = "chessdesk.log"

// Logger defines the logging interface used by the server, the worker pool
// and every request handler. Child loggers carry their key/value pairs on
// every record.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// slogLogger is an implementation of Logger that wraps Go's standard slog.Logger.
type slogLogger struct{ l *slog.Logger }

// New wraps l as a Logger.
func New(l *slog.Logger) Logger { return &slogLogger{l: l} }

// Discard returns a Logger that drops every record.
func Discard() Logger { return New(slog.New(slog.DiscardHandler)) }

// Debug logs a debug-level message with optional key-value pairs.
func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }

// Info logs an info-level message with optional key-value pairs.
func (s *slogLogger) Info(msg string, args ...any) { s.l.Info(msg, args...) }

// Warn logs a warning-level message with optional key-value pairs.
func (s *slogLogger) Warn(msg string, args ...any) { s.l.Warn(msg, args...) }

// Error logs an error-level message with optional key-value pairs.
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// With returns a new Logger with the given key-value pairs added to all log messages.
func (s *slogLogger) With(args ...any) Logger { return &slogLogger{l: s.l.With(args...)} }

// ParseLevel maps a level name (debug, info, warn, error) to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", name, err)
	}
	return lvl, nil
}

// Setup builds the process logger. Records are written as JSON to stdout
// and, when dir is not empty, appended to dir/chessdesk.log. The returned
// closer releases the log file. The logger also becomes slog's default.
func Setup(level slog.Level, dir string) (Logger, io.Closer, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(nil)
	if dir != "" {
		f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closer = f
	}
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(l)
	return New(l), closer, nil
}
