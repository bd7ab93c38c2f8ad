// Package chainlog provides structured logging for the timechain daemon: a
// thin wrapper over log/slog with per-module child loggers, terminal-aware
// formatting, and an optional rotating file sink.
package chainlog

import (
	"io"
	"log/slog"
	"os"

	colorable "github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps slog.Logger with timechain-specific context.
type Logger struct {
	inner *slog.Logger
}

// defaultLogger is the process-wide logger used by the package-level
// convenience functions.
var defaultLogger *Logger

func init() {
	defaultLogger = New(slog.LevelInfo)
}

// New creates a Logger writing to stderr at the given level. Output is
// colorized text when stderr is a terminal, JSON otherwise.
func New(level slog.Level) *Logger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter creates a Logger writing to w at the given level, applying
// the same terminal-detection logic as New when w is *os.File.
func NewWithWriter(w io.Writer, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		h = slog.NewTextHandler(colorable.NewColorable(f), opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return &Logger{inner: slog.New(h)}
}

// NewWithHandler creates a Logger backed by the supplied slog.Handler. This
// is useful for testing or for writing to a custom destination.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// NewRotatingFile creates a Logger that writes JSON log lines to path,
// rotated by lumberjack once it exceeds maxSizeMB, keeping maxBackups old
// files. A zero maxSizeMB selects lumberjack's own default.
func NewRotatingFile(path string, maxSizeMB, maxBackups int, level slog.Level) *Logger {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	return NewWithHandler(slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: level}))
}

// NewTee creates a Logger that writes JSON to both stderr and a rotating
// file sink, via io.MultiWriter.
func NewTee(path string, maxSizeMB, maxBackups int, level slog.Level) *Logger {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	mw := io.MultiWriter(os.Stderr, sink)
	// MultiWriter destinations are never *os.File, so always JSON: the file
	// sink shouldn't carry ANSI escapes, and a split format between the two
	// destinations would be worse than a consistently plain stderr stream.
	h := slog.NewJSONHandler(mw, &slog.HandlerOptions{Level: level})
	return &Logger{inner: slog.New(h)}
}

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default returns the current package-level default logger.
func Default() *Logger {
	return defaultLogger
}

// Module returns a child logger with an additional "module" attribute —
// the primary way subsystems (timechain, sidecar, metrics, ...) obtain
// their own contextual logger.
func (l *Logger) Module(name string) *Logger {
	return &Logger{inner: l.inner.With("module", name)}
}

// With returns a child logger with additional key-value context.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.inner.Info(msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.inner.Warn(msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

// ---------------------------------------------------------------------------
// Package-level convenience functions -- delegate to defaultLogger.
// ---------------------------------------------------------------------------

// Debug logs at LevelDebug using the default logger.
func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }

// Info logs at LevelInfo using the default logger.
func Info(msg string, args ...any) { defaultLogger.Info(msg, args...) }

// Warn logs at LevelWarn using the default logger.
func Warn(msg string, args ...any) { defaultLogger.Warn(msg, args...) }

// Error logs at LevelError using the default logger.
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }
