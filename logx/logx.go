// File: logx/logx.go
// Package logx provides a leveled logging façade over log/slog for the
// timing/event-dispatch core.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fire-and-forget, no format stability guarantee: callers must not parse
// log output.

package logx

import (
	"context"
	"log/slog"
	"os"
)

// LevelVerbose sits below slog.LevelDebug, matching the err/warn/info/debug/verbose
// contract the rest of the core depends on.
const LevelVerbose = slog.Level(-8)

// Logger wraps a *slog.Logger with the core's five-level contract.
type Logger struct {
	sl *slog.Logger
}

var std = New(os.Stderr)

// New constructs a Logger writing structured text to w.
func New(w *os.File) *Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: LevelVerbose})
	return &Logger{sl: slog.New(h)}
}

// Default returns the process-wide logger.
func Default() *Logger { return std }

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) { std = l }

// With returns a Logger that always includes the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sl: l.sl.With(args...)}
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	l.sl.Log(context.Background(), level, msg, args...)
}

// Err logs at error level.
func (l *Logger) Err(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Verbose logs below debug level, for per-entry tracing that would otherwise flood logs.
func (l *Logger) Verbose(msg string, args ...any) { l.log(LevelVerbose, msg, args...) }

// Err logs at error level on the default logger.
func Err(msg string, args ...any) { std.Err(msg, args...) }

// Warn logs at warn level on the default logger.
func Warn(msg string, args ...any) { std.Warn(msg, args...) }

// Info logs at info level on the default logger.
func Info(msg string, args ...any) { std.Info(msg, args...) }

// Debug logs at debug level on the default logger.
func Debug(msg string, args ...any) { std.Debug(msg, args...) }

// Verbose logs below debug level on the default logger.
func Verbose(msg string, args ...any) { std.Verbose(msg, args...) }
