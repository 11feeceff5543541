// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package vtstream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

// liveAnalyzers holds analyzers that follow the package logger.
var liveAnalyzers sync.Map // *Analyzer -> struct{}

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for vtstream and all analyzers that were
// not given their own logger with WithLogger. By default, vtstream produces
// no log output.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by vtstream:
//   - [slog.LevelDebug]: dropped feedback texels, queue overflow
//   - [slog.LevelInfo]: streaming worker start and stop
//   - [slog.LevelWarn]: page load or upload failures
//   - [slog.LevelError]: frame API contract violations
//
// Example:
//
//	vtstream.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	liveAnalyzers.Range(func(k, _ any) bool {
		propagateLogger(k.(*Analyzer), l)
		return true
	})
}

// Logger returns the current logger used by vtstream.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// propagateLogger hands l to the analyzer's decoder and streaming worker.
func propagateLogger(a *Analyzer, l *slog.Logger) {
	a.logger.Store(l)
	a.decoder.SetLogger(l)
	a.streamer.SetLogger(l)
}
