package rhi

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for rhi and all its sub-packages.
// By default rhi produces no log output. Pass nil to restore silence.
//
// The logger is also handed to every registered backend that implements
// SetLogger(*slog.Logger), so native diagnostics share one sink.
//
// Log levels used by rhi:
//   - [slog.LevelDebug]: cache misses, descriptor page growth, barrier batches
//   - [slog.LevelInfo]: backend and adapter selection
//   - [slog.LevelWarn]: non-fatal issues (shader reload failures, release errors)
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	registryMu.RLock()
	var setters []loggerSetter
	for _, b := range backends {
		if ls, ok := b.(loggerSetter); ok {
			setters = append(setters, ls)
		}
	}
	registryMu.RUnlock()
	for _, s := range setters {
		s.SetLogger(l)
	}
}

// Logger returns the current logger used by rhi.
// Sub-packages call this to share the same configuration.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by backends that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}
