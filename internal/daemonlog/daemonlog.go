// Package daemonlog wires log/slog the way pkg/log/multislogger fans a
// single *slog.Logger out to multiple handlers: a rotating file (lumberjack)
// always present, plus an in-memory ring of recent records for
// "dm-toolctl doctor"-style diagnostics; cmd/lightdmd also passes a stderr
// handler on every run.
package daemonlog

import (
	"context"
	"log/slog"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// MultiLogger fans one *slog.Logger out to any number of slog.Handlers,
// addable at runtime -- the same shape as pkg/log/multislogger.
type MultiLogger struct {
	mu       sync.Mutex
	handlers []slog.Handler
	Logger   *slog.Logger
}

// New wraps the given handlers. With none, Logger discards everything.
func New(handlers ...slog.Handler) *MultiLogger {
	m := &MultiLogger{handlers: handlers}
	m.Logger = slog.New(m)
	return m
}

// AddHandler attaches another handler; existing attrs/groups already
// applied to the MultiLogger's Logger are not retroactively applied to it.
func (m *MultiLogger) AddHandler(h slog.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

func (m *MultiLogger) Enabled(ctx context.Context, level slog.Level) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiLogger) Handle(ctx context.Context, record slog.Record) error {
	m.mu.Lock()
	handlers := append([]slog.Handler(nil), m.handlers...)
	m.mu.Unlock()

	var firstErr error
	for _, h := range handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiLogger) WithAttrs(attrs []slog.Attr) slog.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &MultiLogger{handlers: next}
}

func (m *MultiLogger) WithGroup(name string) slog.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &MultiLogger{handlers: next}
}

// NewFileHandler builds a JSON slog.Handler backed by a rotating log file.
func NewFileHandler(path string, level slog.Leveler) slog.Handler {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // MB
		MaxBackups: 3,
		Compress:   true,
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}
