package daemonlog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Ring holds the last N formatted log records in memory, the pattern
// pkg/log/ringlogger exists for: fast, dependency-free access to recent
// daemon activity for "dm-toolctl doctor" without reading the log file.
type Ring struct {
	mu    sync.Mutex
	buf   []string
	size  int
	pos   int
	count int
}

// NewRing creates a ring holding up to size records.
func NewRing(size int) *Ring {
	return &Ring{buf: make([]string, size), size: size}
}

func (r *Ring) push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.pos] = line
	r.pos = (r.pos + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// GetAll returns the buffered records, oldest first.
func (r *Ring) GetAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, r.count)
	start := (r.pos - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%r.size])
	}
	return out
}

// Handler returns a slog.Handler that appends every record it receives to
// the ring, JSON-encoded.
func (r *Ring) Handler(opts *slog.HandlerOptions) slog.Handler {
	return &ringHandler{ring: r, opts: opts}
}

type ringHandler struct {
	ring  *Ring
	opts  *slog.HandlerOptions
	attrs []slog.Attr
}

func (h *ringHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts != nil && h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *ringHandler) Handle(_ context.Context, record slog.Record) error {
	entry := map[string]any{
		"time":  record.Time,
		"level": record.Level.String(),
		"msg":   record.Message,
	}
	for _, a := range h.attrs {
		entry[a.Key] = a.Value.Any()
	}
	record.Attrs(func(a slog.Attr) bool {
		entry[a.Key] = a.Value.Any()
		return true
	})

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(entry); err != nil {
		return err
	}
	h.ring.push(buf.String())
	return nil
}

func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &ringHandler{ring: h.ring, opts: h.opts}
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return next
}

func (h *ringHandler) WithGroup(string) slog.Handler {
	return h
}
