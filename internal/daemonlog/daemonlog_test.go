package daemonlog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type recordingHandler struct {
	enabled bool
	records []slog.Record
	failAll bool
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return h.enabled }

func (h *recordingHandler) Handle(_ context.Context, record slog.Record) error {
	if h.failAll {
		return errBoom
	}
	h.records = append(h.records, record)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func TestMultiLogger_FansOutToAllEnabledHandlers(t *testing.T) {
	a := &recordingHandler{enabled: true}
	b := &recordingHandler{enabled: true}
	m := New(a, b)

	m.Logger.Info("hello")

	require.Len(t, a.records, 1)
	require.Len(t, b.records, 1)
	require.Equal(t, "hello", a.records[0].Message)
}

func TestMultiLogger_SkipsDisabledHandlers(t *testing.T) {
	a := &recordingHandler{enabled: false}
	b := &recordingHandler{enabled: true}
	m := New(a, b)

	m.Logger.Info("hello")

	require.Empty(t, a.records)
	require.Len(t, b.records, 1)
}

func TestMultiLogger_AddHandlerAttachesAtRuntime(t *testing.T) {
	a := &recordingHandler{enabled: true}
	m := New()

	m.AddHandler(a)
	m.Logger.Warn("added later")

	require.Len(t, a.records, 1)
}

func TestMultiLogger_EnabledReflectsAnyHandler(t *testing.T) {
	a := &recordingHandler{enabled: false}
	b := &recordingHandler{enabled: true}
	m := New(a, b)

	require.True(t, m.Enabled(context.Background(), slog.LevelInfo))

	m2 := New(a)
	require.False(t, m2.Enabled(context.Background(), slog.LevelInfo))
}

func TestMultiLogger_HandleReturnsFirstError(t *testing.T) {
	a := &recordingHandler{enabled: true, failAll: true}
	b := &recordingHandler{enabled: true}
	m := New(a, b)

	err := m.Handle(context.Background(), slog.Record{Message: "x"})
	require.ErrorIs(t, err, errBoom)
	// b still runs despite a's failure.
	require.Len(t, b.records, 1)
}

func ringLine(t *testing.T, line string) string {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	msg, _ := entry["msg"].(string)
	return msg
}

func TestRing_GetAllReturnsOldestFirstAndWraps(t *testing.T) {
	r := NewRing(3)
	h := r.Handler(nil)

	for _, msg := range []string{"one", "two", "three", "four"} {
		require.NoError(t, h.Handle(context.Background(), slog.Record{Message: msg}))
	}

	all := r.GetAll()
	require.Len(t, all, 3)
	require.Equal(t, []string{"two", "three", "four"}, []string{
		ringLine(t, all[0]), ringLine(t, all[1]), ringLine(t, all[2]),
	})
}

func TestRing_GetAllBeforeFullReturnsOnlyPushed(t *testing.T) {
	r := NewRing(5)
	h := r.Handler(nil)

	require.NoError(t, h.Handle(context.Background(), slog.Record{Message: "only"}))

	all := r.GetAll()
	require.Len(t, all, 1)
	require.Equal(t, "only", ringLine(t, all[0]))
}

func TestRing_RespectsLevelFilter(t *testing.T) {
	r := NewRing(5)
	h := r.Handler(&slog.HandlerOptions{Level: slog.LevelWarn})

	require.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	require.True(t, h.Enabled(context.Background(), slog.LevelWarn))
}

func TestRing_WithAttrsIncludesThemInOutput(t *testing.T) {
	r := NewRing(2)
	h := r.Handler(nil).WithAttrs([]slog.Attr{slog.String("seat", "seat0")})

	require.NoError(t, h.Handle(context.Background(), slog.Record{Message: "hi"}))

	all := r.GetAll()
	require.Len(t, all, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(all[0]), &entry))
	require.Equal(t, "seat0", entry["seat"])
}

func TestNewFileHandler_RespectsLevel(t *testing.T) {
	path := t.TempDir() + "/lightdmd.log"
	h := NewFileHandler(path, slog.LevelInfo)
	require.NotNil(t, h)
	require.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	require.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}
