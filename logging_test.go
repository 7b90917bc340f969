package ioloop

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/require"
)

// recordingLogger captures entries for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (r *recordingLogger) Log(entry LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingLogger) IsEnabled(LogLevel) bool { return true }

func (r *recordingLogger) byCategory(cat string) []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LogEntry
	for _, e := range r.entries {
		if e.Category == cat {
			out = append(out, e)
		}
	}
	return out
}

func TestStructuredLoggerReceivesCloseEvents(t *testing.T) {
	rec := &recordingLogger{}
	SetStructuredLogger(rec)
	defer SetStructuredLogger(nil)

	l, err := New()
	require.NoError(t, err)

	tm := NewTimer(l)
	require.NoError(t, tm.Close(nil))
	require.NoError(t, l.Run(RunDefault))

	got := rec.byCategory("close")
	require.NotEmpty(t, got, "handle close emits a structured entry")
	require.Equal(t, LevelDebug, got[0].Level)
	require.Equal(t, l.id, got[0].LoopID)
	require.Equal(t, "timer", got[0].Context["kind"])

	require.NoError(t, l.Close())
}

func TestDefaultLoggerOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	f, err := os.Create(path)
	require.NoError(t, err)

	lg := NewDefaultLogger(LevelDebug)
	lg.Out = f
	lg.Log(LogEntry{
		Level:    LevelWarn,
		Category: "poll",
		LoopID:   7,
		Message:  "spurious wakeup",
		Context:  map[string]any{"events": 3},
	})
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	require.Contains(t, out, "WARN")
	require.Contains(t, out, "[poll]")
	require.Contains(t, out, "loop=7")
	require.Contains(t, out, "spurious wakeup")
	require.Contains(t, out, "events=3")
}

func TestDefaultLoggerLevelFilter(t *testing.T) {
	lg := NewDefaultLogger(LevelError)
	require.False(t, lg.IsEnabled(LevelDebug))
	require.False(t, lg.IsEnabled(LevelWarn))
	require.True(t, lg.IsEnabled(LevelError))
	lg.SetLevel(LevelDebug)
	require.True(t, lg.IsEnabled(LevelDebug))
}

func TestLogLevelStrings(t *testing.T) {
	require.Equal(t, "DEBUG", LevelDebug.String())
	require.Equal(t, "INFO", LevelInfo.String())
	require.Equal(t, "WARN", LevelWarn.String())
	require.Equal(t, "ERROR", LevelError.String())
	require.True(t, strings.HasPrefix(LogLevel(42).String(), "UNKNOWN"))
}

func TestNoOpLoggerDiscards(t *testing.T) {
	lg := NewNoOpLogger()
	require.False(t, lg.IsEnabled(LevelError))
	lg.Log(LogEntry{Level: LevelError, Message: "dropped"})
}

// --- logiface integration, the way the rest of the monorepo consumes
// structured logs ---

// lfEvent is a minimal logiface.Event implementation.
type lfEvent struct {
	logiface.UnimplementedEvent
	level  logiface.Level
	fields map[string]any
}

func (e *lfEvent) Level() logiface.Level { return e.level }
func (e *lfEvent) AddField(key string, val any) {
	if e.fields == nil {
		e.fields = map[string]any{}
	}
	e.fields[key] = val
}

type lfEventFactory struct{}

func (lfEventFactory) NewEvent(level logiface.Level) *lfEvent {
	return &lfEvent{level: level}
}

type lfEventWriter struct {
	onWrite func(*lfEvent) error
}

func (w *lfEventWriter) Write(event *lfEvent) error {
	if w.onWrite != nil {
		return w.onWrite(event)
	}
	return nil
}

// logifaceBridge adapts a logiface logger to this package's Logger.
type logifaceBridge struct {
	l *logiface.Logger[*lfEvent]
}

func (b *logifaceBridge) IsEnabled(LogLevel) bool { return true }

func (b *logifaceBridge) Log(entry LogEntry) {
	bld := b.l.Info()
	if entry.Level >= LevelError {
		bld = b.l.Err()
	}
	bld.Str("category", entry.Category).
		Uint64("loop", entry.LoopID).
		Log(entry.Message)
}

func TestLogifaceIntegration(t *testing.T) {
	var mu sync.Mutex
	var written []*lfEvent
	writer := &lfEventWriter{onWrite: func(event *lfEvent) error {
		mu.Lock()
		defer mu.Unlock()
		written = append(written, event)
		return nil
	}}
	typed := logiface.New[*lfEvent](
		logiface.WithEventFactory[*lfEvent](lfEventFactory{}),
		logiface.WithWriter[*lfEvent](writer),
	)

	SetStructuredLogger(&logifaceBridge{l: typed})
	defer SetStructuredLogger(nil)

	l, err := New()
	require.NoError(t, err)
	tm := NewTimer(l)
	require.NoError(t, tm.Close(nil))
	require.NoError(t, l.Run(RunDefault))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, written, "entries flow through the logiface pipeline")
	require.NoError(t, l.Close())
}
