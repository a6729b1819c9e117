package wspush

import (
	"log/slog"
	"sync"
	"testing"
)

func TestLogger_Interface(t *testing.T) {
	// Verify that *slog.Logger implements our Logger interface
	var _ Logger = slog.Default()
}

func TestDefaultLogger(t *testing.T) {
	logger := defaultLogger()

	if logger == nil {
		t.Fatal("defaultLogger returned nil")
	}

	if logger != slog.Default() {
		t.Error("defaultLogger did not return slog.Default()")
	}
}

// logEntry is one call recorded by recordingLogger.
type logEntry struct {
	level string
	msg   string
	args  []any
}

// recordingLogger collects log calls; safe for concurrent use.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

// count returns how many entries were logged at level.
func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

func TestRecordingLogger_Levels(t *testing.T) {
	logger := &recordingLogger{}
	var _ Logger = logger

	logger.Debug("test debug", "key1", "value1")
	logger.Info("test info", "key2", "value2")
	logger.Warn("test warn", "key3", "value3")
	logger.Error("test error", "key4", "value4")

	for _, level := range []string{"debug", "info", "warn", "error"} {
		if got := logger.count(level); got != 1 {
			t.Errorf("count(%s) = %d, want 1", level, got)
		}
	}
	if logger.entries[0].msg != "test debug" {
		t.Errorf("msg = %s, want 'test debug'", logger.entries[0].msg)
	}
}
