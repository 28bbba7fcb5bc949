package fibersched

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLogLevel_String(t *testing.T) {
	cases := map[LogLevel]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
	}
	for lvl, want := range cases {
		if got := lvl.String(); got != want {
			t.Fatalf("LogLevel(%d).String() = %q, want %q", lvl, got, want)
		}
	}
	if got := LogLevel(99).String(); !strings.Contains(got, "UNKNOWN") {
		t.Fatalf("expected UNKNOWN fallback, got %q", got)
	}
}

func TestWriterLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LevelWarn, &buf)

	l.Log(LogEntry{Level: LevelInfo, Category: "test", Message: "should be dropped"})
	if buf.Len() != 0 {
		t.Fatalf("expected nothing logged below the configured level, got %q", buf.String())
	}

	l.Log(LogEntry{Level: LevelError, Category: "test", Message: "boom", Err: errors.New("bad")})
	out := buf.String()
	if !strings.Contains(out, "boom") || !strings.Contains(out, "bad") {
		t.Fatalf("expected message and error in output, got %q", out)
	}
}

func TestWriterLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LevelError, &buf)
	if l.IsEnabled(LevelInfo) {
		t.Fatal("expected info disabled initially")
	}
	l.SetLevel(LevelInfo)
	if !l.IsEnabled(LevelInfo) {
		t.Fatal("expected info enabled after SetLevel")
	}
}

func TestWriterLogger_IncludesFiberAndTimerIDs(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LevelDebug, &buf)
	l.Log(LogEntry{Level: LevelDebug, Category: "scheduler", Message: "tick", FiberID: 7, TimerID: 3})
	out := buf.String()
	if !strings.Contains(out, "fiber=7") || !strings.Contains(out, "timer=3") {
		t.Fatalf("expected fiber and timer ids in output, got %q", out)
	}
}

func TestNoOpLogger_NeverEnabled(t *testing.T) {
	l := NewNoOpLogger()
	for _, lvl := range []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		if l.IsEnabled(lvl) {
			t.Fatalf("expected NoOpLogger disabled for %v", lvl)
		}
	}
	l.Log(LogEntry{Level: LevelError, Message: "ignored"})
}

func TestLogEntryBuilder_BuildsExpectedEntry(t *testing.T) {
	entry := NewLogEntry(LevelWarn, "reactor", "poll slow").
		FiberID(1).
		TimerID(2).
		Field("k1", "v1").
		Fields(map[string]interface{}{"k2": "v2"}).
		Err(errors.New("timeout")).
		Build()

	if entry.Level != LevelWarn || entry.Category != "reactor" || entry.Message != "poll slow" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.FiberID != 1 || entry.TimerID != 2 {
		t.Fatalf("expected fiber/timer ids set, got %+v", entry)
	}
	if entry.Context["k1"] != "v1" || entry.Context["k2"] != "v2" {
		t.Fatalf("expected both fields present, got %+v", entry.Context)
	}
	if entry.Err == nil || entry.Err.Error() != "timeout" {
		t.Fatalf("expected err set, got %v", entry.Err)
	}
}

func TestContextFields_ExtractsCorrelationAndTraceIDs(t *testing.T) {
	ctx := context.Background()
	if fields := ContextFields(ctx); len(fields) != 0 {
		t.Fatalf("expected empty fields for bare context, got %+v", fields)
	}

	ctx = WithCorrelationID(ctx, "corr-1")
	ctx = WithTraceID(ctx, "trace-1")
	fields := ContextFields(ctx)
	if fields["correlationID"] != "corr-1" || fields["traceID"] != "trace-1" {
		t.Fatalf("expected both ids extracted, got %+v", fields)
	}
}

func TestContextFields_NilContext(t *testing.T) {
	if fields := ContextFields(nil); len(fields) != 0 {
		t.Fatalf("expected empty fields for nil context, got %+v", fields)
	}
}

func TestLogHelpers_RespectLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LevelError, &buf)

	LogDebug(l, "cat", "msg", nil)
	LogInfo(l, "cat", "msg", nil)
	LogWarn(l, "cat", "msg", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected nothing logged below error, got %q", buf.String())
	}

	LogError(l, "cat", "failure", errors.New("x"), nil)
	if buf.Len() == 0 {
		t.Fatal("expected the error-level log to be written")
	}
}

func TestLogErrorf_FormatsMessage(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LevelError, &buf)
	LogErrorf(l, "cat", "failed after %d retries", 3)
	if !strings.Contains(buf.String(), "failed after 3 retries") {
		t.Fatalf("expected formatted message, got %q", buf.String())
	}
}

func TestGlobalLogger_DefaultsToNoOp(t *testing.T) {
	SetStructuredLogger(nil)
	if _, ok := getGlobalLogger().(*NoOpLogger); !ok {
		t.Fatalf("expected NoOpLogger default, got %T", getGlobalLogger())
	}
}

func TestSetStructuredLogger_ChangesGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(LevelDebug, &buf)
	SetStructuredLogger(l)
	defer SetStructuredLogger(nil)

	SInfo("test", "hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected message logged through global logger, got %q", buf.String())
	}
}

func TestLogEntryOptions(t *testing.T) {
	e := LogEntry{}
	opts := []LogEntryOption{
		WithFiberID(9),
		WithTimerID(4),
		WithField("a", 1),
		WithFields(map[string]interface{}{"b": 2}),
	}
	for _, opt := range opts {
		opt(&e)
	}
	if e.FiberID != 9 || e.TimerID != 4 {
		t.Fatalf("expected ids set, got %+v", e)
	}
	if e.Context["a"] != 1 || e.Context["b"] != 2 {
		t.Fatalf("expected both fields present, got %+v", e.Context)
	}
}

func TestSpecialtyLogHelpers_DoNotPanic(t *testing.T) {
	var buf bytes.Buffer
	SetStructuredLogger(NewWriterLogger(LevelDebug, &buf))
	defer SetStructuredLogger(nil)

	LogTimerScheduled(1, time.Millisecond, "test timer")
	LogTimerFired(1, time.Millisecond)
	LogTimerCanceled(1, time.Millisecond)
	LogFiberPanicked(2, "boom", []byte("stack"))
	LogPollIOError(errors.New("epoll_wait failed"), true)

	out := buf.String()
	for _, want := range []string{"timer scheduled", "timer fired", "timer canceled", "fiber panicked", "poll error"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in log output, got %q", want, out)
		}
	}
}

func TestAppendJSONString_EscapesControlCharacters(t *testing.T) {
	got := appendJSONString(nil, "line\nbreak\ttab\"quote")
	want := `"line\nbreak\ttab\"quote"`
	if got != want {
		t.Fatalf("appendJSONString = %q, want %q", got, want)
	}
}

func TestHexByte(t *testing.T) {
	if hexByte(0) != '0' || hexByte(9) != '9' || hexByte(10) != 'a' || hexByte(15) != 'f' {
		t.Fatal("unexpected hex digit mapping")
	}
}

func TestLogifaceLogger_WritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	z := zerolog.New(&buf)
	l := NewLogifaceLogger(z, LevelInfo)

	if l.IsEnabled(LevelDebug) {
		t.Fatal("expected debug disabled at info level")
	}
	l.Log(LogEntry{Level: LevelInfo, Category: "scheduler", Message: "fiber resumed", FiberID: 3})

	out := buf.String()
	if !strings.Contains(out, "fiber resumed") || !strings.Contains(out, "scheduler") {
		t.Fatalf("expected message routed through zerolog, got %q", out)
	}
}

func TestDefaultLogger_WritesJSONToNonTerminal(t *testing.T) {
	path := t.TempDir() + "/log.jsonl"
	l, err := NewFileLogger(LevelInfo, path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer l.Out.Close()

	l.Log(LogEntry{Level: LevelInfo, Category: "reactor", Message: "started"})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if out := string(data); !strings.Contains(out, `"category":"reactor"`) || !strings.Contains(out, `"message":"started"`) {
		t.Fatalf("expected a JSON log line, got %q", out)
	}
	l.SetLevel(LevelWarn)
	if l.IsEnabled(LevelInfo) {
		t.Fatal("expected info disabled after SetLevel(LevelWarn)")
	}
}
