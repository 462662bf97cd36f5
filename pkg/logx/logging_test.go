package logx

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func bufLogger(buf *bytes.Buffer) Logger {
	return Logger{base: zerolog.New(buf), hasBase: true}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" Info ", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger not IsZero")
	}
	l.Info("into the void") // must not panic
	l.With(String("k", "v")).Error("still nothing")

	if Nop().IsZero() {
		t.Fatal("Nop() reported IsZero")
	}
	Nop().Warn("dropped")
}

func TestWithAccumulatesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := bufLogger(&buf)

	derived := l.With(String("comp", "dispatch"))
	derived.Info("ready", Int("workers", 3))

	out := buf.String()
	for _, want := range []string{`"comp":"dispatch"`, `"workers":3`, `"message":"ready"`, `"level":"info"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %s: %s", want, out)
		}
	}

	// The parent logger stays unmodified.
	buf.Reset()
	l.Info("plain")
	if strings.Contains(buf.String(), "comp") {
		t.Fatalf("parent logger inherited derived fields: %s", buf.String())
	}
}

func TestFieldHelpersSkipEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := bufLogger(&buf)

	l.Info("clean", Err(nil), Stack("  "))
	out := buf.String()
	if strings.Contains(out, `"err"`) || strings.Contains(out, `"stack"`) {
		t.Fatalf("empty fields rendered: %s", out)
	}

	buf.Reset()
	l.Warn("dirty", Err(errors.New("boom")), Stack("goroutine 1"))
	out = buf.String()
	if !strings.Contains(out, `"err":"boom"`) || !strings.Contains(out, `"stack":"goroutine 1"`) {
		t.Fatalf("fields missing: %s", out)
	}
}

func TestEnabled(t *testing.T) {
	t.Parallel()

	l := Logger{base: zerolog.New(io.Discard).Level(zerolog.InfoLevel), hasBase: true}
	if l.Enabled(LevelDebug) {
		t.Fatal("debug enabled on info logger")
	}
	if !l.Enabled(LevelInfo) || !l.Enabled(LevelError) {
		t.Fatal("info/error not enabled on info logger")
	}

	if !NewConsole("trace").Enabled(LevelTrace) {
		t.Fatal("trace not enabled on trace console logger")
	}
}

func TestFloodWriterDropsBeyondRate(t *testing.T) {
	t.Parallel()

	var next bytes.Buffer
	w := newFloodWriter(&next, 2)

	for i, line := range []string{"a\n", "b\n", "c\n"} {
		n, err := w.Write([]byte(line))
		if err != nil || n != len(line) {
			t.Fatalf("write %d: n=%d err=%v", i, n, err)
		}
	}

	if got := next.String(); got != "a\nb\n" {
		t.Fatalf("passed through %q, want %q", got, "a\nb\n")
	}
	if got := w.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
	})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("file sink", String("comp", "test"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"message":"file sink"`) || !strings.Contains(out, `"comp":"test"`) {
		t.Fatalf("log line missing fields: %s", out)
	}
}

func TestServiceApplySwapsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
	})
	t.Cleanup(func() { _ = svc.Close() })

	// Loggers handed out before Apply must follow the new config.
	svc.Apply(Config{
		Level: "error",
		File:  FileConfig{Enabled: true, Path: path},
	})

	log.Debug("quiet")
	log.Error("loud")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "quiet") {
		t.Fatalf("debug line written after raising level: %s", out)
	}
	if !strings.Contains(out, "loud") {
		t.Fatalf("error line missing: %s", out)
	}
}
