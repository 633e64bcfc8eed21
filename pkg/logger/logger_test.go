package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
}

func TestLoggerWritesFields(t *testing.T) {
	_ = SetLevelString("info")
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	l.Info(context.Background(), "pick tracked",
		String("session", "s-1"),
		Int("pick", 7),
		Bool("flagged", true),
		Duration("took", 3*time.Millisecond),
		Error(errors.New("boom")),
	)

	out := buf.String()
	for _, want := range []string{"pick tracked", "session=s-1", "pick=7", "flagged=true", "took=3ms", "error=boom", "source="} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output %q", want, out)
		}
	}
}

func TestLoggerNamedAndWith(t *testing.T) {
	_ = SetLevelString("info")
	var buf bytes.Buffer
	l := NewWithWriter(&buf).Named("tracker").With(String("session", "s-9"))

	l.Warn(context.Background(), "conflict")

	out := buf.String()
	if !strings.Contains(out, "component=tracker") || !strings.Contains(out, "session=s-9") {
		t.Errorf("missing inherited attributes in %q", out)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	if err := SetLevelString("warn"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	defer func() { _ = SetLevelString("info") }()

	l.Info(context.Background(), "hidden")
	l.Debug(context.Background(), "hidden too")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got %q", buf.String())
	}

	l.Error(context.Background(), "visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("expected error record, got %q", buf.String())
	}
}

func TestSetLevelString(t *testing.T) {
	for _, lvl := range []string{"debug", "INFO", " warn ", "warning", "error", ""} {
		if err := SetLevelString(lvl); err != nil {
			t.Errorf("level %q: unexpected error %v", lvl, err)
		}
	}
	if err := SetLevelString("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
	_ = SetLevelString("info")
}

func TestNopLogger(t *testing.T) {
	l := Nop()
	l.Info(context.Background(), "discarded")
	l.Named("x").With(Int("n", 1)).Error(context.Background(), "discarded")
}
