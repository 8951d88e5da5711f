package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestTextLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(
		WithLevel(InfoLevel),
		WithFormatter(&TextFormatter{DisableTimestamp: true}),
		WithOutput(NewWriterOutput(&buf)),
	)
	l.With(Component("server")).Info("tick", Int("admitted", 3), Str("note", "two words"))
	l.Debug("hidden")

	got := buf.String()
	want := `INFO  tick admitted=3 component=server note="two words"` + "\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestJSONLoggerErrorAndRedaction(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(
		WithFormatter(&JSONFormatter{}),
		WithOutput(NewWriterOutput(&buf)),
		WithRedaction("secret"),
	)
	l.Error("boom", Err(errors.New("disk full")), Str("secret", "hunter2"))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if m["level"] != "error" || m["msg"] != "boom" {
		t.Fatalf("unexpected entry: %v", m)
	}
	if m["error"] != "disk full" {
		t.Fatalf("error field: %v", m["error"])
	}
	if m["secret"] != "[REDACTED]" {
		t.Fatalf("secret not redacted: %v", m["secret"])
	}
}

func TestChildLevelIndependent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(WithFormatter(&TextFormatter{DisableTimestamp: true}), WithOutput(NewWriterOutput(&buf)))
	child := parent.WithComponent("child")
	child.SetLevel(ErrorLevel)

	child.Info("dropped")
	parent.Info("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestApplyConfigRejectsUnknownFormat(t *testing.T) {
	if _, err := ApplyConfig(&Config{Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, err := ApplyConfig(&Config{Format: "json", Outputs: []string{"null"}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func TestBridgeFlattensGroups(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormatter(&TextFormatter{DisableTimestamp: true}), WithOutput(NewWriterOutput(&buf)))
	sl := slog.New(l.(*BaseLogger).slogLogger.Handler().WithGroup("spool"))
	sl.Info("counts", slog.Int("pending", 2), slog.Group("dirs", slog.String("root", "/q")))

	want := `INFO  counts spool.dirs.root=/q spool.pending=2` + "\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestSamplingPerWindow(t *testing.T) {
	s := newSampler(2, 3, time.Second)
	base := time.Unix(100, 0)
	var passed int
	for i := 0; i < 8; i++ {
		if s.allow(slog.LevelInfo, "tick", base) {
			passed++
		}
	}
	// 2 initial, then entries 2 and 5 of the remainder
	if passed != 4 {
		t.Fatalf("passed %d", passed)
	}
	if !s.allow(slog.LevelInfo, "tick", base.Add(time.Second)) {
		t.Fatalf("new window should reset counts")
	}
}

func TestPrintfStyleArgs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormatter(&TextFormatter{DisableTimestamp: true}), WithOutput(NewWriterOutput(&buf)))
	l.Warnf("odd", "k", 1, "dangling")
	if got := buf.String(); got != "WARN  odd arg2=dangling k=1\n" {
		t.Fatalf("got %q", got)
	}
}
