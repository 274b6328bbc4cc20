package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newCaptureLogger(level Level, formatter Formatter) (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger(
		WithLevel(level),
		WithFormatter(formatter),
		WithOutput(&WriterOutput{W: &buf}),
	)
	return l, &buf
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", InfoLevel, false},
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"warn", WarnLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"loud", InfoLevel, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseLevel(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLevelGate(t *testing.T) {
	l, buf := newCaptureLogger(WarnLevel, &TextFormatter{DisableTimestamp: true})
	l.Debug("too quiet")
	l.Info("still too quiet")
	l.Warn("heard")
	out := buf.String()
	if strings.Contains(out, "too quiet") {
		t.Fatalf("below-level messages leaked: %q", out)
	}
	if !strings.Contains(out, "heard") {
		t.Fatalf("warn message missing: %q", out)
	}
}

func TestTextFormatterFields(t *testing.T) {
	l, buf := newCaptureLogger(DebugLevel, &TextFormatter{DisableTimestamp: true})
	l.Info("publish", Str("stream", "episodes"), Int("n", 3))
	out := buf.String()
	if !strings.Contains(out, "INFO publish") {
		t.Fatalf("missing level/message: %q", out)
	}
	if !strings.Contains(out, "stream=episodes") || !strings.Contains(out, "n=3") {
		t.Fatalf("missing fields: %q", out)
	}
}

func TestJSONFormatter(t *testing.T) {
	l, buf := newCaptureLogger(DebugLevel, &JSONFormatter{})
	l.Info("flush", Uint64("entries", 42))
	var data map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data["msg"] != "flush" {
		t.Fatalf("msg = %v", data["msg"])
	}
	if data["level"] != "INFO" {
		t.Fatalf("level = %v", data["level"])
	}
	if data["entries"] != float64(42) {
		t.Fatalf("entries = %v", data["entries"])
	}
}

func TestWithPropagatesFields(t *testing.T) {
	l, buf := newCaptureLogger(DebugLevel, &TextFormatter{DisableTimestamp: true})
	child := l.WithComponent("journal").With(Str("stream", "episodes"))
	child.Info("opened")
	out := buf.String()
	if !strings.Contains(out, "component=journal") {
		t.Fatalf("component field missing: %q", out)
	}
	if !strings.Contains(out, "stream=episodes") {
		t.Fatalf("inherited field missing: %q", out)
	}

	buf.Reset()
	l.Info("bare")
	if strings.Contains(buf.String(), "component=journal") {
		t.Fatalf("parent logger mutated: %q", buf.String())
	}
}

func TestApplyConfig(t *testing.T) {
	logger, err := ApplyConfig(&Config{Level: "error", Format: "text"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if logger.GetLevel() != ErrorLevel {
		t.Fatalf("level = %v, want error", logger.GetLevel())
	}
	if _, err := ApplyConfig(&Config{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
