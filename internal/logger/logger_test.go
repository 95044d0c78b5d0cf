package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[Level]slog.Level{
		LevelDebug: slog.LevelDebug,
		LevelInfo:  slog.LevelInfo,
		LevelWarn:  slog.LevelWarn,
		LevelError: slog.LevelError,
		"verbose":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: LevelWarn, Format: FormatJSON}, &buf)
	defer Init(DefaultConfig(), nil)

	L().Info("hidden")
	L().With("component", "test").Warn("shown", "key", "value")

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered at warn level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", out, err)
	}
	if rec["msg"] != "shown" || rec["component"] != "test" || rec["key"] != "value" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestInitText(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: LevelDebug, Format: FormatText}, &buf)
	defer Init(DefaultConfig(), nil)

	L().Debug("details", "n", 3)
	if !strings.Contains(buf.String(), "msg=details") || !strings.Contains(buf.String(), "n=3") {
		t.Errorf("unexpected text output %q", buf.String())
	}
}
