package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewTagsEveryLineWithService(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "ride-dispatch")
	logger.Info("booking created", "booking_id", 42)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if line["service"] != "ride-dispatch" {
		t.Fatalf("want service=ride-dispatch, got %v", line["service"])
	}
	if line["msg"] != "booking created" {
		t.Fatalf("want msg preserved, got %v", line["msg"])
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "ride-dispatch")
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line must be filtered at warn level, got %q", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn line must pass at warn level")
	}
}

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Leveler{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		" error ": slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := levelFromString(in); got != want {
			t.Errorf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
