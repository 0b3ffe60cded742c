package logging

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"info", "info", slog.LevelInfo},
		{"debug", "debug", slog.LevelDebug},
		{"trace", "trace", LevelTrace},
		{"uppercase INFO", "INFO", slog.LevelInfo},
		{"mixed case Debug", "Debug", slog.LevelDebug},
		{"unknown defaults to info", "verbose", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger_TraceLabel(t *testing.T) {
	var sb strings.Builder
	logger := NewLogger("trace", &sb)
	logger.Log(nil, LevelTrace, "raw line", "line", `{"op":"ping"}`)

	if !strings.Contains(sb.String(), "TRACE") {
		t.Errorf("trace output missing TRACE label: %q", sb.String())
	}
}

func TestNewTraceLogger_InfoLevelDisabled(t *testing.T) {
	dir := t.TempDir()
	tl := NewTraceLogger(dir, "info")
	if tl != nil {
		t.Fatal("NewTraceLogger at info level should return nil")
	}

	// Nil receiver is safe.
	tl.Log(map[string]any{"event": "state"})
	tl.Close()

	if _, err := os.Stat(filepath.Join(dir, "session.jsonl")); !os.IsNotExist(err) {
		t.Error("session.jsonl should not exist at info level")
	}
}

func TestTraceLogger_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	tl := NewTraceLogger(dir, "debug")
	if tl == nil {
		t.Fatal("NewTraceLogger returned nil at debug level")
	}
	defer tl.Close()

	tl.Log(map[string]any{"event": "stateChanged", "state": "running"})
	tl.Log(map[string]any{"event": "stepped", "tick": 5})

	f, err := os.Open(filepath.Join(dir, "session.jsonl"))
	if err != nil {
		t.Fatalf("open trace file: %v", err)
	}
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		lines = append(lines, entry)
	}

	if len(lines) != 2 {
		t.Fatalf("got %d trace lines, want 2", len(lines))
	}
	if lines[0]["event"] != "stateChanged" {
		t.Errorf("first event = %v, want stateChanged", lines[0]["event"])
	}
	if _, ok := lines[0]["time"]; !ok {
		t.Error("trace entry missing time field")
	}
	if tick, ok := lines[1]["tick"].(float64); !ok || tick != 5 {
		t.Errorf("second event tick = %v, want 5", lines[1]["tick"])
	}
}
