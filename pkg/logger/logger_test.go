package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"WARN", WARN},
		{"warning", WARN},
		{" error ", ERROR},
		{"", INFO},
		{"verbose", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFileSinkAndReadRecent(t *testing.T) {
	var console bytes.Buffer
	SetConsoleOutput(&console)
	defer SetConsoleOutput(os.Stderr)

	path := filepath.Join(t.TempDir(), "logs", "halbridge.log")
	if err := Init(Options{Level: "debug", FilePath: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer func() {
		DisableFileLogging()
		SetLevel(INFO)
	}()

	InfoCF("router", "Command dispatched", map[string]interface{}{"command": "ScanBarcode", "correlation_id": "c-1"})
	WarnCF("router", "Unknown command ignored", map[string]interface{}{"command": "Nope", "correlation_id": "c-2"})
	DebugC("page", "loaded")

	if got := FilePath(); got != path {
		t.Fatalf("FilePath() = %q, want %q", got, path)
	}

	all, err := ReadRecent(path, Query{})
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(all))
	}

	warn, err := ReadRecent(path, Query{MinLevel: "WARN"})
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(warn) != 1 || warn[0].Message != "Unknown command ignored" {
		t.Fatalf("unexpected WARN entries: %+v", warn)
	}

	byID, _ := ReadRecent(path, Query{CorrelationID: "c-1"})
	if len(byID) != 1 || byID[0].Component != "router" {
		t.Fatalf("unexpected correlation entries: %+v", byID)
	}

	byKeyword, _ := ReadRecent(path, Query{Keyword: "scanbarcode"})
	if len(byKeyword) != 1 {
		t.Fatalf("keyword filter matched %d entries, want 1", len(byKeyword))
	}

	if !strings.Contains(console.String(), "router: Unknown command ignored") {
		t.Fatalf("console output missing line: %q", console.String())
	}
}

func TestLevelFiltersOutput(t *testing.T) {
	var console bytes.Buffer
	SetConsoleOutput(&console)
	defer SetConsoleOutput(os.Stderr)

	SetLevel(WARN)
	defer SetLevel(INFO)

	InfoC("idle", "should be dropped")
	ErrorC("idle", "kept")

	out := console.String()
	if strings.Contains(out, "should be dropped") {
		t.Fatalf("INFO line written at WARN level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("ERROR line missing: %q", out)
	}
}

func TestFormatEntryTruncatesLongFields(t *testing.T) {
	e := LogEntry{
		Level:     "INFO",
		Timestamp: "2026-01-01T00:00:00Z",
		Component: "evaluator",
		Message:   "Script evaluated",
		Fields:    map[string]interface{}{"script": strings.Repeat("x", 500)},
	}
	line := FormatEntry(e)
	if !strings.Contains(line, "[evaluator] Script evaluated") {
		t.Fatalf("unexpected line: %q", line)
	}
	if strings.Count(line, "x") > 210 {
		t.Fatalf("field not truncated: %d chars", len(line))
	}
}
