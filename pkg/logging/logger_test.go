package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("warn", &buf)

	logger.Info("should be dropped")
	logger.Warn("should appear", "key", "value")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Fatalf("info line emitted at warn level: %s", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("warn line missing: %s", out)
	}
}

func TestOutputIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf)
	logger.Info("hello", "booking_id", "abc-123")

	var parsed map[string]any
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if parsed["booking_id"] != "abc-123" {
		t.Fatalf("attribute missing from log line: %v", parsed)
	}
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("verbose", &buf)
	logger.Debug("dropped")
	logger.Info("kept")
	if strings.Contains(buf.String(), "dropped") {
		t.Fatalf("debug emitted at default level")
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("info not emitted at default level")
	}
}
