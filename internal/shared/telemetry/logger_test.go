package telemetry

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestWriteEmitsJSONLine(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	Warn("enrich.fallback", map[string]any{"component": "summary", "strategy": "llm"})

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", line, err)
	}
	if entry["level"] != "warn" || entry["msg"] != "enrich.fallback" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry["component"] != "summary" {
		t.Fatalf("expected component field, got %+v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts field")
	}
}
