package clypsalot

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLogEngineDeliversToHandlers(t *testing.T) {
	var buf bytes.Buffer
	engine := NewLogEngine(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug - 16}))

	engine.Logf("test", SeverityInfo, "hello %s", "world")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected valid JSON log line, got error: %v (%s)", err, buf.String())
	}
	if record["msg"] != "hello world" {
		t.Errorf("expected message %q, got %v", "hello world", record["msg"])
	}
	if record["severity"] != "info" {
		t.Errorf("expected severity info, got %v", record["severity"])
	}
}

func TestLogEngineSkipsDisabledHandlers(t *testing.T) {
	var buf bytes.Buffer
	engine := NewLogEngine(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}))

	engine.Log("test", SeverityTrace, "should not appear")

	if buf.Len() != 0 {
		t.Errorf("expected no output for a severity below the handler's level, got %q", buf.String())
	}
}

func TestSeverityOrdering(t *testing.T) {
	severities := []Severity{
		SeverityTrace, SeverityDebug, SeverityVerbose, SeverityInfo,
		SeverityNotice, SeverityWarn, SeverityError, SeverityFatal,
	}

	for i := 1; i < len(severities); i++ {
		if severities[i].slogLevel() <= severities[i-1].slogLevel() {
			t.Errorf("severity %s did not sort above %s", severities[i], severities[i-1])
		}
	}
}

func TestAddHandlerAppends(t *testing.T) {
	var a, b bytes.Buffer
	engine := NewLogEngine(slog.NewTextHandler(&a, nil))
	engine.AddHandler(slog.NewTextHandler(&b, nil))

	engine.Log("test", SeverityInfo, "fan out")

	if a.Len() == 0 || b.Len() == 0 {
		t.Errorf("expected both handlers to receive the event, got a=%d bytes b=%d bytes", a.Len(), b.Len())
	}
}
