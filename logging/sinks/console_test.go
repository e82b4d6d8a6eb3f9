package sinks

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"spellforge/server/logging"
)

func TestConsoleSinkFlattensMapPayload(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, logging.ConsoleConfig{})
	err := sink.Write(logging.Event{
		Type:     "toggle.deactivated",
		Tick:     42,
		Time:     time.Date(2024, 1, 1, 15, 4, 5, 0, time.UTC),
		Actor:    logging.EntityRef{ID: "a1", Kind: logging.EntityKindActor},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryToggles,
		Payload:  map[string]any{"reason": "death", "ability": "shadow-cloak"},
	})
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	line := buf.String()
	want := "15:04:05.000 tick=42 WARN  toggles   toggle.deactivated actor=actor:a1 ability=shadow-cloak reason=death\n"
	if line != want {
		t.Fatalf("unexpected line\n got %q\nwant %q", line, want)
	}
}

func TestConsoleSinkColorsBySeverity(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, logging.ConsoleConfig{UseColor: true})
	if err := sink.Write(logging.Event{Type: "runtime.inconsistency", Severity: logging.SeverityError, Payload: []int{1, 2}}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	line := buf.String()
	if !strings.Contains(line, ansiRed+"ERROR"+ansiReset) {
		t.Fatalf("expected red severity, got %q", line)
	}
	if !strings.Contains(line, " - ") || !strings.HasSuffix(line, " payload=[1,2]\n") {
		t.Fatalf("expected placeholder category and JSON payload, got %q", line)
	}

	buf.Reset()
	plain := NewConsoleSink(&buf, logging.ConsoleConfig{})
	if err := plain.Write(logging.Event{Type: "x", Severity: logging.SeverityError}); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("expected no escape codes without color, got %q", buf.String())
	}
}
