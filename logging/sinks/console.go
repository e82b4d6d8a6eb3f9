package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"spellforge/server/logging"
)

const (
	ansiReset  = "\x1b[0m"
	ansiDim    = "\x1b[2m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
)

// ConsoleSink prints one aligned line per event for local development:
//
//	15:04:05.000 tick=42 WARN  toggles   toggle.deactivated actor=actor:7f.. reason=death
//
// Map payloads are flattened into sorted key=value pairs; anything else is
// printed as JSON.
type ConsoleSink struct {
	w     io.Writer
	color bool
}

func NewConsoleSink(w io.Writer, cfg logging.ConsoleConfig) *ConsoleSink {
	if w == nil {
		w = io.Discard
	}
	return &ConsoleSink{w: w, color: cfg.UseColor}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	if s == nil || s.w == nil {
		return nil
	}
	var b strings.Builder
	stamp := event.Time
	if stamp.IsZero() {
		stamp = time.Now()
	}
	b.WriteString(stamp.Format("15:04:05.000"))
	fmt.Fprintf(&b, " tick=%d ", event.Tick)
	b.WriteString(s.paint(event.Severity, fmt.Sprintf("%-5s", strings.ToUpper(event.Severity.String()))))
	category := event.Category
	if category == "" {
		category = "-"
	}
	fmt.Fprintf(&b, " %-9s %s", category, event.Type)
	if actor := formatEntity(event.Actor); actor != "" {
		b.WriteString(" actor=")
		b.WriteString(actor)
	}
	if len(event.Targets) > 0 {
		parts := make([]string, 0, len(event.Targets))
		for _, target := range event.Targets {
			parts = append(parts, formatEntity(target))
		}
		b.WriteString(" targets=")
		b.WriteString(strings.Join(parts, ","))
	}
	b.WriteString(formatPayload(event.Payload))
	if event.TraceID != "" {
		b.WriteString(s.dim(" trace=" + event.TraceID))
	}
	b.WriteByte('\n')
	_, err := io.WriteString(s.w, b.String())
	return err
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func (s *ConsoleSink) paint(severity logging.Severity, text string) string {
	if !s.color {
		return text
	}
	switch {
	case severity >= logging.SeverityError:
		return ansiRed + text + ansiReset
	case severity == logging.SeverityWarn:
		return ansiYellow + text + ansiReset
	case severity == logging.SeverityDebug:
		return ansiDim + text + ansiReset
	}
	return text
}

func (s *ConsoleSink) dim(text string) string {
	if !s.color {
		return text
	}
	return ansiDim + text + ansiReset
}

func formatEntity(ref logging.EntityRef) string {
	switch {
	case ref.ID == "" && (ref.Kind == "" || ref.Kind == logging.EntityKindUnknown):
		return ""
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == "":
		return ref.ID
	}
	return string(ref.Kind) + ":" + ref.ID
}

func formatPayload(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(" payload=%v", payload)
	}
	var fields map[string]any
	if json.Unmarshal(data, &fields) != nil || len(fields) == 0 {
		return " payload=" + string(data)
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		value, err := json.Marshal(fields[key])
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, " %s=%s", key, strings.Trim(string(value), `"`))
	}
	return b.String()
}
