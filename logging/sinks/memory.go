package sinks

import (
	"context"
	"sync"

	"spellforge/server/logging"
)

// MemorySink records events in memory. Tests use it to assert on published
// telemetry without touching disk.
type MemorySink struct {
	mu     sync.RWMutex
	events []logging.Event
	notify chan struct{}
}

func NewMemorySink() *MemorySink {
	return &MemorySink{events: make([]logging.Event, 0), notify: make(chan struct{}, 1)}
}

func (s *MemorySink) Write(event logging.Event) error {
	s.mu.Lock()
	s.events = append(s.events, cloneForMemory(event))
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Publish lets the sink stand in for a Publisher so tests can skip the router.
func (s *MemorySink) Publish(_ context.Context, event logging.Event) {
	_ = s.Write(event)
}

func (s *MemorySink) Events() []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]logging.Event, len(s.events))
	copy(copied, s.events)
	return copied
}

// EventsOfType returns recorded events matching eventType in arrival order.
func (s *MemorySink) EventsOfType(eventType logging.EventType) []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []logging.Event
	for _, event := range s.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// Wait blocks until at least count events were recorded or ctx ends.
func (s *MemorySink) Wait(ctx context.Context, count int) bool {
	for {
		s.mu.RLock()
		n := len(s.events)
		s.mu.RUnlock()
		if n >= count {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-s.notify:
		}
	}
}

func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
}

func (s *MemorySink) Close(context.Context) error {
	return nil
}

func cloneForMemory(event logging.Event) logging.Event {
	cloned := event
	if len(event.Targets) > 0 {
		cloned.Targets = append([]logging.EntityRef(nil), event.Targets...)
	}
	if event.Extra != nil {
		copied := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			copied[k] = v
		}
		cloned.Extra = copied
	}
	return cloned
}
