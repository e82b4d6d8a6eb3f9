package runtime

import (
	"testing"

	"github.com/google/uuid"

	"spellforge/server/internal/telemetry"
	"spellforge/server/logging"
)

func TestIntentQueueWraparound(t *testing.T) {
	queue := NewIntentQueue(3, nil)
	intents := []Intent{{Ability: "a"}, {Ability: "b"}, {Ability: "c"}}
	for _, intent := range intents {
		if !queue.Push(intent) {
			t.Fatalf("expected push to succeed for %+v", intent)
		}
	}
	if queue.Push(Intent{Ability: "overflow"}) {
		t.Fatalf("expected push to fail when queue full")
	}
	drained := queue.Drain()
	if len(drained) != len(intents) {
		t.Fatalf("expected %d intents, got %d", len(intents), len(drained))
	}
	for i, intent := range drained {
		if intent.Ability != intents[i].Ability {
			t.Fatalf("expected drain order %v, got %v", intents[i].Ability, intent.Ability)
		}
	}
	for _, intent := range []Intent{{Ability: "d"}, {Ability: "e"}} {
		if !queue.Push(intent) {
			t.Fatalf("expected push to succeed after drain for %+v", intent)
		}
	}
	wrapped := queue.Drain()
	if len(wrapped) != 2 || wrapped[0].Ability != "d" || wrapped[1].Ability != "e" {
		t.Fatalf("unexpected order after wraparound: %+v", wrapped)
	}
}

func TestIntentQueueDropActorKeepsOrder(t *testing.T) {
	queue := NewIntentQueue(8, nil)
	leaving := uuid.New()
	staying := uuid.New()
	queue.Push(Intent{Actor: staying, Ability: "one"})
	queue.Push(Intent{Actor: leaving, Ability: "two"})
	queue.Push(Intent{Actor: staying, Ability: "three"})
	queue.Push(Intent{Actor: leaving, Ability: "four"})

	if removed := queue.DropActor(leaving); removed != 2 {
		t.Fatalf("expected two intents removed, got %d", removed)
	}
	if removed := queue.DropActor(leaving); removed != 0 {
		t.Fatalf("expected no intents removed on repeat, got %d", removed)
	}
	drained := queue.Drain()
	if len(drained) != 2 || drained[0].Ability != "one" || drained[1].Ability != "three" {
		t.Fatalf("unexpected remaining intents: %+v", drained)
	}
}

func TestIntentQueueOverflowMetric(t *testing.T) {
	registry := logging.NewMetrics()
	queue := NewIntentQueue(1, telemetry.WrapMetrics(registry))
	queue.Push(Intent{Ability: "one"})
	queue.Push(Intent{Ability: "two"})
	if got := registry.Value(intentQueueOverflowMetricKey); got != 1 {
		t.Fatalf("expected one overflow, got %d", got)
	}
	if got := registry.Value(intentQueueOccupancyMetricKey); got != 1 {
		t.Fatalf("expected occupancy 1, got %d", got)
	}
}
