package runtime

import (
	"context"

	"spellforge/server/logging"
)

const (
	// EventInternalInconsistency flags an invariant violation that the
	// runtime recovered from. These indicate bugs and are never surfaced to
	// casting actors.
	EventInternalInconsistency logging.EventType = "runtime.internal_inconsistency"
	// EventIntentDropped is emitted when the intent queue rejects a request.
	EventIntentDropped logging.EventType = "runtime.intent_dropped"
	// EventTickOverBudget is emitted when a tick took longer than its slot.
	EventTickOverBudget logging.EventType = "runtime.tick_over_budget"
)

type InconsistencyPayload struct {
	Component string `json:"component"`
	Ability   string `json:"ability,omitempty"`
	Detail    string `json:"detail"`
}

type IntentDroppedPayload struct {
	Ability string `json:"ability"`
	Reason  string `json:"reason"`
	Count   uint64 `json:"count"`
}

type TickOverBudgetPayload struct {
	DurationMicros int64 `json:"durationMicros"`
	BudgetMicros   int64 `json:"budgetMicros"`
}

func InternalInconsistency(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload InconsistencyPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventInternalInconsistency,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryRuntime,
		Payload:  payload,
		Extra:    extra,
	})
}

func IntentDropped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload IntentDroppedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventIntentDropped,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryRuntime,
		Payload:  payload,
		Extra:    extra,
	})
}

func TickOverBudget(ctx context.Context, pub logging.Publisher, tick uint64, payload TickOverBudgetPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickOverBudget,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindRuntime},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryRuntime,
		Payload:  payload,
		Extra:    extra,
	})
}
