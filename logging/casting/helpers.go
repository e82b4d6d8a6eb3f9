package casting

import (
	"context"

	"spellforge/server/logging"
)

const (
	// EventCastSucceeded is emitted after an ability effect ran and its
	// cooldown was recorded.
	EventCastSucceeded logging.EventType = "casting.succeeded"
	// EventCastRejected is emitted when a gate short-circuits an attempt.
	EventCastRejected logging.EventType = "casting.rejected"
	// EventCastFailed is emitted when an ability effect raised an error.
	EventCastFailed logging.EventType = "casting.failed"
)

// SucceededPayload captures timing and the cooldown applied by a cast.
type SucceededPayload struct {
	Ability       string `json:"ability"`
	CooldownTicks int64  `json:"cooldownTicks"`
	ExpiryTick    int64  `json:"expiryTick"`
	ElapsedMicros int64  `json:"elapsedMicros"`
	ToggledActive *bool  `json:"toggledActive,omitempty"`
}

// RejectedPayload identifies the gate that rejected a cast.
type RejectedPayload struct {
	Ability        string `json:"ability"`
	Outcome        string `json:"outcome"`
	Reason         string `json:"reason,omitempty"`
	RemainingTicks int64  `json:"remainingTicks,omitempty"`
}

// FailedPayload records the error raised by an ability effect.
type FailedPayload struct {
	Ability       string `json:"ability"`
	Error         string `json:"error"`
	ElapsedMicros int64  `json:"elapsedMicros"`
	Panicked      bool   `json:"panicked,omitempty"`
}

// Succeeded publishes a successful cast.
func Succeeded(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SucceededPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCastSucceeded,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{logging.AbilityRef(payload.Ability)},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCasting,
		Payload:  payload,
		Extra:    extra,
	})
}

// Rejected publishes a cast stopped by one of the gates.
func Rejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload RejectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCastRejected,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{logging.AbilityRef(payload.Ability)},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCasting,
		Payload:  payload,
		Extra:    extra,
	})
}

// Failed publishes a cast whose effect raised an error or panicked.
func Failed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload FailedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCastFailed,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{logging.AbilityRef(payload.Ability)},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryCasting,
		Payload:  payload,
		Extra:    extra,
	})
}
