package toggles

import (
	"context"

	"spellforge/server/logging"
)

const (
	// EventActivated is emitted when a toggle ability starts running.
	EventActivated logging.EventType = "toggles.activated"
	// EventDeactivated is emitted when a running toggle ends for any reason.
	EventDeactivated logging.EventType = "toggles.deactivated"
	// EventTickFailed is emitted when a toggle's periodic hook errors or
	// panics; the activation is force-ended afterwards.
	EventTickFailed logging.EventType = "toggles.tick_failed"
)

// ActivatedPayload records where an activation started.
type ActivatedPayload struct {
	Ability       string `json:"ability"`
	StartedAtTick int64  `json:"startedAtTick"`
	IntervalTicks int64  `json:"intervalTicks"`
	MaxDuration   int64  `json:"maxDurationTicks,omitempty"`
}

// DeactivatedPayload records why an activation ended and how long it ran.
type DeactivatedPayload struct {
	Ability     string `json:"ability"`
	Reason      string `json:"reason"`
	ActiveTicks int64  `json:"activeTicks"`
	Forced      bool   `json:"forced,omitempty"`
}

// TickFailedPayload carries the recovered error.
type TickFailedPayload struct {
	Ability string `json:"ability"`
	Error   string `json:"error"`
}

func Activated(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ActivatedPayload, extra map[string]any) {
	publish(ctx, pub, EventActivated, logging.SeverityInfo, tick, actor, payload.Ability, payload, extra)
}

func Deactivated(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DeactivatedPayload, extra map[string]any) {
	publish(ctx, pub, EventDeactivated, logging.SeverityInfo, tick, actor, payload.Ability, payload, extra)
}

func TickFailed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload TickFailedPayload, extra map[string]any) {
	publish(ctx, pub, EventTickFailed, logging.SeverityError, tick, actor, payload.Ability, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, tick uint64, actor logging.EntityRef, ability string, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{logging.AbilityRef(ability)},
		Severity: severity,
		Category: logging.CategoryToggles,
		Payload:  payload,
		Extra:    extra,
	})
}
