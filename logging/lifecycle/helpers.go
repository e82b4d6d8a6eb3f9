package lifecycle

import (
	"context"

	"spellforge/server/logging"
)

const (
	// EventActorJoined is emitted when an actor becomes valid for casting.
	EventActorJoined logging.EventType = "lifecycle.actor_joined"
	// EventActorRemoved is emitted after the cleanup sweep for a departing,
	// dead or relocated actor.
	EventActorRemoved logging.EventType = "lifecycle.actor_removed"
)

// ActorJoinedPayload captures whether persisted cooldowns were requested.
type ActorJoinedPayload struct {
	RestoreRequested bool `json:"restoreRequested"`
}

// ActorRemovedPayload summarises what the sweep released.
type ActorRemovedPayload struct {
	Reason             string   `json:"reason"`
	TogglesDeactivated []string `json:"togglesDeactivated,omitempty"`
	CooldownsCleared   int      `json:"cooldownsCleared"`
	IntentsDropped     int      `json:"intentsDropped"`
	CooldownsPersisted bool     `json:"cooldownsPersisted,omitempty"`
}

// ActorJoined publishes an actor join event.
func ActorJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ActorJoinedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventActorJoined,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// ActorRemoved publishes the outcome of a cleanup sweep.
func ActorRemoved(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ActorRemovedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventActorRemoved,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}
