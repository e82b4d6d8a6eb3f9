// Package lifecycle releases an actor's ability state when they leave, die
// or change zone, and restores persisted cooldowns when they return.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"spellforge/server/internal/cooldown"
	"spellforge/server/internal/persist"
	"spellforge/server/internal/telemetry"
	"spellforge/server/internal/toggle"
	"spellforge/server/logging"
	logginglifecycle "spellforge/server/logging/lifecycle"
)

// Reason names the event that triggered a cleanup sweep.
type Reason string

const (
	ReasonDisconnect Reason = "disconnect"
	ReasonDeath      Reason = "death"
	ReasonZoneChange Reason = "zone_change"

	metricSweepsTotal   = "lifecycle_sweeps_total"
	metricRestoredTotal = "lifecycle_cooldowns_restored_total"
)

type Cooldowns interface {
	Entries(actor uuid.UUID, now int64) []cooldown.Entry
	Set(actor uuid.UUID, ability string, expiryTick int64)
	ClearAll(actor uuid.UUID) int
}

type Toggles interface {
	DeactivateAll(actor uuid.UUID, reason toggle.Reason) []string
}

type Intents interface {
	DropActor(actor uuid.UUID) int
}

// Snapshots stores cooldowns across sessions. persist.Writer satisfies it.
type Snapshots interface {
	SaveCooldowns(actor uuid.UUID, snapshot []persist.CooldownSnapshot, at time.Time)
	LoadCooldowns(actor uuid.UUID, callback func([]persist.CooldownSnapshot, error))
}

type Config struct {
	Presence  *Presence
	Cooldowns Cooldowns
	Toggles   Toggles
	Intents   Intents
	Snapshots Snapshots

	// RestoreOnJoin re-applies persisted cooldowns when an actor joins.
	RestoreOnJoin bool
	// PersistOnDisconnect snapshots live cooldowns before they are cleared.
	PersistOnDisconnect bool

	Now       func() int64
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
}

// Hooks must be called on the tick goroutine.
type Hooks struct {
	cfg Config
}

func NewHooks(cfg Config) (*Hooks, error) {
	if cfg.Presence == nil {
		return nil, errors.New("lifecycle: presence is required")
	}
	if cfg.Cooldowns == nil {
		return nil, errors.New("lifecycle: cooldown registry is required")
	}
	if cfg.Now == nil {
		return nil, errors.New("lifecycle: tick source is required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	return &Hooks{cfg: cfg}, nil
}

// Join marks actor present and, when enabled, schedules a cooldown restore.
// Restored cooldowns are anchored to the tick the snapshot arrives on.
func (h *Hooks) Join(ctx context.Context, actor uuid.UUID) bool {
	if h == nil || actor == uuid.Nil {
		return false
	}
	if !h.cfg.Presence.Join(actor) {
		return false
	}
	restore := h.cfg.RestoreOnJoin && h.cfg.Snapshots != nil
	if restore {
		h.cfg.Snapshots.LoadCooldowns(actor, func(snapshot []persist.CooldownSnapshot, err error) {
			h.restore(actor, snapshot, err)
		})
	}
	logginglifecycle.ActorJoined(ctx, h.cfg.Publisher, uint64(h.cfg.Now()), logging.ActorRef(actor.String()),
		logginglifecycle.ActorJoinedPayload{RestoreRequested: restore}, nil)
	return true
}

// Disconnect removes actor and releases everything they hold.
func (h *Hooks) Disconnect(ctx context.Context, actor uuid.UUID) {
	if h == nil {
		return
	}
	h.cfg.Presence.Leave(actor)
	h.sweep(ctx, actor, ReasonDisconnect, h.cfg.PersistOnDisconnect)
}

// Death releases toggles, cooldowns and intents. The actor stays present.
func (h *Hooks) Death(ctx context.Context, actor uuid.UUID) {
	if h == nil {
		return
	}
	h.sweep(ctx, actor, ReasonDeath, false)
}

// ZoneChange behaves like Death; the actor keeps casting in the new zone.
func (h *Hooks) ZoneChange(ctx context.Context, actor uuid.UUID) {
	if h == nil {
		return
	}
	h.sweep(ctx, actor, ReasonZoneChange, false)
}

func (h *Hooks) sweep(ctx context.Context, actor uuid.UUID, reason Reason, persistCooldowns bool) {
	if actor == uuid.Nil {
		return
	}
	now := h.cfg.Now()
	payload := logginglifecycle.ActorRemovedPayload{Reason: string(reason)}

	if persistCooldowns && h.cfg.Snapshots != nil {
		entries := h.cfg.Cooldowns.Entries(actor, now)
		snapshot := make([]persist.CooldownSnapshot, 0, len(entries))
		for _, entry := range entries {
			snapshot = append(snapshot, persist.CooldownSnapshot{Ability: entry.Ability, RemainingTicks: entry.ExpiryTick - now})
		}
		h.cfg.Snapshots.SaveCooldowns(actor, snapshot, time.Now())
		payload.CooldownsPersisted = true
	}
	if h.cfg.Toggles != nil {
		payload.TogglesDeactivated = h.cfg.Toggles.DeactivateAll(actor, toggle.ReasonActorInvalid)
	}
	payload.CooldownsCleared = h.cfg.Cooldowns.ClearAll(actor)
	if h.cfg.Intents != nil {
		payload.IntentsDropped = h.cfg.Intents.DropActor(actor)
	}

	if h.cfg.Metrics != nil {
		h.cfg.Metrics.Add(metricSweepsTotal, 1)
	}
	logginglifecycle.ActorRemoved(ctx, h.cfg.Publisher, uint64(now), logging.ActorRef(actor.String()), payload, nil)
}

func (h *Hooks) restore(actor uuid.UUID, snapshot []persist.CooldownSnapshot, err error) {
	if err != nil {
		h.cfg.Logger.Printf("[lifecycle] restore cooldowns for %s failed: %v", actor, err)
		return
	}
	// The actor may have left again before the snapshot arrived.
	if !h.cfg.Presence.IsPresent(actor) {
		return
	}
	now := h.cfg.Now()
	for _, entry := range snapshot {
		if entry.RemainingTicks <= 0 {
			continue
		}
		h.cfg.Cooldowns.Set(actor, entry.Ability, now+entry.RemainingTicks)
	}
	if h.cfg.Metrics != nil && len(snapshot) > 0 {
		h.cfg.Metrics.Add(metricRestoredTotal, uint64(len(snapshot)))
	}
}
