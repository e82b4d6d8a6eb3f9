// Package toggle manages long-running "on until turned off" ability states.
//
// Each toggle ability owns one Manager. A Manager keeps at most one
// Activation per actor, drives it from a repeating scheduler task and tears
// it down on explicit deactivation, actor loss, timeout or shutdown.
package toggle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"spellforge/server/internal/scheduler"
	"spellforge/server/internal/telemetry"
	"spellforge/server/logging"
	loggingruntime "spellforge/server/logging/runtime"
	loggingtoggles "spellforge/server/logging/toggles"
)

var (
	ErrMissingAbility  = errors.New("toggle: ability key is required")
	ErrMissingSchedule = errors.New("toggle: scheduler is required")
	ErrNilActor        = errors.New("toggle: actor is nil")
	ErrActivateFailed  = errors.New("toggle: activation hook failed")
)

// Reason explains why an activation ended.
type Reason string

const (
	ReasonExplicit     Reason = "explicit"
	ReasonForced       Reason = "forced"
	ReasonActorInvalid Reason = "actor_invalid"
	ReasonMaxDuration  Reason = "max_duration"
	ReasonTerminated   Reason = "terminated"
	ReasonTickError    Reason = "tick_error"
	ReasonShutdown     Reason = "shutdown"
)

const (
	metricActivations   = "toggle_activations_total"
	metricDeactivations = "toggle_deactivations_total"
	metricTickFailures  = "toggle_tick_failures_total"
	metricActivePrefix  = "toggle_active_"
)

// Scheduler is the slice of the tick scheduler a Manager depends on.
type Scheduler interface {
	ScheduleRepeating(interval int64, fn scheduler.Task) scheduler.Handle
	Cancel(handle scheduler.Handle) bool
	Now() int64
}

// Context is the invocation a hook runs under. Attributes is nil for forced
// deactivations and periodic ticks.
type Context struct {
	Actor      uuid.UUID
	Ability    string
	Tick       int64
	Attributes map[string]float64
}

// Activation is the live record for one (actor, ability) pair.
type Activation struct {
	Actor         uuid.UUID
	Ability       string
	StartedAtTick int64
	Handle        scheduler.Handle
	Payload       any
}

// Behavior holds the ability-specific hooks. Every hook is optional.
type Behavior struct {
	// Activate runs once when the toggle turns on and returns the
	// per-activation payload. An error aborts the activation.
	Activate func(ctx Context) (any, error)
	// Tick runs every interval. Returning false ends the activation.
	Tick func(ctx Context, activation *Activation) (bool, error)
	// Release runs after the record is gone and the timer is cancelled.
	Release func(ctx Context, activation Activation, reason Reason)
}

type Config struct {
	Ability          string
	IntervalTicks    int64
	MaxDurationTicks int64
	Behavior         Behavior
	Scheduler        Scheduler
	// ActorValid reports whether the actor may keep the toggle running.
	// Nil treats every actor as valid.
	ActorValid func(actor uuid.UUID) bool
	Publisher  logging.Publisher
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
}

// Manager owns every activation of a single toggle ability.
type Manager struct {
	cfg Config

	mu     sync.RWMutex
	active map[uuid.UUID]*Activation
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Ability == "" {
		return nil, ErrMissingAbility
	}
	if cfg.Scheduler == nil {
		return nil, ErrMissingSchedule
	}
	if cfg.IntervalTicks < 1 {
		cfg.IntervalTicks = 1
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	return &Manager{cfg: cfg, active: make(map[uuid.UUID]*Activation)}, nil
}

func (m *Manager) Ability() string {
	if m == nil {
		return ""
	}
	return m.cfg.Ability
}

// MaxDurationTicks returns the configured limit, zero meaning unlimited.
func (m *Manager) MaxDurationTicks() int64 {
	if m == nil {
		return 0
	}
	return m.cfg.MaxDurationTicks
}

// IsActive reports whether actor currently holds an activation.
func (m *Manager) IsActive(actor uuid.UUID) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[actor]
	return ok
}

// Activation returns a copy of actor's live record.
func (m *Manager) Activation(actor uuid.UUID) (Activation, bool) {
	if m == nil {
		return Activation{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.active[actor]
	if !ok {
		return Activation{}, false
	}
	return *record, true
}

// Active lists copies of all live records ordered by start tick.
func (m *Manager) Active() []Activation {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	out := make([]Activation, 0, len(m.active))
	for _, record := range m.active {
		out = append(out, *record)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAtTick != out[j].StartedAtTick {
			return out[i].StartedAtTick < out[j].StartedAtTick
		}
		return out[i].Actor.String() < out[j].Actor.String()
	})
	return out
}

func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Activate turns the toggle on for ctx.Actor. It returns false without
// error when the actor is already active.
func (m *Manager) Activate(ctx Context) (bool, error) {
	if m == nil {
		return false, ErrMissingAbility
	}
	if ctx.Actor == uuid.Nil {
		return false, ErrNilActor
	}
	ctx.Ability = m.cfg.Ability
	if m.IsActive(ctx.Actor) {
		return false, nil
	}

	var payload any
	if hook := m.cfg.Behavior.Activate; hook != nil {
		var err error
		payload, err = m.guardActivate(hook, ctx)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrActivateFailed, err)
		}
	}

	record := &Activation{
		Actor:         ctx.Actor,
		Ability:       m.cfg.Ability,
		StartedAtTick: ctx.Tick,
		Payload:       payload,
	}

	// The handle is set before the record becomes visible to readers.
	record.Handle = m.cfg.Scheduler.ScheduleRepeating(m.cfg.IntervalTicks, func(tick int64) {
		m.tick(record, tick)
	})

	m.mu.Lock()
	if _, exists := m.active[ctx.Actor]; exists {
		m.mu.Unlock()
		m.cfg.Scheduler.Cancel(record.Handle)
		m.inconsistency(ctx.Actor, "activation hook re-entered activate")
		return false, nil
	}
	m.active[ctx.Actor] = record
	m.mu.Unlock()

	m.addMetric(metricActivations)
	m.storeActive()
	loggingtoggles.Activated(context.Background(), m.cfg.Publisher, uint64(ctx.Tick), logging.ActorRef(ctx.Actor.String()), loggingtoggles.ActivatedPayload{
		Ability:       m.cfg.Ability,
		StartedAtTick: ctx.Tick,
		IntervalTicks: m.cfg.IntervalTicks,
		MaxDuration:   m.cfg.MaxDurationTicks,
	}, nil)
	return true, nil
}

// Deactivate turns the toggle off from a live cast. It reports whether an
// activation was removed.
func (m *Manager) Deactivate(ctx Context) bool {
	if m == nil {
		return false
	}
	ctx.Ability = m.cfg.Ability
	return m.end(ctx, ReasonExplicit, nil)
}

// ForceDeactivate ends actor's activation without a cast context.
func (m *Manager) ForceDeactivate(actor uuid.UUID, reason Reason) bool {
	if m == nil {
		return false
	}
	if reason == "" {
		reason = ReasonForced
	}
	return m.end(Context{Actor: actor, Ability: m.cfg.Ability, Tick: m.cfg.Scheduler.Now()}, reason, nil)
}

// Toggle flips the state for ctx.Actor and returns the resulting state.
func (m *Manager) Toggle(ctx Context) (bool, error) {
	if m == nil {
		return false, ErrMissingAbility
	}
	if m.IsActive(ctx.Actor) {
		m.Deactivate(ctx)
		return false, nil
	}
	if _, err := m.Activate(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Shutdown ends every activation.
func (m *Manager) Shutdown() {
	if m == nil {
		return
	}
	for _, record := range m.Active() {
		m.ForceDeactivate(record.Actor, ReasonShutdown)
	}
}

// end removes the record, cancels its timer and runs the release hook, in
// that order. expected pins the record a timer callback observed so a stale
// callback cannot end a newer activation.
func (m *Manager) end(ctx Context, reason Reason, expected *Activation) bool {
	m.mu.Lock()
	record, ok := m.active[ctx.Actor]
	if !ok || (expected != nil && record != expected) {
		m.mu.Unlock()
		return false
	}
	delete(m.active, ctx.Actor)
	m.mu.Unlock()

	if record.Handle.Valid() && !m.cfg.Scheduler.Cancel(record.Handle) {
		m.inconsistency(ctx.Actor, fmt.Sprintf("timer %d was already cancelled", record.Handle))
	}

	if hook := m.cfg.Behavior.Release; hook != nil {
		m.guardRelease(hook, ctx, *record, reason)
	}

	m.addMetric(metricDeactivations)
	m.storeActive()
	loggingtoggles.Deactivated(context.Background(), m.cfg.Publisher, uint64(ctx.Tick), logging.ActorRef(ctx.Actor.String()), loggingtoggles.DeactivatedPayload{
		Ability:     m.cfg.Ability,
		Reason:      string(reason),
		ActiveTicks: ctx.Tick - record.StartedAtTick,
		Forced:      reason != ReasonExplicit,
	}, nil)
	return true
}

func (m *Manager) tick(record *Activation, tick int64) {
	actor := record.Actor
	ctx := Context{Actor: actor, Ability: m.cfg.Ability, Tick: tick}

	m.mu.RLock()
	current, ok := m.active[actor]
	m.mu.RUnlock()
	if !ok || current != record {
		m.inconsistency(actor, "timer fired for a released activation")
		m.cfg.Scheduler.Cancel(record.Handle)
		return
	}

	if m.cfg.ActorValid != nil && !m.cfg.ActorValid(actor) {
		m.end(ctx, ReasonActorInvalid, record)
		return
	}
	if limit := m.cfg.MaxDurationTicks; limit > 0 && tick-record.StartedAtTick >= limit {
		m.end(ctx, ReasonMaxDuration, record)
		return
	}
	hook := m.cfg.Behavior.Tick
	if hook == nil {
		return
	}
	keep, err := m.guardTick(hook, ctx, record)
	if err != nil {
		m.addMetric(metricTickFailures)
		m.cfg.Logger.Printf("[toggle] %s tick failed for %s: %v", m.cfg.Ability, actor, err)
		loggingtoggles.TickFailed(context.Background(), m.cfg.Publisher, uint64(tick), logging.ActorRef(actor.String()), loggingtoggles.TickFailedPayload{
			Ability: m.cfg.Ability,
			Error:   err.Error(),
		}, nil)
		m.end(ctx, ReasonTickError, record)
		return
	}
	if !keep {
		m.end(ctx, ReasonTerminated, record)
	}
}

func (m *Manager) guardActivate(hook func(Context) (any, error), ctx Context) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook(ctx)
}

func (m *Manager) guardTick(hook func(Context, *Activation) (bool, error), ctx Context, record *Activation) (keep bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			keep, err = false, fmt.Errorf("panic: %v", r)
		}
	}()
	return hook(ctx, record)
}

func (m *Manager) guardRelease(hook func(Context, Activation, Reason), ctx Context, record Activation, reason Reason) {
	defer func() {
		if r := recover(); r != nil {
			m.cfg.Logger.Printf("[toggle] %s release hook panicked for %s: %v", m.cfg.Ability, ctx.Actor, r)
		}
	}()
	hook(ctx, record, reason)
}

func (m *Manager) inconsistency(actor uuid.UUID, detail string) {
	m.cfg.Logger.Printf("[toggle] internal inconsistency in %s for %s: %s", m.cfg.Ability, actor, detail)
	loggingruntime.InternalInconsistency(context.Background(), m.cfg.Publisher, uint64(max(m.cfg.Scheduler.Now(), 0)), logging.ActorRef(actor.String()), loggingruntime.InconsistencyPayload{
		Component: "toggle",
		Ability:   m.cfg.Ability,
		Detail:    detail,
	}, nil)
}

func (m *Manager) addMetric(key string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Add(key, 1)
	}
}

func (m *Manager) storeActive() {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Store(metricActivePrefix+m.cfg.Ability, uint64(m.Len()))
	}
}
