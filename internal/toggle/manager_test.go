package toggle

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"spellforge/server/internal/scheduler"
	"spellforge/server/logging/sinks"
	loggingtoggles "spellforge/server/logging/toggles"
)

// countingScheduler wraps the real scheduler and records cancellations.
type countingScheduler struct {
	*scheduler.TickScheduler
	scheduled int
	cancels   map[scheduler.Handle]int
}

func newCountingScheduler() *countingScheduler {
	return &countingScheduler{
		TickScheduler: scheduler.New(scheduler.Config{}),
		cancels:       make(map[scheduler.Handle]int),
	}
}

func (c *countingScheduler) ScheduleRepeating(interval int64, fn scheduler.Task) scheduler.Handle {
	c.scheduled++
	return c.TickScheduler.ScheduleRepeating(interval, fn)
}

func (c *countingScheduler) Cancel(handle scheduler.Handle) bool {
	c.cancels[handle]++
	return c.TickScheduler.Cancel(handle)
}

func newTestManager(t *testing.T, sched Scheduler, cfg Config) *Manager {
	t.Helper()
	if cfg.Ability == "" {
		cfg.Ability = "shadow-cloak"
	}
	cfg.Scheduler = sched
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	return m
}

func TestActivateIsIdempotent(t *testing.T) {
	sched := newCountingScheduler()
	activations := 0
	m := newTestManager(t, sched, Config{
		IntervalTicks: 1,
		Behavior: Behavior{Activate: func(Context) (any, error) {
			activations++
			return nil, nil
		}},
	})
	actor := uuid.New()

	first, err := m.Activate(Context{Actor: actor, Tick: 1})
	if err != nil || !first {
		t.Fatalf("expected first activation, got %v %v", first, err)
	}
	second, err := m.Activate(Context{Actor: actor, Tick: 2})
	if err != nil || second {
		t.Fatalf("expected second activation to be a no-op, got %v %v", second, err)
	}
	if activations != 1 || sched.scheduled != 1 || m.Len() != 1 {
		t.Fatalf("expected one hook, one timer and one record; got %d %d %d", activations, sched.scheduled, m.Len())
	}
}

func TestDeactivateCancelsHandleExactlyOnce(t *testing.T) {
	sched := newCountingScheduler()
	var released []Reason
	m := newTestManager(t, sched, Config{
		IntervalTicks: 2,
		Behavior: Behavior{Release: func(_ Context, _ Activation, reason Reason) {
			released = append(released, reason)
		}},
	})
	actor := uuid.New()
	if _, err := m.Activate(Context{Actor: actor}); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	record, ok := m.Activation(actor)
	if !ok || !record.Handle.Valid() {
		t.Fatalf("expected a live record with a valid handle")
	}

	if !m.Deactivate(Context{Actor: actor}) {
		t.Fatalf("expected deactivate to remove the record")
	}
	if m.Deactivate(Context{Actor: actor}) {
		t.Fatalf("second deactivate should be a no-op")
	}
	if m.ForceDeactivate(actor, ReasonForced) {
		t.Fatalf("force deactivate on inactive actor should be a no-op")
	}
	if sched.cancels[record.Handle] != 1 {
		t.Fatalf("expected exactly one cancel, got %d", sched.cancels[record.Handle])
	}
	if sched.Live(record.Handle) {
		t.Fatalf("timer should no longer be scheduled")
	}
	if len(released) != 1 || released[0] != ReasonExplicit {
		t.Fatalf("expected one explicit release, got %v", released)
	}
	if m.IsActive(actor) {
		t.Fatalf("actor should be inactive")
	}
}

func TestTickRunsAfterActivationBoundary(t *testing.T) {
	sched := newCountingScheduler()
	var ticks []int64
	m := newTestManager(t, sched, Config{
		IntervalTicks: 1,
		Behavior: Behavior{Tick: func(ctx Context, _ *Activation) (bool, error) {
			ticks = append(ticks, ctx.Tick)
			return true, nil
		}},
	})
	sched.Advance(5)
	if _, err := m.Activate(Context{Actor: uuid.New(), Tick: 5}); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	if len(ticks) != 0 {
		t.Fatalf("tick hook must not run during activation")
	}
	sched.Advance(6)
	sched.Advance(7)
	if len(ticks) != 2 || ticks[0] != 6 {
		t.Fatalf("expected ticks [6 7], got %v", ticks)
	}
}

func TestMaxDurationEndsActivation(t *testing.T) {
	sched := newCountingScheduler()
	memory := sinks.NewMemorySink()
	var reason Reason
	m := newTestManager(t, sched, Config{
		IntervalTicks:    1,
		MaxDurationTicks: 3,
		Publisher:        memory,
		Behavior: Behavior{Release: func(_ Context, _ Activation, r Reason) {
			reason = r
		}},
	})
	actor := uuid.New()
	if _, err := m.Activate(Context{Actor: actor, Tick: 0}); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	for tick := int64(1); tick <= 2; tick++ {
		sched.Advance(tick)
	}
	if !m.IsActive(actor) {
		t.Fatalf("activation should survive until the limit")
	}
	sched.Advance(3)
	if m.IsActive(actor) {
		t.Fatalf("activation should end at max duration")
	}
	if reason != ReasonMaxDuration {
		t.Fatalf("expected max duration reason, got %q", reason)
	}
	if sched.Len() != 0 {
		t.Fatalf("expected no leaked timers, got %d", sched.Len())
	}
	if len(memory.EventsOfType(loggingtoggles.EventDeactivated)) != 1 {
		t.Fatalf("expected a deactivated event")
	}
}

func TestInvalidActorEndsActivation(t *testing.T) {
	sched := newCountingScheduler()
	valid := true
	m := newTestManager(t, sched, Config{ActorValid: func(uuid.UUID) bool { return valid }})
	actor := uuid.New()
	if _, err := m.Activate(Context{Actor: actor}); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	sched.Advance(1)
	if !m.IsActive(actor) {
		t.Fatalf("expected actor to stay active")
	}
	valid = false
	sched.Advance(2)
	if m.IsActive(actor) {
		t.Fatalf("expected invalid actor to be deactivated")
	}
}

func TestPanickingTickIsRecoveredAndForceDeactivates(t *testing.T) {
	sched := newCountingScheduler()
	memory := sinks.NewMemorySink()
	var reason Reason
	m := newTestManager(t, sched, Config{
		Publisher: memory,
		Behavior: Behavior{
			Tick: func(Context, *Activation) (bool, error) { panic("drain exploded") },
			Release: func(_ Context, _ Activation, r Reason) {
				reason = r
			},
		},
	})
	actor := uuid.New()
	if _, err := m.Activate(Context{Actor: actor}); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	sched.Advance(1)

	if m.IsActive(actor) {
		t.Fatalf("expected activation to be force-ended")
	}
	if reason != ReasonTickError {
		t.Fatalf("expected tick error reason, got %q", reason)
	}
	if len(memory.EventsOfType(loggingtoggles.EventTickFailed)) != 1 {
		t.Fatalf("expected a tick failure event")
	}
}

func TestTickReportingTerminationEndsActivation(t *testing.T) {
	sched := newCountingScheduler()
	energy := 2
	m := newTestManager(t, sched, Config{
		Behavior: Behavior{Tick: func(Context, *Activation) (bool, error) {
			energy--
			return energy > 0, nil
		}},
	})
	actor := uuid.New()
	if _, err := m.Activate(Context{Actor: actor}); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}
	sched.Advance(1)
	if !m.IsActive(actor) {
		t.Fatalf("expected activation to continue while energy remains")
	}
	sched.Advance(2)
	if m.IsActive(actor) {
		t.Fatalf("expected activation to end when energy runs out")
	}
}

func TestActivateHookErrorLeavesNoRecord(t *testing.T) {
	sched := newCountingScheduler()
	m := newTestManager(t, sched, Config{
		Behavior: Behavior{Activate: func(Context) (any, error) { return nil, errors.New("no energy") }},
	})
	actor := uuid.New()
	ok, err := m.Activate(Context{Actor: actor})
	if ok || !errors.Is(err, ErrActivateFailed) {
		t.Fatalf("expected ErrActivateFailed, got %v %v", ok, err)
	}
	if m.IsActive(actor) || sched.scheduled != 0 {
		t.Fatalf("failed activation must not leave a record or timer")
	}
}

func TestToggleFlipsState(t *testing.T) {
	sched := newCountingScheduler()
	m := newTestManager(t, sched, Config{})
	actor := uuid.New()
	on, err := m.Toggle(Context{Actor: actor})
	if err != nil || !on {
		t.Fatalf("expected toggle on, got %v %v", on, err)
	}
	on, err = m.Toggle(Context{Actor: actor})
	if err != nil || on {
		t.Fatalf("expected toggle off, got %v %v", on, err)
	}
}

func TestSetDeactivateAllReleasesEveryToggle(t *testing.T) {
	sched := newCountingScheduler()
	set := NewSet()
	cloak := newTestManager(t, sched, Config{Ability: "shadow-cloak"})
	aura := newTestManager(t, sched, Config{Ability: "ember-aura"})
	for _, m := range []*Manager{cloak, aura} {
		if err := set.Register(m); err != nil {
			t.Fatalf("Register returned error: %v", err)
		}
	}
	if err := set.Register(cloak); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	actor, other := uuid.New(), uuid.New()
	for _, m := range []*Manager{cloak, aura} {
		if _, err := m.Activate(Context{Actor: actor}); err != nil {
			t.Fatalf("Activate returned error: %v", err)
		}
	}
	if _, err := cloak.Activate(Context{Actor: other}); err != nil {
		t.Fatalf("Activate returned error: %v", err)
	}

	released := set.DeactivateAll(actor, ReasonActorInvalid)
	if len(released) != 2 || released[0] != "ember-aura" || released[1] != "shadow-cloak" {
		t.Fatalf("unexpected released set %v", released)
	}
	if len(set.ActiveFor(actor)) != 0 {
		t.Fatalf("actor should hold no toggles")
	}
	if !cloak.IsActive(other) {
		t.Fatalf("other actor must keep its toggle")
	}
	if set.Count() != 1 {
		t.Fatalf("expected one remaining activation, got %d", set.Count())
	}

	set.Shutdown()
	if set.Count() != 0 || sched.Len() != 0 {
		t.Fatalf("expected shutdown to release everything")
	}
}

func TestActiveNeverObservesRecordWithoutHandle(t *testing.T) {
	m := newTestManager(t, scheduler.New(scheduler.Config{}), Config{IntervalTicks: 5})
	actor := uuid.New()

	var missing atomic.Int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, record := range m.Active() {
				if !record.Handle.Valid() {
					missing.Add(1)
				}
			}
			if record, ok := m.Activation(actor); ok && !record.Handle.Valid() {
				missing.Add(1)
			}
		}
	}()

	for i := 0; i < 5000; i++ {
		tick := int64(i)
		if _, err := m.Activate(Context{Actor: actor, Tick: tick}); err != nil {
			t.Fatalf("activate %d: %v", i, err)
		}
		m.Deactivate(Context{Actor: actor, Tick: tick})
	}
	close(stop)
	wg.Wait()

	if n := missing.Load(); n != 0 {
		t.Fatalf("observed %d live activations without a timer handle", n)
	}
}

func TestReentrantActivateCancelsItsOwnTimer(t *testing.T) {
	sched := newCountingScheduler()
	var m *Manager
	reentered := false
	m = newTestManager(t, sched, Config{
		IntervalTicks: 1,
		Behavior: Behavior{Activate: func(ctx Context) (any, error) {
			if !reentered {
				reentered = true
				if _, err := m.Activate(ctx); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}},
	})
	actor := uuid.New()

	activated, err := m.Activate(Context{Actor: actor, Tick: 1})
	if err != nil || activated {
		t.Fatalf("expected outer activate to yield to the inner one, got %t %v", activated, err)
	}
	record, ok := m.Activation(actor)
	if !ok || !record.Handle.Valid() {
		t.Fatalf("expected the inner activation to stay live with a handle, got %+v", record)
	}
	if sched.scheduled != 2 {
		t.Fatalf("expected two timers scheduled, got %d", sched.scheduled)
	}
	if live := sched.TickScheduler.Len(); live != 1 {
		t.Fatalf("expected the losing timer cancelled, %d live", live)
	}
	if sched.cancels[record.Handle] != 0 {
		t.Fatalf("live activation's timer must not be cancelled")
	}
}
