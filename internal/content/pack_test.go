package content

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"spellforge/server/internal/ability"
	"spellforge/server/internal/scheduler"
	"spellforge/server/internal/toggle"
)

func newTestPack(t *testing.T) (*Pack, *scheduler.TickScheduler) {
	t.Helper()
	sched := scheduler.New(scheduler.Config{})
	pack, err := NewPack(Config{Scheduler: sched, Pools: NewPools(20)})
	if err != nil {
		t.Fatalf("new pack: %v", err)
	}
	return pack, sched
}

func descriptor(t *testing.T, pack *Pack, key string) ability.Descriptor {
	t.Helper()
	for _, d := range pack.Descriptors() {
		if d.Key == key {
			return d
		}
	}
	t.Fatalf("descriptor %s not found", key)
	return ability.Descriptor{}
}

func TestNewPackRequiresScheduler(t *testing.T) {
	if _, err := NewPack(Config{}); err != ErrNoScheduler {
		t.Fatalf("expected ErrNoScheduler, got %v", err)
	}
}

func TestRegisterAddsEveryAbility(t *testing.T) {
	pack, _ := newTestPack(t)
	registry := ability.NewRegistry()
	if err := pack.Register(registry); err != nil {
		t.Fatalf("register: %v", err)
	}
	keys := registry.Keys()
	if len(keys) != 3 {
		t.Fatalf("expected three abilities, got %v", keys)
	}
	if err := pack.Register(registry); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestSparkSpendsManaUntilExhausted(t *testing.T) {
	pack, _ := newTestPack(t)
	spark := descriptor(t, pack, KeySpark)
	actor := uuid.New()
	inv := ability.Invocation{Actor: actor, Ability: KeySpark}

	for i := 0; i < 4; i++ {
		if ok, reason := spark.Prerequisite(inv); !ok {
			t.Fatalf("cast %d: expected prerequisite to pass, got %s", i, reason)
		}
		if err := spark.Effect(context.Background(), inv); err != nil {
			t.Fatalf("effect: %v", err)
		}
		spark.Cost(inv)
	}
	if ok, reason := spark.Prerequisite(inv); ok || reason != ReasonInsufficientMana {
		t.Fatalf("expected insufficient mana, got ok=%v reason=%s", ok, reason)
	}
	if got := pack.Sparks(actor); got != 4 {
		t.Fatalf("expected four sparks, got %d", got)
	}
	if level := pack.Pools().Level(actor, Mana); level != 0 {
		t.Fatalf("expected mana drained, got %v", level)
	}
}

func TestLightwallExpiresOnSchedule(t *testing.T) {
	pack, sched := newTestPack(t)
	wall := descriptor(t, pack, KeyLightwall)
	actor := uuid.New()

	sched.Advance(10)
	if err := wall.Effect(context.Background(), ability.Invocation{Actor: actor, Tick: 10}); err != nil {
		t.Fatalf("effect: %v", err)
	}
	walls := pack.Walls()
	if len(walls) != 1 || walls[0].Owner != actor || walls[0].ExpiresTick != 110 {
		t.Fatalf("unexpected walls %+v", walls)
	}

	sched.Advance(109)
	if len(pack.Walls()) != 1 {
		t.Fatal("expected wall to stand until its expiry tick")
	}
	sched.Advance(110)
	if len(pack.Walls()) != 0 {
		t.Fatal("expected wall removed at expiry")
	}
}

func TestLightwallRevertByHandle(t *testing.T) {
	pack, sched := newTestPack(t)
	registry := ability.NewRegistry()
	if err := pack.Register(registry); err != nil {
		t.Fatalf("register: %v", err)
	}
	wall := descriptor(t, pack, KeyLightwall)
	if err := wall.Effect(context.Background(), ability.Invocation{Actor: uuid.New()}); err != nil {
		t.Fatalf("effect: %v", err)
	}
	handle := pack.Walls()[0].Handle

	if !registry.Revert(KeyLightwall, handle) {
		t.Fatal("expected revert to succeed")
	}
	if registry.Revert(KeyLightwall, handle) {
		t.Fatal("expected second revert to fail")
	}
	if sched.Len() != 0 {
		t.Fatalf("expected expiry timer cancelled, %d tasks remain", sched.Len())
	}
	if registry.Revert(KeySpark, handle) {
		t.Fatal("spark is not revertible")
	}
}

func TestShadowCloakTerminatesWhenEnergyRunsOut(t *testing.T) {
	pack, sched := newTestPack(t)
	cloak := descriptor(t, pack, KeyShadowCloak)
	if !cloak.IsToggle() {
		t.Fatal("expected shadow-cloak to be a toggle")
	}
	manager, err := toggle.NewManager(toggle.Config{
		Ability:          cloak.Key,
		IntervalTicks:    cloak.Toggle.IntervalTicks,
		MaxDurationTicks: cloak.Toggle.MaxDurationTicks,
		Behavior:         cloak.Toggle.Behavior,
		Scheduler:        sched,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	actor := uuid.New()
	if ok, err := manager.Activate(toggle.Context{Actor: actor, Tick: 0}); !ok || err != nil {
		t.Fatalf("activate: ok=%v err=%v", ok, err)
	}

	for tick := int64(1); tick < 200; tick++ {
		sched.Advance(tick)
	}
	if !manager.IsActive(actor) {
		t.Fatal("expected cloak active while energy remains")
	}
	activation, _ := manager.Activation(actor)
	if state := activation.Payload.(*CloakState); state.Energy != 10 {
		t.Fatalf("expected 10 energy left, got %v", state.Energy)
	}
	sched.Advance(200)
	if manager.IsActive(actor) {
		t.Fatal("expected cloak terminated when energy reached zero")
	}
}

func TestPoolsClampAndForget(t *testing.T) {
	pools := NewPools(50)
	actor := uuid.New()
	pools.Set(actor, Mana, 80)
	if got := pools.Level(actor, Mana); got != 50 {
		t.Fatalf("expected clamp to 50, got %v", got)
	}
	pools.Set(actor, Mana, -3)
	if pools.Spend(actor, Mana, 1) {
		t.Fatal("expected spend to fail on empty pool")
	}
	pools.Forget(actor)
	if got := pools.Level(actor, Mana); got != 50 {
		t.Fatalf("expected full pool after forget, got %v", got)
	}
}
