// Package content registers the sample abilities the server ships with.
package content

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"spellforge/server/internal/ability"
	"spellforge/server/internal/scheduler"
	"spellforge/server/internal/telemetry"
	"spellforge/server/internal/toggle"
)

const (
	KeySpark       = "spark"
	KeyShadowCloak = "shadow-cloak"
	KeyLightwall   = "lightwall"

	ReasonInsufficientMana = "insufficient-mana"

	sparkManaCost       = 5
	sparkCooldownTicks  = 40
	lightwallManaCost   = 8
	lightwallCooldown   = 360
	lightwallLifetime   = 100
	cloakCooldownTicks  = 160
	cloakIntervalTicks  = 20
	cloakMaxDuration    = 1800
	cloakStartingEnergy = 100.0
	cloakDrainPerTick   = 0.5
)

var ErrNoScheduler = errors.New("content: lightwall needs a scheduler")

type Config struct {
	Scheduler *scheduler.TickScheduler
	Pools     *Pools
	Logger    telemetry.Logger
}

// Wall is a placed lightwall.
type Wall struct {
	Handle      string
	Owner       uuid.UUID
	PlacedTick  int64
	ExpiresTick int64
	timer       scheduler.Handle
}

// CloakState is the per-activation payload of shadow-cloak.
type CloakState struct {
	Energy float64
}

// Pack owns the runtime state of the sample abilities.
type Pack struct {
	cfg Config

	mu     sync.Mutex
	sparks map[uuid.UUID]int
	walls  map[string]*Wall
	seq    uint64
}

func NewPack(cfg Config) (*Pack, error) {
	if cfg.Scheduler == nil {
		return nil, ErrNoScheduler
	}
	if cfg.Pools == nil {
		cfg.Pools = NewPools(100)
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	return &Pack{
		cfg:    cfg,
		sparks: make(map[uuid.UUID]int),
		walls:  make(map[string]*Wall),
	}, nil
}

// Register adds every sample ability to registry.
func (p *Pack) Register(registry *ability.Registry) error {
	for _, d := range p.Descriptors() {
		if err := registry.Register(d); err != nil {
			return fmt.Errorf("register %s: %w", d.Key, err)
		}
	}
	return nil
}

func (p *Pack) Descriptors() []ability.Descriptor {
	return []ability.Descriptor{p.spark(), p.shadowCloak(), p.lightwall()}
}

func (p *Pack) Pools() *Pools {
	return p.cfg.Pools
}

func (p *Pack) spark() ability.Descriptor {
	return ability.Descriptor{
		Key:           KeySpark,
		DisplayName:   "Spark",
		CooldownTicks: sparkCooldownTicks,
		Prerequisite:  p.manaAtLeast(sparkManaCost),
		Cost:          p.spendMana(sparkManaCost),
		Effect: func(_ context.Context, inv ability.Invocation) error {
			p.mu.Lock()
			p.sparks[inv.Actor]++
			p.mu.Unlock()
			return nil
		},
	}
}

// Sparks reports how many sparks actor has launched.
func (p *Pack) Sparks(actor uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sparks[actor]
}

func (p *Pack) shadowCloak() ability.Descriptor {
	return ability.Descriptor{
		Key:           KeyShadowCloak,
		DisplayName:   "Shadow Cloak",
		CooldownTicks: cloakCooldownTicks,
		Toggle: &ability.ToggleSpec{
			IntervalTicks:    cloakIntervalTicks,
			MaxDurationTicks: cloakMaxDuration,
			Behavior: toggle.Behavior{
				Activate: func(toggle.Context) (any, error) {
					return &CloakState{Energy: cloakStartingEnergy}, nil
				},
				Tick: func(ctx toggle.Context, activation *toggle.Activation) (bool, error) {
					state, ok := activation.Payload.(*CloakState)
					if !ok {
						return false, fmt.Errorf("shadow-cloak: unexpected payload %T", activation.Payload)
					}
					state.Energy -= cloakDrainPerTick * cloakIntervalTicks
					return state.Energy > 0, nil
				},
				Release: func(ctx toggle.Context, activation toggle.Activation, reason toggle.Reason) {
					p.cfg.Logger.Printf("[content] %s emerged from the shadows (%s)", ctx.Actor, reason)
				},
			},
		},
	}
}

func (p *Pack) lightwall() ability.Descriptor {
	return ability.Descriptor{
		Key:           KeyLightwall,
		DisplayName:   "Lightwall",
		CooldownTicks: lightwallCooldown,
		Prerequisite:  p.manaAtLeast(lightwallManaCost),
		Cost:          p.spendMana(lightwallManaCost),
		Effect: func(_ context.Context, inv ability.Invocation) error {
			p.placeWall(inv.Actor, inv.Tick)
			return nil
		},
		Revertible: revertFunc(p.RevertByHandle),
	}
}

func (p *Pack) placeWall(owner uuid.UUID, tick int64) *Wall {
	p.mu.Lock()
	p.seq++
	wall := &Wall{
		Handle:      fmt.Sprintf("%s-%d", KeyLightwall, p.seq),
		Owner:       owner,
		PlacedTick:  tick,
		ExpiresTick: tick + lightwallLifetime,
	}
	p.walls[wall.Handle] = wall
	p.mu.Unlock()

	handle := wall.Handle
	wall.timer = p.cfg.Scheduler.ScheduleOnce(lightwallLifetime, func(int64) {
		p.mu.Lock()
		delete(p.walls, handle)
		p.mu.Unlock()
	})
	return wall
}

// RevertByHandle removes a standing wall before it expires.
func (p *Pack) RevertByHandle(handle string) bool {
	p.mu.Lock()
	wall, ok := p.walls[handle]
	if ok {
		delete(p.walls, handle)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	p.cfg.Scheduler.Cancel(wall.timer)
	return true
}

// Walls lists standing walls ordered by handle.
func (p *Pack) Walls() []Wall {
	p.mu.Lock()
	out := make([]Wall, 0, len(p.walls))
	for _, wall := range p.walls {
		out = append(out, *wall)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].PlacedTick < out[j].PlacedTick || (out[i].PlacedTick == out[j].PlacedTick && out[i].Handle < out[j].Handle)
	})
	return out
}

func (p *Pack) manaAtLeast(amount float64) ability.Prerequisite {
	return func(inv ability.Invocation) (bool, string) {
		if p.cfg.Pools.Level(inv.Actor, Mana) < amount {
			return false, ReasonInsufficientMana
		}
		return true, ""
	}
}

func (p *Pack) spendMana(amount float64) ability.Cost {
	return func(inv ability.Invocation) {
		p.cfg.Pools.Spend(inv.Actor, Mana, amount)
	}
}

type revertFunc func(handle string) bool

func (f revertFunc) RevertByHandle(handle string) bool { return f(handle) }
