// Package ability defines ability descriptors and the registry the cast
// pipeline resolves them from.
package ability

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"spellforge/server/internal/toggle"
)

var (
	ErrMissingKey    = errors.New("ability: key is required")
	ErrMissingEffect = errors.New("ability: instant abilities need an effect")
	ErrDuplicateKey  = errors.New("ability: key already registered")
)

// Invocation carries the context of one cast attempt into content hooks.
type Invocation struct {
	Actor   uuid.UUID
	Ability string
	Tick    int64
	// Scope names the bound item the cast came from, if any.
	Scope string
	// Attributes holds host-supplied numeric state such as energy or level.
	Attributes map[string]float64
}

// Attribute returns the named attribute or zero.
func (inv Invocation) Attribute(name string) float64 {
	if inv.Attributes == nil {
		return 0
	}
	return inv.Attributes[name]
}

// Prerequisite decides whether a cast may proceed. A false result carries a
// stable reason key.
type Prerequisite func(inv Invocation) (ok bool, reason string)

// Effect runs the instant part of an ability.
type Effect func(ctx context.Context, inv Invocation) error

// Cost is applied after a successful effect.
type Cost func(inv Invocation)

// ToggleSpec marks an ability as a toggle and configures its manager.
// Zero interval or max duration fall back to configured defaults.
type ToggleSpec struct {
	IntervalTicks    int64
	MaxDurationTicks int64
	Behavior         toggle.Behavior
}

// Revertible is implemented by abilities whose placed effects can be undone
// by handle, for example a wall that other systems may need to remove.
type Revertible interface {
	RevertByHandle(handle string) bool
}

// Descriptor is the registered definition of one ability.
type Descriptor struct {
	Key           string
	DisplayName   string
	CooldownTicks int64
	Prerequisite  Prerequisite
	Cost          Cost
	Effect        Effect
	Toggle        *ToggleSpec
	Revertible    Revertible
}

// IsToggle reports whether casts flip a toggle instead of running Effect.
func (d Descriptor) IsToggle() bool {
	return d.Toggle != nil
}

func (d Descriptor) validate() error {
	if d.Key == "" {
		return ErrMissingKey
	}
	if d.Toggle == nil && d.Effect == nil {
		return ErrMissingEffect
	}
	return nil
}
