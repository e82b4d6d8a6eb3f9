package cast

import (
	"strconv"

	"github.com/google/uuid"
)

// Kind enumerates the terminal states of a cast attempt.
type Kind int

const (
	KindSuccess Kind = iota
	KindFailure
	KindOnCooldown
	KindNoPermission
	KindPrerequisiteFailed
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindOnCooldown:
		return "on_cooldown"
	case KindNoPermission:
		return "no_permission"
	case KindPrerequisiteFailed:
		return "prerequisite_failed"
	default:
		return "unknown"
	}
}

// Failure reasons carried by KindFailure outcomes.
const (
	ReasonUnknownAbility = "unknown-ability"
	ReasonInvalidActor   = "invalid-actor"
	ReasonCastError      = "cast-error"
)

// ReasonPrerequisiteFailed is used when a prerequisite rejects without a
// reason of its own.
const ReasonPrerequisiteFailed = "prerequisite-failed"

// TicksPerSecond converts remaining cooldown ticks for display.
const TicksPerSecond = 20

// Request is one cast attempt.
type Request struct {
	Actor   uuid.UUID
	Ability string
	// Scope names the bound item the cast came from. Empty means the actor.
	Scope      string
	Tick       int64
	Attributes map[string]float64
}

// Outcome is exactly one of success, failure, on-cooldown, no-permission or
// prerequisite-failed.
type Outcome struct {
	Kind           Kind
	Ability        string
	Reason         string
	RemainingTicks int64
	// ToggledActive is set for toggle abilities and reports the state after
	// the cast.
	ToggledActive *bool
	// Err is the taxonomy sentinel for non-success outcomes.
	Err error
}

func Success(ability string) Outcome {
	return Outcome{Kind: KindSuccess, Ability: ability}
}

func Failure(ability, reason string, err error) Outcome {
	return Outcome{Kind: KindFailure, Ability: ability, Reason: reason, Err: err}
}

func OnCooldown(ability string, remaining int64) Outcome {
	return Outcome{Kind: KindOnCooldown, Ability: ability, RemainingTicks: remaining, Err: ErrOnCooldown}
}

func NoPermission(ability string) Outcome {
	return Outcome{Kind: KindNoPermission, Ability: ability, Err: ErrNoPermission}
}

func PrerequisiteFailed(ability, reason string) Outcome {
	if reason == "" {
		reason = ReasonPrerequisiteFailed
	}
	return Outcome{Kind: KindPrerequisiteFailed, Ability: ability, Reason: reason, Err: ErrPrerequisiteFailed}
}

func (o Outcome) Succeeded() bool {
	return o.Kind == KindSuccess
}

// MessageKey maps the outcome onto a stable localisation key. Hosts render
// the text; the runtime never produces prose.
func (o Outcome) MessageKey() string {
	switch o.Kind {
	case KindSuccess:
		if o.ToggledActive != nil && !*o.ToggledActive {
			return "ability.toggled-off"
		}
		if o.ToggledActive != nil {
			return "ability.toggled-on"
		}
		return "ability.cast"
	case KindOnCooldown:
		return "ability.on-cooldown"
	case KindNoPermission:
		return "ability.no-permission"
	case KindPrerequisiteFailed:
		return "ability.cannot-cast"
	case KindFailure:
		switch o.Reason {
		case ReasonUnknownAbility:
			return "ability.unknown"
		case ReasonInvalidActor:
			return "ability.invalid-actor"
		default:
			return "ability.cast-error"
		}
	default:
		return "ability.cast-error"
	}
}

// Placeholders returns the values a host substitutes into the message.
func (o Outcome) Placeholders() map[string]string {
	switch o.Kind {
	case KindOnCooldown:
		return map[string]string{
			"seconds": strconv.FormatInt(o.RemainingTicks/TicksPerSecond, 10),
			"ticks":   strconv.FormatInt(o.RemainingTicks, 10),
		}
	case KindPrerequisiteFailed:
		return map[string]string{"reason": o.Reason}
	default:
		return map[string]string{"ability": o.Ability}
	}
}
