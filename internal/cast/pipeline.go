// Package cast runs single cast attempts through the permission, cooldown
// and prerequisite gates before executing an ability.
package cast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"spellforge/server/internal/ability"
	"spellforge/server/internal/cooldown"
	"spellforge/server/internal/metrics"
	"spellforge/server/internal/telemetry"
	"spellforge/server/internal/toggle"
	"spellforge/server/logging"
	loggingcasting "spellforge/server/logging/casting"
	loggingruntime "spellforge/server/logging/runtime"
)

const tracerName = "spellforge/server/internal/cast"

const (
	metricAttempts      = "cast_attempts_total"
	metricOutcomePrefix = "cast_outcome_"
)

// Resolver looks up ability descriptors.
type Resolver interface {
	Resolve(key string) (ability.Descriptor, bool)
}

// Permissions answers whether actor may use an ability.
type Permissions interface {
	HasPermission(actor uuid.UUID, ability string) bool
}

// Cooldowns is the part of the cooldown registry the pipeline needs.
type Cooldowns interface {
	RemainingScoped(actor uuid.UUID, ability string, now int64, scope cooldown.Scope) int64
	Set(actor uuid.UUID, ability string, expiryTick int64)
}

// Toggles finds the manager owning a toggle ability.
type Toggles interface {
	Get(ability string) (*toggle.Manager, bool)
}

// Record is a journal row describing one finished attempt.
type Record struct {
	Actor         uuid.UUID
	Ability       string
	Tick          int64
	Outcome       string
	Reason        string
	ElapsedMicros int64
	At            time.Time
}

// Journal receives a Record for every attempt. Implementations must not
// block.
type Journal interface {
	Append(record Record)
}

type Config struct {
	Abilities   Resolver
	Permissions Permissions
	Cooldowns   Cooldowns
	Toggles     Toggles
	Debug       *metrics.DebugMetrics
	Publisher   logging.Publisher
	Logger      telemetry.Logger
	Metrics     telemetry.Metrics
	Journal     Journal
	Tracer      trace.Tracer
	Now         func() time.Time
}

// Pipeline is safe for use from the tick thread only.
type Pipeline struct {
	cfg Config
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Abilities == nil {
		return nil, errors.New("cast: ability resolver is required")
	}
	if cfg.Cooldowns == nil {
		return nil, errors.New("cast: cooldown registry is required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{cfg: cfg}, nil
}

// AttemptCast runs req through the gates in order: resolve, permission,
// cooldown, prerequisite, execute, then cost and cooldown bookkeeping. The
// first failing gate decides the outcome.
func (p *Pipeline) AttemptCast(ctx context.Context, req Request) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := p.cfg.Tracer.Start(ctx, "cast.attempt", trace.WithAttributes(
		attribute.String("ability.key", req.Ability),
		attribute.String("actor.id", req.Actor.String()),
		attribute.Int64("tick", req.Tick),
	))
	defer span.End()

	started := p.cfg.Now()
	outcome := p.attempt(ctx, req, started)
	elapsed := p.cfg.Now().Sub(started)

	span.SetAttributes(attribute.String("cast.outcome", outcome.Kind.String()))
	if outcome.Reason != "" {
		span.SetAttributes(attribute.String("cast.reason", outcome.Reason))
	}
	if outcome.Kind == KindFailure {
		span.SetStatus(codes.Error, outcome.Reason)
	}

	p.count(outcome)
	if p.cfg.Journal != nil {
		p.cfg.Journal.Append(Record{
			Actor:         req.Actor,
			Ability:       req.Ability,
			Tick:          req.Tick,
			Outcome:       outcome.Kind.String(),
			Reason:        outcome.Reason,
			ElapsedMicros: elapsed.Microseconds(),
			At:            started,
		})
	}
	return outcome
}

func (p *Pipeline) attempt(ctx context.Context, req Request, started time.Time) Outcome {
	actorRef := logging.ActorRef(req.Actor.String())

	desc, ok := p.cfg.Abilities.Resolve(req.Ability)
	if !ok {
		p.cfg.Logger.Printf("[cast] unknown ability %q requested by %s", req.Ability, req.Actor)
		return p.reject(ctx, req, actorRef, Failure(req.Ability, ReasonUnknownAbility, ErrUnknownAbility))
	}
	if req.Actor == uuid.Nil {
		return p.reject(ctx, req, actorRef, Failure(req.Ability, ReasonInvalidActor, ErrInvalidActor))
	}

	if p.cfg.Permissions != nil && !p.cfg.Permissions.HasPermission(req.Actor, desc.Key) {
		return p.reject(ctx, req, actorRef, NoPermission(desc.Key))
	}

	if remaining := p.cfg.Cooldowns.RemainingScoped(req.Actor, desc.Key, req.Tick, cooldown.Scope(req.Scope)); remaining > 0 {
		return p.reject(ctx, req, actorRef, OnCooldown(desc.Key, remaining))
	}

	inv := ability.Invocation{
		Actor:      req.Actor,
		Ability:    desc.Key,
		Tick:       req.Tick,
		Scope:      req.Scope,
		Attributes: req.Attributes,
	}

	if desc.Prerequisite != nil {
		passed, reason, err := guardPrerequisite(desc.Prerequisite, inv)
		if err != nil {
			return p.fail(ctx, req, actorRef, started, err, true)
		}
		if !passed {
			return p.reject(ctx, req, actorRef, PrerequisiteFailed(desc.Key, reason))
		}
	}

	outcome := Success(desc.Key)
	if desc.IsToggle() {
		var manager *toggle.Manager
		if p.cfg.Toggles != nil {
			manager, _ = p.cfg.Toggles.Get(desc.Key)
		}
		if manager == nil {
			p.inconsistency(ctx, req, actorRef, "toggle ability has no manager")
			return p.fail(ctx, req, actorRef, started, fmt.Errorf("%w: %s has no toggle manager", ErrInternalInconsistency, desc.Key), false)
		}
		active, err := manager.Toggle(toggle.Context{
			Actor:      req.Actor,
			Ability:    desc.Key,
			Tick:       req.Tick,
			Attributes: req.Attributes,
		})
		if err != nil {
			return p.fail(ctx, req, actorRef, started, err, false)
		}
		outcome.ToggledActive = &active
	} else {
		if panicked, err := guardEffect(ctx, desc.Effect, inv); err != nil {
			return p.fail(ctx, req, actorRef, started, err, panicked)
		}
	}

	if desc.Cost != nil {
		if panicked, err := guardCost(desc.Cost, inv); err != nil {
			p.cfg.Logger.Printf("[cast] cost for %s failed for %s (panic=%t): %v", desc.Key, req.Actor, panicked, err)
		}
	}

	cooldownTicks := max(desc.CooldownTicks, 0)
	expiry := req.Tick + cooldownTicks
	p.cfg.Cooldowns.Set(req.Actor, desc.Key, expiry)

	elapsed := p.cfg.Now().Sub(started)
	p.cfg.Debug.RecordCast(elapsed)

	loggingcasting.Succeeded(ctx, p.cfg.Publisher, uint64(max(req.Tick, 0)), actorRef, loggingcasting.SucceededPayload{
		Ability:       desc.Key,
		CooldownTicks: cooldownTicks,
		ExpiryTick:    expiry,
		ElapsedMicros: elapsed.Microseconds(),
		ToggledActive: outcome.ToggledActive,
	}, nil)
	return outcome
}

func (p *Pipeline) reject(ctx context.Context, req Request, actorRef logging.EntityRef, outcome Outcome) Outcome {
	loggingcasting.Rejected(ctx, p.cfg.Publisher, uint64(max(req.Tick, 0)), actorRef, loggingcasting.RejectedPayload{
		Ability:        req.Ability,
		Outcome:        outcome.Kind.String(),
		Reason:         outcome.Reason,
		RemainingTicks: outcome.RemainingTicks,
	}, nil)
	return outcome
}

// fail logs the real error and degrades it to a cast-error outcome. The
// cooldown is not set.
func (p *Pipeline) fail(ctx context.Context, req Request, actorRef logging.EntityRef, started time.Time, cause error, panicked bool) Outcome {
	elapsed := p.cfg.Now().Sub(started)
	p.cfg.Debug.RecordFailedCast()
	p.cfg.Logger.Printf("[cast] %s failed for %s after %s: %v", req.Ability, req.Actor, elapsed, cause)

	span := trace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, ReasonCastError)

	loggingcasting.Failed(ctx, p.cfg.Publisher, uint64(max(req.Tick, 0)), actorRef, loggingcasting.FailedPayload{
		Ability:       req.Ability,
		Error:         cause.Error(),
		ElapsedMicros: elapsed.Microseconds(),
		Panicked:      panicked,
	}, nil)
	return Failure(req.Ability, ReasonCastError, ErrExecution)
}

func (p *Pipeline) inconsistency(ctx context.Context, req Request, actorRef logging.EntityRef, detail string) {
	p.cfg.Logger.Printf("[cast] internal inconsistency for %s: %s", req.Ability, detail)
	loggingruntime.InternalInconsistency(ctx, p.cfg.Publisher, uint64(max(req.Tick, 0)), actorRef, loggingruntime.InconsistencyPayload{
		Component: "cast",
		Ability:   req.Ability,
		Detail:    detail,
	}, nil)
}

func (p *Pipeline) count(outcome Outcome) {
	if p.cfg.Metrics == nil {
		return
	}
	p.cfg.Metrics.Add(metricAttempts, 1)
	p.cfg.Metrics.Add(metricOutcomePrefix+outcome.Kind.String()+"_total", 1)
}

func guardEffect(ctx context.Context, effect ability.Effect, inv ability.Invocation) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked, err = true, fmt.Errorf("panic: %v", r)
		}
	}()
	return false, effect(ctx, inv)
}

func guardPrerequisite(check ability.Prerequisite, inv ability.Invocation) (ok bool, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, reason, err = false, "", fmt.Errorf("prerequisite panic: %v", r)
		}
	}()
	ok, reason = check(inv)
	return ok, reason, nil
}

func guardCost(cost ability.Cost, inv ability.Invocation) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked, err = true, fmt.Errorf("panic: %v", r)
		}
	}()
	cost(inv)
	return false, nil
}
