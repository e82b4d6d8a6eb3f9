// Package runtime drives the fixed-timestep tick that owns all ability
// state. Transports enqueue intents from any goroutine; everything else runs
// on the tick goroutine.
package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"spellforge/server/internal/cast"
	"spellforge/server/internal/metrics"
	"spellforge/server/internal/scheduler"
	"spellforge/server/internal/telemetry"
	"spellforge/server/logging"
	loggingruntime "spellforge/server/logging/runtime"
)

const (
	// IntentRejectQueueLimit indicates an intent was dropped by per-actor
	// throttling.
	IntentRejectQueueLimit = "queue_limit"
	// IntentRejectQueueFull indicates the shared intent queue is saturated.
	IntentRejectQueueFull = "queue_full"
	// IntentRejectStopped indicates the runtime no longer accepts intents.
	IntentRejectStopped = "stopped"

	metricTicksTotal      = "runtime_ticks_total"
	metricTicksOverBudget = "runtime_ticks_over_budget_total"
	metricIntentsDropped  = "runtime_intents_dropped_total"
	metricCooldownsSwept  = "runtime_cooldowns_swept_total"
)

// Caster runs a single cast attempt.
type Caster interface {
	AttemptCast(ctx context.Context, req cast.Request) cast.Outcome
}

// Sweeper prunes expired state.
type Sweeper interface {
	Sweep(now int64) int
}

type Config struct {
	TickRate        int
	CatchupMaxTicks int
	IntentCapacity  int
	PerActorLimit   int
	SweepEveryTicks int

	Caster    Caster
	Scheduler *scheduler.TickScheduler
	Cooldowns Sweeper
	Debug     *metrics.DebugMetrics

	// OnOutcome receives every dispatched intent with its outcome, on the
	// tick goroutine.
	OnOutcome func(intent Intent, tick int64, outcome cast.Outcome)

	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Clock     logging.Clock
}

// StepResult summarises one Advance.
type StepResult struct {
	Tick       int64
	Dispatched int
	TasksRun   int
	Posted     int
	Swept      int
	Duration   time.Duration
}

type Runtime struct {
	cfg    Config
	queue  *IntentQueue
	tick   atomic.Int64
	closed atomic.Bool

	queueMu       sync.Mutex
	perActorCount map[uuid.UUID]int
	dropCounts    map[uuid.UUID]uint64
}

func New(cfg Config) (*Runtime, error) {
	if cfg.Caster == nil {
		return nil, errors.New("runtime: caster is required")
	}
	if cfg.Scheduler == nil {
		return nil, errors.New("runtime: scheduler is required")
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = cast.TicksPerSecond
	}
	if cfg.IntentCapacity <= 0 {
		cfg.IntentCapacity = 1024
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = logging.SystemClock{}
	}
	return &Runtime{
		cfg:           cfg,
		queue:         NewIntentQueue(cfg.IntentCapacity, cfg.Metrics),
		perActorCount: make(map[uuid.UUID]int),
		dropCounts:    make(map[uuid.UUID]uint64),
	}, nil
}

// Tick returns the last tick passed to Advance. Safe from any goroutine.
func (r *Runtime) Tick() int64 {
	if r == nil {
		return 0
	}
	return r.tick.Load()
}

// Pending reports the number of staged intents.
func (r *Runtime) Pending() int {
	if r == nil {
		return 0
	}
	return r.queue.Len()
}

// Post runs fn on the tick goroutine before the next batch of intents.
func (r *Runtime) Post(fn func()) {
	if r == nil {
		return
	}
	r.cfg.Scheduler.Post(fn)
}

// Enqueue stages an intent, enforcing per-actor throttling and capacity.
func (r *Runtime) Enqueue(intent Intent) (bool, string) {
	if r == nil || r.closed.Load() {
		return false, IntentRejectStopped
	}
	reason := ""
	var dropCount uint64
	r.queueMu.Lock()
	if r.cfg.PerActorLimit > 0 && intent.Actor != uuid.Nil {
		count := r.perActorCount[intent.Actor]
		if count >= r.cfg.PerActorLimit {
			reason = IntentRejectQueueLimit
		} else {
			r.perActorCount[intent.Actor] = count + 1
		}
	}
	if reason == "" && !r.queue.Push(intent) {
		reason = IntentRejectQueueFull
		if r.cfg.PerActorLimit > 0 && intent.Actor != uuid.Nil {
			r.perActorCount[intent.Actor]--
		}
	}
	if reason != "" {
		dropCount = r.incrementDropLocked(intent.Actor)
	}
	r.queueMu.Unlock()

	if reason != "" {
		r.reportDrop(reason, intent, dropCount)
		return false, reason
	}
	return true, ""
}

// DropActor discards staged intents for actor.
func (r *Runtime) DropActor(actor uuid.UUID) int {
	if r == nil {
		return 0
	}
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	removed := r.queue.DropActor(actor)
	delete(r.perActorCount, actor)
	delete(r.dropCounts, actor)
	return removed
}

// Advance runs one tick: due scheduled tasks, posted callbacks, then every
// staged intent in arrival order.
func (r *Runtime) Advance(ctx context.Context, tick int64) StepResult {
	if r == nil {
		return StepResult{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := r.cfg.Clock.Now()
	r.tick.Store(tick)

	result := StepResult{Tick: tick}
	result.TasksRun = r.cfg.Scheduler.Advance(tick)
	result.Posted = r.cfg.Scheduler.DrainPosted()

	intents := r.drainIntents()
	for _, intent := range intents {
		outcome := r.cfg.Caster.AttemptCast(ctx, cast.Request{
			Actor:      intent.Actor,
			Ability:    intent.Ability,
			Scope:      intent.Scope,
			Tick:       tick,
			Attributes: intent.Attributes,
		})
		if r.cfg.OnOutcome != nil {
			r.cfg.OnOutcome(intent, tick, outcome)
		}
	}
	result.Dispatched = len(intents)

	if r.cfg.Cooldowns != nil && r.cfg.SweepEveryTicks > 0 && tick%int64(r.cfg.SweepEveryTicks) == 0 {
		result.Swept = r.cfg.Cooldowns.Sweep(tick)
		if result.Swept > 0 && r.cfg.Metrics != nil {
			r.cfg.Metrics.Add(metricCooldownsSwept, uint64(result.Swept))
		}
	}

	result.Duration = r.cfg.Clock.Now().Sub(start)
	r.cfg.Debug.RecordEventProcessing(result.Duration)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Add(metricTicksTotal, 1)
	}
	return result
}

// Run drives Advance at the configured tick rate until ctx ends. Ticks that
// overrun their slot are reported; missed slots beyond CatchupMaxTicks are
// skipped rather than replayed.
func (r *Runtime) Run(ctx context.Context) {
	if r == nil {
		return
	}
	budget := time.Second / time.Duration(r.cfg.TickRate)
	ticker := time.NewTicker(budget)
	defer ticker.Stop()

	catchup := r.cfg.CatchupMaxTicks
	if catchup < 1 {
		catchup = 1
	}
	last := r.cfg.Clock.Now()
	tick := r.Tick()
	for {
		select {
		case <-ctx.Done():
			r.closed.Store(true)
			return
		case <-ticker.C:
			now := r.cfg.Clock.Now()
			steps := int(now.Sub(last) / budget)
			if steps < 1 {
				steps = 1
			} else if steps > catchup {
				steps = catchup
			}
			last = now
			for i := 0; i < steps; i++ {
				tick++
				result := r.Advance(ctx, tick)
				if result.Duration > budget {
					r.overBudget(ctx, result, budget)
				}
			}
		}
	}
}

// Stop rejects further intents.
func (r *Runtime) Stop() {
	if r == nil {
		return
	}
	r.closed.Store(true)
}

func (r *Runtime) drainIntents() []Intent {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	intents := r.queue.Drain()
	if len(r.perActorCount) > 0 {
		r.perActorCount = make(map[uuid.UUID]int)
	}
	return intents
}

func (r *Runtime) incrementDropLocked(actor uuid.UUID) uint64 {
	if actor == uuid.Nil {
		return 0
	}
	count := r.dropCounts[actor] + 1
	r.dropCounts[actor] = count
	return count
}

func (r *Runtime) reportDrop(reason string, intent Intent, count uint64) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Add(metricIntentsDropped, 1)
	}
	loggingruntime.IntentDropped(
		context.Background(),
		r.cfg.Publisher,
		uint64(r.Tick()),
		logging.ActorRef(intent.Actor.String()),
		loggingruntime.IntentDroppedPayload{Ability: intent.Ability, Reason: reason, Count: count},
		nil,
	)
	if count > 0 && count&(count-1) == 0 {
		r.cfg.Logger.Printf(
			"[backpressure] dropping intent actor=%s ability=%s reason=%s count=%d limit=%d",
			intent.Actor,
			intent.Ability,
			reason,
			count,
			r.cfg.PerActorLimit,
		)
	}
}

func (r *Runtime) overBudget(ctx context.Context, result StepResult, budget time.Duration) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.Add(metricTicksOverBudget, 1)
	}
	loggingruntime.TickOverBudget(ctx, r.cfg.Publisher, uint64(result.Tick), loggingruntime.TickOverBudgetPayload{
		DurationMicros: result.Duration.Microseconds(),
		BudgetMicros:   budget.Microseconds(),
	}, nil)
}
