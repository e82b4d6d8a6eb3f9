// Package scheduler runs tick-aligned callbacks for the runtime loop and
// carries work posted from other goroutines back onto the tick thread.
package scheduler

import (
	"sort"
	"sync"

	"spellforge/server/internal/telemetry"
)

// Handle identifies a scheduled task. The zero Handle is never issued.
type Handle uint64

// Valid reports whether h was issued by a scheduler.
func (h Handle) Valid() bool { return h != 0 }

// Task receives the tick it runs on.
type Task func(tick int64)

const (
	metricTasksRun       = "scheduler_tasks_run_total"
	metricTasksPanicked  = "scheduler_tasks_panicked_total"
	metricTasksScheduled = "scheduler_tasks_live"
	metricPostsDrained   = "scheduler_posts_drained_total"
)

type Config struct {
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

type task struct {
	handle   Handle
	due      int64
	interval int64
	fn       Task
}

// TickScheduler is driven by Advance on the tick thread. Schedule and Cancel
// are tick-thread operations; Post is safe from any goroutine.
type TickScheduler struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics

	now    int64
	next   Handle
	tasks  map[Handle]*task
	ticked bool

	postMu sync.Mutex
	posted []func()
}

func New(cfg Config) *TickScheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &TickScheduler{
		logger:  logger,
		metrics: cfg.Metrics,
		tasks:   make(map[Handle]*task),
	}
}

// Now returns the tick most recently passed to Advance.
func (s *TickScheduler) Now() int64 {
	if s == nil {
		return 0
	}
	return s.now
}

// ScheduleRepeating runs fn every interval ticks, first on the tick
// boundary interval ticks from now. Intervals below one are raised to one.
func (s *TickScheduler) ScheduleRepeating(interval int64, fn Task) Handle {
	if interval < 1 {
		interval = 1
	}
	return s.schedule(interval, interval, fn)
}

// ScheduleOnce runs fn a single time delay ticks from now. A delay below one
// still waits for the next tick.
func (s *TickScheduler) ScheduleOnce(delay int64, fn Task) Handle {
	if delay < 1 {
		delay = 1
	}
	return s.schedule(delay, 0, fn)
}

func (s *TickScheduler) schedule(delay, interval int64, fn Task) Handle {
	if s == nil || fn == nil {
		return 0
	}
	s.next++
	handle := s.next
	s.tasks[handle] = &task{handle: handle, due: s.now + delay, interval: interval, fn: fn}
	s.storeLive()
	return handle
}

// Cancel stops the task behind handle and reports whether it was live.
// Cancelling twice, or cancelling a finished one-shot, returns false.
func (s *TickScheduler) Cancel(handle Handle) bool {
	if s == nil || !handle.Valid() {
		return false
	}
	if _, ok := s.tasks[handle]; !ok {
		return false
	}
	delete(s.tasks, handle)
	s.storeLive()
	return true
}

// Live reports whether handle still refers to a scheduled task.
func (s *TickScheduler) Live(handle Handle) bool {
	if s == nil {
		return false
	}
	_, ok := s.tasks[handle]
	return ok
}

// Len returns the number of scheduled tasks.
func (s *TickScheduler) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tasks)
}

// Post queues fn to run on the tick thread during the next DrainPosted.
func (s *TickScheduler) Post(fn func()) {
	if s == nil || fn == nil {
		return
	}
	s.postMu.Lock()
	s.posted = append(s.posted, fn)
	s.postMu.Unlock()
}

// DrainPosted runs every posted function in arrival order and returns how
// many ran. Functions posted while draining wait for the next call.
func (s *TickScheduler) DrainPosted() int {
	if s == nil {
		return 0
	}
	s.postMu.Lock()
	batch := s.posted
	s.posted = nil
	s.postMu.Unlock()

	for _, fn := range batch {
		s.runGuarded(0, func(int64) { fn() })
	}
	if len(batch) > 0 && s.metrics != nil {
		s.metrics.Add(metricPostsDrained, uint64(len(batch)))
	}
	return len(batch)
}

// Advance moves the scheduler to tick and runs every task due at or before
// it in handle order. Tasks created while running wait for a later tick.
func (s *TickScheduler) Advance(tick int64) int {
	if s == nil {
		return 0
	}
	if s.ticked && tick < s.now {
		tick = s.now
	}
	s.now = tick
	s.ticked = true

	due := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.due <= tick {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return 0
	}
	sort.Slice(due, func(i, j int) bool { return due[i].handle < due[j].handle })

	ran := 0
	for _, t := range due {
		// An earlier task in this batch may have cancelled this one.
		if current, ok := s.tasks[t.handle]; !ok || current != t {
			continue
		}
		if t.interval > 0 {
			t.due = tick + t.interval
		} else {
			delete(s.tasks, t.handle)
		}
		s.runGuarded(tick, t.fn)
		ran++
	}
	if s.metrics != nil {
		s.metrics.Add(metricTasksRun, uint64(ran))
	}
	s.storeLive()
	return ran
}

func (s *TickScheduler) runGuarded(tick int64, fn Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("[scheduler] task panicked at tick %d: %v", tick, r)
			if s.metrics != nil {
				s.metrics.Add(metricTasksPanicked, 1)
			}
		}
	}()
	fn(tick)
}

func (s *TickScheduler) storeLive() {
	if s.metrics != nil {
		s.metrics.Store(metricTasksScheduled, uint64(len(s.tasks)))
	}
}

// Shutdown drops every task and pending post.
func (s *TickScheduler) Shutdown() {
	if s == nil {
		return
	}
	s.tasks = make(map[Handle]*task)
	s.postMu.Lock()
	s.posted = nil
	s.postMu.Unlock()
	s.storeLive()
}
