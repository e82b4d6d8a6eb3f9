package logging

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads wall-clock time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Printer is the minimal diagnostic logger the router falls back to when a
// sink misbehaves.
type Printer interface {
	Printf(format string, args ...any)
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Router fans events out to sinks on background goroutines so publishers on
// the tick thread never block on I/O.
//
// Publishing is two-laned. Every event first tries the main queue. When it is
// full, events the config marks as retained (a retained category, or a
// severity at or above RetainSeverity) spill into a small reserved lane that
// the dispatcher always drains first. Everything else is dropped and counted
// against its category. Retained events can therefore overtake routine ones
// under pressure; ordering is only guaranteed within a lane.
type Router struct {
	cfg      Config
	queue    chan Event
	reserved chan Event
	retain   map[string]struct{}
	sinks    []*sinkWorker
	clock    Clock
	fallback Printer
	ctx      context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool
	fields   map[string]any
	wg       sync.WaitGroup
	started  sync.Once

	eventsTotal  atomic.Uint64
	spilledTotal atomic.Uint64
	droppedTotal atomic.Uint64
	lastDropLog  atomic.Int64

	dropMu     sync.Mutex
	dropsByCat map[string]uint64
}

// RouterStats is the router's counter snapshot. Dropped counts are keyed by
// event category; events without one are counted under "uncategorized".
type RouterStats struct {
	EventsTotal       uint64            `json:"eventsTotal"`
	SpilledTotal      uint64            `json:"spilledTotal"`
	DroppedTotal      uint64            `json:"droppedTotal"`
	DroppedByCategory map[string]uint64 `json:"droppedByCategory,omitempty"`
	SinkDropped       map[string]uint64 `json:"sinkDropped,omitempty"`
}

const uncategorized = "uncategorized"

func NewRouter(clock Clock, cfg Config, fallback Printer, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 512
	}
	reservedSize := cfg.ReservedBuffer
	if reservedSize <= 0 {
		reservedSize = max(bufferSize/8, 16)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		cfg:        cfg,
		queue:      make(chan Event, bufferSize),
		reserved:   make(chan Event, reservedSize),
		retain:     make(map[string]struct{}, len(cfg.RetainCategories)),
		clock:      clock,
		fallback:   fallback,
		ctx:        ctx,
		cancel:     cancel,
		fields:     cfg.CloneFields(),
		dropsByCat: make(map[string]uint64),
	}
	for _, category := range cfg.RetainCategories {
		r.retain[category] = struct{}{}
	}

	sinkBuffer := min(max(bufferSize, 32), 1024)
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.sinks = append(r.sinks, newSinkWorker(named.Name, named.Sink, sinkBuffer, r.fallback))
	}

	r.start()
	return r, nil
}

func (r *Router) start() {
	r.started.Do(func() {
		r.wg.Add(1)
		go r.dispatch()
		for _, worker := range r.sinks {
			r.wg.Add(1)
			go func(w *sinkWorker) {
				defer r.wg.Done()
				w.run()
			}(worker)
		}
	})
}

func (r *Router) dispatch() {
	defer func() {
		for _, worker := range r.sinks {
			close(worker.events)
		}
		r.wg.Done()
	}()
	for {
		// The reserved lane wins whenever both lanes are ready.
		select {
		case event := <-r.reserved:
			r.forward(event)
			continue
		default:
		}
		select {
		case <-r.ctx.Done():
			r.drain(r.reserved)
			r.drain(r.queue)
			return
		case event := <-r.reserved:
			r.forward(event)
		case event := <-r.queue:
			r.forward(event)
		}
	}
}

func (r *Router) drain(lane chan Event) {
	for {
		select {
		case event := <-lane:
			r.forward(event)
		default:
			return
		}
	}
}

func (r *Router) forward(event Event) {
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	if len(r.fields) > 0 {
		event = withDefaultExtra(event, r.fields)
	}
	r.eventsTotal.Add(1)
	for _, worker := range r.sinks {
		worker.enqueue(event)
	}
}

// Retained reports whether the event may use the reserved lane.
func (r *Router) Retained(event Event) bool {
	if r == nil {
		return false
	}
	if r.cfg.RetainSeverity > SeverityDebug && event.Severity >= r.cfg.RetainSeverity {
		return true
	}
	_, ok := r.retain[event.Category]
	return ok
}

// Publish implements Publisher. It never blocks.
func (r *Router) Publish(_ context.Context, event Event) {
	if r == nil || event.Type == "" || r.closed.Load() {
		return
	}
	// Filtered events never take queue space.
	if event.Severity < r.cfg.MinimumSeverity {
		return
	}
	select {
	case r.queue <- event:
		return
	default:
	}
	if r.Retained(event) {
		select {
		case r.reserved <- event:
			r.spilledTotal.Add(1)
			return
		default:
		}
	}
	r.drop(event)
}

func (r *Router) drop(event Event) {
	r.droppedTotal.Add(1)
	category := event.Category
	if category == "" {
		category = uncategorized
	}
	r.dropMu.Lock()
	r.dropsByCat[category]++
	r.dropMu.Unlock()

	interval := r.cfg.DropWarnInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	now := time.Now().UnixNano()
	next := r.lastDropLog.Load()
	if next != 0 && now < next {
		return
	}
	if r.lastDropLog.CompareAndSwap(next, now+interval.Nanoseconds()) {
		r.fallback.Printf("queue full, dropping %s event type=%s tick=%d (dropped so far: %d)",
			category, event.Type, event.Tick, r.droppedTotal.Load())
	}
}

// Close stops accepting events, flushes both lanes into the sinks and closes
// them. Repeated calls are no-ops.
func (r *Router) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, worker := range r.sinks {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	if r == nil {
		return RouterStats{}
	}
	stats := RouterStats{
		EventsTotal:  r.eventsTotal.Load(),
		SpilledTotal: r.spilledTotal.Load(),
		DroppedTotal: r.droppedTotal.Load(),
	}
	r.dropMu.Lock()
	if len(r.dropsByCat) > 0 {
		stats.DroppedByCategory = make(map[string]uint64, len(r.dropsByCat))
		for category, count := range r.dropsByCat {
			stats.DroppedByCategory[category] = count
		}
	}
	r.dropMu.Unlock()
	for _, worker := range r.sinks {
		if dropped := worker.dropped.Load(); dropped > 0 {
			if stats.SinkDropped == nil {
				stats.SinkDropped = make(map[string]uint64, len(r.sinks))
			}
			stats.SinkDropped[worker.name] = dropped
		}
	}
	return stats
}

func (r *Router) Sink(name string) Sink {
	if r == nil {
		return nil
	}
	for _, worker := range r.sinks {
		if worker.name == name {
			return worker.sink
		}
	}
	return nil
}

// sinkWorker owns one sink. Writes that fail back the worker off
// exponentially, capped at 32s.
type sinkWorker struct {
	name      string
	sink      Sink
	events    chan Event
	fallback  Printer
	dropped   atomic.Uint64
	failures  int
	nextRetry time.Time
}

func newSinkWorker(name string, sink Sink, buffer int, fallback Printer) *sinkWorker {
	return &sinkWorker{
		name:     name,
		sink:     sink,
		events:   make(chan Event, max(buffer, 32)),
		fallback: fallback,
	}
}

func (w *sinkWorker) enqueue(event Event) {
	select {
	case w.events <- cloneForFields(event):
	default:
		if w.dropped.Add(1) == 1 {
			w.fallback.Printf("sink %s backlog full, dropping event type=%s", w.name, event.Type)
		}
	}
}

func (w *sinkWorker) run() {
	for event := range w.events {
		if w.failures > 0 {
			if wait := time.Until(w.nextRetry); wait > 0 {
				time.Sleep(wait)
			}
		}
		if err := w.sink.Write(event); err != nil {
			w.failures++
			delay := time.Duration(1<<min(w.failures, 5)) * time.Second
			w.nextRetry = time.Now().Add(delay)
			w.fallback.Printf("sink %s failed: %v (retry in %s)", w.name, err, delay)
			continue
		}
		w.failures = 0
	}
}
