package persist

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"spellforge/server/internal/cast"
	"spellforge/server/internal/telemetry"
)

const (
	defaultQueueSize     = 1024
	defaultBatchSize     = 64
	defaultFlushInterval = 250 * time.Millisecond
	defaultWriteTimeout  = 5 * time.Second

	metricJournalQueued  = "persist_journal_queued_total"
	metricJournalDropped = "persist_journal_dropped_total"
	metricJournalWritten = "persist_journal_written_total"
	metricWriteErrors    = "persist_write_errors_total"
)

// Poster hands a callback back to the tick thread.
type Poster interface {
	Post(fn func())
}

// WriterConfig tunes the background writer.
type WriterConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Poster        Poster
	Logger        telemetry.Logger
	Metrics       telemetry.Metrics
}

type job struct {
	record  *cast.Record
	save    *saveJob
	load    *loadJob
	flushed chan struct{}
}

type saveJob struct {
	actor    uuid.UUID
	snapshot []CooldownSnapshot
	at       time.Time
}

type loadJob struct {
	actor    uuid.UUID
	callback func([]CooldownSnapshot, error)
}

// Writer moves SQLite I/O off the tick thread. Journal records are batched;
// cooldown loads deliver their result through the Poster so callers mutate
// runtime state on the tick thread only.
type Writer struct {
	store   *Store
	cfg     WriterConfig
	jobs    chan job
	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}
}

func NewWriter(store *Store, cfg WriterConfig) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	w := &Writer{
		store: store,
		cfg:   cfg,
		jobs:  make(chan job, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Append implements cast.Journal. It never blocks; records are dropped when
// the queue is full.
func (w *Writer) Append(record cast.Record) {
	if w == nil {
		return
	}
	if w.enqueue(job{record: &record}, false) {
		w.add(metricJournalQueued, 1)
		return
	}
	w.add(metricJournalDropped, 1)
}

// SaveCooldowns queues a snapshot write, blocking while the queue is full.
func (w *Writer) SaveCooldowns(actor uuid.UUID, snapshot []CooldownSnapshot, at time.Time) {
	if w == nil {
		return
	}
	copied := append([]CooldownSnapshot(nil), snapshot...)
	if !w.enqueue(job{save: &saveJob{actor: actor, snapshot: copied, at: at}}, true) {
		w.logf("persist: writer closed, cooldown snapshot for %s discarded", actor)
	}
}

// LoadCooldowns fetches and removes actor's snapshot in the background and
// posts callback with the result.
func (w *Writer) LoadCooldowns(actor uuid.UUID, callback func([]CooldownSnapshot, error)) {
	if w == nil || callback == nil {
		return
	}
	if !w.enqueue(job{load: &loadJob{actor: actor, callback: callback}}, true) {
		w.deliver(func() { callback(nil, ErrNotConfigured) })
	}
}

// Flush blocks until every job queued before the call has been written.
func (w *Writer) Flush(ctx context.Context) error {
	if w == nil {
		return nil
	}
	marker := make(chan struct{})
	if !w.enqueue(job{flushed: marker}, true) {
		return nil
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the worker. Repeated calls are no-ops.
func (w *Writer) Close(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		return nil
	}
	w.closed = true
	close(w.jobs)
	w.closeMu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) enqueue(j job, block bool) bool {
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.closed {
		return false
	}
	if block {
		w.jobs <- j
		return true
	}
	select {
	case w.jobs <- j:
		return true
	default:
		return false
	}
}

func (w *Writer) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]cast.Record, 0, w.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
		err := w.store.AppendJournal(ctx, batch)
		cancel()
		if err != nil {
			w.add(metricWriteErrors, 1)
			w.logf("persist: journal batch of %d failed: %v", len(batch), err)
		} else {
			w.add(metricJournalWritten, uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case j, ok := <-w.jobs:
			if !ok {
				flush()
				return
			}
			switch {
			case j.record != nil:
				batch = append(batch, *j.record)
				if len(batch) >= w.cfg.BatchSize {
					flush()
				}
			case j.save != nil:
				flush()
				w.save(j.save)
			case j.load != nil:
				flush()
				w.load(j.load)
			case j.flushed != nil:
				flush()
				close(j.flushed)
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) save(j *saveJob) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	if err := w.store.SaveCooldowns(ctx, j.actor, j.snapshot, j.at); err != nil {
		w.add(metricWriteErrors, 1)
		w.logf("persist: save cooldowns for %s failed: %v", j.actor, err)
	}
}

func (w *Writer) load(j *loadJob) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	snapshot, err := w.store.TakeCooldowns(ctx, j.actor)
	cancel()
	if err != nil {
		w.add(metricWriteErrors, 1)
		w.logf("persist: load cooldowns for %s failed: %v", j.actor, err)
	}
	w.deliver(func() { j.callback(snapshot, err) })
}

func (w *Writer) deliver(fn func()) {
	if w.cfg.Poster != nil {
		w.cfg.Poster.Post(fn)
		return
	}
	fn()
}

func (w *Writer) add(key string, delta uint64) {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.Add(key, delta)
	}
}

func (w *Writer) logf(format string, args ...any) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Printf(format, args...)
	}
}
