package metrics

import (
	"sync/atomic"
	"time"
)

// DebugMetrics aggregates cast and event-processing latency. Writers are
// the tick thread; readers may be any goroutine.
type DebugMetrics struct {
	castLatency  *SampleRing
	eventLatency *SampleRing

	successfulCasts atomic.Uint64
	failedCasts     atomic.Uint64
	events          atomic.Uint64
}

// Snapshot is the read-only view served to reporting surfaces. Latencies
// are microseconds.
type Snapshot struct {
	SuccessfulCasts uint64  `json:"successfulCasts"`
	FailedCasts     uint64  `json:"failedCasts"`
	SuccessRate     float64 `json:"successRate"`
	CastP95Micros   int64   `json:"castP95Micros"`
	CastSamples     int     `json:"castSamples"`
	EventsTotal     uint64  `json:"eventsTotal"`
	EventP95Micros  int64   `json:"eventP95Micros"`
	EventSamples    int     `json:"eventSamples"`
}

func NewDebugMetrics(maxSamples int) *DebugMetrics {
	return &DebugMetrics{
		castLatency:  NewSampleRing(maxSamples),
		eventLatency: NewSampleRing(maxSamples),
	}
}

// RecordCast counts a successful cast and samples its latency.
func (m *DebugMetrics) RecordCast(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.successfulCasts.Add(1)
	m.castLatency.Record(elapsed.Microseconds())
}

// RecordFailedCast counts a cast whose effect failed. Failures contribute
// no latency sample.
func (m *DebugMetrics) RecordFailedCast() {
	if m == nil {
		return
	}
	m.failedCasts.Add(1)
}

func (m *DebugMetrics) RecordEventProcessing(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.events.Add(1)
	m.eventLatency.Record(elapsed.Microseconds())
}

func (m *DebugMetrics) CastP95() int64 {
	if m == nil {
		return 0
	}
	return m.castLatency.P95()
}

func (m *DebugMetrics) EventP95() int64 {
	if m == nil {
		return 0
	}
	return m.eventLatency.P95()
}

func (m *DebugMetrics) SuccessfulCasts() uint64 {
	if m == nil {
		return 0
	}
	return m.successfulCasts.Load()
}

func (m *DebugMetrics) FailedCasts() uint64 {
	if m == nil {
		return 0
	}
	return m.failedCasts.Load()
}

// SuccessRate is the percentage of executed casts that succeeded, 100 when
// nothing was cast yet.
func (m *DebugMetrics) SuccessRate() float64 {
	if m == nil {
		return 100
	}
	succeeded := m.successfulCasts.Load()
	total := succeeded + m.failedCasts.Load()
	if total == 0 {
		return 100
	}
	return float64(succeeded) * 100 / float64(total)
}

// Clear resets samples and counters.
func (m *DebugMetrics) Clear() {
	if m == nil {
		return
	}
	m.castLatency.Clear()
	m.eventLatency.Clear()
	m.successfulCasts.Store(0)
	m.failedCasts.Store(0)
	m.events.Store(0)
}

func (m *DebugMetrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{SuccessRate: 100}
	}
	return Snapshot{
		SuccessfulCasts: m.successfulCasts.Load(),
		FailedCasts:     m.failedCasts.Load(),
		SuccessRate:     m.SuccessRate(),
		CastP95Micros:   m.castLatency.P95(),
		CastSamples:     m.castLatency.Len(),
		EventsTotal:     m.events.Load(),
		EventP95Micros:  m.eventLatency.P95(),
		EventSamples:    m.eventLatency.Len(),
	}
}
