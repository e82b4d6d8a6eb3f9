package logging

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Metrics is a keyed set of telemetry counters and gauges. Keys are created
// lazily and the zero value is ready to use.
type Metrics struct {
	mu     sync.RWMutex
	values map[string]*atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{values: make(map[string]*atomic.Uint64)}
}

func (m *Metrics) slot(key string) *atomic.Uint64 {
	m.mu.RLock()
	value, ok := m.values[key]
	m.mu.RUnlock()
	if ok {
		return value
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if value, ok = m.values[key]; ok {
		return value
	}
	if m.values == nil {
		m.values = make(map[string]*atomic.Uint64)
	}
	value = new(atomic.Uint64)
	m.values[key] = value
	return value
}

// TelemetryAdd increments the counter stored under key.
func (m *Metrics) TelemetryAdd(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.slot(key).Add(delta)
}

// TelemetryStore overwrites the gauge stored under key.
func (m *Metrics) TelemetryStore(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.slot(key).Store(value)
}

// Value returns the current value for key, or zero when it was never written.
func (m *Metrics) Value(key string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if value, ok := m.values[key]; ok {
		return value.Load()
	}
	return 0
}

// Snapshot copies every key into a plain map.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]uint64, len(m.values))
	for key, value := range m.values {
		out[key] = value.Load()
	}
	return out
}

// Keys lists the registered keys in sorted order.
func (m *Metrics) Keys() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	keys := make([]string, 0, len(m.values))
	for key := range m.values {
		keys = append(keys, key)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
