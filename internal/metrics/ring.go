// Package metrics keeps bounded latency samples and cast counters for the
// debug reporting surface.
package metrics

import (
	"math"
	"sort"
	"sync"
)

// DefaultCapacity bounds each sample series when no capacity is configured.
const DefaultCapacity = 1000

// SampleRing is a fixed-capacity FIFO of latency samples. Recording into a
// full ring evicts the oldest sample.
type SampleRing struct {
	mu      sync.RWMutex
	samples []int64
	head    int
	count   int
}

func NewSampleRing(capacity int) *SampleRing {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SampleRing{samples: make([]int64, capacity)}
}

func (r *SampleRing) Record(value int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	capacity := len(r.samples)
	if r.count < capacity {
		r.samples[(r.head+r.count)%capacity] = value
		r.count++
		return
	}
	r.samples[r.head] = value
	r.head = (r.head + 1) % capacity
}

// Snapshot copies the samples oldest first.
func (r *SampleRing) Snapshot() []int64 {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, r.count)
	capacity := len(r.samples)
	for i := 0; i < r.count; i++ {
		out[i] = r.samples[(r.head+i)%capacity]
	}
	return out
}

// P95 returns the 95th percentile of the current samples, or 0 when empty.
func (r *SampleRing) P95() int64 {
	return Percentile(r.Snapshot(), 0.95)
}

func (r *SampleRing) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

func (r *SampleRing) Capacity() int {
	if r == nil {
		return 0
	}
	return len(r.samples)
}

func (r *SampleRing) Clear() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.count = 0
}

// Percentile sorts samples in place and returns the element at
// ceil(p*n)-1, clamped to the slice bounds.
func Percentile(samples []int64, p float64) int64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	index := int(math.Ceil(p*float64(n))) - 1
	if index < 0 {
		index = 0
	}
	if index >= n {
		index = n - 1
	}
	return samples[index]
}
