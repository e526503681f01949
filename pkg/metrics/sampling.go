package metrics

import (
	"math"
	"sync"
	"sync/atomic"
)

// SamplingObserver forwards one in every N events for the sampled names and
// every other event unchanged. A rate of 0 drops the sampled names.
type SamplingObserver struct {
	inner Observer
	every uint64
	names map[string]struct{}

	mu       sync.Mutex
	counters map[string]*atomic.Uint64
}

func NewSamplingObserver(inner Observer, rate float64, names ...string) *SamplingObserver {
	rate = math.Max(0, math.Min(1, rate))
	var every uint64
	if rate > 0 {
		every = max(uint64(math.Round(1/rate)), 1)
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return &SamplingObserver{inner: inner, every: every, names: set, counters: make(map[string]*atomic.Uint64)}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if _, sampled := s.names[ev.Name]; !sampled {
		s.inner.RecordEvent(ev)
		return
	}
	if s.every == 0 {
		return
	}
	if s.every == 1 || s.counter(ev.Name).Add(1)%s.every == 1 {
		s.inner.RecordEvent(ev)
	}
}

func (s *SamplingObserver) counter(name string) *atomic.Uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[name]
	if !ok {
		c = new(atomic.Uint64)
		s.counters[name] = c
	}
	return c
}
