package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fccampelo/lib-resilience/resilience/log"
)

// maxSamplesPerLabel bounds the per-label ring buffer. When full, the oldest
// sample is dropped to admit the newest.
const maxSamplesPerLabel = 100

// Sample is one completed measurement of an instrumented operation.
// MemoryDelta is the change in heap-allocated bytes and may be negative
// when a GC ran mid-measurement. CPUDelta is the average CPU utilization
// percent over the measured window.
type Sample struct {
	Duration    time.Duration
	MemoryDelta int64
	CPUDelta    float64
	Timestamp   time.Time
}

// ProfileStats summarizes the retained samples for one label.
// MeanMemoryDelta and MeanCPUDelta are averaged over the retained samples.
type ProfileStats struct {
	Label           string
	Count           int
	Mean            time.Duration
	Min             time.Duration
	Max             time.Duration
	P95             time.Duration
	MeanMemoryDelta int64
	MeanCPUDelta    float64
}

// Profiler records duration, heap and CPU deltas for labeled operations,
// keeping a bounded ring of recent samples per label. The zero value is not
// usable; construct with NewProfiler.
type Profiler struct {
	mu      sync.Mutex
	samples map[string][]Sample
	logger  log.Logger
}

// NewProfiler creates a profiler. A nil logger is replaced with a no-op one.
func NewProfiler(logger log.Logger) *Profiler {
	return &Profiler{
		samples: make(map[string][]Sample),
		logger:  log.OrNop(logger),
	}
}

// StartProfile begins a measurement for label and returns a stop function.
// Calling stop records the sample and returns it. The stop function must be
// called exactly once, typically via defer.
func (p *Profiler) StartProfile(label string) func() Sample {
	startTime := time.Now()
	startHeap := heapAllocBytes()

	cpuPercentSinceLast() // prime the window

	return func() Sample {
		s := Sample{
			Duration:    time.Since(startTime),
			MemoryDelta: int64(heapAllocBytes()) - int64(startHeap),
			CPUDelta:    cpuPercentSinceLast(),
			Timestamp:   time.Now(),
		}

		p.record(label, s)

		return s
	}
}

// Profile measures fn under label and returns fn's error unchanged.
func (p *Profiler) Profile(label string, fn func() error) error {
	stop := p.StartProfile(label)
	defer stop()

	return fn()
}

func (p *Profiler) record(label string, s Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ring := p.samples[label]
	if len(ring) >= maxSamplesPerLabel {
		ring = append(ring[1:len(ring):len(ring)], s)
	} else {
		ring = append(ring, s)
	}

	p.samples[label] = ring

	p.logger.Log(context.Background(), log.LevelDebug, "profile sample recorded",
		log.String("label", label),
		log.Duration("duration", s.Duration),
		log.Int64("memory_delta", s.MemoryDelta),
	)
}

// Stats returns the aggregate for one label, and false when the label has no
// samples.
func (p *Profiler) Stats(label string) (ProfileStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ring, ok := p.samples[label]
	if !ok || len(ring) == 0 {
		return ProfileStats{}, false
	}

	return summarize(label, ring), true
}

// AllStats returns the aggregates for every label with at least one sample.
func (p *Profiler) AllStats() map[string]ProfileStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]ProfileStats, len(p.samples))

	for label, ring := range p.samples {
		if len(ring) == 0 {
			continue
		}

		out[label] = summarize(label, ring)
	}

	return out
}

// Reset discards all retained samples for every label.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.samples = make(map[string][]Sample)
}

func summarize(label string, ring []Sample) ProfileStats {
	stats := ProfileStats{
		Label: label,
		Count: len(ring),
		Min:   ring[0].Duration,
		Max:   ring[0].Duration,
	}

	durations := make([]time.Duration, 0, len(ring))

	var (
		totalDuration time.Duration
		totalMemory   int64
		totalCPU      float64
	)

	for _, s := range ring {
		durations = append(durations, s.Duration)
		totalDuration += s.Duration
		totalMemory += s.MemoryDelta
		totalCPU += s.CPUDelta

		if s.Duration < stats.Min {
			stats.Min = s.Duration
		}

		if s.Duration > stats.Max {
			stats.Max = s.Duration
		}
	}

	stats.Mean = totalDuration / time.Duration(len(ring))
	stats.MeanMemoryDelta = totalMemory / int64(len(ring))
	stats.MeanCPUDelta = totalCPU / float64(len(ring))

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	stats.P95 = durations[(len(durations)*95)/100]

	return stats
}
