package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/fccampelo/lib-resilience/resilience/log"
	"github.com/fccampelo/lib-resilience/resilience/metrics"
)

const (
	// maxSnapshots bounds the snapshot ring. When full, the oldest
	// snapshot is dropped to admit the newest.
	maxSnapshots = 20

	// trendWindow is how many recent snapshots feed the drift estimate.
	trendWindow = 5

	// DefaultLeakThresholdBytes is the heap drift over the trend window
	// above which a warning is raised.
	DefaultLeakThresholdBytes = 50 * 1024 * 1024
)

// MemorySnapshot is one observation of process and host memory.
type MemorySnapshot struct {
	HeapUsed          uint64
	SystemUsedPercent float64
	Timestamp         time.Time
}

// MemoryStats reports the detector's current view.
type MemoryStats struct {
	// Current is the most recent snapshot, zero when none exist.
	Current MemorySnapshot
	// TrendBytes is the estimated heap drift over the trend window. It is
	// zero until enough snapshots exist.
	TrendBytes float64
	// SampleCount is the number of retained snapshots.
	SampleCount int
}

// LeakDetector periodically samples heap usage and warns when the recent
// trend suggests unbounded growth. It is a heuristic signal, false
// positives are acceptable.
type LeakDetector struct {
	mu        sync.Mutex
	snapshots []MemorySnapshot
	threshold float64

	logger  log.Logger
	factory *metrics.Factory

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// LeakDetectorOption customizes a LeakDetector.
type LeakDetectorOption func(*LeakDetector)

// WithLeakThreshold overrides the drift threshold in bytes. Values of 0 or
// below keep the default.
func WithLeakThreshold(bytes float64) LeakDetectorOption {
	return func(d *LeakDetector) {
		if bytes > 0 {
			d.threshold = bytes
		}
	}
}

// WithLeakMetrics wires a metrics factory so each sample records the heap
// gauge.
func WithLeakMetrics(factory *metrics.Factory) LeakDetectorOption {
	return func(d *LeakDetector) {
		d.factory = factory
	}
}

// NewLeakDetector creates a stopped detector. A nil logger is replaced with
// a no-op one.
func NewLeakDetector(logger log.Logger, opts ...LeakDetectorOption) *LeakDetector {
	d := &LeakDetector{
		snapshots: make([]MemorySnapshot, 0, maxSnapshots),
		threshold: DefaultLeakThresholdBytes,
		logger:    log.OrNop(logger),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Start begins sampling every interval. It is a no-op when the detector is
// already running or interval is not positive.
func (d *LeakDetector) Start(interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running || interval <= 0 {
		return
	}

	d.running = true
	d.stopChan = make(chan struct{})

	d.wg.Add(1)

	go d.loop(interval, d.stopChan)

	d.logger.Log(context.Background(), log.LevelInfo, "leak detector started",
		log.Duration("interval", interval),
	)
}

// Stop cancels the sampling loop and waits for it to exit. It is safe to
// call on a stopped detector. Retained snapshots survive a Stop, so the
// detector can be restarted without losing history.
func (d *LeakDetector) Stop() {
	d.mu.Lock()

	if !d.running {
		d.mu.Unlock()

		return
	}

	d.running = false
	close(d.stopChan)
	d.mu.Unlock()

	d.wg.Wait()

	d.logger.Log(context.Background(), log.LevelInfo, "leak detector stopped")
}

// MemoryStats returns the current snapshot, drift estimate and retained
// sample count.
func (d *LeakDetector) MemoryStats() MemoryStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := MemoryStats{
		SampleCount: len(d.snapshots),
		TrendBytes:  d.trendLocked(),
	}

	if len(d.snapshots) > 0 {
		stats.Current = d.snapshots[len(d.snapshots)-1]
	}

	return stats
}

func (d *LeakDetector) loop(interval time.Duration, stopChan chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			d.sample()
		}
	}
}

func (d *LeakDetector) sample() {
	snapshot := MemorySnapshot{
		HeapUsed:          heapAllocBytes(),
		SystemUsedPercent: systemMemoryPercent(),
		Timestamp:         time.Now(),
	}

	d.record(snapshot)
}

// record appends a snapshot, updates the heap gauge and raises the leak
// warning when the recent drift exceeds the threshold.
func (d *LeakDetector) record(snapshot MemorySnapshot) {
	d.mu.Lock()

	if len(d.snapshots) >= maxSnapshots {
		d.snapshots = append(d.snapshots[1:len(d.snapshots):len(d.snapshots)], snapshot)
	} else {
		d.snapshots = append(d.snapshots, snapshot)
	}

	drift := d.trendLocked()
	d.mu.Unlock()

	ctx := context.Background()

	d.factory.SetGauge(ctx, metrics.MetricHeapUsedBytes, int64(snapshot.HeapUsed), nil)

	if drift > d.threshold {
		d.logger.Log(ctx, log.LevelWarn, "possible memory leak detected",
			log.Float64("heap_drift_bytes", drift),
			log.Float64("threshold_bytes", d.threshold),
			log.Uint64("heap_used_bytes", snapshot.HeapUsed),
			log.Float64("system_used_percent", snapshot.SystemUsedPercent),
		)
	}
}

// trendLocked estimates heap drift over the trend window: the least-squares
// slope of the last trendWindow heap values against their sample index,
// scaled by the window span. Callers must hold d.mu.
func (d *LeakDetector) trendLocked() float64 {
	if len(d.snapshots) < trendWindow {
		return 0
	}

	recent := d.snapshots[len(d.snapshots)-trendWindow:]

	n := float64(trendWindow)

	var sumX, sumY, sumXY, sumXX float64

	for i, s := range recent {
		x := float64(i)
		y := float64(s.HeapUsed)

		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denominator := n*sumXX - sumX*sumX
	if denominator == 0 {
		return 0
	}

	slope := (n*sumXY - sumX*sumY) / denominator

	return slope * (n - 1)
}
