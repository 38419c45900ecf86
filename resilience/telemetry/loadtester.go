package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fccampelo/lib-resilience/resilience/log"
)

// LoadTestConfig controls a synthetic benchmark run.
type LoadTestConfig struct {
	// Iterations is the total number of timed calls to perform.
	Iterations int
	// Concurrency is the number of workers issuing calls. Values below 1
	// are treated as 1.
	Concurrency int
	// Warmup is the number of sequential untimed calls to run first.
	// Warmup errors are discarded.
	Warmup int
}

// BenchmarkResult aggregates a completed benchmark run. Duration statistics
// cover successful calls only; when every call fails they are zero.
type BenchmarkResult struct {
	ID                uuid.UUID
	Name              string
	TotalTime         time.Duration
	Mean              time.Duration
	Min               time.Duration
	Max               time.Duration
	RequestsPerSecond float64
	Successes         int
	Errors            int
}

// LoadTester drives an operation concurrently and reports latency and
// throughput aggregates.
type LoadTester struct {
	logger log.Logger
}

// NewLoadTester creates a load tester. A nil logger is replaced with a
// no-op one.
func NewLoadTester(logger log.Logger) *LoadTester {
	return &LoadTester{logger: log.OrNop(logger)}
}

// Benchmark runs cfg.Warmup sequential calls, then cfg.Iterations timed
// calls spread over cfg.Concurrency workers. Workers draw from a shared
// iteration budget, so the total number of timed calls never exceeds
// cfg.Iterations even when it does not divide evenly. Calls that return an
// error count toward Errors and are excluded from duration statistics.
// Benchmark stops early when ctx is canceled.
func (lt *LoadTester) Benchmark(ctx context.Context, name string, op func(context.Context) error, cfg LoadTestConfig) BenchmarkResult {
	result := BenchmarkResult{
		ID:   uuid.New(),
		Name: name,
	}

	if cfg.Iterations <= 0 {
		return result
	}

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	lt.logger.Log(ctx, log.LevelInfo, "benchmark starting",
		log.String("benchmark_id", result.ID.String()),
		log.String("name", name),
		log.Int("iterations", cfg.Iterations),
		log.Int("concurrency", cfg.Concurrency),
		log.Int("warmup", cfg.Warmup),
	)

	for i := 0; i < cfg.Warmup; i++ {
		if ctx.Err() != nil {
			break
		}

		_ = op(ctx)
	}

	// Each worker takes at most batch iterations, stopping early once the
	// shared budget runs out.
	batch := (cfg.Iterations + cfg.Concurrency - 1) / cfg.Concurrency

	var (
		remaining atomic.Int64
		errors    atomic.Int64
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations []time.Duration
	)

	remaining.Store(int64(cfg.Iterations))

	benchStart := time.Now()

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			local := make([]time.Duration, 0, batch)

			for i := 0; i < batch; i++ {
				if remaining.Add(-1) < 0 {
					break
				}

				if ctx.Err() != nil {
					break
				}

				callStart := time.Now()

				if err := op(ctx); err != nil {
					errors.Add(1)
					continue
				}

				local = append(local, time.Since(callStart))
			}

			mu.Lock()
			durations = append(durations, local...)
			mu.Unlock()
		}()
	}

	wg.Wait()

	result.TotalTime = time.Since(benchStart)
	result.Successes = len(durations)
	result.Errors = int(errors.Load())

	if len(durations) > 0 {
		result.Min = durations[0]
		result.Max = durations[0]

		var total time.Duration

		for _, d := range durations {
			total += d

			if d < result.Min {
				result.Min = d
			}

			if d > result.Max {
				result.Max = d
			}
		}

		result.Mean = total / time.Duration(len(durations))

		if secs := result.TotalTime.Seconds(); secs > 0 {
			result.RequestsPerSecond = float64(result.Successes) / secs
		}
	}

	lt.logger.Log(ctx, log.LevelInfo, "benchmark finished",
		log.String("benchmark_id", result.ID.String()),
		log.String("name", name),
		log.Duration("total_time", result.TotalTime),
		log.Int("successes", result.Successes),
		log.Int("errors", result.Errors),
		log.Float64("requests_per_second", result.RequestsPerSecond),
	)

	return result
}
