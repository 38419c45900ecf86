package circuitbreaker

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/fccampelo/lib-resilience/resilience/log"
)

var (
	// ErrInvalidHealthCheckInterval indicates that the health check interval must be positive.
	ErrInvalidHealthCheckInterval = errors.New("circuitbreaker: health check interval must be positive")
	// ErrInvalidHealthCheckTimeout indicates that the health check timeout must be positive.
	ErrInvalidHealthCheckTimeout = errors.New("circuitbreaker: health check timeout must be positive")
)

// HealthCheckFunc probes a dependency and returns nil when it is healthy.
type HealthCheckFunc func(ctx context.Context) error

// HealthChecker periodically probes dependencies whose breakers are not
// CLOSED and resets a breaker once its dependency reports healthy. It also
// implements StateChangeListener so a freshly opened breaker is probed
// without waiting for the next tick.
type HealthChecker struct {
	registry       *Registry
	services       map[string]HealthCheckFunc
	interval       time.Duration
	checkTimeout   time.Duration
	logger         log.Logger
	stopChan       chan struct{}
	immediateCheck chan string
	wg             sync.WaitGroup
	mu             sync.RWMutex
}

// NewHealthChecker creates a health checker driving recovery through the
// given registry.
func NewHealthChecker(registry *Registry, interval, checkTimeout time.Duration, logger log.Logger) (*HealthChecker, error) {
	if interval <= 0 {
		return nil, ErrInvalidHealthCheckInterval
	}

	if checkTimeout <= 0 {
		return nil, ErrInvalidHealthCheckTimeout
	}

	return &HealthChecker{
		registry:       registry,
		services:       make(map[string]HealthCheckFunc),
		interval:       interval,
		checkTimeout:   checkTimeout,
		logger:         log.OrNop(logger),
		stopChan:       make(chan struct{}),
		immediateCheck: make(chan string, 10),
	}, nil
}

// Register adds a dependency to health check, keyed by its breaker name.
func (hc *HealthChecker) Register(name string, fn HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.services[name] = fn
}

// Start begins the health check loop in a separate goroutine.
func (hc *HealthChecker) Start() {
	hc.wg.Add(1)

	go hc.loop()

	hc.logger.Log(context.Background(), log.LevelInfo, "health checker started",
		log.Duration("interval", hc.interval))
}

// Stop gracefully stops the health checker.
func (hc *HealthChecker) Stop() {
	close(hc.stopChan)
	hc.wg.Wait()
	hc.logger.Log(context.Background(), log.LevelInfo, "health checker stopped")
}

func (hc *HealthChecker) loop() {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.checkAll()
		case name := <-hc.immediateCheck:
			hc.checkOne(name)
		case <-hc.stopChan:
			return
		}
	}
}

func (hc *HealthChecker) checkAll() {
	hc.mu.RLock()
	// Snapshot so the lock is not held during probes.
	services := make(map[string]HealthCheckFunc, len(hc.services))
	maps.Copy(services, hc.services)
	hc.mu.RUnlock()

	for name, fn := range services {
		hc.heal(name, fn)
	}
}

func (hc *HealthChecker) checkOne(name string) {
	hc.mu.RLock()
	fn, exists := hc.services[name]
	hc.mu.RUnlock()

	if !exists {
		return
	}

	hc.heal(name, fn)
}

// heal probes one dependency when its breaker is unhealthy, and resets the
// breaker on a passing probe.
func (hc *HealthChecker) heal(name string, fn HealthCheckFunc) {
	if hc.registry.IsHealthy(name) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), hc.checkTimeout)
	err := fn(ctx)

	cancel()

	if err != nil {
		hc.logger.Log(context.Background(), log.LevelWarn, "dependency still unhealthy",
			log.String("breaker", name),
			log.Err(err),
			log.Duration("retry_in", hc.interval),
		)

		return
	}

	hc.logger.Log(context.Background(), log.LevelInfo, "dependency recovered, resetting breaker",
		log.String("breaker", name))

	if breaker, ok := hc.registry.Get(name); ok {
		breaker.Reset()
	}
}

// HealthStatus returns the breaker state for every registered dependency.
func (hc *HealthChecker) HealthStatus() map[string]string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	status := make(map[string]string, len(hc.services))
	for name := range hc.services {
		status[name] = string(hc.registry.State(name))
	}

	return status
}

// OnStateChange implements StateChangeListener. A breaker that just opened
// is scheduled for an immediate probe.
func (hc *HealthChecker) OnStateChange(name string, _ State, to State) {
	if to != StateOpen {
		return
	}

	// Non-blocking send; a full channel falls back to the next tick.
	select {
	case hc.immediateCheck <- name:
	default:
	}
}
