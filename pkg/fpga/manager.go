package fpga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/luxfi/log"
)

// ResultCache stores finished pricing runs. Runs are deterministic, so a
// cached result is bit-identical to a fresh one for the same configuration.
type ResultCache interface {
	Lookup(cfg PipelineConfig, req PricingRequest) (PricingResult, bool)
	Store(cfg PipelineConfig, req PricingRequest, res PricingResult)
}

// Observer receives pricing activity, typically for metrics.
type Observer interface {
	ObservePricing(device string, res PricingResult)
	ObserveCacheHit()
	SetBusyDevices(n int)
}

// ManagerConfig configures a pool of pipelines
type ManagerConfig struct {
	Pipeline PipelineConfig
	Devices  int
}

// ManagerOption customizes a Manager
type ManagerOption func(*Manager)

// WithCache attaches a result cache
func WithCache(c ResultCache) ManagerOption {
	return func(m *Manager) { m.cache = c }
}

// WithObserver attaches an activity observer
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// device is one pipeline instance plus its counters. A device is owned by
// at most one goroutine at a time: whoever took it from the idle queue.
type device struct {
	id       string
	pipeline *Pipeline

	mu    sync.Mutex
	stats Stats
}

// Manager routes pricing requests across a pool of independent pipelines.
// Each pipeline is still a single-threaded tick-driven simulation; the pool
// only lets separate requests run on separate pipelines.
type Manager struct {
	config   ManagerConfig
	devices  []*device
	idle     chan *device
	cache    ResultCache
	observer Observer
	logger   log.Logger

	cacheHits atomic.Uint64

	busyMu sync.Mutex
	busy   int
}

// NewManager creates a pool of config.Devices pipelines
func NewManager(config ManagerConfig, logger log.Logger, opts ...ManagerOption) (*Manager, error) {
	if config.Devices <= 0 {
		config.Devices = 1
	}
	if logger == nil {
		logger = log.Root().New("module", "fpga")
	}

	m := &Manager{
		config: config,
		idle:   make(chan *device, config.Devices),
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}

	for i := 0; i < config.Devices; i++ {
		p, err := NewPipeline(config.Pipeline)
		if err != nil {
			return nil, fmt.Errorf("failed to create pipeline %d: %w", i, err)
		}
		d := &device{id: fmt.Sprintf("pipeline-%d", i), pipeline: p}
		m.devices = append(m.devices, d)
		m.idle <- d
	}

	m.logger.Info("Pricing pipelines ready",
		"devices", config.Devices,
		"format", config.Pipeline.Format.String(),
		"cdf", config.Pipeline.Strategy.String(),
		"joint", config.Pipeline.Joint.String(),
	)
	return m, nil
}

// Config returns the manager configuration
func (m *Manager) Config() ManagerConfig {
	return m.config
}

// Price runs req on the next idle pipeline. ctx bounds the wait for an idle
// pipeline only; an accepted run always completes.
func (m *Manager) Price(ctx context.Context, req PricingRequest) (PricingResult, error) {
	if m.cache != nil {
		if res, ok := m.cache.Lookup(m.config.Pipeline, req); ok {
			m.cacheHits.Add(1)
			if m.observer != nil {
				m.observer.ObserveCacheHit()
			}
			return res, nil
		}
	}

	var d *device
	select {
	case d = <-m.idle:
	case <-ctx.Done():
		return PricingResult{}, ctx.Err()
	}
	m.setBusy(1)
	defer func() {
		m.setBusy(-1)
		m.idle <- d
	}()

	res, err := d.pipeline.Price(req)

	d.mu.Lock()
	d.stats.Requests++
	if err == nil {
		d.stats.record(res)
	}
	d.mu.Unlock()

	if err != nil {
		m.logger.Warn("Pricing run aborted", "device", d.id, "error", err)
		return PricingResult{}, err
	}
	if res.Err != nil {
		m.logger.Debug("Pricing run failed", "device", d.id, "error", res.Err)
	}
	if m.observer != nil {
		m.observer.ObservePricing(d.id, res)
	}
	if m.cache != nil && res.Err == nil {
		m.cache.Store(m.config.Pipeline, req, res)
	}
	return res, nil
}

// BatchPrice prices every request, spreading them across the pool, and
// returns results in request order.
func (m *Manager) BatchPrice(ctx context.Context, reqs []PricingRequest) ([]PricingResult, error) {
	results := make([]PricingResult, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	work := make(chan int)
	workers := len(m.devices)
	if workers > len(reqs) {
		workers = len(reqs)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				results[i], errs[i] = m.Price(ctx, reqs[i])
			}
		}()
	}
	for i := range reqs {
		work <- i
	}
	close(work)
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return results, err
	}
	return results, nil
}

// GetStats returns statistics for all devices
func (m *Manager) GetStats() map[string]Stats {
	stats := make(map[string]Stats, len(m.devices))
	for _, d := range m.devices {
		d.mu.Lock()
		stats[d.id] = d.stats
		d.mu.Unlock()
	}
	return stats
}

// TotalStats sums statistics over all devices
func (m *Manager) TotalStats() Stats {
	var total Stats
	for _, s := range m.GetStats() {
		total.Requests += s.Requests
		total.Completed += s.Completed
		total.Errors += s.Errors
		total.TotalTicks += s.TotalTicks
		if total.MinTicks == 0 || (s.MinTicks != 0 && s.MinTicks < total.MinTicks) {
			total.MinTicks = s.MinTicks
		}
		if s.MaxTicks > total.MaxTicks {
			total.MaxTicks = s.MaxTicks
		}
	}
	return total
}

// CacheHits returns the number of requests answered from the cache. Hits
// never reach a pipeline, so they are counted for the pool, not per device.
func (m *Manager) CacheHits() uint64 {
	return m.cacheHits.Load()
}

// Busy returns the number of pipelines currently running a request
func (m *Manager) Busy() int {
	m.busyMu.Lock()
	defer m.busyMu.Unlock()
	return m.busy
}

func (m *Manager) setBusy(delta int) {
	m.busyMu.Lock()
	defer m.busyMu.Unlock()
	m.busy += delta
	if m.observer != nil {
		m.observer.SetBusyDevices(m.busy)
	}
}
