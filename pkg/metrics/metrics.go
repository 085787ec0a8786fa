package metrics

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/bsfpga/pkg/fpga"
)

// PricingMetrics exports pricing activity to Prometheus
type PricingMetrics struct {
	namespace string
	registry  *prometheus.Registry
	logger    log.Logger

	// Pricing metrics
	requests      *prometheus.CounterVec
	completed     *prometheus.CounterVec
	errors        *prometheus.CounterVec
	cacheHits     prometheus.Counter
	ticksPerRun   prometheus.Histogram
	busyPipelines prometheus.Gauge

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
}

var _ fpga.Observer = (*PricingMetrics)(nil)

// New creates pricing metrics on a private registry
func New(namespace string) *PricingMetrics {
	logger := log.Root().New("module", "metrics")
	registry := prometheus.NewRegistry()

	m := &PricingMetrics{
		namespace: namespace,
		registry:  registry,
		logger:    logger,

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_requests_total",
			Help:      "Pricing requests received, by transport",
		}, []string{"transport"}),

		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_runs_total",
			Help:      "Pipeline runs completed, by device",
		}, []string{"device"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_errors_total",
			Help:      "Pipeline runs that ended in an error, by kind",
		}, []string{"kind"}),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_cache_hits_total",
			Help:      "Requests answered from the result cache",
		}),

		ticksPerRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_ticks",
			Help:      "Clock ticks per pipeline run",
			Buckets:   []float64{50, 100, 150, 200, 250, 300, 400, 500, 750, 1000},
		}),

		busyPipelines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipelines_busy",
			Help:      "Pipelines currently running a request",
		}),

		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		}),

		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		}),
	}

	registry.MustRegister(
		m.requests,
		m.completed,
		m.errors,
		m.cacheHits,
		m.ticksPerRun,
		m.busyPipelines,
		m.memoryUsage,
		m.goroutines,
	)

	logger.Info("Pricing metrics initialized", "namespace", namespace)
	return m
}

// Registry returns the underlying registry
func (m *PricingMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *PricingMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the Prometheus metrics server
func (m *PricingMetrics) StartServer(port string) error {
	m.logger.Info("Starting Prometheus metrics server", "port", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			m.logger.Error("Metrics server failed", "error", err)
		}
	}()

	m.logger.Info("Prometheus metrics available",
		"endpoint", "http://localhost:"+port+"/metrics")
	return nil
}

// RecordRequest counts a request arriving over transport
func (m *PricingMetrics) RecordRequest(transport string) {
	m.requests.WithLabelValues(transport).Inc()
}

// ObservePricing records a finished pipeline run
func (m *PricingMetrics) ObservePricing(device string, res fpga.PricingResult) {
	m.completed.WithLabelValues(device).Inc()
	m.ticksPerRun.Observe(float64(res.Ticks))
	if res.Err != nil {
		m.errors.WithLabelValues(ErrorKind(res.Err)).Inc()
	}
}

// ObserveCacheHit records a cached answer
func (m *PricingMetrics) ObserveCacheHit() {
	m.cacheHits.Inc()
}

// SetBusyDevices updates the busy pipeline gauge
func (m *PricingMetrics) SetBusyDevices(n int) {
	m.busyPipelines.Set(float64(n))
}

// ErrorKind maps a pricing error to its metric label
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, fpga.ErrDivideByZero):
		return "divide_by_zero"
	case errors.Is(err, fpga.ErrOverflow):
		return "overflow"
	case errors.Is(err, fpga.ErrDomain):
		return "domain"
	case errors.Is(err, fpga.ErrTickLimit):
		return "tick_limit"
	case errors.Is(err, fpga.ErrBusy):
		return "busy"
	default:
		return "other"
	}
}

// CollectSystemMetrics collects system-level metrics until ctx is done
func (m *PricingMetrics) CollectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			m.memoryUsage.Set(float64(memStats.Alloc))
			m.goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}
