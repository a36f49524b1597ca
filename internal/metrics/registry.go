package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for equityrun
type Registry struct {
	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// Cache performance metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerTransitions *prometheus.CounterVec

	// Backtest metrics
	Rebalances      *prometheus.CounterVec
	SolverRetries   prometheus.Counter
	SolveDuration   prometheus.Histogram
	RunDuration     prometheus.Histogram
	UniverseSize    prometheus.Gauge
	GrossExposure   prometheus.Gauge
	PortfolioSharpe prometheus.Gauge

	registry *prometheus.Registry
}

// NewRegistry creates a new metrics registry with all equityrun metrics
func NewRegistry() *Registry {
	r := &Registry{
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_provider_requests_total",
				Help: "Total provider requests by operation and outcome",
			},
			[]string{"op", "outcome"},
		),

		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "equityrun_provider_latency_seconds",
				Help:    "Provider request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"op"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_cache_hits_total",
				Help: "Total number of cache hits by record kind",
			},
			[]string{"kind"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_cache_misses_total",
				Help: "Total number of cache misses by record kind",
			},
			[]string{"kind"},
		),

		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_breaker_transitions_total",
				Help: "Circuit breaker state transitions by target state",
			},
			[]string{"to"},
		),

		Rebalances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "equityrun_rebalances_total",
				Help: "Rebalance dates processed by outcome",
			},
			[]string{"outcome"},
		),

		SolverRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "equityrun_solver_retries_total",
				Help: "Optimizer retries after a failed first attempt",
			},
		),

		SolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "equityrun_solve_duration_seconds",
				Help:    "Posterior build plus optimizer solve duration per rebalance",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "equityrun_run_duration_seconds",
				Help:    "End-to-end backtest run duration",
				Buckets: []float64{0.1, 0.5, 1.0, 5.0, 15.0, 30.0, 60.0, 120.0, 300.0},
			},
		),

		UniverseSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "equityrun_universe_size",
				Help: "Resolved universe size at the latest rebalance",
			},
		),

		GrossExposure: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "equityrun_gross_exposure",
				Help: "Gross equity exposure of the latest booked portfolio",
			},
		),

		PortfolioSharpe: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "equityrun_portfolio_sharpe",
				Help: "Ex-ante Sharpe of the latest booked portfolio",
			},
		),

		registry: prometheus.NewRegistry(),
	}

	r.registry.MustRegister(
		r.ProviderRequests,
		r.ProviderLatency,
		r.CacheHits,
		r.CacheMisses,
		r.BreakerTransitions,
		r.Rebalances,
		r.SolverRetries,
		r.SolveDuration,
		r.RunDuration,
		r.UniverseSize,
		r.GrossExposure,
		r.PortfolioSharpe,
	)

	return r
}

// Handler returns an HTTP handler serving the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gather exposes the underlying registry for tests
func (r *Registry) Gather() prometheus.Gatherer {
	return r.registry
}
