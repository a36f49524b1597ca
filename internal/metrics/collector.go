// Package metrics aggregates run and data-layer telemetry. The Collector
// keeps an in-memory snapshot for the health endpoint and mirrors every
// observation into the Prometheus registry.
package metrics

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Collector aggregates system metrics for monitoring endpoints
type Collector struct {
	mu         sync.RWMutex
	registry   *Registry
	providers  map[string]*ProviderHealth
	breaker    BreakerState
	cache      CacheStats
	run        RunStats
	lastUpdate time.Time
	logger     zerolog.Logger
}

// ProviderHealth tracks request outcomes for one provider operation
type ProviderHealth struct {
	Op            string    `json:"op"`
	Status        string    `json:"status"` // "healthy", "degraded", "down"
	Requests      int64     `json:"requests"`
	Failures      int64     `json:"failures"`
	LastError     string    `json:"last_error,omitempty"`
	LastCheck     time.Time `json:"last_check"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	totalLatency  time.Duration
	latencySample int64
}

// BreakerState tracks the shared data-layer circuit breaker
type BreakerState struct {
	State       string    `json:"state"` // "closed", "half-open", "open"
	Transitions int64     `json:"transitions"`
	LastChange  time.Time `json:"last_change,omitempty"`
}

// CacheStats tracks cache hit rates by record kind
type CacheStats struct {
	Hits    map[string]int64 `json:"hits"`
	Misses  map[string]int64 `json:"misses"`
	HitRate float64          `json:"hit_rate"` // 0.0 to 1.0
}

// RunStats tracks the latest backtest run
type RunStats struct {
	RebalancesBooked  int64     `json:"rebalances_booked"`
	RebalancesSkipped int64     `json:"rebalances_skipped"`
	SolverRetries     int64     `json:"solver_retries"`
	UniverseSize      int       `json:"universe_size"`
	Regime            string    `json:"regime,omitempty"`
	GrossExposure     float64   `json:"gross_exposure"`
	Sharpe            float64   `json:"sharpe"`
	LastRebalance     time.Time `json:"last_rebalance,omitempty"`
}

// Snapshot is the health-endpoint view of collected metrics
type Snapshot struct {
	Providers  map[string]ProviderHealth `json:"providers"`
	Breaker    BreakerState              `json:"breaker"`
	Cache      CacheStats                `json:"cache"`
	Run        RunStats                  `json:"run"`
	LastUpdate time.Time                 `json:"last_update"`
}

// NewCollector creates a new metrics collector backed by registry
func NewCollector(registry *Registry) *Collector {
	return &Collector{
		registry:   registry,
		providers:  make(map[string]*ProviderHealth),
		breaker:    BreakerState{State: "closed"},
		cache:      CacheStats{Hits: make(map[string]int64), Misses: make(map[string]int64)},
		lastUpdate: time.Now(),
		logger:     log.With().Str("component", "metrics").Logger(),
	}
}

// RecordProviderRequest records one provider call outcome
func (c *Collector) RecordProviderRequest(op string, latency time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.registry.ProviderRequests.WithLabelValues(op, outcome).Inc()
	c.registry.ProviderLatency.WithLabelValues(op).Observe(latency.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.providers[op]
	if !ok {
		h = &ProviderHealth{Op: op}
		c.providers[op] = h
	}
	h.Requests++
	if err != nil {
		h.Failures++
		h.LastError = err.Error()
	}
	h.totalLatency += latency
	h.latencySample++
	h.AvgLatencyMs = float64(h.totalLatency.Milliseconds()) / float64(h.latencySample)
	h.LastCheck = time.Now()
	h.Status = providerStatus(h)
	c.lastUpdate = time.Now()
}

func providerStatus(h *ProviderHealth) string {
	if h.Requests == 0 {
		return "healthy"
	}
	rate := float64(h.Failures) / float64(h.Requests)
	switch {
	case rate >= 0.5:
		return "down"
	case rate >= 0.1:
		return "degraded"
	default:
		return "healthy"
	}
}

// RecordCacheHit records a cache hit for the given record kind
func (c *Collector) RecordCacheHit(kind string) {
	c.registry.CacheHits.WithLabelValues(kind).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Hits[kind]++
	c.refreshHitRate()
}

// RecordCacheMiss records a cache miss for the given record kind
func (c *Collector) RecordCacheMiss(kind string) {
	c.registry.CacheMisses.WithLabelValues(kind).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Misses[kind]++
	c.refreshHitRate()
}

// refreshHitRate recomputes the blended hit rate; callers hold mu.
func (c *Collector) refreshHitRate() {
	var hits, total int64
	for _, n := range c.cache.Hits {
		hits += n
		total += n
	}
	for _, n := range c.cache.Misses {
		total += n
	}
	if total > 0 {
		c.cache.HitRate = float64(hits) / float64(total)
	}
	c.lastUpdate = time.Now()
}

// RecordBreakerTransition records a circuit breaker state change
func (c *Collector) RecordBreakerTransition(to string) {
	c.registry.BreakerTransitions.WithLabelValues(to).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.breaker.State = to
	c.breaker.Transitions++
	c.breaker.LastChange = time.Now()
	c.lastUpdate = time.Now()

	c.logger.Warn().Str("state", to).Msg("Breaker transition recorded")
}

// RecordRebalance records one processed rebalance date
func (c *Collector) RecordRebalance(date time.Time, outcome string) {
	c.registry.Rebalances.WithLabelValues(outcome).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if outcome == "booked" {
		c.run.RebalancesBooked++
	} else {
		c.run.RebalancesSkipped++
	}
	c.run.LastRebalance = date
	c.lastUpdate = time.Now()
}

// RecordSolverRetry records an optimizer retry
func (c *Collector) RecordSolverRetry() {
	c.registry.SolverRetries.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.run.SolverRetries++
	c.lastUpdate = time.Now()
}

// ObserveSolve records the posterior-plus-solve duration for one rebalance
func (c *Collector) ObserveSolve(d time.Duration) {
	c.registry.SolveDuration.Observe(d.Seconds())
}

// ObserveRun records an end-to-end backtest duration
func (c *Collector) ObserveRun(d time.Duration) {
	c.registry.RunDuration.Observe(d.Seconds())
}

// SetUniverseSize records the resolved universe size
func (c *Collector) SetUniverseSize(n int) {
	c.registry.UniverseSize.Set(float64(n))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.run.UniverseSize = n
	c.lastUpdate = time.Now()
}

// SetPortfolio records the latest booked portfolio state
func (c *Collector) SetPortfolio(regime string, gross, sharpe float64) {
	c.registry.GrossExposure.Set(gross)
	c.registry.PortfolioSharpe.Set(sharpe)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.run.Regime = regime
	c.run.GrossExposure = gross
	c.run.Sharpe = sharpe
	c.lastUpdate = time.Now()
}

// GetSnapshot returns a copy of the current metrics state
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	providers := make(map[string]ProviderHealth, len(c.providers))
	for op, h := range c.providers {
		providers[op] = *h
	}
	cache := CacheStats{
		Hits:    make(map[string]int64, len(c.cache.Hits)),
		Misses:  make(map[string]int64, len(c.cache.Misses)),
		HitRate: c.cache.HitRate,
	}
	for k, v := range c.cache.Hits {
		cache.Hits[k] = v
	}
	for k, v := range c.cache.Misses {
		cache.Misses[k] = v
	}

	return Snapshot{
		Providers:  providers,
		Breaker:    c.breaker,
		Cache:      cache,
		Run:        c.run,
		LastUpdate: c.lastUpdate,
	}
}
