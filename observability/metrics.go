package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records leverage-engine activity: operation counts by
// outcome, operation latency and the last observed leverage ratio.
type EngineMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	leverage   prometheus.Gauge
	shares     prometheus.Gauge
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// DefaultEngineMetrics returns the process-wide engine metrics registered on
// the default prometheus registry.
func DefaultEngineMetrics() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = NewEngineMetrics(prometheus.DefaultRegisterer)
	})
	return engineRegistry
}

// NewEngineMetrics constructs engine metrics registered on the supplied
// registerer. Passing nil skips registration, which is useful in tests.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "levfolio",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total engine operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "levfolio",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		leverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "levfolio",
			Subsystem: "engine",
			Name:      "leverage_ratio",
			Help:      "Last observed leverage ratio, wad-normalised.",
		}),
		shares: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "levfolio",
			Subsystem: "engine",
			Name:      "share_supply",
			Help:      "Current total share supply.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.leverage, m.shares)
	}
	return m
}

// ObserveOperation records one completed operation.
func (m *EngineMetrics) ObserveOperation(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(seconds)
}

// SetLeverageRatio publishes the wad-scaled ratio as a float gauge.
func (m *EngineMetrics) SetLeverageRatio(ratio *big.Int) {
	if m == nil || ratio == nil {
		return
	}
	f, _ := new(big.Rat).SetFrac(ratio, wad).Float64()
	m.leverage.Set(f)
}

// SetShareSupply publishes the share supply as a float gauge.
func (m *EngineMetrics) SetShareSupply(supply *big.Int) {
	if m == nil || supply == nil {
		return
	}
	f, _ := new(big.Float).SetInt(supply).Float64()
	m.shares.Set(f)
}

var wad = big.NewInt(1_000_000_000_000_000_000)
