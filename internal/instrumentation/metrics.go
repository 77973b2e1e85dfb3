package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pricedash/internal/models"
)

// Metrics contains all Prometheus metrics for the price dashboard service.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// Ingestion
	TicksIngested   prometheus.Counter
	TicksDiscarded  *prometheus.CounterVec
	TicksSeeded     prometheus.Counter
	StreamLagMs     prometheus.Histogram
	SnapshotSymbols prometheus.Gauge

	// Transport
	ConnectionStatus *prometheus.GaugeVec
	Reconnects       prometheus.Counter

	// Valuation
	ValuationLatencyMs prometheus.Histogram

	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TicksIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "pricedash_ticks_ingested_total",
			Help: "Total number of price ticks accepted into the snapshot",
		}),

		TicksDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricedash_ticks_discarded_total",
			Help: "Total number of tick messages discarded by reason",
		}, []string{"reason"}),

		TicksSeeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "pricedash_ticks_seeded_total",
			Help: "Total number of ticks merged from bulk seeds",
		}),

		// Time between a tick's source event time and its ingestion
		StreamLagMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricedash_stream_lag_ms",
			Help:    "Time between tick event time and ingestion in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2000, 5000},
		}),

		SnapshotSymbols: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pricedash_snapshot_symbols",
			Help: "Number of distinct symbols in the price snapshot",
		}),

		ConnectionStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pricedash_connection_status",
			Help: "Tick channel connection status (1 on the current status)",
		}, []string{"status"}),

		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "pricedash_reconnects_total",
			Help: "Total number of tick channel reconnect attempts",
		}),

		ValuationLatencyMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricedash_valuation_latency_ms",
			Help:    "Time to compute a portfolio valuation in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100},
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pricedash_errors_total",
			Help: "Total number of errors by component and type",
		}, []string{"component", "error_type"}),
	}
}

// RecordTickIngested counts an accepted tick and observes its lag.
func (m *Metrics) RecordTickIngested(lagMs float64) {
	if m == nil {
		return
	}
	m.TicksIngested.Inc()
	if lagMs >= 0 {
		m.StreamLagMs.Observe(lagMs)
	}
}

// RecordTickDiscarded counts a dropped message.
func (m *Metrics) RecordTickDiscarded(reason string) {
	if m == nil {
		return
	}
	m.TicksDiscarded.WithLabelValues(reason).Inc()
}

// RecordSeeded counts ticks merged by a bulk seed.
func (m *Metrics) RecordSeeded(n int) {
	if m == nil {
		return
	}
	m.TicksSeeded.Add(float64(n))
}

// RecordSnapshotSize sets the snapshot symbol gauge.
func (m *Metrics) RecordSnapshotSize(n int) {
	if m == nil {
		return
	}
	m.SnapshotSymbols.Set(float64(n))
}

// RecordStatus sets the status gauge to 1 for status and 0 for every other status.
func (m *Metrics) RecordStatus(status models.ConnectionStatus) {
	if m == nil {
		return
	}
	for _, s := range models.AllStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.ConnectionStatus.WithLabelValues(string(s)).Set(v)
	}
}

// RecordReconnect counts a reconnect attempt.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// RecordValuationLatency records the time to compute a valuation.
func (m *Metrics) RecordValuationLatency(latencyMs float64) {
	if m == nil {
		return
	}
	m.ValuationLatencyMs.Observe(latencyMs)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
