package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the card service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	transfersTotal    *prometheus.CounterVec
	ledgerRejections  *prometheus.CounterVec
	sweepProcessed    prometheus.Counter
	sweepFailures     prometheus.Counter
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
}

// TransferStats is a read-back snapshot of transfer counters for the
// admin stats endpoint.
type TransferStats struct {
	Succeeded   float64 `json:"succeeded"`
	Failed      float64 `json:"failed"`
	SweptCards  float64 `json:"swept_cards"`
	SweepErrors float64 `json:"sweep_errors"`
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cardvault_operation_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardvault_transfers_total",
				Help: "Total transfer attempts by outcome.",
			},
			[]string{"status"},
		),
		ledgerRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardvault_ledger_rejections_total",
				Help: "Ledger operations rejected by business rules.",
			},
			[]string{"reason"},
		),
		sweepProcessed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cardvault_sweep_expired_cards_total",
				Help: "Cards transitioned to EXPIRED by the lifecycle sweep.",
			},
		),
		sweepFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cardvault_sweep_failures_total",
				Help: "Per-card failures during the lifecycle sweep.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardvault_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardvault_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordOperationDuration records the duration of a service operation.
func (m *Metrics) RecordOperationDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrTransfer counts a transfer attempt by outcome ("success"/"failed").
func (m *Metrics) IncrTransfer(status string) {
	m.transfersTotal.WithLabelValues(status).Inc()
}

// IncrLedgerRejection counts a business-rule rejection by reason.
func (m *Metrics) IncrLedgerRejection(reason string) {
	m.ledgerRejections.WithLabelValues(reason).Inc()
}

// AddSweepProcessed adds the number of cards expired by one sweep run.
func (m *Metrics) AddSweepProcessed(n int) {
	m.sweepProcessed.Add(float64(n))
}

// AddSweepFailures adds the number of per-card failures of one sweep run.
func (m *Metrics) AddSweepFailures(n int) {
	m.sweepFailures.Add(float64(n))
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// GetTransferStats returns a snapshot of transfer and sweep counters for
// the GET /v1/admin/stats endpoint.
func (m *Metrics) GetTransferStats() *TransferStats {
	return &TransferStats{
		Succeeded:   getCounterValue(m.transfersTotal.WithLabelValues("success")),
		Failed:      getCounterValue(m.transfersTotal.WithLabelValues("failed")),
		SweptCards:  getCounterValue(m.sweepProcessed),
		SweepErrors: getCounterValue(m.sweepFailures),
	}
}

// getCounterValue extracts the current float64 value from a counter.
func getCounterValue(c prometheus.Counter) float64 {
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		return 0
	}
	if metric.Counter != nil && metric.Counter.Value != nil {
		return *metric.Counter.Value
	}
	return 0
}
