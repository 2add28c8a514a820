// Package metrics instruments analysis runs with Prometheus collectors.
package metrics

import (
	"time"

	"bank-fee-auditor/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
)

// Metrics holds the collectors of the auditor
type Metrics struct {
	// Registry owns every collector below; it is private so that several
	// instances can coexist, e.g. in tests
	Registry *prometheus.Registry

	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	detectorDuration  *prometheus.HistogramVec
	detectorPanics    *prometheus.CounterVec
	anomaliesTotal    *prometheus.CounterVec
	transactionsTotal prometheus.Counter
	rejectedRecords   *prometheus.CounterVec
	enrichmentTotal   *prometheus.CounterVec
	potentialRecovery prometheus.Gauge
}

// New creates a registry and registers every collector in it
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditor_runs_total",
				Help: "Analysis runs by final status.",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "auditor_run_duration_seconds",
				Help:    "Duration of complete analysis runs.",
				Buckets: prometheus.DefBuckets,
			},
		),
		detectorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auditor_detector_duration_seconds",
				Help:    "Duration of a single detector run.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"detector"},
		),
		detectorPanics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditor_detector_panics_total",
				Help: "Detector runs aborted by a panic.",
			},
			[]string{"detector"},
		),
		anomaliesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditor_anomalies_total",
				Help: "Anomalies detected by type and severity.",
			},
			[]string{"type", "severity"},
		),
		transactionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "auditor_transactions_analyzed_total",
				Help: "Transactions that went through the detectors.",
			},
		),
		rejectedRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditor_rejected_records_total",
				Help: "Input records dropped by validation.",
			},
			[]string{"kind"},
		),
		enrichmentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditor_enrichment_requests_total",
				Help: "Commentary requests by outcome.",
			},
			[]string{"outcome"},
		),
		potentialRecovery: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "auditor_potential_recovery",
				Help: "Potential recovery amount of the last completed run.",
			},
		),
	}
}

// RecordRun records the outcome of an analysis run
func (m *Metrics) RecordRun(status string, d time.Duration) {
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

// RecordDetector records the duration of a detector run
func (m *Metrics) RecordDetector(detector string, d time.Duration) {
	m.detectorDuration.WithLabelValues(detector).Observe(d.Seconds())
}

// IncrDetectorPanic counts a detector run aborted by a panic
func (m *Metrics) IncrDetectorPanic(detector string) {
	m.detectorPanics.WithLabelValues(detector).Inc()
}

// RecordAnomalies counts anomalies by type and severity
func (m *Metrics) RecordAnomalies(anomalies []*models.Anomaly) {
	for _, a := range anomalies {
		m.anomaliesTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	}
}

// AddTransactions counts analysed transactions
func (m *Metrics) AddTransactions(n int) {
	m.transactionsTotal.Add(float64(n))
}

// AddRejected counts input records of a kind dropped by validation
func (m *Metrics) AddRejected(kind string, n int) {
	if n > 0 {
		m.rejectedRecords.WithLabelValues(kind).Add(float64(n))
	}
}

// IncrEnrichment counts a commentary request with its outcome
func (m *Metrics) IncrEnrichment(outcome string) {
	m.enrichmentTotal.WithLabelValues(outcome).Inc()
}

// SetPotentialRecovery sets the potential recovery gauge
func (m *Metrics) SetPotentialRecovery(amount decimal.Decimal) {
	f, _ := amount.Float64()
	m.potentialRecovery.Set(f)
}

// AnomalyCount returns the number of anomalies recorded for a type and severity
func (m *Metrics) AnomalyCount(anomalyType models.AnomalyType, severity models.Severity) float64 {
	return counterValue(m.anomaliesTotal.WithLabelValues(string(anomalyType), string(severity)))
}

// RunCount returns the number of runs recorded with status
func (m *Metrics) RunCount(status string) float64 {
	return counterValue(m.runsTotal.WithLabelValues(status))
}

// WriteTextfile writes every collector to path in the text exposition
// format, for node_exporter's textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

func counterValue(c prometheus.Counter) float64 {
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		return 0
	}
	return metric.GetCounter().GetValue()
}
