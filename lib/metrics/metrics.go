// Package metrics holds the prometheus collectors of the verifier. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the verifier collectors.
type Metrics struct {
	runs        *prometheus.CounterVec
	writes      *prometheus.CounterVec
	wait        prometheus.Histogram
	discrepancy *prometheus.GaugeVec
}

// New creates the collectors and registers them in reg. Use prometheus.DefaultRegisterer to serve them with promhttp.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "por_runs_total",
				Help: "Number of verification runs by final state",
			},
			[]string{"state"},
		),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "por_writes_total",
				Help: "Number of ledger writes by operation and result",
			},
			[]string{
				"op",     // commit or alert
				"result", // ok, rejected, timeout
			},
		),
		wait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "por_sequencer_wait_seconds",
				Help:    "Time spent waiting for the transaction sequencer",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
		),
		discrepancy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "por_discrepancy_pct",
				Help: "Last discrepancy percentage evaluated per exchange",
			},
			[]string{"exchange"},
		),
	}

	for _, c := range []prometheus.Collector{m.runs, m.writes, m.wait, m.discrepancy} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Run counts a finished run.
func (m *Metrics) Run(state string) {
	if m == nil {
		return
	}

	m.runs.WithLabelValues(state).Inc()
}

// Write counts a ledger write.
func (m *Metrics) Write(op, result string) {
	if m == nil {
		return
	}

	m.writes.WithLabelValues(op, result).Inc()
}

// Wait observes the time a caller waited to acquire the sequencer.
func (m *Metrics) Wait(d time.Duration) {
	if m == nil {
		return
	}

	m.wait.Observe(d.Seconds())
}

// Discrepancy sets the last evaluated discrepancy of an exchange.
func (m *Metrics) Discrepancy(exchangeID uint64, pct float64) {
	if m == nil {
		return
	}

	m.discrepancy.WithLabelValues(strconv.FormatUint(exchangeID, 10)).Set(pct)
}
