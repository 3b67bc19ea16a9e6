package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics: метрики складского реестра. Nil-получатель допустим.
type LedgerMetrics struct {
	reservations  *prometheus.CounterVec
	releases      *prometheus.CounterVec
	leaseDuration *prometheus.HistogramVec
}

// NewLedgerMetrics создаёт метрики склада в DefaultRegisterer.
func NewLedgerMetrics() *LedgerMetrics {
	return NewLedgerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLedgerMetricsWithRegisterer создаёт метрики склада в заданном registerer.
func NewLedgerMetricsWithRegisterer(registerer prometheus.Registerer) *LedgerMetrics {
	return &LedgerMetrics{
		reservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_inventory_reservations_total",
			Help: "Reserve calls grouped by result",
		}, []string{"result"}),
		releases: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_inventory_releases_total",
			Help: "Release calls grouped by result",
		}, []string{"result"}),
		leaseDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "oms_inventory_lease_duration_seconds",
			Help:    "Time spent inside row leases, including lock wait",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),
	}
}

func (m *LedgerMetrics) RecordReservation(result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(result).Inc()
}

func (m *LedgerMetrics) RecordRelease(result string) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(result).Inc()
}

func (m *LedgerMetrics) RecordLeaseDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.leaseDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
