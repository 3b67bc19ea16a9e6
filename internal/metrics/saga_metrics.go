package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики саги CreateOrder. Nil-получатель допустим.
type SagaMetrics struct {
	sagaStarted      prometheus.Counter
	sagaConfirmed    prometheus.Counter
	sagaFailed       prometheus.Counter
	sagaAborted      prometheus.Counter
	sagaDeduplicated prometheus.Counter
	compensations    *prometheus.CounterVec

	sagaDuration prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	activeSagas prometheus.Gauge
}

// NewSagaMetrics создаёт метрики саги в DefaultRegisterer.
func NewSagaMetrics() *SagaMetrics {
	return NewSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSagaMetricsWithRegisterer создаёт метрики саги в заданном registerer.
func NewSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	return &SagaMetrics{
		sagaStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_saga_started_total",
			Help: "Total number of CreateOrder sagas started",
		}),
		sagaConfirmed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_saga_confirmed_total",
			Help: "Total number of sagas that persisted a CONFIRMED order",
		}),
		sagaFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_saga_failed_total",
			Help: "Total number of sagas that persisted a FAILED order",
		}),
		sagaAborted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_saga_aborted_total",
			Help: "Total number of sagas aborted before an order was persisted",
		}),
		sagaDeduplicated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_saga_deduplicated_total",
			Help: "Total number of CreateOrder calls answered from an existing order",
		}),
		compensations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_saga_compensations_total",
			Help: "Compensating releases grouped by result",
		}, []string{"result"}),
		sagaDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "oms_saga_duration_seconds",
			Help:    "Duration of saga operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "oms_saga_step_duration_seconds",
			Help:    "Duration of individual saga steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		activeSagas: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_active_sagas",
			Help: "Number of currently active saga operations",
		}),
	}
}

// RecordSagaStarted увеличивает счётчик запущенных саг и число активных.
func (m *SagaMetrics) RecordSagaStarted() {
	if m == nil {
		return
	}
	m.sagaStarted.Inc()
	m.activeSagas.Inc()
}

// RecordSagaFinished уменьшает число активных саг и пишет длительность.
func (m *SagaMetrics) RecordSagaFinished(duration time.Duration) {
	if m == nil {
		return
	}
	m.activeSagas.Dec()
	m.sagaDuration.Observe(duration.Seconds())
}

func (m *SagaMetrics) RecordSagaConfirmed() {
	if m == nil {
		return
	}
	m.sagaConfirmed.Inc()
}

func (m *SagaMetrics) RecordSagaFailed() {
	if m == nil {
		return
	}
	m.sagaFailed.Inc()
}

func (m *SagaMetrics) RecordSagaAborted() {
	if m == nil {
		return
	}
	m.sagaAborted.Inc()
}

func (m *SagaMetrics) RecordSagaDeduplicated() {
	if m == nil {
		return
	}
	m.sagaDeduplicated.Inc()
}

// RecordCompensation учитывает компенсирующий release ("released" или "failed").
func (m *SagaMetrics) RecordCompensation(result string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(result).Inc()
}

// RecordStepDuration записывает время выполнения шага саги.
func (m *SagaMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

func (m *SagaMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

func (m *SagaMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
