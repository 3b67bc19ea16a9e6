package metrics

import "github.com/prometheus/client_golang/prometheus"

// PaymentMetrics: метрики решений по авторизации. Nil-получатель допустим.
type PaymentMetrics struct {
	decisions *prometheus.CounterVec
	amounts   prometheus.Histogram
}

func NewPaymentMetrics() *PaymentMetrics {
	return NewPaymentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewPaymentMetricsWithRegisterer(registerer prometheus.Registerer) *PaymentMetrics {
	return &PaymentMetrics{
		decisions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_payment_decisions_total",
			Help: "Authorization decisions grouped by outcome",
		}, []string{"decision"}),
		amounts: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "oms_payment_amount",
			Help:    "Requested authorization amounts",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 10000},
		}),
	}
}

// RecordDecision учитывает решение и запрошенную сумму.
func (m *PaymentMetrics) RecordDecision(authorized bool, amount float64) {
	if m == nil {
		return
	}
	decision := "denied"
	if authorized {
		decision = "authorized"
	}
	m.decisions.WithLabelValues(decision).Inc()
	m.amounts.Observe(amount)
}
