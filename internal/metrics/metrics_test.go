package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return metric.GetGauge().GetValue()
}

func TestSagaMetrics_Lifecycle(t *testing.T) {
	m := NewSagaMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordSagaStarted()
	if got := gaugeValue(t, m.activeSagas); got != 1 {
		t.Fatalf("expected 1 active saga, got %v", got)
	}

	m.RecordSagaConfirmed()
	m.RecordCompensation("failed")
	m.RecordSagaFinished(10 * time.Millisecond)

	if got := gaugeValue(t, m.activeSagas); got != 0 {
		t.Fatalf("expected 0 active sagas, got %v", got)
	}
	if got := counterValue(t, m.sagaStarted); got != 1 {
		t.Fatalf("expected 1 started saga, got %v", got)
	}
	if got := counterValue(t, m.sagaConfirmed); got != 1 {
		t.Fatalf("expected 1 confirmed saga, got %v", got)
	}
	if got := counterValue(t, m.compensations.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected 1 failed compensation, got %v", got)
	}
}

func TestSagaMetrics_ReRegistrationReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewSagaMetricsWithRegisterer(reg)
	second := NewSagaMetricsWithRegisterer(reg)

	first.RecordSagaAborted()
	if got := counterValue(t, second.sagaAborted); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var saga *SagaMetrics
	var ledger *LedgerMetrics
	var payment *PaymentMetrics

	saga.RecordSagaStarted()
	saga.RecordStepDuration("reserve", time.Millisecond)
	ledger.RecordReservation("reserved")
	payment.RecordDecision(true, 10)
}

func TestLedgerAndPaymentMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ledger := NewLedgerMetricsWithRegisterer(reg)
	payment := NewPaymentMetricsWithRegisterer(reg)

	ledger.RecordReservation("insufficient_stock")
	ledger.RecordRelease("released")
	ledger.RecordLeaseDuration("reserve", time.Millisecond)
	payment.RecordDecision(false, 1500)

	if got := counterValue(t, ledger.reservations.WithLabelValues("insufficient_stock")); got != 1 {
		t.Fatalf("unexpected reservations counter: %v", got)
	}
	if got := counterValue(t, payment.decisions.WithLabelValues("denied")); got != 1 {
		t.Fatalf("unexpected decisions counter: %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
}

func TestWorkerMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	outbox := NewOutboxMetricsWithRegisterer(registry)
	cleanup := NewCleanupMetricsWithRegisterer(registry)

	outbox.RecordPublish("sent")
	outbox.RecordBacklog(3, -time.Second)
	if got := counterValue(t, outbox.publishAttempts.WithLabelValues("sent")); got != 1 {
		t.Fatalf("expected 1 sent attempt, got %v", got)
	}
	if got := gaugeValue(t, outbox.pendingRecords); got != 3 {
		t.Fatalf("expected 3 pending records, got %v", got)
	}
	if got := gaugeValue(t, outbox.oldestPendingAge); got != 0 {
		t.Fatalf("negative age must be clamped, got %v", got)
	}

	cleanup.RecordDeleted(4)
	cleanup.RecordRun("ok", 4)
	cleanup.RecordRun("error", 0)
	if got := counterValue(t, cleanup.deletedTotal); got != 4 {
		t.Fatalf("expected 4 deleted, got %v", got)
	}
	if got := gaugeValue(t, cleanup.lastDeleted); got != 4 {
		t.Fatalf("error run must not reset last deleted, got %v", got)
	}

	var nilOutbox *OutboxMetrics
	nilOutbox.RecordPublish("sent")
	var nilCleanup *CleanupMetrics
	nilCleanup.RecordRun("ok", 1)
}
