package saga_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
	"github.com/vladislavdragonenkov/oms-saga/internal/metrics"
	"github.com/vladislavdragonenkov/oms-saga/internal/service/inventory"
	"github.com/vladislavdragonenkov/oms-saga/internal/service/payment"
	"github.com/vladislavdragonenkov/oms-saga/internal/service/saga"
	"github.com/vladislavdragonenkov/oms-saga/internal/storage/memory"
)

type fixture struct {
	stock    domain.StockRepository
	ledger   *inventory.Ledger
	orders   domain.OrderRepository
	claims   domain.IdempotencyRepository
	timeline domain.TimelineRepository
	outbox   *memory.OutboxRepository
	spans    *tracetest.SpanRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stock := memory.NewStockRepository()
	return &fixture{
		stock:    stock,
		ledger:   inventory.NewLedger(stock, inventory.WithMetrics(metrics.NewLedgerMetricsWithRegisterer(prometheus.NewRegistry()))),
		orders:   memory.NewOrderRepository(),
		claims:   memory.NewIdempotencyRepository(),
		timeline: memory.NewTimelineRepository(),
		outbox:   memory.NewOutboxRepository(),
		spans:    tracetest.NewSpanRecorder(),
	}
}

func (f *fixture) orchestrator(inv domain.InventoryService, pay domain.PaymentService) saga.Orchestrator {
	return saga.NewOrchestrator(f.orders, inv, pay,
		saga.WithIdempotency(f.claims, time.Minute),
		saga.WithTimeline(f.timeline),
		saga.WithOutbox(f.outbox),
		saga.WithMetrics(metrics.NewSagaMetricsWithRegisterer(prometheus.NewRegistry())),
		saga.WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))),
	)
}

func (f *fixture) seed(t *testing.T, sku string, qty int) {
	t.Helper()
	_, err := f.ledger.Upsert(context.Background(), sku, qty)
	require.NoError(t, err)
}

func (f *fixture) quantity(t *testing.T, sku string) int {
	t.Helper()
	item, err := f.ledger.Get(context.Background(), sku)
	require.NoError(t, err)
	return item.Quantity
}

func (f *fixture) spanNames() []string {
	var names []string
	for _, s := range f.spans.Ended() {
		names = append(names, s.Name())
	}
	return names
}

func request(key string, qty int, amount float64) domain.OrderRequest {
	return domain.OrderRequest{IdempotencyKey: key, SKU: "sku-1", Quantity: qty, Amount: amount, Currency: "USD"}
}

func defaultAuthorizer() *payment.Authorizer {
	return payment.NewAuthorizer(memory.NewPaymentRepository(),
		payment.WithMetrics(metrics.NewPaymentMetricsWithRegisterer(prometheus.NewRegistry())))
}

// countingInventory оборачивает склад и считает вызовы.
type countingInventory struct {
	domain.InventoryService
	reserves   atomic.Int32
	releases   atomic.Int32
	releaseErr error
}

func (c *countingInventory) Reserve(ctx context.Context, sku string, qty int) (domain.ReservationReceipt, error) {
	c.reserves.Add(1)
	return c.InventoryService.Reserve(ctx, sku, qty)
}

func (c *countingInventory) Release(ctx context.Context, id string) (domain.ReleaseReceipt, error) {
	c.releases.Add(1)
	if c.releaseErr != nil {
		return domain.ReleaseReceipt{}, c.releaseErr
	}
	return c.InventoryService.Release(ctx, id)
}

type paymentFunc func(ctx context.Context, ref string, amount float64, currency string) (domain.PaymentDecision, error)

func (f paymentFunc) Authorize(ctx context.Context, ref string, amount float64, currency string) (domain.PaymentDecision, error) {
	return f(ctx, ref, amount, currency)
}

func TestCreateOrder_Confirmed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sku-1", 10)
	inv := &countingInventory{InventoryService: f.ledger}

	order, err := f.orchestrator(inv, defaultAuthorizer()).CreateOrder(context.Background(), request("k1", 3, 100))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, order.Status)
	require.Equal(t, domain.PaymentStatusSucceeded, order.PaymentStatus)
	require.Equal(t, 7, f.quantity(t, "sku-1"))
	require.EqualValues(t, 0, inv.releases.Load())

	stored, err := f.orders.GetByIdempotencyKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, order, stored)

	claim, err := f.claims.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, claim.Status)
	require.Equal(t, order.ID, claim.OrderID)

	events, err := f.timeline.List(context.Background(), order.ID)
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	require.Equal(t, []string{domain.TimelineStockReserved, domain.TimelinePaymentDecided, domain.TimelineOrderConfirmed}, types)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.OutboxEventOrderConfirm, pending[0].EventType)
	var payload saga.OrderEvent
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.Equal(t, order.ID, payload.OrderID)
	require.Equal(t, "CONFIRMED", payload.Status)

	require.Contains(t, f.spanNames(), "saga.CreateOrder")
	require.Contains(t, f.spanNames(), "saga.InventoryReserve")
	require.Contains(t, f.spanNames(), "saga.PaymentAuthorize")
	require.NotContains(t, f.spanNames(), "saga.compensation.ReleaseStock")
}

func TestCreateOrder_PaymentDeniedCompensates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sku-1", 10)
	inv := &countingInventory{InventoryService: f.ledger}

	order, err := f.orchestrator(inv, defaultAuthorizer()).CreateOrder(context.Background(), request("k2", 3, 1500))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFailed, order.Status)
	require.Equal(t, domain.PaymentStatusFailed, order.PaymentStatus)
	require.Equal(t, 10, f.quantity(t, "sku-1"))
	require.EqualValues(t, 1, inv.releases.Load())
	require.Contains(t, f.spanNames(), "saga.compensation.ReleaseStock")

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.OutboxEventOrderFailed, pending[0].EventType)
}

func TestCreateOrder_InsufficientStockPersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sku-1", 2)

	_, err := f.orchestrator(f.ledger, defaultAuthorizer()).CreateOrder(context.Background(), request("k3", 5, 10))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.Equal(t, 2, f.quantity(t, "sku-1"))

	_, err = f.orders.GetByIdempotencyKey(context.Background(), "k3")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.Empty(t, f.outbox.AllPending())

	claim, err := f.claims.Get(context.Background(), "k3")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, claim.Status)
}

func TestCreateOrder_UnknownSKU(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator(f.ledger, defaultAuthorizer()).CreateOrder(context.Background(), request("k4", 1, 10))
	require.ErrorIs(t, err, domain.ErrStockItemNotFound)

	// Повтор после отказа склада разрешён.
	f.seed(t, "sku-1", 1)
	order, err := f.orchestrator(f.ledger, defaultAuthorizer()).CreateOrder(context.Background(), request("k4", 1, 10))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, order.Status)
}

func TestCreateOrder_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sku-1", 10)
	inv := &countingInventory{InventoryService: f.ledger}
	orch := f.orchestrator(inv, defaultAuthorizer())

	first, err := orch.CreateOrder(context.Background(), request("same", 3, 100))
	require.NoError(t, err)
	second, err := orch.CreateOrder(context.Background(), request("same", 3, 100))
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.EqualValues(t, 1, inv.reserves.Load())
	require.Equal(t, 7, f.quantity(t, "sku-1"))
}

func TestCreateOrder_PayloadMismatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sku-1", 10)
	orch := f.orchestrator(f.ledger, defaultAuthorizer())

	_, err := orch.CreateOrder(context.Background(), request("dup", 3, 100))
	require.NoError(t, err)

	_, err = orch.CreateOrder(context.Background(), request("dup", 4, 100))
	require.ErrorIs(t, err, domain.ErrIdempotencyPayloadMismatch)
	require.True(t, domain.IsValidation(err))
	require.Equal(t, 7, f.quantity(t, "sku-1"))
}

func TestCreateOrder_RequestInProgress(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sku-1", 10)
	req := request("busy", 1, 10)

	_, err := f.claims.CreateProcessing(context.Background(), req.IdempotencyKey, req.Hash(), time.Now().Add(time.Minute))
	require.NoError(t, err)

	_, err = f.orchestrator(f.ledger, defaultAuthorizer()).CreateOrder(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrRequestInProgress)
	require.Equal(t, 10, f.quantity(t, "sku-1"))
}

func TestCreateOrder_ConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sku-1", 100)
	inv := &countingInventory{InventoryService: f.ledger}
	orch := f.orchestrator(inv, defaultAuthorizer())

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]struct{}{}
		errs    []error
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := orch.CreateOrder(context.Background(), request("race", 2, 10))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[order.ID] = struct{}{}
			success++
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, domain.ErrRequestInProgress)
	}
	require.GreaterOrEqual(t, success, 1)
	require.Len(t, ids, 1)
	require.EqualValues(t, 1, inv.reserves.Load())
	require.Equal(t, 98, f.quantity(t, "sku-1"))
}

func TestCreateOrder_CompensationFailureSwallowed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sku-1", 10)
	inv := &countingInventory{InventoryService: f.ledger, releaseErr: errors.New("inventory unavailable")}

	order, err := f.orchestrator(inv, defaultAuthorizer()).CreateOrder(context.Background(), request("k5", 3, 5000))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFailed, order.Status)
	require.EqualValues(t, 1, inv.releases.Load(), "compensation is attempted exactly once")
	require.Equal(t, 7, f.quantity(t, "sku-1"), "reservation stays active after failed compensation")

	events, err := f.timeline.List(context.Background(), order.ID)
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	require.Contains(t, types, domain.TimelineCompensationErr)
}

func TestCreateOrder_PaymentTransportErrorFails(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sku-1", 10)
	inv := &countingInventory{InventoryService: f.ledger}
	pay := paymentFunc(func(context.Context, string, float64, string) (domain.PaymentDecision, error) {
		return domain.PaymentDecision{}, errors.New("connection refused")
	})

	order, err := f.orchestrator(inv, pay).CreateOrder(context.Background(), request("k6", 3, 10))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFailed, order.Status)
	require.Equal(t, domain.PaymentStatusFailed, order.PaymentStatus)
	require.EqualValues(t, 1, inv.releases.Load())
	require.Equal(t, 10, f.quantity(t, "sku-1"))
}

func TestCreateOrder_PaymentReceivesReservationID(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sku-1", 10)
	var ref string
	pay := paymentFunc(func(_ context.Context, orderRef string, _ float64, _ string) (domain.PaymentDecision, error) {
		ref = orderRef
		return domain.PaymentDecision{PaymentID: "p-1", Authorized: true}, nil
	})

	_, err := f.orchestrator(f.ledger, pay).CreateOrder(context.Background(), request("k7", 1, 10))
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	_, err = f.ledger.Release(context.Background(), ref)
	require.NoError(t, err, "payment order reference must be the reservation id")
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator(f.ledger, defaultAuthorizer()).CreateOrder(context.Background(), domain.OrderRequest{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	require.ErrorIs(t, err, domain.ErrSKURequired)
	require.True(t, domain.IsValidation(err))
}

func TestCreateOrder_CancelledClientStillCompletes(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sku-1", 10)
	ctx, cancel := context.WithCancel(context.Background())

	pay := paymentFunc(func(ctx context.Context, _ string, _ float64, _ string) (domain.PaymentDecision, error) {
		cancel()
		if err := ctx.Err(); err != nil {
			return domain.PaymentDecision{}, err
		}
		return domain.PaymentDecision{PaymentID: "p-2", Authorized: true}, nil
	})

	order, err := f.orchestrator(f.ledger, pay).CreateOrder(ctx, request("k8", 2, 10))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, order.Status)
	require.Equal(t, 8, f.quantity(t, "sku-1"))
}

func TestCreateOrder_WithoutIdempotencyRepository(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "sku-1", 10)
	orch := saga.NewOrchestrator(f.orders, f.ledger, defaultAuthorizer())

	first, err := orch.CreateOrder(context.Background(), request("plain", 1, 10))
	require.NoError(t, err)
	second, err := orch.CreateOrder(context.Background(), request("plain", 1, 10))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 9, f.quantity(t, "sku-1"))
}
