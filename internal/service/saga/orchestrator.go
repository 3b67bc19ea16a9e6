package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
	"github.com/vladislavdragonenkov/oms-saga/internal/metrics"
)

const (
	tracerName = "github.com/vladislavdragonenkov/oms-saga/internal/service/saga"

	defaultClaimTTL            = 5 * time.Minute
	defaultCompensationTimeout = 5 * time.Second
)

// Orchestrator описывает интерфейс управления сагой CreateOrder.
type Orchestrator interface {
	// CreateOrder проводит сагу reserve → authorize → (release) → persist.
	// Отказ склада возвращается ошибкой без сохранения заказа; отказ в оплате
	// даёт сохранённый FAILED-заказ и nil-ошибку.
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
}

// orchestrator реализует последовательность шагов саги.
type orchestrator struct {
	orders    domain.OrderRepository
	claims    domain.IdempotencyRepository
	timeline  domain.TimelineRepository
	outbox    domain.OutboxRepository
	inventory domain.InventoryService
	payments  domain.PaymentService

	logger  *log.Entry
	metrics *metrics.SagaMetrics
	tracer  trace.Tracer

	claimTTL            time.Duration
	compensationTimeout time.Duration
	now                 func() time.Time
	newID               func() string
}

// Option настраивает оркестратор.
type Option func(*orchestrator)

func WithLogger(logger *log.Entry) Option {
	return func(o *orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(o *orchestrator) { o.metrics = m }
}

// WithIdempotency включает атомарный захват ключа перед запуском саги.
func WithIdempotency(claims domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(o *orchestrator) {
		o.claims = claims
		if ttl > 0 {
			o.claimTTL = ttl
		}
	}
}

func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(o *orchestrator) { o.timeline = timeline }
}

func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(o *orchestrator) { o.outbox = outbox }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithCompensationTimeout ограничивает время компенсирующего release.
func WithCompensationTimeout(timeout time.Duration) Option {
	return func(o *orchestrator) {
		if timeout > 0 {
			o.compensationTimeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(o *orchestrator) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(
	orders domain.OrderRepository,
	inventory domain.InventoryService,
	payments domain.PaymentService,
	opts ...Option,
) Orchestrator {
	o := &orchestrator{
		orders:              orders,
		inventory:           inventory,
		payments:            payments,
		logger:              log.New().WithField("component", "saga"),
		tracer:              otel.Tracer(tracerName),
		claimTTL:            defaultClaimTTL,
		compensationTimeout: defaultCompensationTimeout,
		now:                 func() time.Time { return time.Now().UTC() },
		newID:               uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *orchestrator) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	req = req.Normalize()
	if errs := req.Validate(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	ctx, span := o.tracer.Start(ctx, "saga.CreateOrder", trace.WithAttributes(
		attribute.String("idempotency_key", req.IdempotencyKey),
		attribute.String("sku", req.SKU),
		attribute.Int("quantity", req.Quantity),
	))
	defer span.End()

	logger := o.logger.WithFields(log.Fields{
		"idempotency_key": req.IdempotencyKey,
		"sku":             req.SKU,
	})
	if sc := span.SpanContext(); sc.HasTraceID() {
		logger = logger.WithField("trace_id", sc.TraceID().String())
	}

	if existing, found, err := o.findExisting(ctx, req); err != nil || found {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dedup lookup failed")
		} else {
			span.AddEvent("deduplicated")
			logger.WithField("order_id", existing.ID).Debug("order already exists for idempotency key")
		}
		return existing, err
	}

	if existing, found, err := o.claim(ctx, req); err != nil || found {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "idempotency claim rejected")
		}
		return existing, err
	}

	// После захвата ключа сага не прерывается отменой клиента: иначе резерв
	// может остаться без заказа. Вызовы наружу ограничены таймаутами клиентов.
	sagaCtx := context.WithoutCancel(ctx)

	started := time.Now()
	o.metrics.RecordSagaStarted()
	defer func() { o.metrics.RecordSagaFinished(time.Since(started)) }()

	order, err := o.execute(sagaCtx, req, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Order{}, err
	}
	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("order_status", string(order.Status)),
	)
	return order, nil
}

// findExisting: основная проверка идемпотентности: заказ по ключу уже сохранён.
func (o *orchestrator) findExisting(ctx context.Context, req domain.OrderRequest) (domain.Order, bool, error) {
	existing, err := o.orders.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("lookup order by idempotency key: %w", err)
	}
	if !existing.Matches(req) {
		return domain.Order{}, false, domain.ErrIdempotencyPayloadMismatch
	}
	o.metrics.RecordSagaDeduplicated()
	return existing, true, nil
}

// claim атомарно занимает ключ, закрывая гонку двух одновременных запросов.
func (o *orchestrator) claim(ctx context.Context, req domain.OrderRequest) (domain.Order, bool, error) {
	if o.claims == nil {
		return domain.Order{}, false, nil
	}

	record, err := o.claims.CreateProcessing(ctx, req.IdempotencyKey, req.Hash(), o.now().Add(o.claimTTL))
	switch {
	case err == nil:
		return domain.Order{}, false, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return domain.Order{}, false, domain.ErrIdempotencyPayloadMismatch
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Status != domain.IdempotencyStatusDone || record.OrderID == "" {
			return domain.Order{}, false, domain.ErrRequestInProgress
		}
		existing, getErr := o.orders.Get(ctx, record.OrderID)
		if getErr != nil {
			return domain.Order{}, false, fmt.Errorf("load deduplicated order: %w", getErr)
		}
		o.metrics.RecordSagaDeduplicated()
		return existing, true, nil
	default:
		return domain.Order{}, false, fmt.Errorf("claim idempotency key: %w", err)
	}
}

func (o *orchestrator) execute(ctx context.Context, req domain.OrderRequest, logger *log.Entry) (domain.Order, error) {
	saga := newRun(o.now)

	receipt, err := o.reserve(ctx, req)
	if err != nil {
		logger.WithError(err).Info("reservation failed, saga aborted without order")
		o.metrics.RecordSagaAborted()
		o.releaseClaim(ctx, req.IdempotencyKey, logger)
		if advanceErr := saga.advance(domain.SagaStateTerminal, "", ""); advanceErr != nil {
			return domain.Order{}, errors.Join(err, advanceErr)
		}
		return domain.Order{}, err
	}
	logger = logger.WithField("reservation_id", receipt.ReservationID)
	if err := saga.advance(domain.SagaStateStockReserved, domain.TimelineStockReserved, receipt.ReservationID); err != nil {
		return domain.Order{}, err
	}

	decision, authErr := o.authorize(ctx, receipt.ReservationID, req)
	reason := "authorized"
	switch {
	case authErr != nil:
		reason = authErr.Error()
		logger.WithError(authErr).Warn("payment authorization call failed")
	case !decision.Authorized:
		reason = "denied"
	}
	if err := saga.advance(domain.SagaStatePaymentDecided, domain.TimelinePaymentDecided, reason); err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:             o.newID(),
		IdempotencyKey: req.IdempotencyKey,
		SKU:            req.SKU,
		Quantity:       req.Quantity,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         domain.OrderStatusConfirmed,
		PaymentStatus:  domain.PaymentStatusSucceeded,
	}

	compensated := false
	if authErr != nil || !decision.Authorized {
		order.Status = domain.OrderStatusFailed
		order.PaymentStatus = domain.PaymentStatusFailed

		eventType, compensationReason := domain.TimelineCompensated, ""
		if err := o.compensate(ctx, receipt.ReservationID, logger); err != nil {
			eventType, compensationReason = domain.TimelineCompensationErr, err.Error()
		}
		compensated = true
		if err := saga.advance(domain.SagaStateCompensated, eventType, compensationReason); err != nil {
			return domain.Order{}, err
		}
	}

	terminalEvent := domain.TimelineOrderConfirmed
	if order.Status == domain.OrderStatusFailed {
		terminalEvent = domain.TimelineOrderFailed
	}
	if err := saga.advance(domain.SagaStateTerminal, terminalEvent, ""); err != nil {
		return domain.Order{}, err
	}
	order.CreatedAt = o.now()

	stored, err := o.persist(ctx, order, req, logger)
	if err != nil {
		if !compensated {
			_ = o.compensate(ctx, receipt.ReservationID, logger)
		}
		o.releaseClaim(ctx, req.IdempotencyKey, logger)
		return domain.Order{}, err
	}
	if stored.ID != order.ID {
		// Заказ по ключу сохранил параллельный запрос: наш резерв лишний.
		if !compensated {
			_ = o.compensate(ctx, receipt.ReservationID, logger)
		}
		o.metrics.RecordSagaDeduplicated()
		return stored, nil
	}

	o.finish(ctx, order, receipt, decision, saga.events, logger)
	return order, nil
}

func (o *orchestrator) reserve(ctx context.Context, req domain.OrderRequest) (domain.ReservationReceipt, error) {
	ctx, span := o.tracer.Start(ctx, "saga.InventoryReserve")
	defer span.End()
	defer o.observeStep(domain.SagaStepReserve, time.Now())

	receipt, err := o.inventory.Reserve(ctx, req.SKU, req.Quantity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inventory reservation failed")
		return domain.ReservationReceipt{}, err
	}
	span.SetAttributes(attribute.String("reservation_id", receipt.ReservationID))
	return receipt, nil
}

func (o *orchestrator) authorize(ctx context.Context, reservationID string, req domain.OrderRequest) (domain.PaymentDecision, error) {
	ctx, span := o.tracer.Start(ctx, "saga.PaymentAuthorize")
	defer span.End()
	defer o.observeStep(domain.SagaStepAuthorize, time.Now())

	decision, err := o.payments.Authorize(ctx, reservationID, req.Amount, req.Currency)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment authorization failed")
		return domain.PaymentDecision{}, err
	}
	span.SetAttributes(attribute.Bool("authorized", decision.Authorized))
	return decision, nil
}

// compensate снимает резерв ровно одной попыткой. Ошибка логируется и
// возвращается только для таймлайна: на статус заказа она не влияет.
func (o *orchestrator) compensate(ctx context.Context, reservationID string, logger *log.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, o.compensationTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "saga.compensation.ReleaseStock")
	defer span.End()
	defer o.observeStep(domain.SagaStepRelease, time.Now())

	if _, err := o.inventory.Release(ctx, reservationID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compensation failed")
		o.metrics.RecordCompensation("failed")
		logger.WithError(err).Warn("compensating release failed, reservation left active")
		return err
	}
	o.metrics.RecordCompensation("released")
	logger.Info("reservation released by compensation")
	return nil
}

// persist сохраняет заказ. Если ключ уже занят, возвращает сохранённый ранее заказ.
func (o *orchestrator) persist(ctx context.Context, order domain.Order, req domain.OrderRequest, logger *log.Entry) (domain.Order, error) {
	defer o.observeStep(domain.SagaStepPersist, time.Now())

	err := o.orders.Create(ctx, order)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, domain.ErrOrderAlreadyExists) {
		logger.WithError(err).Error("failed to persist order")
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}

	existing, getErr := o.orders.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if getErr != nil {
		return domain.Order{}, fmt.Errorf("load concurrently stored order: %w", getErr)
	}
	if !existing.Matches(req) {
		return domain.Order{}, domain.ErrIdempotencyPayloadMismatch
	}
	logger.WithField("order_id", existing.ID).Warn("order for idempotency key stored concurrently")
	return existing, nil
}

// finish выполняет учёт после сохранения заказа; ошибки не влияют на ответ клиенту.
func (o *orchestrator) finish(
	ctx context.Context,
	order domain.Order,
	receipt domain.ReservationReceipt,
	decision domain.PaymentDecision,
	events []domain.TimelineEvent,
	logger *log.Entry,
) {
	logger = logger.WithFields(log.Fields{"order_id": order.ID, "status": order.Status})

	if o.claims != nil {
		if err := o.claims.MarkDone(ctx, order.IdempotencyKey, order.ID); err != nil {
			logger.WithError(err).Warn("failed to mark idempotency claim as done")
		}
	}

	if o.timeline != nil {
		for _, event := range events {
			event.OrderID = order.ID
			if err := o.timeline.Append(ctx, event); err != nil {
				logger.WithError(err).WithField("event", event.Type).Warn("append timeline event failed")
				continue
			}
			o.metrics.RecordTimelineEvent()
		}
	}

	if o.outbox != nil {
		o.enqueueOrderEvent(ctx, order, receipt, decision, logger)
	}

	if order.Status == domain.OrderStatusConfirmed {
		o.metrics.RecordSagaConfirmed()
		logger.Info("saga completed: order confirmed")
	} else {
		o.metrics.RecordSagaFailed()
		logger.Info("saga completed: order failed")
	}
}

// OrderEvent: полезная нагрузка событий order.confirmed / order.failed.
type OrderEvent struct {
	OrderID        string  `json:"order_id"`
	IdempotencyKey string  `json:"idempotency_key"`
	SKU            string  `json:"sku"`
	Quantity       int     `json:"quantity"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Status         string  `json:"status"`
	PaymentStatus  string  `json:"payment_status"`
	ReservationID  string  `json:"reservation_id"`
	PaymentID      string  `json:"payment_id,omitempty"`
	OccurredAt     string  `json:"occurred_at"`
}

func (o *orchestrator) enqueueOrderEvent(
	ctx context.Context,
	order domain.Order,
	receipt domain.ReservationReceipt,
	decision domain.PaymentDecision,
	logger *log.Entry,
) {
	eventType := domain.OutboxEventOrderConfirm
	if order.Status == domain.OrderStatusFailed {
		eventType = domain.OutboxEventOrderFailed
	}

	payload, err := json.Marshal(OrderEvent{
		OrderID:        order.ID,
		IdempotencyKey: order.IdempotencyKey,
		SKU:            order.SKU,
		Quantity:       order.Quantity,
		Amount:         order.Amount,
		Currency:       order.Currency,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		ReservationID:  receipt.ReservationID,
		PaymentID:      decision.PaymentID,
		OccurredAt:     order.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		logger.WithError(err).Error("marshal order event failed")
		return
	}

	if _, err := o.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.OutboxAggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		logger.WithError(err).WithField("event", eventType).Error("enqueue order event failed")
		return
	}
	o.metrics.RecordOutboxEvent()
}

func (o *orchestrator) releaseClaim(ctx context.Context, key string, logger *log.Entry) {
	if o.claims == nil {
		return
	}
	if err := o.claims.MarkFailed(ctx, key); err != nil {
		logger.WithError(err).Warn("failed to mark idempotency claim as failed")
	}
}

func (o *orchestrator) observeStep(step domain.SagaStep, started time.Time) {
	o.metrics.RecordStepDuration(string(step), time.Since(started))
}

var _ Orchestrator = (*orchestrator)(nil)
