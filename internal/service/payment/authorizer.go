package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
	"github.com/vladislavdragonenkov/oms-saga/internal/metrics"
)

// Authorizer принимает детерминированное решение по платежу и всегда
// сохраняет запись аудита, в том числе при отказе.
type Authorizer struct {
	repo    domain.PaymentRepository
	policy  Policy
	metrics *metrics.PaymentMetrics
	logger  *log.Entry
	now     func() time.Time
	newID   func() string
}

// Option настраивает Authorizer.
type Option func(*Authorizer)

func WithPolicy(policy Policy) Option {
	return func(a *Authorizer) {
		if policy != nil {
			a.policy = policy
		}
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(a *Authorizer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithMetrics(m *metrics.PaymentMetrics) Option {
	return func(a *Authorizer) { a.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthorizer создаёт авторизатор; без WithPolicy используется ThresholdPolicy(DefaultLimit).
func NewAuthorizer(repo domain.PaymentRepository, opts ...Option) *Authorizer {
	a := &Authorizer{
		repo:   repo,
		policy: NewThresholdPolicy(DefaultLimit),
		logger: log.New().WithField("component", "payment"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize решает, авторизовать ли платёж, и сохраняет решение.
// Отказ возвращается обычным результатом с Authorized=false.
func (a *Authorizer) Authorize(ctx context.Context, orderReference string, amount float64, currency string) (domain.PaymentDecision, error) {
	if errs := domain.ValidateAuthorization(orderReference, amount, currency); len(errs) > 0 {
		return domain.PaymentDecision{}, errors.Join(errs...)
	}

	authorized, err := a.policy.Decide(amount, strings.TrimSpace(currency))
	if err != nil {
		return domain.PaymentDecision{}, fmt.Errorf("decide payment: %w", err)
	}

	payment := domain.Payment{
		ID:             a.newID(),
		OrderReference: strings.TrimSpace(orderReference),
		Amount:         amount,
		Currency:       strings.TrimSpace(currency),
		Authorized:     authorized,
		CreatedAt:      a.now(),
	}
	if err := a.repo.Create(ctx, payment); err != nil {
		return domain.PaymentDecision{}, fmt.Errorf("store payment: %w", err)
	}

	a.metrics.RecordDecision(authorized, amount)
	a.logger.WithFields(log.Fields{
		"payment_id":      payment.ID,
		"order_reference": payment.OrderReference,
		"amount":          amount,
		"currency":        payment.Currency,
		"authorized":      authorized,
	}).Info("payment decided")

	return domain.PaymentDecision{PaymentID: payment.ID, Authorized: authorized}, nil
}

// Get возвращает запись аудита платежа.
func (a *Authorizer) Get(ctx context.Context, paymentID string) (domain.Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return domain.Payment{}, domain.ErrPaymentIDRequired
	}
	return a.repo.Get(ctx, paymentID)
}

var _ domain.PaymentService = (*Authorizer)(nil)
