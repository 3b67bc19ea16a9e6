package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
	"github.com/vladislavdragonenkov/oms-saga/internal/health"
)

// Dependencies содержит хранилища процесса. Поля ролей, которые процесс не обслуживает, равны nil.
type Dependencies struct {
	Stock       domain.StockRepository
	Payments    domain.PaymentRepository
	Orders      domain.OrderRepository
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository

	// NativeTTL означает, что backend идемпотентности сам удаляет просроченные ключи.
	NativeTTL bool

	Checkers map[string]health.Checker
	Logger   *log.Entry

	closers []func() error
}

func (d *Dependencies) addChecker(name string, check func(ctx context.Context) error) {
	if d.Checkers == nil {
		d.Checkers = make(map[string]health.Checker)
	}
	d.Checkers[name] = health.NewFuncChecker(name, check)
}

func (d *Dependencies) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// Close освобождает соединения в обратном порядке открытия.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
