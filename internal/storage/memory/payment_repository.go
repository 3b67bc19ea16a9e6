package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
)

type paymentRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Payment
}

// NewPaymentRepository создаёт in-memory журнал платежей.
func NewPaymentRepository() domain.PaymentRepository {
	return &paymentRepositoryInMemory{items: make(map[string]domain.Payment)}
}

func (r *paymentRepositoryInMemory) Create(_ context.Context, payment domain.Payment) error {
	if payment.ID == "" {
		return domain.ErrPaymentIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Записи аудита неизменяемы: повторная вставка того же ID игнорируется.
	if _, exists := r.items[payment.ID]; exists {
		return nil
	}
	r.items[payment.ID] = payment
	return nil
}

func (r *paymentRepositoryInMemory) Get(_ context.Context, id string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.items[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
