package domain

import (
	"context"
	"time"
)

// InventoryService описывает взаимодействие оркестратора со складом.
type InventoryService interface {
	// Reserve резервирует quantity единиц SKU.
	Reserve(ctx context.Context, sku string, quantity int) (ReservationReceipt, error)
	// Release снимает резерв (компенсация).
	Release(ctx context.Context, reservationID string) (ReleaseReceipt, error)
}

// PaymentService описывает взаимодействие оркестратора с платёжным сервисом.
// Отказ в авторизации приходит ответом с Authorized=false, а не ошибкой.
type PaymentService interface {
	Authorize(ctx context.Context, orderReference string, amount float64, currency string) (PaymentDecision, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит заявки на ключи идемпотентности.
type IdempotencyRepository interface {
	// CreateProcessing атомарно занимает ключ. Свободный, проваленный или просроченный
	// ключ переходит в processing. Для занятого ключа возвращается существующая запись
	// вместе с ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key, orderID string) error
	MarkFailed(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
