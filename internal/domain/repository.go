package domain

import (
	"context"
	"time"
)

// StockRepository описывает хранилище складских позиций и резервов.
type StockRepository interface {
	// Upsert создаёт позицию или заменяет доступный остаток (абсолютное значение).
	Upsert(ctx context.Context, sku string, quantity int, now time.Time) (StockItem, error)
	// Get возвращает позицию или ErrStockItemNotFound.
	Get(ctx context.Context, sku string) (StockItem, error)
	// List возвращает все позиции; согласованность снимка не гарантируется.
	List(ctx context.Context) ([]StockItem, error)
	// WithLease выполняет fn внутри транзакции с эксклюзивными блокировками строк.
	// Блокировки снимаются при commit или rollback на любом пути выхода.
	// Если fn вернул ошибку, изменения откатываются.
	WithLease(ctx context.Context, fn func(lease StockLease) error) error
}

// StockLease: операции, доступные внутри WithLease.
// Lock* захватывает строку до конца транзакции и возвращает её актуальное состояние.
type StockLease interface {
	LockItem(ctx context.Context, sku string) (StockItem, error)
	LockReservation(ctx context.Context, id string) (Reservation, error)
	SaveItem(ctx context.Context, item StockItem) error
	CreateReservation(ctx context.Context, reservation Reservation) error
	DeactivateReservation(ctx context.Context, id string, releasedAt time.Time) error
}

// PaymentRepository хранит записи аудита платежей.
type PaymentRepository interface {
	Create(ctx context.Context, payment Payment) error
	Get(ctx context.Context, id string) (Payment, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. ErrOrderAlreadyExists, если idempotency_key занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetByIdempotencyKey возвращает заказ по ключу или ErrOrderNotFound.
	GetByIdempotencyKey(ctx context.Context, key string) (Order, error)
	// List возвращает все заказы в порядке создания.
	List(ctx context.Context) ([]Order, error)
}
