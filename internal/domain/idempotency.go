package domain

import "time"

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что сага по ключу ещё выполняется.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что заказ сохранён и OrderID заполнен.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что сага прервана до сохранения заказа.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord: заявка на ключ идемпотентности CreateOrder.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	OrderID     string
	Status      IdempotencyStatus
	TTLAt       time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Reclaimable сообщает, может ли новый запрос перехватить заявку.
// Проваленные и просроченные заявки не защищают ключ.
func (r IdempotencyRecord) Reclaimable(now time.Time) bool {
	if r.Status == IdempotencyStatusFailed {
		return true
	}
	return !r.TTLAt.After(now)
}
