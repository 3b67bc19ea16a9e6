package domain

import "time"

// Reservation описывает удержание остатка под ещё не завершённую сагу.
// Active переходит из true в false ровно один раз и обратно не возвращается.
type Reservation struct {
	ID         string
	SKU        string
	Quantity   int
	Active     bool
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// Validate проверяет, корректно ли заполнены ключевые поля резервирования.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.ID == "" {
		errs = append(errs, ErrReservationIDRequired)
	}
	if NormalizeSKU(r.SKU) == "" {
		errs = append(errs, ErrSKURequired)
	}
	if r.Quantity <= 0 {
		errs = append(errs, ErrQuantityInvalid)
	}

	return errs
}

// ReservationReceipt: результат успешного резерва.
type ReservationReceipt struct {
	ReservationID     string
	SKU               string
	Quantity          int
	RemainingQuantity int
}

// ReleaseReceipt: результат успешного снятия резерва.
type ReleaseReceipt struct {
	ReservationID string
	SKU           string
}
