package domain

import "errors"

var (
	// ErrValidation: общая ошибка валидации, когда точная причина известна только удалённой стороне.
	ErrValidation = errors.New("validation failed")

	// Ошибки валидации входных данных.
	ErrSKURequired            = errors.New("sku is required")
	ErrQuantityNegative       = errors.New("quantity must be non-negative")
	ErrQuantityInvalid        = errors.New("quantity must be greater than zero")
	ErrAmountNegative         = errors.New("amount must be non-negative")
	ErrCurrencyRequired       = errors.New("currency is required")
	ErrReservationIDRequired  = errors.New("reservation_id is required")
	ErrOrderReferenceRequired = errors.New("order_reference is required")
	ErrOrderIDRequired        = errors.New("order id is required")
	ErrPaymentIDRequired      = errors.New("payment_id is required")
	ErrIdempotencyKeyRequired = errors.New("idempotency_key is required")
	// ErrIdempotencyPayloadMismatch: ключ уже использован для заказа с другими параметрами.
	ErrIdempotencyPayloadMismatch = errors.New("idempotency key reused with different payload")

	// ErrStockItemNotFound возвращается, если SKU неизвестен складу.
	ErrStockItemNotFound = errors.New("item not found")
	// ErrReservationNotFound возвращается, если резерв не найден.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrInsufficientStock: запрошено больше, чем доступно на складе.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrReservationAlreadyReleased: повторное снятие резерва.
	ErrReservationAlreadyReleased = errors.New("reservation already released")
	// ErrCorruptInventoryState: резерв ссылается на исчезнувшую позицию склада.
	ErrCorruptInventoryState = errors.New("corrupt inventory state")

	// ErrOrderStatusInconsistent: статус заказа не согласован со статусом платежа.
	ErrOrderStatusInconsistent = errors.New("order status and payment status are inconsistent")
	// ErrOrderAlreadyExists: заказ с таким idempotency_key уже сохранён.
	ErrOrderAlreadyExists = errors.New("order with this idempotency key already exists")
	// ErrIdempotencyKeyAlreadyExists: ключ уже занят другим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ занят запросом с другим телом.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyRequestHashRequired: заявка без отпечатка запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyRecordNotFound возвращается, если запись идемпотентности отсутствует.
	ErrIdempotencyRecordNotFound = errors.New("idempotency record not found")
	// ErrRequestInProgress: запрос с тем же ключом ещё обрабатывается.
	ErrRequestInProgress = errors.New("request with this idempotency key is in progress")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

var validationErrors = []error{
	ErrValidation,
	ErrSKURequired,
	ErrQuantityNegative,
	ErrQuantityInvalid,
	ErrAmountNegative,
	ErrCurrencyRequired,
	ErrReservationIDRequired,
	ErrOrderReferenceRequired,
	ErrOrderIDRequired,
	ErrPaymentIDRequired,
	ErrIdempotencyKeyRequired,
	ErrIdempotencyPayloadMismatch,
	ErrIdempotencyHashMismatch,
}

var notFoundErrors = []error{
	ErrStockItemNotFound,
	ErrReservationNotFound,
	ErrOrderNotFound,
	ErrPaymentNotFound,
	ErrIdempotencyRecordNotFound,
}

// IsNotFound сообщает, относится ли ошибка к классу NotFound.
func IsNotFound(err error) bool {
	return matchesAny(err, notFoundErrors)
}

// IsValidation сообщает, является ли ошибка ошибкой валидации входа.
func IsValidation(err error) bool {
	return matchesAny(err, validationErrors)
}

// IsReservationRejected сообщает, отказал ли склад в резерве по бизнес-причине.
func IsReservationRejected(err error) bool {
	return errors.Is(err, ErrStockItemNotFound) || errors.Is(err, ErrInsufficientStock)
}

func matchesAny(err error, targets []error) bool {
	if err == nil {
		return false
	}
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
