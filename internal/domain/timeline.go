package domain

import "time"

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// Типы событий таймлайна, соответствуют переходам саги.
const (
	TimelineStockReserved   = "StockReserved"
	TimelinePaymentDecided  = "PaymentDecided"
	TimelineCompensated     = "Compensated"
	TimelineCompensationErr = "CompensationFailed"
	TimelineOrderConfirmed  = "OrderConfirmed"
	TimelineOrderFailed     = "OrderFailed"
)
