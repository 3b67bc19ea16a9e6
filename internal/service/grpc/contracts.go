package grpcsvc

import (
	"time"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
)

// Сообщения API. Поля совпадают для сервера и клиента, кодируются JSON-кодеком.

type UpsertStockRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type GetItemRequest struct {
	SKU string `json:"sku"`
}

type ListItemsRequest struct{}

type StockItem struct {
	SKU       string    `json:"sku"`
	Quantity  int       `json:"quantity"`
	Reserved  int       `json:"reserved"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ListItemsResponse struct {
	Items []StockItem `json:"items"`
}

type ReserveRequest struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type ReserveResponse struct {
	ReservationID     string `json:"reservation_id"`
	SKU               string `json:"sku"`
	Quantity          int    `json:"quantity"`
	RemainingQuantity int    `json:"remaining_quantity"`
}

type ReleaseRequest struct {
	ReservationID string `json:"reservation_id"`
}

type ReleaseResponse struct {
	Released      bool   `json:"released"`
	ReservationID string `json:"reservation_id"`
	SKU           string `json:"sku"`
}

type AuthorizeRequest struct {
	OrderReference string  `json:"order_reference"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
}

type AuthorizeResponse struct {
	PaymentID  string `json:"payment_id"`
	Authorized bool   `json:"authorized"`
}

type GetPaymentRequest struct {
	PaymentID string `json:"payment_id"`
}

type Payment struct {
	ID             string    `json:"id"`
	OrderReference string    `json:"order_reference"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	Authorized     bool      `json:"authorized"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateOrderRequest: ключ идемпотентности можно передать полем или заголовком idempotency-key.
type CreateOrderRequest struct {
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	SKU            string  `json:"sku"`
	Quantity       int     `json:"quantity"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type ListOrdersRequest struct{}

type Order struct {
	ID             string    `json:"id"`
	IdempotencyKey string    `json:"idempotency_key"`
	SKU            string    `json:"sku"`
	Quantity       int       `json:"quantity"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	PaymentStatus  string    `json:"payment_status"`
	CreatedAt      time.Time `json:"created_at"`
}

type ListOrdersResponse struct {
	Orders []Order `json:"orders"`
}

type TimelineEvent struct {
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
	UnixTime int64  `json:"unix_time"`
}

type GetTimelineResponse struct {
	OrderID string          `json:"order_id"`
	Events  []TimelineEvent `json:"events"`
}

func toStockItem(item domain.StockItem) StockItem {
	return StockItem{SKU: item.SKU, Quantity: item.Quantity, Reserved: item.Reserved, UpdatedAt: item.UpdatedAt}
}

func toPayment(p domain.Payment) *Payment {
	return &Payment{
		ID:             p.ID,
		OrderReference: p.OrderReference,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Authorized:     p.Authorized,
		CreatedAt:      p.CreatedAt,
	}
}

func toOrder(o domain.Order) Order {
	return Order{
		ID:             o.ID,
		IdempotencyKey: o.IdempotencyKey,
		SKU:            o.SKU,
		Quantity:       o.Quantity,
		Amount:         o.Amount,
		Currency:       o.Currency,
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		CreatedAt:      o.CreatedAt,
	}
}
