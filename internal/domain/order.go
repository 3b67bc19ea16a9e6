package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// OrderStatus отражает итог саги.
type OrderStatus string

const (
	// OrderStatusConfirmed: резерв подтверждён, платёж авторизован.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusFailed: платёж не прошёл, резерв компенсирован.
	OrderStatusFailed OrderStatus = "FAILED"
)

// PaymentStatus отражает итог авторизации платежа внутри заказа.
type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Order: терминальная запись саги. После создания не изменяется.
type Order struct {
	ID             string
	IdempotencyKey string
	SKU            string
	Quantity       int
	Amount         float64
	Currency       string
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	CreatedAt      time.Time
}

// OrderRequest: параметры CreateOrder.
type OrderRequest struct {
	IdempotencyKey string
	SKU            string
	Quantity       int
	Amount         float64
	Currency       string
}

// Normalize приводит строковые поля к каноническому виду.
func (r OrderRequest) Normalize() OrderRequest {
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	r.SKU = NormalizeSKU(r.SKU)
	r.Currency = strings.TrimSpace(r.Currency)
	return r
}

// Validate проверяет запрос на создание заказа.
func (r OrderRequest) Validate() []error {
	var errs []error

	if strings.TrimSpace(r.IdempotencyKey) == "" {
		errs = append(errs, ErrIdempotencyKeyRequired)
	}
	if NormalizeSKU(r.SKU) == "" {
		errs = append(errs, ErrSKURequired)
	}
	if r.Quantity <= 0 {
		errs = append(errs, ErrQuantityInvalid)
	}
	if r.Amount < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if strings.TrimSpace(r.Currency) == "" {
		errs = append(errs, ErrCurrencyRequired)
	}

	return errs
}

// Hash вычисляет отпечаток полезной нагрузки (без ключа идемпотентности).
func (r OrderRequest) Hash() string {
	n := r.Normalize()
	payload := strings.Join([]string{
		n.SKU,
		strconv.Itoa(n.Quantity),
		strconv.FormatFloat(n.Amount, 'f', -1, 64),
		n.Currency,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Matches сообщает, создан ли заказ из запроса с той же полезной нагрузкой.
func (o Order) Matches(r OrderRequest) bool {
	n := r.Normalize()
	return o.SKU == n.SKU &&
		o.Quantity == n.Quantity &&
		o.Amount == n.Amount &&
		o.Currency == n.Currency
}

// ValidateInvariants проверяет согласованность статусов заказа.
func (o *Order) ValidateInvariants() []error {
	var errs []error
	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if o.IdempotencyKey == "" {
		errs = append(errs, ErrIdempotencyKeyRequired)
	}
	switch {
	case o.Status == OrderStatusConfirmed && o.PaymentStatus == PaymentStatusSucceeded:
	case o.Status == OrderStatusFailed && o.PaymentStatus == PaymentStatusFailed:
	default:
		errs = append(errs, ErrOrderStatusInconsistent)
	}
	return errs
}
