package domain

import (
	"strings"
	"time"
)

// StockItem описывает складскую позицию.
// Quantity: доступный (незарезервированный) остаток, Reserved: сумма активных резервов.
type StockItem struct {
	SKU       string
	Quantity  int
	Reserved  int
	UpdatedAt time.Time
}

// NormalizeSKU убирает пробелы по краям SKU.
func NormalizeSKU(sku string) string {
	return strings.TrimSpace(sku)
}

// ValidateStock проверяет параметры upsert.
func ValidateStock(sku string, quantity int) []error {
	var errs []error
	if NormalizeSKU(sku) == "" {
		errs = append(errs, ErrSKURequired)
	}
	if quantity < 0 {
		errs = append(errs, ErrQuantityNegative)
	}
	return errs
}

// CanReserve сообщает, хватает ли доступного остатка.
func (s StockItem) CanReserve(quantity int) bool {
	return quantity > 0 && s.Quantity >= quantity
}

// Reserve уменьшает доступный остаток на quantity.
func (s StockItem) Reserve(quantity int) (StockItem, error) {
	if quantity <= 0 {
		return s, ErrQuantityInvalid
	}
	if !s.CanReserve(quantity) {
		return s, ErrInsufficientStock
	}
	s.Quantity -= quantity
	s.Reserved += quantity
	return s, nil
}

// Release возвращает quantity в доступный остаток.
func (s StockItem) Release(quantity int) StockItem {
	s.Quantity += quantity
	s.Reserved -= quantity
	if s.Reserved < 0 {
		s.Reserved = 0
	}
	return s
}
