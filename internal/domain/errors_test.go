package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "item", err: ErrStockItemNotFound, want: true},
		{name: "wrapped reservation", err: fmt.Errorf("release: %w", ErrReservationNotFound), want: true},
		{name: "joined order", err: errors.Join(ErrOrderNotFound, errors.New("context")), want: true},
		{name: "insufficient stock", err: ErrInsufficientStock, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsValidation(t *testing.T) {
	if !IsValidation(errors.Join(ErrSKURequired, ErrQuantityInvalid)) {
		t.Error("joined validation errors must be classified as validation")
	}
	if !IsValidation(ErrIdempotencyPayloadMismatch) {
		t.Error("payload mismatch is a validation error")
	}
	if IsValidation(ErrCorruptInventoryState) {
		t.Error("corrupt state is not a client error")
	}
}

func TestIsReservationRejected(t *testing.T) {
	if !IsReservationRejected(fmt.Errorf("reserve: %w", ErrInsufficientStock)) {
		t.Error("insufficient stock must reject reservation")
	}
	if !IsReservationRejected(ErrStockItemNotFound) {
		t.Error("unknown sku must reject reservation")
	}
	if IsReservationRejected(errors.New("connection refused")) {
		t.Error("transport errors are not business rejections")
	}
}
