package grpcsvc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
)

// ErrorDomain: значение ErrorInfo.Domain для ошибок сервисов OMS.
const ErrorDomain = "oms.saga"

const (
	ReasonItemNotFound        = "ITEM_NOT_FOUND"
	ReasonReservationNotFound = "RESERVATION_NOT_FOUND"
	ReasonOrderNotFound       = "ORDER_NOT_FOUND"
	ReasonPaymentNotFound     = "PAYMENT_NOT_FOUND"
	ReasonInsufficientStock   = "INSUFFICIENT_STOCK"
	ReasonAlreadyReleased     = "RESERVATION_ALREADY_RELEASED"
	ReasonCorruptState        = "CORRUPT_INVENTORY_STATE"
	ReasonValidationFailed    = "VALIDATION_FAILED"
	ReasonPayloadMismatch     = "IDEMPOTENCY_PAYLOAD_MISMATCH"
	ReasonRequestInProgress   = "REQUEST_IN_PROGRESS"
)

type errorMapping struct {
	target error
	code   codes.Code
	reason string
}

// Порядок важен: несовпадение payload проверяется раньше общей валидации.
var errorMappings = []errorMapping{
	{domain.ErrStockItemNotFound, codes.NotFound, ReasonItemNotFound},
	{domain.ErrReservationNotFound, codes.NotFound, ReasonReservationNotFound},
	{domain.ErrOrderNotFound, codes.NotFound, ReasonOrderNotFound},
	{domain.ErrPaymentNotFound, codes.NotFound, ReasonPaymentNotFound},
	{domain.ErrInsufficientStock, codes.FailedPrecondition, ReasonInsufficientStock},
	{domain.ErrReservationAlreadyReleased, codes.FailedPrecondition, ReasonAlreadyReleased},
	{domain.ErrCorruptInventoryState, codes.Internal, ReasonCorruptState},
	{domain.ErrIdempotencyPayloadMismatch, codes.InvalidArgument, ReasonPayloadMismatch},
	{domain.ErrRequestInProgress, codes.Aborted, ReasonRequestInProgress},
}

// toStatus переводит доменную ошибку в gRPC-статус с ErrorInfo.
// Неизвестные ошибки скрываются за internalMsg.
func toStatus(err error, internalMsg string) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return withReason(m.code, err.Error(), m.reason)
		}
	}
	if domain.IsValidation(err) {
		return withReason(codes.InvalidArgument, err.Error(), ReasonValidationFailed)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, internalMsg)
}

func withReason(code codes.Code, msg, reason string) error {
	st := status.New(code, msg)
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: ErrorDomain})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// fromStatus восстанавливает доменную ошибку по ErrorInfo.Reason.
// Ошибки без причины (транспорт, таймауты) возвращаются обёрнутыми как есть.
func fromStatus(err error, operation string) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", operation, err)
	}

	reason := ""
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			reason = info.GetReason()
			break
		}
	}

	if reason == ReasonValidationFailed {
		return fmt.Errorf("%w: %s", domain.ErrValidation, st.Message())
	}
	for _, m := range errorMappings {
		if m.reason == reason {
			if st.Message() == m.target.Error() {
				return m.target
			}
			return fmt.Errorf("%w: %s", m.target, st.Message())
		}
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// ReasonOf возвращает ErrorInfo.Reason из gRPC-ошибки или пустую строку.
func ReasonOf(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok {
			return info.GetReason()
		}
	}
	return ""
}
