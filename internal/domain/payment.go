package domain

import (
	"strings"
	"time"
)

// Payment: неизменяемая запись аудита одной попытки авторизации.
type Payment struct {
	ID             string
	OrderReference string
	Amount         float64
	Currency       string
	Authorized     bool
	CreatedAt      time.Time
}

// PaymentDecision: то, что оркестратор получает от платёжного сервиса.
type PaymentDecision struct {
	PaymentID  string
	Authorized bool
}

// ValidateAuthorization проверяет параметры запроса авторизации.
func ValidateAuthorization(orderReference string, amount float64, currency string) []error {
	var errs []error
	if strings.TrimSpace(orderReference) == "" {
		errs = append(errs, ErrOrderReferenceRequired)
	}
	if amount < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if strings.TrimSpace(currency) == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	return errs
}
