package payment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
	"github.com/vladislavdragonenkov/oms-saga/internal/metrics"
	"github.com/vladislavdragonenkov/oms-saga/internal/service/payment"
	"github.com/vladislavdragonenkov/oms-saga/internal/storage/memory"
)

func newAuthorizer(opts ...payment.Option) (*payment.Authorizer, domain.PaymentRepository) {
	repo := memory.NewPaymentRepository()
	opts = append(opts, payment.WithMetrics(metrics.NewPaymentMetricsWithRegisterer(prometheus.NewRegistry())))
	return payment.NewAuthorizer(repo, opts...), repo
}

func TestAuthorizer_DefaultThreshold(t *testing.T) {
	tests := []struct {
		amount float64
		want   bool
	}{
		{amount: 0, want: true},
		{amount: 100, want: true},
		{amount: 999.99, want: true},
		{amount: 1000, want: false},
		{amount: 1500, want: false},
	}

	authorizer, repo := newAuthorizer()
	for _, tt := range tests {
		decision, err := authorizer.Authorize(context.Background(), "res-1", tt.amount, "EUR")
		require.NoError(t, err)
		require.Equal(t, tt.want, decision.Authorized, "amount %v", tt.amount)

		stored, err := repo.Get(context.Background(), decision.PaymentID)
		require.NoError(t, err, "payment must be persisted even when denied")
		require.Equal(t, tt.want, stored.Authorized)
		require.Equal(t, "res-1", stored.OrderReference)
	}
}

func TestAuthorizer_CurrencyIgnoredByDefault(t *testing.T) {
	authorizer, _ := newAuthorizer()
	for _, currency := range []string{"USD", "JPY", "XTS"} {
		decision, err := authorizer.Authorize(context.Background(), "ref", 500, currency)
		require.NoError(t, err)
		require.True(t, decision.Authorized)
	}
}

func TestAuthorizer_Validation(t *testing.T) {
	authorizer, _ := newAuthorizer()

	_, err := authorizer.Authorize(context.Background(), "", -1, "")
	require.ErrorIs(t, err, domain.ErrOrderReferenceRequired)
	require.ErrorIs(t, err, domain.ErrAmountNegative)
	require.ErrorIs(t, err, domain.ErrCurrencyRequired)
	require.True(t, domain.IsValidation(err))
}

func TestAuthorizer_ExpressionPolicy(t *testing.T) {
	policy, err := payment.NewExpressionPolicy(`amount < 50.0 || currency == "XTS"`)
	require.NoError(t, err)
	authorizer, _ := newAuthorizer(payment.WithPolicy(policy))

	decision, err := authorizer.Authorize(context.Background(), "ref", 100, "XTS")
	require.NoError(t, err)
	require.True(t, decision.Authorized)

	decision, err = authorizer.Authorize(context.Background(), "ref", 100, "USD")
	require.NoError(t, err)
	require.False(t, decision.Authorized)
}

func TestNewExpressionPolicy_Rejects(t *testing.T) {
	_, err := payment.NewExpressionPolicy(`amount +`)
	require.Error(t, err)

	_, err = payment.NewExpressionPolicy(`amount * 2.0`)
	require.Error(t, err, "non-bool expressions must be rejected")
}

type failingRepository struct{ domain.PaymentRepository }

func (failingRepository) Create(context.Context, domain.Payment) error {
	return errors.New("disk full")
}

func TestAuthorizer_StorageFailureIsError(t *testing.T) {
	authorizer := payment.NewAuthorizer(failingRepository{})
	_, err := authorizer.Authorize(context.Background(), "ref", 10, "USD")
	require.Error(t, err)
}

func TestAuthorizer_Get(t *testing.T) {
	authorizer, _ := newAuthorizer()
	_, err := authorizer.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)

	_, err = authorizer.Get(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrPaymentIDRequired)
}
