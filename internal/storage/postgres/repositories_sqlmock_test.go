package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
	"github.com/vladislavdragonenkov/oms-saga/internal/service/inventory"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return NewStore(db), mock
}

var stockColumns = []string{"sku", "quantity", "reserved", "updated_at"}

func TestStockLease_ReserveLocksRowAndCommits(t *testing.T) {
	store, mock := newMockStore(t)
	ledger := inventory.NewLedger(NewStockRepository(store), inventory.WithIDGenerator(func() string { return "res-1" }))
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM stock_items WHERE sku = \$1 FOR UPDATE`).
		WithArgs("S").
		WillReturnRows(sqlmock.NewRows(stockColumns).AddRow("S", 5, 0, now))
	mock.ExpectExec(`UPDATE stock_items`).
		WithArgs("S", 3, 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO reservations`).
		WithArgs("res-1", "S", 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	receipt, err := ledger.Reserve(context.Background(), "S", 2)
	require.NoError(t, err)
	require.Equal(t, "res-1", receipt.ReservationID)
	require.Equal(t, 3, receipt.RemainingQuantity)
}

func TestStockLease_InsufficientStockRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	ledger := inventory.NewLedger(NewStockRepository(store))

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("S").
		WillReturnRows(sqlmock.NewRows(stockColumns).AddRow("S", 1, 0, time.Now()))
	mock.ExpectRollback()

	_, err := ledger.Reserve(context.Background(), "S", 5)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestStockLease_UnknownSKU(t *testing.T) {
	store, mock := newMockStore(t)
	ledger := inventory.NewLedger(NewStockRepository(store))

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("missing").WillReturnRows(sqlmock.NewRows(stockColumns))
	mock.ExpectRollback()

	_, err := ledger.Reserve(context.Background(), "missing", 1)
	require.ErrorIs(t, err, domain.ErrStockItemNotFound)
}

func TestStockLease_ReleaseMissingItemDeactivatesThenReportsCorrupt(t *testing.T) {
	store, mock := newMockStore(t)
	ledger := inventory.NewLedger(NewStockRepository(store))

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reservations WHERE id = \$1 FOR UPDATE`).
		WithArgs("res-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "sku", "quantity", "active", "created_at", "released_at"}).
			AddRow("res-1", "gone", 2, true, time.Now(), nil))
	mock.ExpectQuery(`FROM stock_items WHERE sku = \$1 FOR UPDATE`).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows(stockColumns))
	mock.ExpectExec(`UPDATE reservations SET active = FALSE`).
		WithArgs("res-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := ledger.Release(context.Background(), "res-1")
	require.ErrorIs(t, err, domain.ErrCorruptInventoryState)
}

func TestStockLease_ReleaseInactiveReservation(t *testing.T) {
	store, mock := newMockStore(t)
	ledger := inventory.NewLedger(NewStockRepository(store))
	released := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM reservations`).
		WithArgs("res-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "sku", "quantity", "active", "created_at", "released_at"}).
			AddRow("res-1", "S", 2, false, time.Now(), released))
	mock.ExpectRollback()

	_, err := ledger.Release(context.Background(), "res-1")
	require.ErrorIs(t, err, domain.ErrReservationAlreadyReleased)
}

func TestStockRepository_UpsertKeepsReserved(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewStockRepository(store)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO stock_items`).
		WithArgs("S", 10, now).
		WillReturnRows(sqlmock.NewRows(stockColumns).AddRow("S", 10, 4, now))

	item, err := repo.Upsert(context.Background(), " S ", 10, now)
	require.NoError(t, err)
	require.Equal(t, 4, item.Reserved)

	_, err = repo.Upsert(context.Background(), "S", -1, now)
	require.ErrorIs(t, err, domain.ErrQuantityNegative)
}

func TestOrderRepository_UniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)

	mock.ExpectExec(`INSERT INTO orders`).WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), domain.Order{
		ID: "o-1", IdempotencyKey: "k", SKU: "S", Quantity: 1, Amount: 1, Currency: "USD",
		Status: domain.OrderStatusConfirmed, PaymentStatus: domain.PaymentStatusSucceeded, CreatedAt: time.Now(),
	})
	require.ErrorIs(t, err, domain.ErrOrderAlreadyExists)
}

func TestOrderRepository_GetByIdempotencyKey(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOrderRepository(store)
	now := time.Now().UTC()

	columns := []string{"id", "idempotency_key", "sku", "quantity", "amount", "currency", "status", "payment_status", "created_at"}
	mock.ExpectQuery(`FROM orders WHERE idempotency_key = \$1`).
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("o-1", "k", "S", 2, 100.5, "USD", "FAILED", "FAILED", now))
	mock.ExpectQuery(`FROM orders WHERE idempotency_key = \$1`).
		WithArgs("other").
		WillReturnError(sql.ErrNoRows)

	order, err := repo.GetByIdempotencyKey(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFailed, order.Status)
	require.Equal(t, 100.5, order.Amount)

	_, err = repo.GetByIdempotencyKey(context.Background(), "other")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

var idempotencyMockColumns = []string{"key", "request_hash", "order_id", "status", "ttl_at", "created_at", "updated_at"}

func TestIdempotencyRepository_ClaimOrReclaim(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewIdempotencyRepository(store)
	ttl := time.Now().Add(time.Minute)

	mock.ExpectQuery(`ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("k", "h", ttl, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(idempotencyMockColumns).AddRow("k", "h", "", "processing", ttl, time.Now(), time.Now()))

	record, err := repo.CreateProcessing(context.Background(), "k", "h", ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, record.Status)
}

func TestIdempotencyRepository_BusyKey(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewIdempotencyRepository(store)
	ttl := time.Now().Add(time.Minute)

	for _, hash := range []string{"h", "other"} {
		mock.ExpectQuery(`ON CONFLICT \(key\) DO UPDATE`).WillReturnRows(sqlmock.NewRows(idempotencyMockColumns))
		mock.ExpectQuery(`FROM idempotency_keys WHERE key = \$1`).
			WithArgs("k").
			WillReturnRows(sqlmock.NewRows(idempotencyMockColumns).AddRow("k", hash, "o-1", "done", ttl, time.Now(), time.Now()))
	}

	existing, err := repo.CreateProcessing(context.Background(), "k", "h", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	require.Equal(t, "o-1", existing.OrderID)

	_, err = repo.CreateProcessing(context.Background(), "k", "h", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_MarkDoneMissingKey(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewIdempotencyRepository(store)

	mock.ExpectExec(`UPDATE idempotency_keys`).
		WithArgs("done", "o-1", sqlmock.AnyArg(), "k").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkDone(context.Background(), "k", "o-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyRecordNotFound)
}

func TestOutboxRepository_MarkFailedStoresReason(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)

	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs("m-1", "failed", "broker down", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs("m-2", "sent", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkFailed(context.Background(), "m-1", "broker down"))
	err := repo.MarkSent(context.Background(), "m-2")
	require.True(t, errors.Is(err, domain.ErrOutboxPublish))
}

func TestPaymentRepository_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewPaymentRepository(store)

	mock.ExpectQuery(`FROM payments`).WithArgs("missing").WillReturnRows(
		sqlmock.NewRows([]string{"id", "order_reference", "amount", "currency", "authorized", "created_at"}))

	_, err := repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)
}
