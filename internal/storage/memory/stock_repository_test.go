package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
	"github.com/vladislavdragonenkov/oms-saga/internal/storage/memory"
)

func TestStockRepository_UpsertIsAbsolute(t *testing.T) {
	repo := memory.NewStockRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := repo.Upsert(ctx, " SKU-1 ", 5, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	item, err := repo.Upsert(ctx, "SKU-1", 2, now)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if item.SKU != "SKU-1" || item.Quantity != 2 {
		t.Fatalf("unexpected item: %+v", item)
	}

	if _, err := repo.Upsert(ctx, "SKU-1", -1, now); !errors.Is(err, domain.ErrQuantityNegative) {
		t.Fatalf("expected ErrQuantityNegative, got %v", err)
	}
	if _, err := repo.Get(ctx, "unknown"); !errors.Is(err, domain.ErrStockItemNotFound) {
		t.Fatalf("expected ErrStockItemNotFound, got %v", err)
	}
}

func TestStockRepository_LeaseCommitsOnSuccess(t *testing.T) {
	repo := memory.NewStockRepository()
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := repo.Upsert(ctx, "SKU-1", 5, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	err := repo.WithLease(ctx, func(lease domain.StockLease) error {
		item, err := lease.LockItem(ctx, "SKU-1")
		if err != nil {
			return err
		}
		item, err = item.Reserve(2)
		if err != nil {
			return err
		}
		if err := lease.SaveItem(ctx, item); err != nil {
			return err
		}
		return lease.CreateReservation(ctx, domain.Reservation{ID: "r1", SKU: "SKU-1", Quantity: 2, Active: true, CreatedAt: now})
	})
	if err != nil {
		t.Fatalf("lease: %v", err)
	}

	item, _ := repo.Get(ctx, "SKU-1")
	if item.Quantity != 3 || item.Reserved != 2 {
		t.Fatalf("unexpected item after commit: %+v", item)
	}
}

func TestStockRepository_LeaseRollsBackOnError(t *testing.T) {
	repo := memory.NewStockRepository()
	ctx := context.Background()
	if _, err := repo.Upsert(ctx, "SKU-1", 5, time.Now()); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	boom := errors.New("boom")
	err := repo.WithLease(ctx, func(lease domain.StockLease) error {
		item, err := lease.LockItem(ctx, "SKU-1")
		if err != nil {
			return err
		}
		item.Quantity = 0
		if err := lease.SaveItem(ctx, item); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	item, _ := repo.Get(ctx, "SKU-1")
	if item.Quantity != 5 {
		t.Fatalf("rollback expected, got quantity %d", item.Quantity)
	}

	// Блокировка должна быть снята и после ошибки.
	err = repo.WithLease(ctx, func(lease domain.StockLease) error {
		_, err := lease.LockItem(ctx, "SKU-1")
		return err
	})
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
}

func TestStockRepository_LeaseBlocksSameRow(t *testing.T) {
	repo := memory.NewStockRepository()
	ctx := context.Background()
	if _, err := repo.Upsert(ctx, "SKU-1", 5, time.Now()); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- repo.WithLease(ctx, func(lease domain.StockLease) error {
			if _, err := lease.LockItem(ctx, "SKU-1"); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := repo.WithLease(waitCtx, func(lease domain.StockLease) error {
		_, err := lease.LockItem(waitCtx, "SKU-1")
		return err
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected lease wait to time out, got %v", err)
	}

	// Другая строка не блокируется.
	if _, err := repo.Upsert(ctx, "SKU-2", 1, time.Now()); err != nil {
		t.Fatalf("upsert on other sku: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first lease: %v", err)
	}
}

func TestStockRepository_DeactivateRequiresLease(t *testing.T) {
	repo := memory.NewStockRepository()
	ctx := context.Background()

	err := repo.WithLease(ctx, func(lease domain.StockLease) error {
		return lease.DeactivateReservation(ctx, "missing", time.Now())
	})
	if err == nil {
		t.Fatal("expected error for unleased reservation")
	}

	err = repo.WithLease(ctx, func(lease domain.StockLease) error {
		_, err := lease.LockReservation(ctx, "missing")
		return err
	})
	if !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
}
