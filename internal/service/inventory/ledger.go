package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
	"github.com/vladislavdragonenkov/oms-saga/internal/metrics"
)

// Ledger: складской реестр: остатки по SKU и резервы под них.
// Reserve и Release выполняются под эксклюзивной арендой строк, поэтому
// параллельные резервы одного SKU не могут пройти проверку остатка по устаревшему значению.
type Ledger struct {
	repo    domain.StockRepository
	metrics *metrics.LedgerMetrics
	logger  *log.Entry
	now     func() time.Time
	newID   func() string
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics задаёт метрики склада.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов резервов (тесты).
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) {
		if newID != nil {
			l.newID = newID
		}
	}
}

// NewLedger создаёт складской реестр поверх хранилища.
func NewLedger(repo domain.StockRepository, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		logger: log.New().WithField("component", "inventory"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Upsert создаёт позицию или заменяет её доступный остаток.
func (l *Ledger) Upsert(ctx context.Context, sku string, quantity int) (domain.StockItem, error) {
	if errs := domain.ValidateStock(sku, quantity); len(errs) > 0 {
		return domain.StockItem{}, errors.Join(errs...)
	}
	item, err := l.repo.Upsert(ctx, domain.NormalizeSKU(sku), quantity, l.now())
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("upsert stock item: %w", err)
	}
	l.logger.WithFields(log.Fields{"sku": item.SKU, "quantity": item.Quantity}).Debug("stock item upserted")
	return item, nil
}

// Get возвращает позицию или ErrStockItemNotFound.
func (l *Ledger) Get(ctx context.Context, sku string) (domain.StockItem, error) {
	sku = domain.NormalizeSKU(sku)
	if sku == "" {
		return domain.StockItem{}, domain.ErrSKURequired
	}
	return l.repo.Get(ctx, sku)
}

// List возвращает все позиции.
func (l *Ledger) List(ctx context.Context) ([]domain.StockItem, error) {
	return l.repo.List(ctx)
}

// Reserve атомарно проверяет остаток, уменьшает его и создаёт активный резерв.
func (l *Ledger) Reserve(ctx context.Context, sku string, quantity int) (domain.ReservationReceipt, error) {
	sku = domain.NormalizeSKU(sku)
	if sku == "" {
		return domain.ReservationReceipt{}, domain.ErrSKURequired
	}
	if quantity <= 0 {
		return domain.ReservationReceipt{}, domain.ErrQuantityInvalid
	}

	started := time.Now()
	var receipt domain.ReservationReceipt
	err := l.repo.WithLease(ctx, func(lease domain.StockLease) error {
		item, err := lease.LockItem(ctx, sku)
		if err != nil {
			return err
		}

		updated, err := item.Reserve(quantity)
		if err != nil {
			return err
		}
		now := l.now()
		updated.UpdatedAt = now
		if err := lease.SaveItem(ctx, updated); err != nil {
			return err
		}

		reservation := domain.Reservation{
			ID:        l.newID(),
			SKU:       sku,
			Quantity:  quantity,
			Active:    true,
			CreatedAt: now,
		}
		if err := lease.CreateReservation(ctx, reservation); err != nil {
			return err
		}

		receipt = domain.ReservationReceipt{
			ReservationID:     reservation.ID,
			SKU:               sku,
			Quantity:          quantity,
			RemainingQuantity: updated.Quantity,
		}
		return nil
	})
	l.metrics.RecordLeaseDuration("reserve", time.Since(started))

	fields := log.Fields{"sku": sku, "quantity": quantity}
	switch {
	case err == nil:
		l.metrics.RecordReservation("reserved")
		l.logger.WithFields(fields).WithField("reservation_id", receipt.ReservationID).Info("stock reserved")
		return receipt, nil
	case errors.Is(err, domain.ErrInsufficientStock):
		l.metrics.RecordReservation("insufficient_stock")
		l.logger.WithFields(fields).Info("reservation rejected: insufficient stock")
		return domain.ReservationReceipt{}, err
	case errors.Is(err, domain.ErrStockItemNotFound):
		l.metrics.RecordReservation("not_found")
		return domain.ReservationReceipt{}, err
	default:
		l.metrics.RecordReservation("error")
		return domain.ReservationReceipt{}, fmt.Errorf("reserve stock: %w", err)
	}
}

// Release деактивирует резерв и возвращает остаток.
// Если позиция склада исчезла, резерв всё равно деактивируется, после чего
// возвращается ErrCorruptInventoryState.
func (l *Ledger) Release(ctx context.Context, reservationID string) (domain.ReleaseReceipt, error) {
	if reservationID == "" {
		return domain.ReleaseReceipt{}, domain.ErrReservationIDRequired
	}

	started := time.Now()
	var (
		receipt domain.ReleaseReceipt
		corrupt bool
	)
	err := l.repo.WithLease(ctx, func(lease domain.StockLease) error {
		reservation, err := lease.LockReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if !reservation.Active {
			return domain.ErrReservationAlreadyReleased
		}
		receipt = domain.ReleaseReceipt{ReservationID: reservation.ID, SKU: reservation.SKU}

		now := l.now()
		item, err := lease.LockItem(ctx, reservation.SKU)
		if errors.Is(err, domain.ErrStockItemNotFound) {
			corrupt = true
			return lease.DeactivateReservation(ctx, reservation.ID, now)
		}
		if err != nil {
			return err
		}

		updated := item.Release(reservation.Quantity)
		updated.UpdatedAt = now
		if err := lease.SaveItem(ctx, updated); err != nil {
			return err
		}
		return lease.DeactivateReservation(ctx, reservation.ID, now)
	})
	l.metrics.RecordLeaseDuration("release", time.Since(started))

	fields := log.Fields{"reservation_id": reservationID}
	switch {
	case err == nil && corrupt:
		l.metrics.RecordRelease("corrupt")
		l.logger.WithFields(fields).WithField("sku", receipt.SKU).Error("reservation references missing stock item")
		return domain.ReleaseReceipt{}, domain.ErrCorruptInventoryState
	case err == nil:
		l.metrics.RecordRelease("released")
		l.logger.WithFields(fields).WithField("sku", receipt.SKU).Info("reservation released")
		return receipt, nil
	case errors.Is(err, domain.ErrReservationAlreadyReleased):
		l.metrics.RecordRelease("already_released")
		return domain.ReleaseReceipt{}, err
	case errors.Is(err, domain.ErrReservationNotFound):
		l.metrics.RecordRelease("not_found")
		return domain.ReleaseReceipt{}, err
	default:
		l.metrics.RecordRelease("error")
		return domain.ReleaseReceipt{}, fmt.Errorf("release reservation: %w", err)
	}
}

var _ domain.InventoryService = (*Ledger)(nil)
