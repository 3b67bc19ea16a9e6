package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
)

type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
// Аренда строк реализована транзакцией с SELECT ... FOR UPDATE.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

func (r *stockRepository) Upsert(ctx context.Context, sku string, quantity int, now time.Time) (domain.StockItem, error) {
	sku = domain.NormalizeSKU(sku)
	if errs := domain.ValidateStock(sku, quantity); len(errs) > 0 {
		return domain.StockItem{}, errors.Join(errs...)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var item domain.StockItem
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO stock_items (sku, quantity, reserved, updated_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (sku) DO UPDATE
		SET quantity = EXCLUDED.quantity,
		    updated_at = EXCLUDED.updated_at
		RETURNING sku, quantity, reserved, updated_at
	`, sku, quantity, now).Scan(&item.SKU, &item.Quantity, &item.Reserved, &item.UpdatedAt)
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("upsert stock item: %w", err)
	}
	return item, nil
}

func (r *stockRepository) Get(ctx context.Context, sku string) (domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return scanStockItem(r.db.QueryRowContext(ctx, `
		SELECT sku, quantity, reserved, updated_at
		FROM stock_items
		WHERE sku = $1
	`, domain.NormalizeSKU(sku)))
}

func (r *stockRepository) List(ctx context.Context) ([]domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT sku, quantity, reserved, updated_at
		FROM stock_items
		ORDER BY sku
	`)
	if err != nil {
		return nil, fmt.Errorf("list stock items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.StockItem, 0)
	for rows.Next() {
		var item domain.StockItem
		if err := rows.Scan(&item.SKU, &item.Quantity, &item.Reserved, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stock item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock items: %w", err)
	}
	return items, nil
}

// WithLease выполняет fn в одной транзакции. Блокировки строк снимаются
// при commit или rollback.
func (r *stockRepository) WithLease(ctx context.Context, fn func(lease domain.StockLease) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lease tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&stockLease{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit lease tx: %w", err)
	}
	return nil
}

type stockLease struct {
	tx *sql.Tx
}

func (l *stockLease) LockItem(ctx context.Context, sku string) (domain.StockItem, error) {
	return scanStockItem(l.tx.QueryRowContext(ctx, `
		SELECT sku, quantity, reserved, updated_at
		FROM stock_items
		WHERE sku = $1
		FOR UPDATE
	`, sku))
}

func (l *stockLease) LockReservation(ctx context.Context, id string) (domain.Reservation, error) {
	var (
		reservation domain.Reservation
		releasedAt  sql.NullTime
	)
	err := l.tx.QueryRowContext(ctx, `
		SELECT id, sku, quantity, active, created_at, released_at
		FROM reservations
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&reservation.ID,
		&reservation.SKU,
		&reservation.Quantity,
		&reservation.Active,
		&reservation.CreatedAt,
		&releasedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("lock reservation: %w", err)
	}
	if releasedAt.Valid {
		t := releasedAt.Time.UTC()
		reservation.ReleasedAt = &t
	}
	return reservation, nil
}

func (l *stockLease) SaveItem(ctx context.Context, item domain.StockItem) error {
	res, err := l.tx.ExecContext(ctx, `
		UPDATE stock_items
		SET quantity = $2,
		    reserved = $3,
		    updated_at = $4
		WHERE sku = $1
	`, item.SKU, item.Quantity, item.Reserved, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save stock item: %w", err)
	}
	return expectOneRow(res, domain.ErrStockItemNotFound)
}

func (l *stockLease) CreateReservation(ctx context.Context, reservation domain.Reservation) error {
	if errs := reservation.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	if _, err := l.tx.ExecContext(ctx, `
		INSERT INTO reservations (id, sku, quantity, active, created_at)
		VALUES ($1, $2, $3, TRUE, $4)
	`, reservation.ID, reservation.SKU, reservation.Quantity, reservation.CreatedAt); err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (l *stockLease) DeactivateReservation(ctx context.Context, id string, releasedAt time.Time) error {
	res, err := l.tx.ExecContext(ctx, `
		UPDATE reservations
		SET active = FALSE,
		    released_at = $2
		WHERE id = $1 AND active
	`, id, releasedAt)
	if err != nil {
		return fmt.Errorf("deactivate reservation: %w", err)
	}
	return expectOneRow(res, domain.ErrReservationAlreadyReleased)
}

func scanStockItem(row *sql.Row) (domain.StockItem, error) {
	var item domain.StockItem
	if err := row.Scan(&item.SKU, &item.Quantity, &item.Reserved, &item.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, domain.ErrStockItemNotFound
		}
		return domain.StockItem{}, fmt.Errorf("scan stock item: %w", err)
	}
	return item, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
