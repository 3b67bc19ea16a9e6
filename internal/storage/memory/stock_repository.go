package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
)

var errRowNotLeased = errors.New("row is not leased by this transaction")

// stockRepositoryInMemory хранит склад в памяти.
// mu защищает карты; locks хранит построчные эксклюзивные аренды.
type stockRepositoryInMemory struct {
	mu           sync.RWMutex
	items        map[string]domain.StockItem
	reservations map[string]domain.Reservation
	locks        *rowLocks
}

// NewStockRepository создаёт in-memory реализацию StockRepository.
func NewStockRepository() domain.StockRepository {
	return &stockRepositoryInMemory{
		items:        make(map[string]domain.StockItem),
		reservations: make(map[string]domain.Reservation),
		locks:        newRowLocks(),
	}
}

func itemKey(sku string) string       { return "item:" + sku }
func reservationKey(id string) string { return "reservation:" + id }

// Upsert задаёт абсолютный остаток, коротко захватывая строку позиции.
func (r *stockRepositoryInMemory) Upsert(ctx context.Context, sku string, quantity int, now time.Time) (domain.StockItem, error) {
	sku = domain.NormalizeSKU(sku)
	if errs := domain.ValidateStock(sku, quantity); len(errs) > 0 {
		return domain.StockItem{}, errors.Join(errs...)
	}

	unlock, err := r.locks.acquire(ctx, itemKey(sku))
	if err != nil {
		return domain.StockItem{}, err
	}
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	item := r.items[sku]
	item.SKU = sku
	item.Quantity = quantity
	item.UpdatedAt = now
	r.items[sku] = item
	return item, nil
}

func (r *stockRepositoryInMemory) Get(_ context.Context, sku string) (domain.StockItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[domain.NormalizeSKU(sku)]
	if !ok {
		return domain.StockItem{}, domain.ErrStockItemNotFound
	}
	return item, nil
}

func (r *stockRepositoryInMemory) List(_ context.Context) ([]domain.StockItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.StockItem, 0, len(r.items))
	for _, item := range r.items {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SKU < result[j].SKU })
	return result, nil
}

// WithLease выполняет fn в рамках аренды. Изменения буферизуются и применяются
// целиком только при успешном завершении fn.
func (r *stockRepositoryInMemory) WithLease(ctx context.Context, fn func(domain.StockLease) error) error {
	lease := &stockLeaseInMemory{
		repo:         r,
		held:         make(map[string]func()),
		items:        make(map[string]domain.StockItem),
		reservations: make(map[string]domain.Reservation),
	}
	defer lease.releaseAll()

	if err := fn(lease); err != nil {
		return err
	}

	lease.commit()
	return nil
}

type stockLeaseInMemory struct {
	repo         *stockRepositoryInMemory
	held         map[string]func()
	items        map[string]domain.StockItem
	reservations map[string]domain.Reservation
}

func (l *stockLeaseInMemory) acquire(ctx context.Context, key string) error {
	if _, ok := l.held[key]; ok {
		return nil
	}
	unlock, err := l.repo.locks.acquire(ctx, key)
	if err != nil {
		return err
	}
	l.held[key] = unlock
	return nil
}

func (l *stockLeaseInMemory) releaseAll() {
	for key, unlock := range l.held {
		unlock()
		delete(l.held, key)
	}
}

func (l *stockLeaseInMemory) commit() {
	l.repo.mu.Lock()
	defer l.repo.mu.Unlock()

	for sku, item := range l.items {
		l.repo.items[sku] = item
	}
	for id, reservation := range l.reservations {
		l.repo.reservations[id] = reservation
	}
}

func (l *stockLeaseInMemory) LockItem(ctx context.Context, sku string) (domain.StockItem, error) {
	sku = domain.NormalizeSKU(sku)
	if err := l.acquire(ctx, itemKey(sku)); err != nil {
		return domain.StockItem{}, err
	}
	if item, ok := l.items[sku]; ok {
		return item, nil
	}

	l.repo.mu.RLock()
	defer l.repo.mu.RUnlock()

	item, ok := l.repo.items[sku]
	if !ok {
		return domain.StockItem{}, domain.ErrStockItemNotFound
	}
	return item, nil
}

func (l *stockLeaseInMemory) LockReservation(ctx context.Context, id string) (domain.Reservation, error) {
	if err := l.acquire(ctx, reservationKey(id)); err != nil {
		return domain.Reservation{}, err
	}
	if reservation, ok := l.reservations[id]; ok {
		return cloneReservation(reservation), nil
	}

	l.repo.mu.RLock()
	defer l.repo.mu.RUnlock()

	reservation, ok := l.repo.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return cloneReservation(reservation), nil
}

func (l *stockLeaseInMemory) SaveItem(_ context.Context, item domain.StockItem) error {
	if _, ok := l.held[itemKey(item.SKU)]; !ok {
		return errRowNotLeased
	}
	l.items[item.SKU] = item
	return nil
}

func (l *stockLeaseInMemory) CreateReservation(ctx context.Context, reservation domain.Reservation) error {
	if errs := reservation.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	if err := l.acquire(ctx, reservationKey(reservation.ID)); err != nil {
		return err
	}
	l.reservations[reservation.ID] = cloneReservation(reservation)
	return nil
}

func (l *stockLeaseInMemory) DeactivateReservation(ctx context.Context, id string, releasedAt time.Time) error {
	if _, ok := l.held[reservationKey(id)]; !ok {
		return errRowNotLeased
	}
	reservation, err := l.LockReservation(ctx, id)
	if err != nil {
		return err
	}
	reservation.Active = false
	at := releasedAt
	reservation.ReleasedAt = &at
	l.reservations[id] = reservation
	return nil
}

func cloneReservation(src domain.Reservation) domain.Reservation {
	dst := src
	if src.ReleasedAt != nil {
		at := *src.ReleasedAt
		dst.ReleasedAt = &at
	}
	return dst
}

var _ domain.StockRepository = (*stockRepositoryInMemory)(nil)
