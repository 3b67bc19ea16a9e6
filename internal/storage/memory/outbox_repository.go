package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
)

// OutboxRepository: in-memory хранилище transactional outbox.
// Тип экспортирован ради AllPending в тестах.
type OutboxRepository struct {
	mu      sync.RWMutex
	records map[string]domain.OutboxMessage
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{records: make(map[string]domain.OutboxMessage)}
}

// Enqueue сохраняет событие со статусом `pending`.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.Status = domain.OutboxStatusPending
	msg.AttemptCount = 0
	msg.CreatedAt = now
	msg.UpdatedAt = now
	msg.Payload = append([]byte(nil), msg.Payload...)
	r.records[msg.ID] = msg
	return msg, nil
}

// PullPending возвращает до limit самых старых сообщений со статусом `pending`.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	pending := r.AllPending()
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// Stats считает backlog pending-сообщений.
func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, msg := range r.records {
		if msg.Status != domain.OutboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || msg.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = msg.CreatedAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.mark(id, domain.OutboxStatusSent, "")
}

// MarkFailed фиксирует ошибку публикации.
func (r *OutboxRepository) MarkFailed(_ context.Context, id string, reason string) error {
	return r.mark(id, domain.OutboxStatusFailed, reason)
}

func (r *OutboxRepository) mark(id string, status domain.OutboxStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	msg.Status = status
	msg.AttemptCount++
	msg.LastError = reason
	msg.UpdatedAt = time.Now().UTC()
	r.records[id] = msg
	return nil
}

// AllPending возвращает копию всех сообщений со статусом `pending` в порядке создания.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.OutboxMessage, 0, len(r.records))
	for _, msg := range r.records {
		if msg.Status == domain.OutboxStatusPending {
			result = append(result, msg)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
