// Package redisstore хранит заявки идемпотентности в Redis.
// Истечение TTL обеспечивает сам Redis, поэтому фоновая очистка не нужна.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
)

const (
	DefaultKeyPrefix = "oms:idempotency:"
	defaultTTL       = 24 * time.Hour
)

// Client: минимальная поверхность go-redis, которую использует хранилище.
type Client interface {
	redis.Scripter
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// Ключ свободен, если его нет (в том числе истёк) или заявка провалена.
var claimScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status and status ~= 'failed' then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1],
  'request_hash', ARGV[1],
  'order_id', '',
  'status', 'processing',
  'ttl_at', ARGV[3],
  'created_at', ARGV[2],
  'updated_at', ARGV[2])
redis.call('PEXPIREAT', KEYS[1], ARGV[3])
return 1
`)

var markScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[3])
if ARGV[2] ~= '' then
  redis.call('HSET', KEYS[1], 'order_id', ARGV[2])
end
return 1
`)

type idempotencyRepository struct {
	client Client
	prefix string
	now    func() time.Time
}

// Option настраивает репозиторий.
type Option func(*idempotencyRepository)

func WithKeyPrefix(prefix string) Option {
	return func(r *idempotencyRepository) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *idempotencyRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewIdempotencyRepository создаёт Redis-реализацию domain.IdempotencyRepository.
func NewIdempotencyRepository(client Client, opts ...Option) domain.IdempotencyRepository {
	r := &idempotencyRepository{
		client: client,
		prefix: DefaultKeyPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultTTL)
	}

	claimed, err := claimScript.Run(ctx, r.client, []string{r.prefix + key},
		requestHash, formatTime(now), strconv.FormatInt(ttlAt.UnixMilli(), 10),
	).Int()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}
	if claimed == 1 {
		return domain.IdempotencyRecord{
			Key:         key,
			RequestHash: requestHash,
			Status:      domain.IdempotencyStatusProcessing,
			TTLAt:       time.UnixMilli(ttlAt.UnixMilli()).UTC(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}, nil
	}

	existing, getErr := r.Get(ctx, key)
	if getErr != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	fields, err := r.client.HGetAll(ctx, r.prefix+key).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	if len(fields) == 0 {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRecordNotFound
	}
	return decodeRecord(key, fields)
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key, orderID string) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, orderID)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, "")
}

// DeleteExpired ничего не делает: Redis удаляет ключи сам по PEXPIREAT.
func (r *idempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (r *idempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, orderID string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	updated, err := markScript.Run(ctx, r.client, []string{r.prefix + key},
		string(status), strings.TrimSpace(orderID), formatTime(r.now()),
	).Int()
	if err != nil {
		return fmt.Errorf("mark idempotency record as %s: %w", status, err)
	}
	if updated == 0 {
		return domain.ErrIdempotencyRecordNotFound
	}
	return nil
}

func decodeRecord(key string, fields map[string]string) (domain.IdempotencyRecord, error) {
	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: fields["request_hash"],
		OrderID:     fields["order_id"],
		Status:      domain.IdempotencyStatus(fields["status"]),
	}
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q", fields["status"])
	}

	ttlMillis, err := strconv.ParseInt(fields["ttl_at"], 10, 64)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("parse ttl_at: %w", err)
	}
	record.TTLAt = time.UnixMilli(ttlMillis).UTC()

	if record.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("parse created_at: %w", err)
	}
	if record.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return record, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(time.RFC3339Nano, value)
}
