package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/oms-saga/internal/storage/memory"
	"github.com/vladislavdragonenkov/oms-saga/internal/storage/postgres"
	"github.com/vladislavdragonenkov/oms-saga/internal/storage/redisstore"
)

// migrationSetsFor возвращает наборы миграций, нужные роли.
func migrationSetsFor(role Role) []postgres.MigrationSet {
	switch role {
	case RoleInventory:
		return []postgres.MigrationSet{postgres.InventoryMigrations}
	case RolePayment:
		return []postgres.MigrationSet{postgres.PaymentMigrations}
	case RoleOrders:
		return []postgres.MigrationSet{postgres.OrdersMigrations}
	default:
		return []postgres.MigrationSet{postgres.InventoryMigrations, postgres.PaymentMigrations, postgres.OrdersMigrations}
	}
}

// initRuntimeDependencies открывает хранилища согласно driver и роли.
// При ошибке уже открытые соединения закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *Dependencies, err error) {
	deps = &Dependencies{Logger: logger}
	defer func() {
		if err != nil {
			_ = deps.Close()
			deps = nil
		}
	}()

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		initMemoryRepositories(cfg, deps)
		deps.addChecker("storage", func(context.Context) error { return nil })
	case StorageDriverPostgres:
		if err = initPostgresRepositories(ctx, cfg, deps, logger); err != nil {
			return deps, err
		}
	default:
		return deps, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.Serves(RoleOrders) && cfg.IdempotencyBackend == IdempotencyBackendRedis {
		if err = initRedisIdempotency(ctx, cfg, deps, logger); err != nil {
			return deps, err
		}
	}

	return deps, nil
}

func initMemoryRepositories(cfg Config, deps *Dependencies) {
	if cfg.Serves(RoleInventory) {
		deps.Stock = memory.NewStockRepository()
	}
	if cfg.Serves(RolePayment) {
		deps.Payments = memory.NewPaymentRepository()
	}
	if cfg.Serves(RoleOrders) {
		deps.Orders = memory.NewOrderRepository()
		deps.Outbox = memory.NewOutboxRepository()
		deps.Timeline = memory.NewTimelineRepository()
		deps.Idempotency = memory.NewIdempotencyRepository()
	}
}

func initPostgresRepositories(ctx context.Context, cfg Config, deps *Dependencies, logger *log.Entry) error {
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	deps.onClose(store.Close)

	if cfg.PostgresAutoMigrate {
		sets := migrationSetsFor(cfg.Role)
		if err := store.EnsureSchema(ctx, sets...); err != nil {
			return fmt.Errorf("ensure postgres schema: %w", err)
		}
		logger.WithField("sets", len(sets)).Info("postgres schema is up to date")
	}

	if cfg.Serves(RoleInventory) {
		deps.Stock = postgres.NewStockRepository(store)
	}
	if cfg.Serves(RolePayment) {
		deps.Payments = postgres.NewPaymentRepository(store)
	}
	if cfg.Serves(RoleOrders) {
		deps.Orders = postgres.NewOrderRepository(store)
		deps.Outbox = postgres.NewOutboxRepository(store)
		deps.Timeline = postgres.NewTimelineRepository(store)
		deps.Idempotency = postgres.NewIdempotencyRepository(store)
	}

	deps.addChecker("postgres", store.Ping)
	return nil
}

func initRedisIdempotency(ctx context.Context, cfg Config, deps *Dependencies, logger *log.Entry) error {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	deps.onClose(client.Close)

	if err := redisotel.InstrumentTracing(client); err != nil {
		return fmt.Errorf("instrument redis tracing: %w", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}

	deps.Idempotency = redisstore.NewIdempotencyRepository(client)
	deps.NativeTTL = true
	deps.addChecker("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	logger.WithField("addr", cfg.RedisAddr).Info("redis idempotency backend connected")
	return nil
}
