package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/oms-saga/internal/health"
	"github.com/vladislavdragonenkov/oms-saga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/oms-saga/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/oms-saga/internal/service/grpc"
	"github.com/vladislavdragonenkov/oms-saga/internal/service/idempotency"
	"github.com/vladislavdragonenkov/oms-saga/internal/service/outbox"
	"github.com/vladislavdragonenkov/oms-saga/internal/tracing"
	"github.com/vladislavdragonenkov/oms-saga/internal/version"
)

const (
	gracefulStopTimeout = 5 * time.Second
	tracingStopTimeout  = 5 * time.Second
)

// Run поднимает процесс с сервисами роли и блокируется до отмены ctx или ошибки сервера.
// После отмены возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := NewLogger(cfg)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	var metricsLis net.Listener
	if cfg.MetricsAddr != "" {
		metricsLis, err = net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			_ = grpcLis.Close()
			return fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
		}
	}

	return serve(ctx, cfg, logger, grpcLis, metricsLis)
}

func serve(ctx context.Context, cfg Config, logger *log.Entry, grpcLis, metricsLis net.Listener) error {
	tp := tracing.InitTracerProvider(serviceName(cfg.Role), cfg.TraceSampleRatio, logger)
	defer func() {
		if err := tracing.Shutdown(tp, tracingStopTimeout); err != nil {
			logger.WithError(err).Warn("tracer provider shutdown failed")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		_ = grpcLis.Close()
		closeListener(metricsLis)
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	svc, err := buildServices(cfg, deps, tp)
	if err != nil {
		_ = grpcLis.Close()
		closeListener(metricsLis)
		return err
	}
	defer svc.close(logger)

	producer, err := initKafkaProducer(cfg.KafkaBrokers, tp, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
	}
	defer closeKafka(producer, logger)

	grpcServer, grpcHealth, serviceNames := newGRPCServer(cfg, deps, svc, tp, logger)

	healthHandler := health.NewHandler(version.Version(), health.WithService(serviceName(cfg.Role)))
	for name, checker := range deps.Checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	if metricsLis != nil {
		g.Go(func() error {
			return serveMetrics(gctx, metricsLis, logger, healthHandler)
		})
	}

	startWorkers(gctx, g, cfg, deps, producer, logger)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthHandler.SetDraining(true)
		for _, name := range serviceNames {
			grpcHealth.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
		}
		stopGRPC(grpcServer, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func newGRPCServer(cfg Config, deps *Dependencies, svc *services, tp trace.TracerProvider, logger *log.Entry) (*grpc.Server, *grpchealth.Server, []string) {
	grpcMetrics := registerServerMetrics(logger)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		tracing.UnaryServerInterceptor(tp),
		grpcMetrics.UnaryServerInterceptor(),
	))

	var names []string
	if cfg.Serves(RoleInventory) {
		grpcsvc.RegisterInventoryServiceServer(grpcServer,
			grpcsvc.NewInventoryService(svc.ledger, logger.WithField("layer", "grpc")))
		names = append(names, grpcsvc.InventoryServiceName)
	}
	if cfg.Serves(RolePayment) {
		grpcsvc.RegisterPaymentServiceServer(grpcServer,
			grpcsvc.NewPaymentService(svc.authorizer, logger.WithField("layer", "grpc")))
		names = append(names, grpcsvc.PaymentServiceName)
	}
	if cfg.Serves(RoleOrders) {
		grpcsvc.RegisterOrderServiceServer(grpcServer,
			grpcsvc.NewOrderService(deps.Orders, deps.Timeline, svc.orchestrator, logger.WithField("layer", "grpc")))
		names = append(names, grpcsvc.OrderServiceName)
	}

	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	healthServer := grpchealth.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, name := range names {
		healthServer.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return grpcServer, healthServer, names
}

func registerServerMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}

// startWorkers запускает фоновые воркеры роли orders в группе g.
func startWorkers(ctx context.Context, g *errgroup.Group, cfg Config, deps *Dependencies, producer *kafka.Producer, logger *log.Entry) {
	if !cfg.Serves(RoleOrders) {
		return
	}

	if producer != nil {
		worker := outbox.NewWorker(deps.Outbox, kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents),
			outbox.WithLogger(logger.WithField("component", "outbox")),
			outbox.WithMetrics(metrics.NewOutboxMetrics()),
			outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		g.Go(func() error {
			worker.Run(ctx)
			return nil
		})
	}

	if !deps.NativeTTL {
		cleanup := idempotency.NewCleanupWorker(deps.Idempotency,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
			idempotency.WithMetrics(metrics.NewCleanupMetrics()),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		)
		g.Go(func() error {
			cleanup.Run(ctx)
			return nil
		})
	}
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(gracefulStopTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

func closeListener(lis net.Listener) {
	if lis != nil {
		_ = lis.Close()
	}
}
