package app

import (
	"fmt"
	"strings"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
	"github.com/vladislavdragonenkov/oms-saga/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/oms-saga/internal/service/grpc"
	"github.com/vladislavdragonenkov/oms-saga/internal/service/inventory"
	"github.com/vladislavdragonenkov/oms-saga/internal/service/payment"
	"github.com/vladislavdragonenkov/oms-saga/internal/service/saga"
	"github.com/vladislavdragonenkov/oms-saga/internal/tracing"
	"github.com/vladislavdragonenkov/oms-saga/internal/version"
)

// services собирает бизнес-компоненты процесса поверх Dependencies.
type services struct {
	ledger       *inventory.Ledger
	authorizer   *payment.Authorizer
	orchestrator saga.Orchestrator

	conns []*grpc.ClientConn
}

func (s *services) close(logger *log.Entry) {
	for _, cc := range s.conns {
		if err := cc.Close(); err != nil {
			logger.WithError(err).Warn("failed to close upstream connection")
		}
	}
	s.conns = nil
}

func buildServices(cfg Config, deps *Dependencies, tp trace.TracerProvider) (*services, error) {
	svc := &services{}

	if cfg.Serves(RoleInventory) {
		svc.ledger = inventory.NewLedger(deps.Stock,
			inventory.WithLogger(deps.Logger.WithField("component", "inventory")),
			inventory.WithMetrics(metrics.NewLedgerMetrics()),
		)
	}

	if cfg.Serves(RolePayment) {
		policy, err := buildPaymentPolicy(cfg)
		if err != nil {
			return nil, err
		}
		svc.authorizer = payment.NewAuthorizer(deps.Payments,
			payment.WithPolicy(policy),
			payment.WithLogger(deps.Logger.WithField("component", "payment")),
			payment.WithMetrics(metrics.NewPaymentMetrics()),
		)
	}

	if cfg.Serves(RoleOrders) {
		inventorySvc, paymentSvc, err := svc.upstreams(cfg, tp)
		if err != nil {
			svc.close(deps.Logger)
			return nil, err
		}
		svc.orchestrator = createOrchestrator(cfg, deps, inventorySvc, paymentSvc, tp)
	}

	return svc, nil
}

// upstreams возвращает склад и оплату для оркестратора: локальные компоненты
// в режиме all, gRPC-клиенты в режиме orders.
func (s *services) upstreams(cfg Config, tp trace.TracerProvider) (domain.InventoryService, domain.PaymentService, error) {
	if cfg.Role == RoleAll {
		return s.ledger, s.authorizer, nil
	}

	inventoryConn, err := dialUpstream(cfg.InventoryAddr, "orders", tp)
	if err != nil {
		return nil, nil, fmt.Errorf("dial inventory %s: %w", cfg.InventoryAddr, err)
	}
	s.conns = append(s.conns, inventoryConn)

	paymentConn, err := dialUpstream(cfg.PaymentAddr, "orders", tp)
	if err != nil {
		return nil, nil, fmt.Errorf("dial payment %s: %w", cfg.PaymentAddr, err)
	}
	s.conns = append(s.conns, paymentConn)

	return grpcsvc.NewInventoryClient(inventoryConn, cfg.UpstreamTimeout),
		grpcsvc.NewPaymentClient(paymentConn, cfg.UpstreamTimeout),
		nil
}

func dialUpstream(addr, service string, tp trace.TracerProvider) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUserAgent(version.UserAgent(service)),
		grpc.WithDefaultCallOptions(grpcsvc.CallOption()),
		grpc.WithChainUnaryInterceptor(
			tracing.UnaryClientInterceptor(tp),
			promgrpc.UnaryClientInterceptor,
		),
	)
}

func buildPaymentPolicy(cfg Config) (payment.Policy, error) {
	if expr := strings.TrimSpace(cfg.PaymentPolicy); expr != "" {
		policy, err := payment.NewExpressionPolicy(expr)
		if err != nil {
			return nil, fmt.Errorf("payment policy: %w", err)
		}
		return policy, nil
	}
	return payment.NewThresholdPolicy(cfg.PaymentLimit), nil
}

// createOrchestrator собирает сагу с идемпотентностью, таймлайном и outbox.
func createOrchestrator(
	cfg Config,
	deps *Dependencies,
	inventorySvc domain.InventoryService,
	paymentSvc domain.PaymentService,
	tp trace.TracerProvider,
) saga.Orchestrator {
	return saga.NewOrchestrator(
		deps.Orders,
		inventorySvc,
		paymentSvc,
		saga.WithLogger(deps.Logger.WithField("component", "saga")),
		saga.WithMetrics(metrics.NewSagaMetrics()),
		saga.WithIdempotency(deps.Idempotency, cfg.IdempotencyTTL),
		saga.WithTimeline(deps.Timeline),
		saga.WithOutbox(deps.Outbox),
		saga.WithTracerProvider(tp),
		saga.WithCompensationTimeout(cfg.UpstreamTimeout),
	)
}
