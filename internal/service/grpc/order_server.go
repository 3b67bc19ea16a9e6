package grpcsvc

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
	"github.com/vladislavdragonenkov/oms-saga/internal/service/saga"
)

const (
	OrderServiceName = "oms.v1.OrderService"

	orderMethodCreateOrder = "/oms.v1.OrderService/CreateOrder"
	orderMethodGetOrder    = "/oms.v1.OrderService/GetOrder"
	orderMethodListOrders  = "/oms.v1.OrderService/ListOrders"
	orderMethodGetTimeline = "/oms.v1.OrderService/GetOrderTimeline"

	// IdempotencyKeyHeader: заголовок metadata с ключом идемпотентности.
	IdempotencyKeyHeader = "idempotency-key"
)

// OrderServiceServer: серверный контракт сервиса заказов.
type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*Order, error)
	GetOrder(context.Context, *GetOrderRequest) (*Order, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	GetOrderTimeline(context.Context, *GetOrderRequest) (*GetTimelineResponse, error)
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: OrderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: unary(orderMethodCreateOrder, OrderServiceServer.CreateOrder)},
		{MethodName: "GetOrder", Handler: unary(orderMethodGetOrder, OrderServiceServer.GetOrder)},
		{MethodName: "ListOrders", Handler: unary(orderMethodListOrders, OrderServiceServer.ListOrders)},
		{MethodName: "GetOrderTimeline", Handler: unary(orderMethodGetTimeline, OrderServiceServer.GetOrderTimeline)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "oms/v1/order",
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

// OrderService реализует gRPC API заказов поверх оркестратора саги.
type OrderService struct {
	orders       domain.OrderRepository
	timeline     domain.TimelineRepository
	orchestrator saga.Orchestrator
	logger       *log.Entry
}

// NewOrderService конструирует сервис с зависимостями.
func NewOrderService(
	orders domain.OrderRepository,
	timeline domain.TimelineRepository,
	orchestrator saga.Orchestrator,
	logger *log.Entry,
) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "order-grpc")
	}
	return &OrderService{
		orders:       orders,
		timeline:     timeline,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// CreateOrder запускает сагу. Ключ берётся из поля запроса, иначе из заголовка idempotency-key.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*Order, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = readIdempotencyKey(ctx)
	}

	order, err := s.orchestrator.CreateOrder(ctx, domain.OrderRequest{
		IdempotencyKey: key,
		SKU:            req.SKU,
		Quantity:       req.Quantity,
		Amount:         req.Amount,
		Currency:       req.Currency,
	})
	if err != nil {
		st := toStatus(err, "failed to create order")
		if status.Code(st) == codes.Internal {
			s.logger.WithError(err).WithField("idempotency_key", key).Error("create order failed")
		}
		return nil, st
	}

	out := toOrder(order)
	return &out, nil
}

func (s *OrderService) GetOrder(ctx context.Context, req *GetOrderRequest) (*Order, error) {
	order, err := s.loadOrder(ctx, req, "GetOrder")
	if err != nil {
		return nil, err
	}
	out := toOrder(order)
	return &out, nil
}

func (s *OrderService) ListOrders(ctx context.Context, _ *ListOrdersRequest) (*ListOrdersResponse, error) {
	orders, err := s.orders.List(ctx)
	if err != nil {
		s.logger.WithError(err).Error("failed to list orders")
		return nil, status.Error(codes.Internal, "failed to list orders")
	}

	result := make([]Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, toOrder(order))
	}
	return &ListOrdersResponse{Orders: result}, nil
}

// GetOrderTimeline возвращает переходы саги сохранённого заказа.
func (s *OrderService) GetOrderTimeline(ctx context.Context, req *GetOrderRequest) (*GetTimelineResponse, error) {
	order, err := s.loadOrder(ctx, req, "GetOrderTimeline")
	if err != nil {
		return nil, err
	}

	resp := &GetTimelineResponse{OrderID: order.ID, Events: []TimelineEvent{}}
	if s.timeline == nil {
		return resp, nil
	}
	events, err := s.timeline.List(ctx, order.ID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to list timeline events")
		return nil, status.Error(codes.Internal, "failed to list timeline")
	}
	for _, event := range events {
		resp.Events = append(resp.Events, TimelineEvent{
			Type:     event.Type,
			Reason:   event.Reason,
			UnixTime: event.Occurred.Unix(),
		})
	}
	return resp, nil
}

func (s *OrderService) loadOrder(ctx context.Context, req *GetOrderRequest, operation string) (domain.Order, error) {
	if req == nil || strings.TrimSpace(req.OrderID) == "" {
		return domain.Order{}, withReason(codes.InvalidArgument, domain.ErrOrderIDRequired.Error(), ReasonValidationFailed)
	}

	order, err := s.orders.Get(ctx, req.OrderID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		s.logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"order_id":  req.OrderID,
		}).Warn("failed to load order")
	}
	return domain.Order{}, toStatus(err, "failed to load order")
}

func readIdempotencyKey(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(IdempotencyKeyHeader)
		if len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

var _ OrderServiceServer = (*OrderService)(nil)
