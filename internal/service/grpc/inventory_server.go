package grpcsvc

import (
	"context"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
)

const (
	InventoryServiceName = "oms.v1.InventoryService"

	inventoryMethodUpsert    = "/oms.v1.InventoryService/Upsert"
	inventoryMethodGetItem   = "/oms.v1.InventoryService/GetItem"
	inventoryMethodListItems = "/oms.v1.InventoryService/ListItems"
	inventoryMethodReserve   = "/oms.v1.InventoryService/Reserve"
	inventoryMethodRelease   = "/oms.v1.InventoryService/Release"
)

// InventoryServiceServer: серверный контракт складского сервиса.
type InventoryServiceServer interface {
	Upsert(context.Context, *UpsertStockRequest) (*StockItem, error)
	GetItem(context.Context, *GetItemRequest) (*StockItem, error)
	ListItems(context.Context, *ListItemsRequest) (*ListItemsResponse, error)
	Reserve(context.Context, *ReserveRequest) (*ReserveResponse, error)
	Release(context.Context, *ReleaseRequest) (*ReleaseResponse, error)
}

var InventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: InventoryServiceName,
	HandlerType: (*InventoryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Upsert", Handler: unary(inventoryMethodUpsert, InventoryServiceServer.Upsert)},
		{MethodName: "GetItem", Handler: unary(inventoryMethodGetItem, InventoryServiceServer.GetItem)},
		{MethodName: "ListItems", Handler: unary(inventoryMethodListItems, InventoryServiceServer.ListItems)},
		{MethodName: "Reserve", Handler: unary(inventoryMethodReserve, InventoryServiceServer.Reserve)},
		{MethodName: "Release", Handler: unary(inventoryMethodRelease, InventoryServiceServer.Release)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "oms/v1/inventory",
}

func RegisterInventoryServiceServer(s grpc.ServiceRegistrar, srv InventoryServiceServer) {
	s.RegisterService(&InventoryServiceDesc, srv)
}

// Ledger: то, что складскому серверу нужно от ledger.
type Ledger interface {
	domain.InventoryService
	Upsert(ctx context.Context, sku string, quantity int) (domain.StockItem, error)
	Get(ctx context.Context, sku string) (domain.StockItem, error)
	List(ctx context.Context) ([]domain.StockItem, error)
}

// InventoryService отдаёт ledger по gRPC.
type InventoryService struct {
	ledger Ledger
	logger *log.Entry
}

func NewInventoryService(ledger Ledger, logger *log.Entry) *InventoryService {
	if logger == nil {
		logger = log.New().WithField("component", "inventory-grpc")
	}
	return &InventoryService{ledger: ledger, logger: logger}
}

func (s *InventoryService) Upsert(ctx context.Context, req *UpsertStockRequest) (*StockItem, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	item, err := s.ledger.Upsert(ctx, req.SKU, req.Quantity)
	if err != nil {
		return nil, s.fail(err, "Upsert", "failed to upsert stock item")
	}
	out := toStockItem(item)
	return &out, nil
}

func (s *InventoryService) GetItem(ctx context.Context, req *GetItemRequest) (*StockItem, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	item, err := s.ledger.Get(ctx, req.SKU)
	if err != nil {
		return nil, s.fail(err, "GetItem", "failed to load stock item")
	}
	out := toStockItem(item)
	return &out, nil
}

func (s *InventoryService) ListItems(ctx context.Context, _ *ListItemsRequest) (*ListItemsResponse, error) {
	items, err := s.ledger.List(ctx)
	if err != nil {
		return nil, s.fail(err, "ListItems", "failed to list stock items")
	}
	result := make([]StockItem, 0, len(items))
	for _, item := range items {
		result = append(result, toStockItem(item))
	}
	return &ListItemsResponse{Items: result}, nil
}

func (s *InventoryService) Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	receipt, err := s.ledger.Reserve(ctx, req.SKU, req.Quantity)
	if err != nil {
		return nil, s.fail(err, "Reserve", "failed to reserve stock")
	}
	return &ReserveResponse{
		ReservationID:     receipt.ReservationID,
		SKU:               receipt.SKU,
		Quantity:          receipt.Quantity,
		RemainingQuantity: receipt.RemainingQuantity,
	}, nil
}

func (s *InventoryService) Release(ctx context.Context, req *ReleaseRequest) (*ReleaseResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	receipt, err := s.ledger.Release(ctx, req.ReservationID)
	if err != nil {
		return nil, s.fail(err, "Release", "failed to release reservation")
	}
	return &ReleaseResponse{Released: true, ReservationID: receipt.ReservationID, SKU: receipt.SKU}, nil
}

func (s *InventoryService) fail(err error, operation, internalMsg string) error {
	st := toStatus(err, internalMsg)
	if status.Code(st) == codes.Internal {
		s.logger.WithError(err).WithField("operation", operation).Error("inventory call failed")
	}
	return st
}

var _ InventoryServiceServer = (*InventoryService)(nil)
