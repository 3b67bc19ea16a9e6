package grpcsvc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
)

// DefaultUpstreamTimeout ограничивает один вызов соседнего сервиса.
const DefaultUpstreamTimeout = 5 * time.Second

type upstream struct {
	cc      grpc.ClientConnInterface
	timeout time.Duration
}

func newUpstream(cc grpc.ClientConnInterface, timeout time.Duration) upstream {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	return upstream{cc: cc, timeout: timeout}
}

func (u upstream) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, u.timeout)
}

// InventoryClient реализует domain.InventoryService поверх gRPC.
// Ошибки сервера переводятся обратно в доменные по ErrorInfo.Reason.
type InventoryClient struct {
	upstream
}

func NewInventoryClient(cc grpc.ClientConnInterface, timeout time.Duration) *InventoryClient {
	return &InventoryClient{upstream: newUpstream(cc, timeout)}
}

func (c *InventoryClient) Reserve(ctx context.Context, sku string, quantity int) (domain.ReservationReceipt, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := invoke[ReserveResponse](ctx, c.cc, inventoryMethodReserve, &ReserveRequest{SKU: sku, Quantity: quantity})
	if err != nil {
		return domain.ReservationReceipt{}, fromStatus(err, "inventory reserve")
	}
	return domain.ReservationReceipt{
		ReservationID:     resp.ReservationID,
		SKU:               resp.SKU,
		Quantity:          resp.Quantity,
		RemainingQuantity: resp.RemainingQuantity,
	}, nil
}

func (c *InventoryClient) Release(ctx context.Context, reservationID string) (domain.ReleaseReceipt, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := invoke[ReleaseResponse](ctx, c.cc, inventoryMethodRelease, &ReleaseRequest{ReservationID: reservationID})
	if err != nil {
		return domain.ReleaseReceipt{}, fromStatus(err, "inventory release")
	}
	return domain.ReleaseReceipt{ReservationID: resp.ReservationID, SKU: resp.SKU}, nil
}

func (c *InventoryClient) Upsert(ctx context.Context, sku string, quantity int) (domain.StockItem, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := invoke[StockItem](ctx, c.cc, inventoryMethodUpsert, &UpsertStockRequest{SKU: sku, Quantity: quantity})
	if err != nil {
		return domain.StockItem{}, fromStatus(err, "inventory upsert")
	}
	return fromStockItem(*resp), nil
}

func (c *InventoryClient) Get(ctx context.Context, sku string) (domain.StockItem, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := invoke[StockItem](ctx, c.cc, inventoryMethodGetItem, &GetItemRequest{SKU: sku})
	if err != nil {
		return domain.StockItem{}, fromStatus(err, "inventory get item")
	}
	return fromStockItem(*resp), nil
}

func (c *InventoryClient) List(ctx context.Context) ([]domain.StockItem, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := invoke[ListItemsResponse](ctx, c.cc, inventoryMethodListItems, &ListItemsRequest{})
	if err != nil {
		return nil, fromStatus(err, "inventory list items")
	}
	items := make([]domain.StockItem, 0, len(resp.Items))
	for _, item := range resp.Items {
		items = append(items, fromStockItem(item))
	}
	return items, nil
}

// PaymentClient реализует domain.PaymentService поверх gRPC.
type PaymentClient struct {
	upstream
}

func NewPaymentClient(cc grpc.ClientConnInterface, timeout time.Duration) *PaymentClient {
	return &PaymentClient{upstream: newUpstream(cc, timeout)}
}

func (c *PaymentClient) Authorize(ctx context.Context, orderReference string, amount float64, currency string) (domain.PaymentDecision, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := invoke[AuthorizeResponse](ctx, c.cc, paymentMethodAuthorize, &AuthorizeRequest{
		OrderReference: orderReference,
		Amount:         amount,
		Currency:       currency,
	})
	if err != nil {
		return domain.PaymentDecision{}, fromStatus(err, "payment authorize")
	}
	return domain.PaymentDecision{PaymentID: resp.PaymentID, Authorized: resp.Authorized}, nil
}

func (c *PaymentClient) Get(ctx context.Context, paymentID string) (domain.Payment, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := invoke[Payment](ctx, c.cc, paymentMethodGetPayment, &GetPaymentRequest{PaymentID: paymentID})
	if err != nil {
		return domain.Payment{}, fromStatus(err, "payment get")
	}
	return domain.Payment{
		ID:             resp.ID,
		OrderReference: resp.OrderReference,
		Amount:         resp.Amount,
		Currency:       resp.Currency,
		Authorized:     resp.Authorized,
		CreatedAt:      resp.CreatedAt,
	}, nil
}

// OrderClient: клиент API заказов для инструментов (loadtest) и тестов.
type OrderClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderClient(cc grpc.ClientConnInterface) *OrderClient {
	return &OrderClient{cc: cc}
}

// CreateOrder передаёт ключ и в поле запроса, и в заголовке idempotency-key.
func (c *OrderClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	if req.IdempotencyKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, IdempotencyKeyHeader, req.IdempotencyKey)
	}
	resp, err := invoke[Order](ctx, c.cc, orderMethodCreateOrder, &req)
	if err != nil {
		return domain.Order{}, fromStatus(err, "create order")
	}
	return fromOrder(*resp), nil
}

func (c *OrderClient) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	resp, err := invoke[Order](ctx, c.cc, orderMethodGetOrder, &GetOrderRequest{OrderID: orderID})
	if err != nil {
		return domain.Order{}, fromStatus(err, "get order")
	}
	return fromOrder(*resp), nil
}

func (c *OrderClient) ListOrders(ctx context.Context) ([]domain.Order, error) {
	resp, err := invoke[ListOrdersResponse](ctx, c.cc, orderMethodListOrders, &ListOrdersRequest{})
	if err != nil {
		return nil, fromStatus(err, "list orders")
	}
	orders := make([]domain.Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		orders = append(orders, fromOrder(o))
	}
	return orders, nil
}

func (c *OrderClient) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	resp, err := invoke[GetTimelineResponse](ctx, c.cc, orderMethodGetTimeline, &GetOrderRequest{OrderID: orderID})
	if err != nil {
		return nil, fromStatus(err, "get order timeline")
	}
	events := make([]domain.TimelineEvent, 0, len(resp.Events))
	for _, ev := range resp.Events {
		events = append(events, domain.TimelineEvent{
			OrderID:  resp.OrderID,
			Type:     ev.Type,
			Reason:   ev.Reason,
			Occurred: time.Unix(ev.UnixTime, 0).UTC(),
		})
	}
	return events, nil
}

func fromStockItem(item StockItem) domain.StockItem {
	return domain.StockItem{SKU: item.SKU, Quantity: item.Quantity, Reserved: item.Reserved, UpdatedAt: item.UpdatedAt}
}

func fromOrder(o Order) domain.Order {
	return domain.Order{
		ID:             o.ID,
		IdempotencyKey: o.IdempotencyKey,
		SKU:            o.SKU,
		Quantity:       o.Quantity,
		Amount:         o.Amount,
		Currency:       o.Currency,
		Status:         domain.OrderStatus(o.Status),
		PaymentStatus:  domain.PaymentStatus(o.PaymentStatus),
		CreatedAt:      o.CreatedAt,
	}
}

var (
	_ domain.InventoryService = (*InventoryClient)(nil)
	_ domain.PaymentService   = (*PaymentClient)(nil)
	_ Ledger                  = (*InventoryClient)(nil)
	_ Authorizer              = (*PaymentClient)(nil)
)
