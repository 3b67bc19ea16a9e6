package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/oms-saga/internal/service/grpc"
)

type runningProcess struct {
	grpcAddr    string
	metricsAddr string
	cancel      context.CancelFunc
	done        chan error
}

func listenLocal(t *testing.T) net.Listener {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return lis
}

// startProcess запускает serve на свободных портах и останавливает его в t.Cleanup.
func startProcess(t *testing.T, cfg Config) *runningProcess {
	t.Helper()
	grpcLis := listenLocal(t)
	metricsLis := listenLocal(t)

	ctx, cancel := context.WithCancel(context.Background())
	proc := &runningProcess{
		grpcAddr:    grpcLis.Addr().String(),
		metricsAddr: metricsLis.Addr().String(),
		cancel:      cancel,
		done:        make(chan error, 1),
	}
	go func() {
		proc.done <- serve(ctx, cfg, NewLogger(cfg), grpcLis, metricsLis)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-proc.done:
		case <-time.After(10 * time.Second):
			t.Error("process did not stop")
		}
	})
	return proc
}

func (p *runningProcess) stop(t *testing.T) error {
	t.Helper()
	p.cancel()
	select {
	case err := <-p.done:
		p.done <- err
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("process did not stop")
		return nil
	}
}

func dial(t *testing.T, addr string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpcsvc.CallOption()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func testConfig(role Role) Config {
	cfg := DefaultConfig()
	cfg.Role = role
	cfg.LogLevel = "error"
	return cfg
}

func TestServe_AllRoleRunsSaga(t *testing.T) {
	proc := startProcess(t, testConfig(RoleAll))
	conn := dial(t, proc.grpcAddr)
	ctx := context.Background()

	_, err := grpcsvc.NewInventoryClient(conn, time.Second).Upsert(ctx, "SKU-1", 5)
	require.NoError(t, err)

	orders := grpcsvc.NewOrderClient(conn)
	confirmed, err := orders.CreateOrder(ctx, grpcsvc.CreateOrderRequest{
		IdempotencyKey: "key-1", SKU: "SKU-1", Quantity: 2, Amount: 100, Currency: "USD",
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, confirmed.Status)

	denied, err := orders.CreateOrder(ctx, grpcsvc.CreateOrderRequest{
		IdempotencyKey: "key-2", SKU: "SKU-1", Quantity: 1, Amount: 1500, Currency: "USD",
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFailed, denied.Status)

	item, err := grpcsvc.NewInventoryClient(conn, time.Second).Get(ctx, "SKU-1")
	require.NoError(t, err)
	require.Equal(t, 3, item.Quantity)

	_, err = orders.CreateOrder(ctx, grpcsvc.CreateOrderRequest{
		IdempotencyKey: "key-3", SKU: "SKU-1", Quantity: 10, Amount: 1, Currency: "USD",
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcsvc.OrderServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, health.GetStatus())

	require.ErrorIs(t, proc.stop(t), context.Canceled)
}

func TestServe_SplitRolesTalkOverGRPC(t *testing.T) {
	inventoryProc := startProcess(t, testConfig(RoleInventory))
	paymentProc := startProcess(t, testConfig(RolePayment))

	ordersCfg := testConfig(RoleOrders)
	ordersCfg.InventoryAddr = inventoryProc.grpcAddr
	ordersCfg.PaymentAddr = paymentProc.grpcAddr
	ordersProc := startProcess(t, ordersCfg)

	ctx := context.Background()
	_, err := grpcsvc.NewInventoryClient(dial(t, inventoryProc.grpcAddr), time.Second).Upsert(ctx, "SKU-9", 1)
	require.NoError(t, err)

	orders := grpcsvc.NewOrderClient(dial(t, ordersProc.grpcAddr))
	order, err := orders.CreateOrder(ctx, grpcsvc.CreateOrderRequest{
		IdempotencyKey: "split-1", SKU: "SKU-9", Quantity: 1, Amount: 10, Currency: "EUR",
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, order.Status)
	require.Equal(t, domain.PaymentStatusSucceeded, order.PaymentStatus)

	item, err := grpcsvc.NewInventoryClient(dial(t, inventoryProc.grpcAddr), time.Second).Get(ctx, "SKU-9")
	require.NoError(t, err)
	require.Equal(t, 0, item.Quantity)

	again, err := orders.CreateOrder(ctx, grpcsvc.CreateOrderRequest{
		IdempotencyKey: "split-1", SKU: "SKU-9", Quantity: 1, Amount: 10, Currency: "EUR",
	})
	require.NoError(t, err)
	require.Equal(t, order.ID, again.ID)
}

func TestServe_InventoryRoleDoesNotExposeOrders(t *testing.T) {
	proc := startProcess(t, testConfig(RoleInventory))
	conn := dial(t, proc.grpcAddr)

	_, err := grpcsvc.NewOrderClient(conn).ListOrders(context.Background())
	require.Error(t, err)
}

func TestServe_HTTPEndpoints(t *testing.T) {
	proc := startProcess(t, testConfig(RoleAll))

	for _, path := range []string{"/livez", "/readyz", "/healthz", "/metrics"} {
		resp, err := http.Get("http://" + proc.metricsAddr + path)
		require.NoError(t, err, path)
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "sqlite"

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid config")
}

func TestRun_ListenError(t *testing.T) {
	busy := listenLocal(t)
	t.Cleanup(func() { _ = busy.Close() })

	cfg := testConfig(RoleAll)
	cfg.GRPCAddr = busy.Addr().String()

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
}
