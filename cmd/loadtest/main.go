package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/oms-saga/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/oms-saga/internal/service/grpc"
	"github.com/vladislavdragonenkov/oms-saga/internal/version"
)

type loadMode string

const (
	// modeCreate шлёт заказы с уникальными ключами.
	modeCreate loadMode = "create"
	// modeRetry повторяет каждый запрос с тем же ключом и сверяет ID заказа.
	modeRetry loadMode = "retry"
)

type config struct {
	ordersAddr    string
	inventoryAddr string
	total         int
	concurrency   int
	timeout       time.Duration
	mode          loadMode
	sku           string
	stock         int
	quantity      int
	amount        float64
	currency      string
	outputPath    string
}

func parseConfig(args []string, output io.Writer) (config, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		cfg  config
		mode string
	)
	fs.StringVar(&cfg.ordersAddr, "addr", "localhost:50051", "OrderService gRPC address")
	fs.StringVar(&cfg.inventoryAddr, "inventory-addr", "", "InventoryService gRPC address (default: -addr)")
	fs.IntVar(&cfg.total, "total", 400, "number of orders to create")
	fs.IntVar(&cfg.concurrency, "concurrency", 16, "parallel workers")
	fs.DurationVar(&cfg.timeout, "timeout", 3*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", string(modeCreate), "scenario: create|retry")
	fs.StringVar(&cfg.sku, "sku", "", "SKU to order (default: random per run)")
	fs.IntVar(&cfg.stock, "stock", 100, "stock level seeded before the run (0 keeps current level)")
	fs.IntVar(&cfg.quantity, "qty", 1, "quantity per order")
	fs.Float64Var(&cfg.amount, "amount", 10, "order amount")
	fs.StringVar(&cfg.currency, "currency", "USD", "order currency")
	fs.StringVar(&cfg.outputPath, "out", "", "write JSON report to file")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.mode = loadMode(strings.ToLower(strings.TrimSpace(mode)))
	if cfg.inventoryAddr == "" {
		cfg.inventoryAddr = cfg.ordersAddr
	}
	if cfg.sku == "" {
		cfg.sku = "LOAD-" + strings.ToUpper(uuid.NewString()[:8])
	}

	var errs []error
	if cfg.mode != modeCreate && cfg.mode != modeRetry {
		errs = append(errs, fmt.Errorf("unsupported mode %q (use create|retry)", mode))
	}
	if cfg.total <= 0 {
		errs = append(errs, errors.New("total must be > 0"))
	}
	if cfg.concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be > 0"))
	}
	if cfg.timeout <= 0 {
		errs = append(errs, errors.New("timeout must be > 0"))
	}
	if cfg.quantity <= 0 {
		errs = append(errs, errors.New("qty must be > 0"))
	}
	if cfg.stock < 0 || cfg.amount < 0 {
		errs = append(errs, errors.New("stock and amount must not be negative"))
	}
	return cfg, errors.Join(errs...)
}

type orderCreator interface {
	CreateOrder(ctx context.Context, req grpcsvc.CreateOrderRequest) (domain.Order, error)
}

type stockKeeper interface {
	Upsert(ctx context.Context, sku string, quantity int) (domain.StockItem, error)
	Get(ctx context.Context, sku string) (domain.StockItem, error)
}

// outcome классифицирует результат одного CreateOrder.
type outcome string

const (
	outcomeConfirmed    outcome = "confirmed"
	outcomeFailed       outcome = "payment_failed"
	outcomeInsufficient outcome = "insufficient_stock"
	outcomeMismatch     outcome = "retry_mismatch"
	outcomeError        outcome = "error"
)

func classify(order domain.Order, err error) outcome {
	switch {
	case err == nil && order.Status == domain.OrderStatusConfirmed:
		return outcomeConfirmed
	case err == nil:
		return outcomeFailed
	case errors.Is(err, domain.ErrInsufficientStock):
		return outcomeInsufficient
	default:
		return outcomeError
	}
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type report struct {
	StartedAt       time.Time          `json:"started_at"`
	DurationSeconds float64            `json:"duration_seconds"`
	Mode            loadMode           `json:"mode"`
	SKU             string             `json:"sku"`
	Requests        int                `json:"requests"`
	RPS             float64            `json:"rps"`
	Outcomes        map[outcome]int    `json:"outcomes"`
	Errors          map[string]int     `json:"errors,omitempty"`
	LatencyMs       latencySummary     `json:"latency_ms"`
	Stock           *stockVerification `json:"stock,omitempty"`
}

// stockVerification сверяет остаток склада с числом подтверждённых заказов.
type stockVerification struct {
	Seeded     int  `json:"seeded"`
	Remaining  int  `json:"remaining"`
	Expected   int  `json:"expected"`
	Consistent bool `json:"consistent"`
}

type collector struct {
	mu        sync.Mutex
	outcomes  map[outcome]int
	errors    map[string]int
	latencies []float64
}

func newCollector() *collector {
	return &collector{outcomes: make(map[outcome]int), errors: make(map[string]int)}
}

func (c *collector) record(result outcome, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcomes[result]++
	if result == outcomeError && err != nil {
		reason := grpcsvc.ReasonOf(err)
		if reason == "" {
			reason = status.Code(err).String()
		}
		c.errors[reason]++
	}
	c.latencies = append(c.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) report(startedAt time.Time, elapsed time.Duration, cfg config) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Mode:            cfg.mode,
		SKU:             cfg.sku,
		Requests:        len(c.latencies),
		Outcomes:        make(map[outcome]int, len(c.outcomes)),
		Errors:          make(map[string]int, len(c.errors)),
		LatencyMs:       buildLatencySummary(c.latencies),
	}
	for k, v := range c.outcomes {
		r.Outcomes[k] = v
	}
	for k, v := range c.errors {
		r.Errors[k] = v
	}
	if elapsed > 0 {
		r.RPS = float64(r.Requests) / elapsed.Seconds()
	}
	return r
}

func runLoad(ctx context.Context, cfg config, orders orderCreator, stock stockKeeper) (report, error) {
	seeded := cfg.stock
	if cfg.stock > 0 {
		if _, err := stock.Upsert(ctx, cfg.sku, cfg.stock); err != nil {
			return report{}, fmt.Errorf("seed stock: %w", err)
		}
	}
	if item, err := stock.Get(ctx, cfg.sku); err == nil {
		seeded = item.Quantity
	}

	stats := newCollector()
	startedAt := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for i := 0; i < cfg.total; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			runScenario(gctx, cfg, orders, stats, i)
			return nil
		})
	}
	_ = g.Wait()

	result := stats.report(startedAt, time.Since(startedAt), cfg)

	if item, err := stock.Get(ctx, cfg.sku); err == nil {
		expected := seeded - result.Outcomes[outcomeConfirmed]*cfg.quantity
		result.Stock = &stockVerification{
			Seeded:     seeded,
			Remaining:  item.Quantity,
			Expected:   expected,
			Consistent: item.Quantity == expected && item.Quantity >= 0,
		}
	}
	return result, ctx.Err()
}

func runScenario(ctx context.Context, cfg config, orders orderCreator, stats *collector, index int) {
	req := grpcsvc.CreateOrderRequest{
		IdempotencyKey: fmt.Sprintf("load-%s-%d", cfg.sku, index),
		SKU:            cfg.sku,
		Quantity:       cfg.quantity,
		Amount:         cfg.amount,
		Currency:       cfg.currency,
	}

	first, err := createOnce(ctx, cfg, orders, req, stats)
	if cfg.mode != modeRetry || err != nil {
		return
	}

	started := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	again, err := orders.CreateOrder(callCtx, req)
	cancel()
	if err == nil && again.ID != first.ID {
		stats.record(outcomeMismatch, time.Since(started), nil)
		return
	}
	stats.record(classify(again, err), time.Since(started), err)
}

func createOnce(ctx context.Context, cfg config, orders orderCreator, req grpcsvc.CreateOrderRequest, stats *collector) (domain.Order, error) {
	started := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	order, err := orders.CreateOrder(callCtx, req)
	stats.record(classify(order, err), time.Since(started), err)
	return order, err
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile использует nearest-rank по отсортированной выборке.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	rank = min(max(rank, 1), len(sorted))
	return sorted[rank-1]
}

func writeJSONReport(path string, result report) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

func printReport(w io.Writer, result report) {
	_, _ = fmt.Fprintf(w, "mode=%s sku=%s requests=%d duration=%.2fs rps=%.1f\n",
		result.Mode, result.SKU, result.Requests, result.DurationSeconds, result.RPS)
	for _, key := range []outcome{outcomeConfirmed, outcomeFailed, outcomeInsufficient, outcomeMismatch, outcomeError} {
		_, _ = fmt.Fprintf(w, "  %-18s %d\n", key, result.Outcomes[key])
	}
	for reason, count := range result.Errors {
		_, _ = fmt.Fprintf(w, "  error[%s] %d\n", reason, count)
	}
	l := result.LatencyMs
	_, _ = fmt.Fprintf(w, "latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n", l.Min, l.Avg, l.P50, l.P95, l.P99, l.Max)
	if s := result.Stock; s != nil {
		_, _ = fmt.Fprintf(w, "stock: seeded=%d remaining=%d expected=%d consistent=%t\n", s.Seeded, s.Remaining, s.Expected, s.Consistent)
	}
}

func dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUserAgent(version.UserAgent("loadtest")),
		grpc.WithDefaultCallOptions(grpcsvc.CallOption()),
	)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := parseConfig(args, stderr)
	if err != nil {
		return err
	}

	ordersConn, err := dial(cfg.ordersAddr)
	if err != nil {
		return fmt.Errorf("dial orders: %w", err)
	}
	defer ordersConn.Close()

	inventoryConn := ordersConn
	if cfg.inventoryAddr != cfg.ordersAddr {
		inventoryConn, err = dial(cfg.inventoryAddr)
		if err != nil {
			return fmt.Errorf("dial inventory: %w", err)
		}
		defer inventoryConn.Close()
	}

	result, err := runLoad(ctx, cfg, grpcsvc.NewOrderClient(ordersConn), grpcsvc.NewInventoryClient(inventoryConn, cfg.timeout))
	if err != nil && result.Requests == 0 {
		return err
	}

	printReport(stdout, result)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return err
		}
	}
	if result.Stock != nil && !result.Stock.Consistent {
		return errors.New("stock level does not match confirmed orders")
	}
	if result.Outcomes[outcomeMismatch] > 0 {
		return errors.New("idempotent retries returned different orders")
	}
	return nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		_, _ = fmt.Fprintf(os.Stderr, "loadtest failed: %v\n", err)
		os.Exit(1)
	}
}
