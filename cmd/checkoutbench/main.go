package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/d60-Lab/marketplace/config"
	"github.com/d60-Lab/marketplace/internal/delivery"
	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/internal/service"
	"github.com/d60-Lab/marketplace/pkg/database"
)

type benchOptions struct {
	useConfig  bool
	buyers     int
	products   int
	stock      int
	workers    int
	attempts   int
	maxQty     int
	cancelRate float64
}

// BenchResult 单场景压测结果
type BenchResult struct {
	Name       string
	Duration   time.Duration
	Total      int64
	Placed     int64
	OutOfStock int64
	Cancelled  int64
	Failed     int64
	QPS        float64
	AvgLatency time.Duration
	P50Latency time.Duration
	P95Latency time.Duration
	P99Latency time.Duration
}

func main() {
	var opts benchOptions
	cmd := &cobra.Command{
		Use:   "checkoutbench",
		Short: "Concurrent checkout against limited stock; fails if any product is oversold",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.useConfig, "use-config", false, "use the database from config instead of a temp sqlite file")
	f.IntVar(&opts.buyers, "buyers", 200, "number of buyers")
	f.IntVar(&opts.products, "products", 5, "number of contended products")
	f.IntVar(&opts.stock, "stock", 50, "initial stock per product")
	f.IntVar(&opts.workers, "workers", 32, "concurrent checkouts")
	f.IntVar(&opts.attempts, "attempts", 2000, "total checkout attempts")
	f.IntVar(&opts.maxQty, "max-qty", 3, "max quantity per line")
	f.Float64Var(&opts.cancelRate, "cancel-rate", 0.1, "fraction of placed orders cancelled right away")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts benchOptions) error {
	db, cleanup, err := openDB(opts.useConfig)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := database.AutoMigrate(db); err != nil {
		return err
	}

	stores := service.NewStores(db)
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	orders := service.NewOrderService(db, stores, delivery.NewCalculator(cfg.Delivery), nil)

	fmt.Println("===== 并发下单压测 =====")
	fmt.Printf("买家: %d  商品: %d  初始库存: %d  并发: %d  请求: %d\n\n",
		opts.buyers, opts.products, opts.stock, opts.workers, opts.attempts)

	seller, buyers, products, err := seed(ctx, stores, opts)
	if err != nil {
		return err
	}

	res := benchCheckout(ctx, orders, seller, buyers, products, opts)
	printBenchResult(res)

	return verifyStock(ctx, db, products, opts.stock)
}

func openDB(useConfig bool) (*gorm.DB, func(), error) {
	if useConfig {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		db, err := database.InitDB(cfg)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = database.Close(db) }, nil
	}
	dir, err := os.MkdirTemp("", "checkoutbench")
	if err != nil {
		return nil, nil, err
	}
	db, err := database.OpenSQLite(filepath.Join(dir, "bench.db"))
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = database.Close(db); _ = os.RemoveAll(dir) }, nil
}

func seed(ctx context.Context, stores service.Stores, opts benchOptions) (string, []service.Actor, []*model.Product, error) {
	seller := &model.User{ID: uuid.New().String(), Email: "seller@bench.local", Role: model.RoleSeller}
	if err := stores.Users.Create(ctx, seller); err != nil {
		return "", nil, nil, err
	}
	if err := stores.Users.CreateSellerProfile(ctx, &model.SellerProfile{
		UserID: seller.ID, BusinessName: "bench", SinpeNumber: "88887777", AcceptsSinpe: true,
	}); err != nil {
		return "", nil, nil, err
	}

	buyers := make([]service.Actor, opts.buyers)
	for i := range buyers {
		u := &model.User{ID: uuid.New().String(), Email: fmt.Sprintf("buyer%d@bench.local", i), Role: model.RoleBuyer}
		if err := stores.Users.Create(ctx, u); err != nil {
			return "", nil, nil, err
		}
		buyers[i] = service.Actor{ID: u.ID, Role: model.RoleBuyer}
	}

	products := make([]*model.Product, opts.products)
	for i := range products {
		p := &model.Product{
			ID:          uuid.New().String(),
			SellerID:    seller.ID,
			Name:        fmt.Sprintf("bench-%d", i),
			Price:       decimal.NewFromInt(1000),
			Stock:       opts.stock,
			IsAvailable: true,
		}
		if err := stores.Products.Create(ctx, p); err != nil {
			return "", nil, nil, err
		}
		products[i] = p
	}
	return seller.ID, buyers, products, nil
}

func benchCheckout(ctx context.Context, orders service.OrderService, sellerID string, buyers []service.Actor,
	products []*model.Product, opts benchOptions) *BenchResult {
	var (
		total, placed, outOfStock, cancelled, failed int64
		latencies                                   []time.Duration
		latencyMu                                   sync.Mutex
		wg                                          sync.WaitGroup
		next                                        int64 = -1
	)

	start := time.Now()
	progressDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cur := atomic.LoadInt64(&total)
				fmt.Printf("  进度: %d/%d | 成功: %d | 售罄: %d\n",
					cur, opts.attempts, atomic.LoadInt64(&placed), atomic.LoadInt64(&outOfStock))
			case <-progressDone:
				return
			}
		}
	}()

	for w := 0; w < opts.workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for atomic.AddInt64(&next, 1) < int64(opts.attempts) {
				buyer := buyers[rng.Intn(len(buyers))]
				items := pickItems(rng, products, opts.maxQty)
				payment := model.PaymentCash
				if rng.Intn(2) == 0 {
					payment = model.PaymentSinpe
				}

				reqStart := time.Now()
				o, err := orders.Create(ctx, buyer, service.CreateOrderInput{
					SellerID:       sellerID,
					Items:          items,
					DeliveryMethod: model.DeliveryPickup,
					PaymentMethod:  payment,
				})
				lat := time.Since(reqStart)

				atomic.AddInt64(&total, 1)
				switch {
				case err == nil:
					atomic.AddInt64(&placed, 1)
					if rng.Float64() < opts.cancelRate {
						if _, err := orders.Cancel(ctx, buyer, o.ID, "bench"); err == nil {
							atomic.AddInt64(&cancelled, 1)
						}
					}
				case errors.Is(err, service.ErrInsufficientStock), errors.Is(err, service.ErrValidation):
					atomic.AddInt64(&outOfStock, 1)
				default:
					if n := atomic.AddInt64(&failed, 1); n <= 10 {
						fmt.Printf("下单失败 [%d]: %v\n", n, err)
					}
				}

				latencyMu.Lock()
				latencies = append(latencies, lat)
				latencyMu.Unlock()
			}
		}(int64(w) + time.Now().UnixNano())
	}
	wg.Wait()
	close(progressDone)

	return calculateResult("下单", time.Since(start), total, placed, outOfStock, cancelled, failed, latencies)
}

// pickItems 随机挑 1~2 个商品
func pickItems(rng *rand.Rand, products []*model.Product, maxQty int) []service.OrderItemInput {
	n := 1 + rng.Intn(2)
	items := make([]service.OrderItemInput, 0, n)
	for i := 0; i < n; i++ {
		p := products[rng.Intn(len(products))]
		items = append(items, service.OrderItemInput{ProductID: p.ID, Quantity: 1 + rng.Intn(maxQty)})
	}
	return items
}

// verifyStock 校验：初始库存 = 当前库存 + 未取消订单的售出量，且库存非负
func verifyStock(ctx context.Context, db *gorm.DB, products []*model.Product, initial int) error {
	fmt.Println("\n===== 库存校验 =====")
	var bad int
	for _, p := range products {
		var cur model.Product
		if err := db.WithContext(ctx).First(&cur, "id = ?", p.ID).Error; err != nil {
			return err
		}
		var sold int64
		if err := db.WithContext(ctx).Model(&model.OrderItem{}).
			Joins("JOIN orders ON orders.id = order_items.order_id").
			Where("order_items.product_id = ? AND orders.status <> ?", p.ID, model.OrderStatusCancelled).
			Select("COALESCE(SUM(order_items.quantity), 0)").Scan(&sold).Error; err != nil {
			return err
		}
		ok := cur.Stock >= 0 && int64(cur.Stock)+sold == int64(initial)
		if !ok {
			bad++
		}
		fmt.Printf("%-10s 库存 %3d  售出 %3d  可售 %-5v  %s\n", cur.Name, cur.Stock, sold, cur.IsAvailable, mark(ok))
	}
	if bad > 0 {
		return fmt.Errorf("%d products oversold or inconsistent", bad)
	}
	fmt.Println("\n✅ 无超卖")
	return nil
}

func mark(ok bool) string {
	if ok {
		return "OK"
	}
	return "MISMATCH"
}

func calculateResult(name string, d time.Duration, total, placed, oos, cancelled, failed int64, latencies []time.Duration) *BenchResult {
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	res := &BenchResult{
		Name:       name,
		Duration:   d,
		Total:      total,
		Placed:     placed,
		OutOfStock: oos,
		Cancelled:  cancelled,
		Failed:     failed,
		QPS:        float64(total) / d.Seconds(),
		P50Latency: pct(sorted, 0.50),
		P95Latency: pct(sorted, 0.95),
		P99Latency: pct(sorted, 0.99),
	}
	if len(sorted) > 0 {
		res.AvgLatency = sum / time.Duration(len(sorted))
	}
	return res
}

func pct(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printBenchResult(r *BenchResult) {
	fmt.Printf("\n场景: %s\n", r.Name)
	fmt.Printf("总耗时: %v\n", r.Duration.Round(time.Millisecond))
	fmt.Printf("请求: %d  成功: %d  售罄: %d  取消: %d  失败: %d\n", r.Total, r.Placed, r.OutOfStock, r.Cancelled, r.Failed)
	fmt.Printf("QPS: %.0f\n", r.QPS)
	fmt.Printf("延迟 avg=%v p50=%v p95=%v p99=%v\n", r.AvgLatency, r.P50Latency, r.P95Latency, r.P99Latency)
}
