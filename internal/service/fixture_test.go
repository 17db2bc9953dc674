package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/marketplace/config"
	"github.com/d60-Lab/marketplace/internal/delivery"
	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/internal/storage"
	"github.com/d60-Lab/marketplace/internal/verifier"
	"github.com/d60-Lab/marketplace/pkg/database"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

const sellerSinpe = "8888-7777"

type fixture struct {
	t        *testing.T
	db       *gorm.DB
	stores   Stores
	orders   OrderService
	receipts ReceiptService
	reviews  ReviewService
	products ProductService
	client   *fakeVision

	buyer    Actor
	seller   Actor
	admin    Actor
	stranger Actor
}

// fakeVision answers with a fixed extraction or error.
type fakeVision struct {
	mu    sync.Mutex
	ext   *verifier.Extraction
	err   error
	calls int
}

func (f *fakeVision) Extract(_ context.Context, _ verifier.Request) (*verifier.Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.ext
	return &cp, nil
}

func (f *fakeVision) set(ext *verifier.Extraction, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ext, f.err = ext, err
}

func strp(s string) *string { return &s }

// goodExtraction matches an order total of 5000 paid to the fixture seller just now.
func goodExtraction(total string) *verifier.Extraction {
	return &verifier.Extraction{
		Amount:          strp(total),
		ReceiverPhone:   strp("+506 8888 7777"),
		TransactionDate: strp(time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)),
		Verified:        true,
		Confidence:      92,
		Issues:          []string{},
	}
}

func testPaymentConfig() config.PaymentConfig {
	return config.PaymentConfig{
		AutoApproveConfidence: 80,
		ManualReviewFloor:     50,
		RecencyWindow:         time.Hour,
		ReceiptStorageDays:    7,
		DefaultCountryCode:    "+506",
		Timezone:              "America/Costa_Rica",
	}
}

func testDeliveryConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		Currency: "CRC",
		TierAMax: 5,
		TierBMax: 15,
		TierCMax: 30,
		TierAFee: decimal.NewFromInt(1500),
		TierBFee: decimal.NewFromInt(3000),
		TierCFee: decimal.NewFromInt(5000),
		TierDFee: decimal.NewFromInt(7500),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	stores := NewStores(db)
	client := &fakeVision{ext: goodExtraction("5000")}
	images := newMemImages()

	f := &fixture{
		t:        t,
		db:       db,
		stores:   stores,
		client:   client,
		orders:   NewOrderService(db, stores, delivery.NewCalculator(testDeliveryConfig()), nil),
		receipts: NewReceiptService(db, stores, images, client, verifier.NewPolicy(testPaymentConfig()), nil, nil, ReceiptSettings{StorageDays: 7}),
		reviews:  NewReviewService(db, stores),
		products: NewProductService(stores),
		admin:    Actor{ID: uuid.New().String(), Role: model.RoleAdmin},
	}
	f.buyer = f.user(model.RoleBuyer)
	f.seller = f.user(model.RoleSeller)
	f.stranger = f.user(model.RoleBuyer)

	lat, lon := 9.9281, -84.0907
	require.NoError(t, stores.Users.CreateSellerProfile(context.Background(), &model.SellerProfile{
		UserID:       f.seller.ID,
		BusinessName: "Tienda Central",
		SinpeNumber:  sellerSinpe,
		AcceptsSinpe: true,
		Latitude:     &lat,
		Longitude:    &lon,
		RatingAvg:    decimal.Zero,
	}))
	return f
}

func newMemImages() *storage.ReceiptStore {
	return storage.NewReceiptStoreFs(afero.NewMemMapFs(), 1<<20)
}

func (f *fixture) user(role model.Role) Actor {
	id := uuid.New().String()
	require.NoError(f.t, f.stores.Users.Create(context.Background(), &model.User{
		ID:    id,
		Email: id + "@example.com",
		Phone: "+50670001000",
		Role:  role,
	}))
	return Actor{ID: id, Role: role}
}

func (f *fixture) product(price int64, stock int) *model.Product {
	return f.productOf(f.seller.ID, price, stock)
}

func (f *fixture) productOf(sellerID string, price int64, stock int) *model.Product {
	p := &model.Product{
		ID:          uuid.New().String(),
		SellerID:    sellerID,
		Name:        "Producto " + uuid.New().String()[:4],
		Price:       decimal.NewFromInt(price),
		Stock:       stock,
		IsAvailable: stock > 0,
	}
	require.NoError(f.t, f.stores.Products.Create(context.Background(), p))
	return p
}

func (f *fixture) stock(id string) int {
	p, err := f.stores.Products.GetByID(context.Background(), id)
	require.NoError(f.t, err)
	return p.Stock
}

func (f *fixture) reload(id string) *model.Order {
	o, err := f.stores.Orders.GetDetail(context.Background(), id)
	require.NoError(f.t, err)
	return o
}

// order places a pickup order for qty units of p.
func (f *fixture) order(p *model.Product, qty int, method model.PaymentMethod) *model.Order {
	o, err := f.orders.Create(context.Background(), f.buyer, CreateOrderInput{
		SellerID:       f.seller.ID,
		Items:          []OrderItemInput{{ProductID: p.ID, Quantity: qty}},
		DeliveryMethod: model.DeliveryPickup,
		PaymentMethod:  method,
	})
	require.NoError(f.t, err)
	return o
}

func (f *fixture) setStatus(orderID string, status model.OrderStatus) {
	require.NoError(f.t, f.stores.Orders.Update(context.Background(), orderID, map[string]interface{}{"status": status}))
}
