package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/pkg/database"
)

func setupTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func seedProduct(t testing.TB, db *gorm.DB, sellerID string, stock int) *model.Product {
	t.Helper()
	p := &model.Product{
		ID:          uuid.New().String(),
		SellerID:    sellerID,
		Name:        "Café de altura",
		Price:       decimal.NewFromInt(2500),
		Stock:       stock,
		IsAvailable: stock > 0,
	}
	require.NoError(t, NewProductRepository(db).Create(context.Background(), p))
	return p
}

func seedOrder(t testing.TB, db *gorm.DB, status model.OrderStatus) *model.Order {
	t.Helper()
	o := &model.Order{
		ID:             uuid.New().String(),
		OrderNumber:    "20240101-" + uuid.New().String()[:6],
		BuyerID:        "buyer-1",
		SellerID:       "seller-1",
		Status:         status,
		Subtotal:       decimal.NewFromInt(5000),
		DeliveryFee:    decimal.Zero,
		Total:          decimal.NewFromInt(5000),
		DeliveryMethod: model.DeliveryPickup,
		PaymentMethod:  model.PaymentSinpe,
	}
	require.NoError(t, NewOrderRepository(db).Create(context.Background(), o))
	return o
}

func TestProductRepository_DecrementStock(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()
	p := seedProduct(t, db, "seller-1", 3)

	require.NoError(t, repo.DecrementStock(ctx, p.ID, 2))
	err := repo.DecrementStock(ctx, p.ID, 2)
	assert.ErrorIs(t, err, ErrStockConflict)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stock)
	assert.EqualValues(t, 2, got.SalesCount)

	require.NoError(t, repo.DecrementStock(ctx, p.ID, 1))
	require.NoError(t, repo.MarkUnavailableIfExhausted(ctx, p.ID))
	got, _ = repo.GetByID(ctx, p.ID)
	assert.Equal(t, 0, got.Stock)
	assert.False(t, got.IsAvailable)
}

func TestProductRepository_RestoreStock(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()
	p := seedProduct(t, db, "seller-1", 1)

	require.NoError(t, repo.DecrementStock(ctx, p.ID, 1))
	require.NoError(t, repo.MarkUnavailableIfExhausted(ctx, p.ID))
	require.NoError(t, repo.RestoreStock(ctx, p.ID, 1))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stock)
	assert.True(t, got.IsAvailable)
	assert.EqualValues(t, 0, got.SalesCount)

	assert.True(t, IsNotFound(repo.RestoreStock(ctx, "missing", 1)))
}

func TestProductRepository_RestoreStockKeepsHiddenProduct(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()
	p := seedProduct(t, db, "seller-1", 5)

	require.NoError(t, repo.DecrementStock(ctx, p.ID, 1))
	require.NoError(t, db.Model(&model.Product{}).Where("id = ?", p.ID).Update("is_available", false).Error)
	require.NoError(t, repo.RestoreStock(ctx, p.ID, 1))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
	assert.False(t, got.IsAvailable)
}

func TestProductRepository_LockForUpdateSorted(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProductRepository(db)
	a := seedProduct(t, db, "seller-1", 1)
	b := seedProduct(t, db, "seller-1", 1)

	got, err := repo.LockForUpdate(context.Background(), []string{b.ID, a.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].ID < got[1].ID)
}

func TestProductRepository_IncrementViews(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()
	p := seedProduct(t, db, "seller-1", 1)

	require.NoError(t, repo.IncrementViews(ctx, p.ID))
	require.NoError(t, repo.IncrementViews(ctx, p.ID))
	got, _ := repo.GetByID(ctx, p.ID)
	assert.EqualValues(t, 2, got.ViewsCount)
}

func TestOrderRepository_UpdateIfStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()
	o := seedOrder(t, db, model.OrderStatusPending)

	ok, err := repo.UpdateIfStatus(ctx, o.ID, []model.OrderStatus{model.OrderStatusPending}, map[string]interface{}{"status": model.OrderStatusCancelled})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateIfStatus(ctx, o.ID, []model.OrderStatus{model.OrderStatusPending}, map[string]interface{}{"status": model.OrderStatusCancelled})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrderRepository_DetailAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()
	o := seedOrder(t, db, model.OrderStatusPaymentPending)
	seedOrder(t, db, model.OrderStatusPending)

	require.NoError(t, repo.AppendHistory(ctx, &model.OrderStatusHistory{
		ID: uuid.New().String(), OrderID: o.ID, Status: model.OrderStatusPaymentPending, Notes: "order created",
	}))

	detail, err := repo.GetDetail(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, detail.History, 1)
	assert.Equal(t, "order created", detail.History[0].Notes)

	list, total, err := repo.List(ctx, OrderFilter{BuyerID: "buyer-1", Status: model.OrderStatusPaymentPending})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, o.ID, list[0].ID)

	exists, err := repo.OrderNumberExists(ctx, o.OrderNumber)
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestReceiptRepository_CurrentAndImageReuse(t *testing.T) {
	db := setupTestDB(t)
	repo := NewReceiptRepository(db)
	ctx := context.Background()
	o1 := seedOrder(t, db, model.OrderStatusPaymentPending)
	o2 := seedOrder(t, db, model.OrderStatusPaymentPending)

	rejected := &model.PaymentReceipt{
		ID: uuid.New().String(), OrderID: o1.ID, ImagePath: "a.jpg", ImageHash: "h1",
		VerificationStatus: model.ReceiptRejected, ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, repo.Create(ctx, rejected))

	_, err := repo.CurrentForOrder(ctx, o1.ID)
	assert.True(t, IsNotFound(err))

	current := &model.PaymentReceipt{
		ID: uuid.New().String(), OrderID: o1.ID, ImagePath: "b.jpg", ImageHash: "h2",
		VerificationStatus: model.ReceiptPending, ExpiresAt: time.Now().Add(time.Hour),
		Issues: []string{},
	}
	require.NoError(t, repo.Create(ctx, current))

	got, err := repo.CurrentForOrder(ctx, o1.ID)
	require.NoError(t, err)
	assert.Equal(t, current.ID, got.ID)

	other, err := repo.OtherOrderWithImage(ctx, "h2", o2.ID)
	require.NoError(t, err)
	assert.Equal(t, o1.ID, other)

	other, err = repo.OtherOrderWithImage(ctx, "h2", o1.ID)
	require.NoError(t, err)
	assert.Empty(t, other)

	pending, err := repo.ListForSeller(ctx, "seller-1", []model.ReceiptStatus{model.ReceiptPending}, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, current.ID, pending[0].ID)

	ok, err := repo.UpdateIfStatus(ctx, current.ID, []model.ReceiptStatus{model.ReceiptPending}, map[string]interface{}{"verification_status": model.ReceiptVerifying})
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.AppendLog(ctx, &model.PaymentVerificationLog{
		ID: uuid.New().String(), ReceiptID: current.ID, Method: model.VerificationAutomated,
		Result: model.ReceiptManualReview, Details: map[string]interface{}{"confidence": 40.0},
	}))
	logs, err := repo.Logs(ctx, current.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ReceiptManualReview, logs[0].Result)
}

func TestReviewRepository_SellerStats(t *testing.T) {
	db := setupTestDB(t)
	repo := NewReviewRepository(db)
	ctx := context.Background()

	for i, rating := range []int{5, 4} {
		require.NoError(t, repo.Create(ctx, &model.Review{
			ID: uuid.New().String(), OrderID: fmt.Sprintf("order-%d", i), BuyerID: "b", SellerID: "s",
			Rating: rating, IsVisible: true,
		}))
	}
	stats, err := repo.SellerStats(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.EqualValues(t, 9, stats.Sum)

	exists, err := repo.ExistsForOrder(ctx, "order-0")
	require.NoError(t, err)
	assert.True(t, exists)

	stats, err = repo.SellerStats(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
}

func TestOutboxRepository_ClaimAndRelease(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Enqueue(ctx, &model.Outbox{
			ID: uuid.New().String(), EventType: "order.created", OrderID: "o", Payload: "{}", CreatedAt: time.Now(),
		}))
	}

	batch, err := repo.Claim(ctx, 2, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, repo.MarkDone(ctx, batch[0].ID))
	require.NoError(t, repo.Release(ctx, batch[1].ID))

	pending, _ := repo.CountByStatus(ctx, model.OutboxPending)
	done, _ := repo.CountByStatus(ctx, model.OutboxDone)
	assert.EqualValues(t, 2, pending)
	assert.EqualValues(t, 1, done)
}

func TestOutboxRepository_ClaimReclaimsExpiredLease(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, &model.Outbox{
		ID: uuid.New().String(), EventType: "order.created", OrderID: "o", Payload: "{}", CreatedAt: time.Now(),
	}))

	batch, err := repo.Claim(ctx, 10, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NotNil(t, batch[0].ClaimedAt)

	// 租约未过期，其他实例拿不到
	again, err := repo.Claim(ctx, 10, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, again)

	// 持有者进程退出后，租约过期的事件被重新抢占
	reclaimed, err := repo.Claim(ctx, 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, batch[0].ID, reclaimed[0].ID)
	assert.Equal(t, model.OutboxProcessing, reclaimed[0].Status)

	require.NoError(t, repo.Release(ctx, reclaimed[0].ID))
	pending, _ := repo.CountByStatus(ctx, model.OutboxPending)
	assert.EqualValues(t, 1, pending)
}

func BenchmarkDecrementStock(b *testing.B) {
	db := setupTestDB(b)
	repo := NewProductRepository(db)
	p := seedProduct(b, db, "seller-1", b.N+1)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := repo.DecrementStock(ctx, p.ID, 1); err != nil {
			b.Fatal(err)
		}
	}
}
