package repository

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/marketplace/internal/model"
)

// ProductRepository 商品目录：价格、库存与计数器
type ProductRepository interface {
	WithTx(tx *gorm.DB) ProductRepository

	Create(ctx context.Context, p *model.Product) error
	GetByID(ctx context.Context, id string) (*model.Product, error)

	// LockForUpdate 按 id 升序对商品行加排他锁，避免并发下单死锁
	LockForUpdate(ctx context.Context, ids []string) ([]*model.Product, error)
	// DecrementStock 条件扣减库存并累加销量，库存不足返回 ErrStockConflict
	DecrementStock(ctx context.Context, id string, qty int) error
	// RestoreStock 取消订单时回补库存
	RestoreStock(ctx context.Context, id string, qty int) error
	MarkUnavailableIfExhausted(ctx context.Context, id string) error
	IncrementViews(ctx context.Context, id string) error
}

type productRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository { return &productRepository{db: db} }

func (r *productRepository) WithTx(tx *gorm.DB) ProductRepository { return &productRepository{db: tx} }

func (r *productRepository) Create(ctx context.Context, p *model.Product) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *productRepository) GetByID(ctx context.Context, id string) (*model.Product, error) {
	var p model.Product
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *productRepository) LockForUpdate(ctx context.Context, ids []string) ([]*model.Product, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	var products []*model.Product
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", sorted).
		Order("id").
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (r *productRepository) DecrementStock(ctx context.Context, id string, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND stock >= ?", id, qty).
		Updates(map[string]interface{}{
			"stock":       gorm.Expr("stock - ?", qty),
			"sales_count": gorm.Expr("sales_count + ?", qty),
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStockConflict
	}
	return nil
}

func (r *productRepository) RestoreStock(ctx context.Context, id string, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"stock":        gorm.Expr("stock + ?", qty),
			"sales_count":  gorm.Expr("CASE WHEN sales_count >= ? THEN sales_count - ? ELSE 0 END", qty, qty),
			// 只恢复因售罄自动下架的商品，卖家手动下架的保持原样
			"is_available": gorm.Expr("CASE WHEN stock <= 0 THEN ? ELSE is_available END", true),
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *productRepository) MarkUnavailableIfExhausted(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND stock <= 0", id).
		Update("is_available", false).Error
}

func (r *productRepository) IncrementViews(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", id).
		UpdateColumn("views_count", gorm.Expr("views_count + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
