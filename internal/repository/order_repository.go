package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/marketplace/internal/model"
)

// OrderFilter 订单列表过滤条件
type OrderFilter struct {
	BuyerID  string
	SellerID string
	Status   model.OrderStatus
	Offset   int
	Limit    int
}

// OrderRepository 订单仓储接口
type OrderRepository interface {
	WithTx(tx *gorm.DB) OrderRepository

	// Create 创建订单（连同明细）
	Create(ctx context.Context, order *model.Order) error

	// GetByID 根据订单ID查询订单（不含明细）
	GetByID(ctx context.Context, id string) (*model.Order, error)

	// GetDetail 查询订单及明细、状态历史
	GetDetail(ctx context.Context, id string) (*model.Order, error)

	// LockByID 对订单行加排他锁
	LockByID(ctx context.Context, id string) (*model.Order, error)

	// List 按买家/卖家/状态分页查询
	List(ctx context.Context, f OrderFilter) ([]*model.Order, int64, error)

	// Items 查询订单明细
	Items(ctx context.Context, orderID string) ([]*model.OrderItem, error)

	// OrderNumberExists 订单号碰撞检查
	OrderNumberExists(ctx context.Context, number string) (bool, error)

	// UpdateIfStatus 仅当当前状态在 from 中时更新，返回是否命中
	UpdateIfStatus(ctx context.Context, id string, from []model.OrderStatus, updates map[string]interface{}) (bool, error)

	// Update 无条件更新字段
	Update(ctx context.Context, id string, updates map[string]interface{}) error

	// MarkPaymentVerified 仅当支付尚未确认时更新，返回是否命中
	MarkPaymentVerified(ctx context.Context, id string, updates map[string]interface{}) (bool, error)

	// AppendHistory 追加状态历史
	AppendHistory(ctx context.Context, h *model.OrderStatusHistory) error

	// History 按时间倒序返回状态历史
	History(ctx context.Context, orderID string) ([]*model.OrderStatusHistory, error)

	// Count 统计订单数量
	Count(ctx context.Context) (int64, error)
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) WithTx(tx *gorm.DB) OrderRepository { return &orderRepository{db: tx} }

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetDetail(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC, id") }).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) LockByID(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) List(ctx context.Context, f OrderFilter) ([]*model.Order, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Order{})
	if f.BuyerID != "" {
		q = q.Where("buyer_id = ?", f.BuyerID)
	}
	if f.SellerID != "" {
		q = q.Where("seller_id = ?", f.SellerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	var orders []*model.Order
	err := q.Order("created_at DESC").
		Offset(f.Offset).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *orderRepository) Items(ctx context.Context, orderID string) ([]*model.OrderItem, error) {
	var items []*model.OrderItem
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("product_id").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *orderRepository) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_number = ?", number).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *orderRepository) UpdateIfStatus(ctx context.Context, id string, from []model.OrderStatus, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *orderRepository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *orderRepository) MarkPaymentVerified(ctx context.Context, id string, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND payment_verified = ?", id, false).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *orderRepository) AppendHistory(ctx context.Context, h *model.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(h).Error
}

func (r *orderRepository) History(ctx context.Context, orderID string) ([]*model.OrderStatusHistory, error) {
	var hs []*model.OrderStatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC, id").
		Find(&hs).Error
	return hs, err
}

func (r *orderRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).Count(&count).Error
	return count, err
}
