package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/marketplace/internal/model"
)

// ReceiptRepository 支付凭证与校验日志仓储
type ReceiptRepository interface {
	WithTx(tx *gorm.DB) ReceiptRepository

	Create(ctx context.Context, r *model.PaymentReceipt) error
	GetByID(ctx context.Context, id string) (*model.PaymentReceipt, error)
	LockByID(ctx context.Context, id string) (*model.PaymentReceipt, error)

	// CurrentForOrder 返回订单最新一张未被拒绝的凭证
	CurrentForOrder(ctx context.Context, orderID string) (*model.PaymentReceipt, error)

	// ListForSeller 按状态列出卖家订单下的凭证
	ListForSeller(ctx context.Context, sellerID string, statuses []model.ReceiptStatus, offset, limit int) ([]*model.PaymentReceipt, error)

	// UpdateIfStatus 条件更新，返回是否命中
	UpdateIfStatus(ctx context.Context, id string, from []model.ReceiptStatus, updates map[string]interface{}) (bool, error)

	// ReclaimStale 接管停留在 VERIFYING 且 updated_at 早于 before 的凭证
	ReclaimStale(ctx context.Context, id string, before time.Time, updates map[string]interface{}) (bool, error)

	// OtherOrderWithImage 查找使用同一张图片的其他订单
	OtherOrderWithImage(ctx context.Context, hash, orderID string) (string, error)

	AppendLog(ctx context.Context, l *model.PaymentVerificationLog) error
	Logs(ctx context.Context, receiptID string) ([]*model.PaymentVerificationLog, error)
}

type receiptRepository struct {
	db *gorm.DB
}

func NewReceiptRepository(db *gorm.DB) ReceiptRepository { return &receiptRepository{db: db} }

func (r *receiptRepository) WithTx(tx *gorm.DB) ReceiptRepository { return &receiptRepository{db: tx} }

func (r *receiptRepository) Create(ctx context.Context, rec *model.PaymentReceipt) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *receiptRepository) GetByID(ctx context.Context, id string) (*model.PaymentReceipt, error) {
	var rec model.PaymentReceipt
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *receiptRepository) LockByID(ctx context.Context, id string) (*model.PaymentReceipt, error) {
	var rec model.PaymentReceipt
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *receiptRepository) CurrentForOrder(ctx context.Context, orderID string) (*model.PaymentReceipt, error) {
	var rec model.PaymentReceipt
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND verification_status <> ?", orderID, model.ReceiptRejected).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *receiptRepository) ListForSeller(ctx context.Context, sellerID string, statuses []model.ReceiptStatus, offset, limit int) ([]*model.PaymentReceipt, error) {
	if limit <= 0 {
		limit = 20
	}
	q := r.db.WithContext(ctx).
		Table("payment_receipts AS pr").
		Select("pr.*").
		Joins("JOIN orders o ON o.id = pr.order_id")
	if sellerID != "" {
		q = q.Where("o.seller_id = ?", sellerID)
	}
	if len(statuses) > 0 {
		q = q.Where("pr.verification_status IN ?", statuses)
	}

	var recs []*model.PaymentReceipt
	err := q.Order("pr.created_at").
		Offset(offset).
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *receiptRepository) UpdateIfStatus(ctx context.Context, id string, from []model.ReceiptStatus, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.PaymentReceipt{}).
		Where("id = ? AND verification_status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *receiptRepository) ReclaimStale(ctx context.Context, id string, before time.Time, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.PaymentReceipt{}).
		Where("id = ? AND verification_status = ? AND updated_at < ?", id, model.ReceiptVerifying, before).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *receiptRepository) OtherOrderWithImage(ctx context.Context, hash, orderID string) (string, error) {
	if hash == "" {
		return "", nil
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.PaymentReceipt{}).
		Where("image_hash = ? AND order_id <> ?", hash, orderID).
		Limit(1).
		Pluck("order_id", &ids).Error
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}

func (r *receiptRepository) AppendLog(ctx context.Context, l *model.PaymentVerificationLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *receiptRepository) Logs(ctx context.Context, receiptID string) ([]*model.PaymentVerificationLog, error) {
	var logs []*model.PaymentVerificationLog
	err := r.db.WithContext(ctx).
		Where("receipt_id = ?", receiptID).
		Order("created_at DESC, id").
		Find(&logs).Error
	return logs, err
}
