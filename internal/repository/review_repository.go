package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/marketplace/internal/model"
)

// SellerRatingStats 卖家可见评价的汇总
type SellerRatingStats struct {
	Count int
	Sum   int64
}

// ReviewRepository 评价仓储
type ReviewRepository interface {
	WithTx(tx *gorm.DB) ReviewRepository

	Create(ctx context.Context, r *model.Review) error
	GetByID(ctx context.Context, id string) (*model.Review, error)
	ExistsForOrder(ctx context.Context, orderID string) (bool, error)
	Delete(ctx context.Context, id string) error
	// SellerStats 统计卖家可见评价数量与总分
	SellerStats(ctx context.Context, sellerID string) (SellerRatingStats, error)
}

type reviewRepository struct {
	db *gorm.DB
}

func NewReviewRepository(db *gorm.DB) ReviewRepository { return &reviewRepository{db: db} }

func (r *reviewRepository) WithTx(tx *gorm.DB) ReviewRepository { return &reviewRepository{db: tx} }

func (r *reviewRepository) Create(ctx context.Context, rv *model.Review) error {
	return r.db.WithContext(ctx).Create(rv).Error
}

func (r *reviewRepository) GetByID(ctx context.Context, id string) (*model.Review, error) {
	var rv model.Review
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rv).Error; err != nil {
		return nil, err
	}
	return &rv, nil
}

func (r *reviewRepository) ExistsForOrder(ctx context.Context, orderID string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Review{}).
		Where("order_id = ?", orderID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *reviewRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Review{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *reviewRepository) SellerStats(ctx context.Context, sellerID string) (SellerRatingStats, error) {
	var row struct {
		Cnt   int
		Total int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.Review{}).
		Select("COUNT(*) AS cnt, COALESCE(SUM(rating), 0) AS total").
		Where("seller_id = ? AND is_visible = ?", sellerID, true).
		Scan(&row).Error
	if err != nil {
		return SellerRatingStats{}, err
	}
	return SellerRatingStats{Count: row.Cnt, Sum: row.Total}, nil
}
