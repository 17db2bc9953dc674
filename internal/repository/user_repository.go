package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/d60-Lab/marketplace/internal/model"
)

// UserRepository 用户与卖家资料
type UserRepository interface {
	WithTx(tx *gorm.DB) UserRepository

	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)

	CreateSellerProfile(ctx context.Context, p *model.SellerProfile) error
	GetSellerProfile(ctx context.Context, userID string) (*model.SellerProfile, error)
	// UpdateSellerRating 写入重新计算后的评分汇总
	UpdateSellerRating(ctx context.Context, userID string, avg decimal.Decimal, count int) error
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository { return &userRepository{db: db} }

func (r *userRepository) WithTx(tx *gorm.DB) UserRepository { return &userRepository{db: tx} }

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) CreateSellerProfile(ctx context.Context, p *model.SellerProfile) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *userRepository) GetSellerProfile(ctx context.Context, userID string) (*model.SellerProfile, error) {
	var p model.SellerProfile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *userRepository) UpdateSellerRating(ctx context.Context, userID string, avg decimal.Decimal, count int) error {
	// 卖家资料可能尚未创建，此时只忽略
	return r.db.WithContext(ctx).
		Model(&model.SellerProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"rating_avg":   avg,
			"rating_count": count,
			"updated_at":   time.Now(),
		}).Error
}
