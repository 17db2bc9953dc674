package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/pkg/logger"
)

// CreateReviewInput is a buyer's rating of a delivered order.
type CreateReviewInput struct {
	OrderID string
	Rating  int
	Comment string
}

// ReviewService manages reviews and keeps the seller rating aggregate in step.
type ReviewService interface {
	Create(ctx context.Context, actor Actor, in CreateReviewInput) (*model.Review, error)
	Delete(ctx context.Context, actor Actor, id string) error
	RecalculateSellerRating(ctx context.Context, sellerID string) error
}

type reviewService struct {
	db     *gorm.DB
	stores Stores
}

func NewReviewService(db *gorm.DB, stores Stores) ReviewService {
	return &reviewService{db: db, stores: stores}
}

func (s *reviewService) Create(ctx context.Context, actor Actor, in CreateReviewInput) (*model.Review, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, invalid("rating", "must be between 1 and 5")
	}

	var review *model.Review
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st := s.stores.withTx(tx)
		o, err := st.Orders.LockByID(ctx, in.OrderID)
		if err != nil {
			return notFound(err, "order")
		}
		buyer, _ := actor.participation(o)
		if !buyer {
			if o.IsParticipant(actor.ID) {
				return notPermitted("only the buyer can review an order")
			}
			return forbidden("order %s", o.OrderNumber)
		}
		if !o.CanBeReviewed() {
			return notPermitted("order must be delivered before it can be reviewed")
		}
		exists, err := st.Reviews.ExistsForOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		if exists {
			return notPermitted("order already reviewed")
		}

		now := time.Now()
		review = &model.Review{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			BuyerID:   o.BuyerID,
			SellerID:  o.SellerID,
			Rating:    in.Rating,
			Comment:   strings.TrimSpace(in.Comment),
			IsVisible: true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.Reviews.Create(ctx, review); err != nil {
			return err
		}
		return recalculateSellerRating(ctx, st, o.SellerID)
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

func (s *reviewService) Delete(ctx context.Context, actor Actor, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st := s.stores.withTx(tx)
		r, err := st.Reviews.GetByID(ctx, id)
		if err != nil {
			return notFound(err, "review")
		}
		if !actor.IsAdmin() && r.BuyerID != actor.ID {
			return forbidden("review %s", r.ID)
		}
		if err := st.Reviews.Delete(ctx, r.ID); err != nil {
			return notFound(err, "review")
		}
		return recalculateSellerRating(ctx, st, r.SellerID)
	})
}

func (s *reviewService) RecalculateSellerRating(ctx context.Context, sellerID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return recalculateSellerRating(ctx, s.stores.withTx(tx), sellerID)
	})
}

func recalculateSellerRating(ctx context.Context, st Stores, sellerID string) error {
	stats, err := st.Reviews.SellerStats(ctx, sellerID)
	if err != nil {
		return err
	}
	avg := decimal.Zero
	if stats.Count > 0 {
		avg = decimal.NewFromInt(stats.Sum).Div(decimal.NewFromInt(int64(stats.Count))).Round(2)
	}
	if err := st.Users.UpdateSellerRating(ctx, sellerID, avg, stats.Count); err != nil {
		return err
	}
	logger.Debug("seller rating recalculated",
		zap.String("seller_id", sellerID), zap.String("avg", avg.StringFixed(2)), zap.Int("count", stats.Count))
	return nil
}
