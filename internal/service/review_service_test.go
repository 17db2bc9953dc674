package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/marketplace/internal/model"
)

func (f *fixture) delivered() *model.Order {
	p := f.product(1000, 5)
	o := f.order(p, 1, model.PaymentCash)
	f.setStatus(o.ID, model.OrderStatusDelivered)
	return o
}

func (f *fixture) sellerRating() (decimal.Decimal, int) {
	prof, err := f.stores.Users.GetSellerProfile(context.Background(), f.seller.ID)
	require.NoError(f.t, err)
	return prof.RatingAvg, prof.RatingCount
}

func TestReview_CreateRecalculatesRating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reviews.Create(ctx, f.buyer, CreateReviewInput{OrderID: f.delivered().ID, Rating: 5, Comment: " excelente "})
	require.NoError(t, err)
	r2, err := f.reviews.Create(ctx, f.buyer, CreateReviewInput{OrderID: f.delivered().ID, Rating: 4})
	require.NoError(t, err)

	avg, count := f.sellerRating()
	assert.True(t, avg.Equal(decimal.RequireFromString("4.5")), avg.String())
	assert.Equal(t, 2, count)

	require.NoError(t, f.reviews.Delete(ctx, f.buyer, r2.ID))
	avg, count = f.sellerRating()
	assert.True(t, avg.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 1, count)
}

func TestReview_Eligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(1000, 5)
	open := f.order(p, 1, model.PaymentCash)
	done := f.delivered()

	_, err := f.reviews.Create(ctx, f.buyer, CreateReviewInput{OrderID: open.ID, Rating: 5})
	assert.ErrorIs(t, err, ErrOperationNotPermitted)

	_, err = f.reviews.Create(ctx, f.seller, CreateReviewInput{OrderID: done.ID, Rating: 5})
	assert.ErrorIs(t, err, ErrOperationNotPermitted)
	_, err = f.reviews.Create(ctx, f.stranger, CreateReviewInput{OrderID: done.ID, Rating: 5})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.reviews.Create(ctx, f.buyer, CreateReviewInput{OrderID: done.ID, Rating: 6})
	assert.ErrorIs(t, err, ErrValidation)

	r, err := f.reviews.Create(ctx, f.buyer, CreateReviewInput{OrderID: done.ID, Rating: 3})
	require.NoError(t, err)
	_, err = f.reviews.Create(ctx, f.buyer, CreateReviewInput{OrderID: done.ID, Rating: 4})
	assert.ErrorIs(t, err, ErrOperationNotPermitted)

	assert.ErrorIs(t, f.reviews.Delete(ctx, f.stranger, r.ID), ErrForbidden)
	assert.ErrorIs(t, f.reviews.Delete(ctx, f.buyer, "missing"), ErrNotFound)
}

func TestRecalculateSellerRating_NoReviews(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reviews.RecalculateSellerRating(context.Background(), f.seller.ID))
	avg, count := f.sellerRating()
	assert.True(t, avg.IsZero())
	assert.Zero(t, count)
}
