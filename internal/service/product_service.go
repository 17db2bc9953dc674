package service

import (
	"context"

	"github.com/d60-Lab/marketplace/internal/model"
)

// ProductService is the read side of the catalog the order flow depends on.
type ProductService interface {
	// View returns the product and counts the view.
	View(ctx context.Context, id string) (*model.Product, error)
}

type productService struct {
	stores Stores
}

func NewProductService(stores Stores) ProductService {
	return &productService{stores: stores}
}

func (s *productService) View(ctx context.Context, id string) (*model.Product, error) {
	if err := s.stores.Products.IncrementViews(ctx, id); err != nil {
		return nil, notFound(err, "product")
	}
	p, err := s.stores.Products.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "product")
	}
	return p, nil
}
