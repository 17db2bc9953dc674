package service

import (
	"gorm.io/gorm"

	"github.com/d60-Lab/marketplace/internal/repository"
)

// Stores bundles the repositories the use cases share. withTx rebinds all of
// them to one transaction.
type Stores struct {
	Orders   repository.OrderRepository
	Products repository.ProductRepository
	Receipts repository.ReceiptRepository
	Users    repository.UserRepository
	Reviews  repository.ReviewRepository
	Outbox   repository.OutboxRepository
}

// NewStores builds gorm-backed repositories on db.
func NewStores(db *gorm.DB) Stores {
	return Stores{
		Orders:   repository.NewOrderRepository(db),
		Products: repository.NewProductRepository(db),
		Receipts: repository.NewReceiptRepository(db),
		Users:    repository.NewUserRepository(db),
		Reviews:  repository.NewReviewRepository(db),
		Outbox:   repository.NewOutboxRepository(db),
	}
}

func (s Stores) withTx(tx *gorm.DB) Stores {
	return Stores{
		Orders:   s.Orders.WithTx(tx),
		Products: s.Products.WithTx(tx),
		Receipts: s.Receipts.WithTx(tx),
		Users:    s.Users.WithTx(tx),
		Reviews:  s.Reviews.WithTx(tx),
		Outbox:   s.Outbox.WithTx(tx),
	}
}
