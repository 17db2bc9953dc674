package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product 商品（目录服务的最小投影：价格、库存、可售状态、卖家）
type Product struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SellerID    string          `json:"seller_id" gorm:"type:varchar(36);index;not null"`
	Name        string          `json:"name" gorm:"type:varchar(200);not null"`
	Price       decimal.Decimal `json:"price" gorm:"type:decimal(10,2);not null"`
	Stock       int             `json:"stock" gorm:"not null;check:chk_products_stock,stock >= 0"`
	IsAvailable bool            `json:"is_available" gorm:"index;not null"`
	ViewsCount  int64           `json:"views_count" gorm:"not null;default:0"`
	SalesCount  int64           `json:"sales_count" gorm:"not null;default:0"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (Product) TableName() string { return "products" }

// InStock 有库存且可售
func (p *Product) InStock() bool { return p.Stock > 0 && p.IsAvailable }
