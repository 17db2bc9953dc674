package model

import "time"

// Review 买家对已送达订单的评价，一单一评
type Review struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID   string    `json:"order_id" gorm:"type:varchar(36);uniqueIndex;not null"`
	BuyerID   string    `json:"buyer_id" gorm:"type:varchar(36);index;not null"`
	SellerID  string    `json:"seller_id" gorm:"type:varchar(36);index;not null"`
	Rating    int       `json:"rating" gorm:"not null;check:chk_reviews_rating,rating BETWEEN 1 AND 5"`
	Comment   string    `json:"comment" gorm:"type:text"`
	IsVisible bool      `json:"is_visible" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Review) TableName() string { return "reviews" }
