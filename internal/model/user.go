package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role 用户角色
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// User 用户（认证由外部身份服务负责，这里只保留订单需要的字段）
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email     string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	FullName  string    `json:"full_name" gorm:"type:varchar(150)"`
	Phone     string    `json:"phone" gorm:"type:varchar(20)"`
	Role      Role      `json:"role" gorm:"type:varchar(16);index;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// SellerProfile 卖家资料：SINPE 收款号码与评分汇总
type SellerProfile struct {
	UserID       string          `json:"user_id" gorm:"primaryKey;type:varchar(36)"`
	BusinessName string          `json:"business_name" gorm:"type:varchar(200)"`
	SinpeNumber  string          `json:"sinpe_number" gorm:"type:varchar(20)"`
	AcceptsSinpe bool            `json:"accepts_sinpe"`
	Latitude     *float64        `json:"latitude,omitempty"`
	Longitude    *float64        `json:"longitude,omitempty"`
	RatingAvg    decimal.Decimal `json:"rating_avg" gorm:"type:decimal(3,2);not null;default:0"`
	RatingCount  int             `json:"rating_count" gorm:"not null;default:0"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (SellerProfile) TableName() string { return "seller_profiles" }
