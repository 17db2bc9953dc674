package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusPaymentPending OrderStatus = "PAYMENT_PENDING"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
)

// OrderStatuses 全部合法状态
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaymentPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

func (s OrderStatus) Valid() bool {
	for _, v := range OrderStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Cancellable 买家只能取消尚未确认的订单
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusPaymentPending
}

// Terminal 取消与退款为终态
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// DeliveryMethod 配送方式
type DeliveryMethod string

const (
	DeliveryPickup   DeliveryMethod = "PICKUP"
	DeliveryDelivery DeliveryMethod = "DELIVERY"
)

func (d DeliveryMethod) Valid() bool { return d == DeliveryPickup || d == DeliveryDelivery }

// PaymentMethod 支付方式；SINPE 需要凭证校验
type PaymentMethod string

const (
	PaymentSinpe PaymentMethod = "SINPE"
	PaymentCash  PaymentMethod = "CASH"
)

func (p PaymentMethod) Valid() bool { return p == PaymentSinpe || p == PaymentCash }

// RequiresVerification 需要延迟校验的支付方式
func (p PaymentMethod) RequiresVerification() bool { return p == PaymentSinpe }

// Order 订单聚合根
type Order struct {
	ID          string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderNumber string      `json:"order_number" gorm:"type:varchar(20);uniqueIndex;not null"`
	BuyerID     string      `json:"buyer_id" gorm:"type:varchar(36);index:idx_order_buyer_created;not null"`
	SellerID    string      `json:"seller_id" gorm:"type:varchar(36);index:idx_order_seller_created;not null"`
	Status      OrderStatus `json:"status" gorm:"type:varchar(20);index:idx_order_status_created;not null"`

	Subtotal    decimal.Decimal `json:"subtotal" gorm:"type:decimal(10,2);not null"`
	DeliveryFee decimal.Decimal `json:"delivery_fee" gorm:"type:decimal(10,2);not null"`
	Total       decimal.Decimal `json:"total" gorm:"type:decimal(10,2);not null"`

	DeliveryMethod   DeliveryMethod `json:"delivery_method" gorm:"type:varchar(20);not null"`
	DeliveryAddress  string         `json:"delivery_address" gorm:"type:text"`
	DeliveryProvince string         `json:"delivery_province" gorm:"type:varchar(50)"`
	DeliveryCanton   string         `json:"delivery_canton" gorm:"type:varchar(50)"`
	DeliveryDistrict string         `json:"delivery_district" gorm:"type:varchar(50)"`
	DeliveryNotes    string         `json:"delivery_notes" gorm:"type:text"`

	PaymentMethod     PaymentMethod `json:"payment_method" gorm:"type:varchar(20);not null"`
	PaymentVerified   bool          `json:"payment_verified" gorm:"not null"`
	PaymentVerifiedAt *time.Time    `json:"payment_verified_at"`

	// 下单时的买家联系方式快照
	BuyerPhone string `json:"buyer_phone" gorm:"type:varchar(17)"`
	BuyerEmail string `json:"buyer_email" gorm:"type:varchar(255)"`

	BuyerNotes  string `json:"buyer_notes" gorm:"type:text"`
	SellerNotes string `json:"seller_notes" gorm:"type:text"`

	CreatedAt   time.Time  `json:"created_at" gorm:"index:idx_order_buyer_created;index:idx_order_seller_created;index:idx_order_status_created"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	ShippedAt   *time.Time `json:"shipped_at"`
	DeliveredAt *time.Time `json:"delivered_at"`

	Items   []OrderItem          `json:"items,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	History []OrderStatusHistory `json:"status_history,omitempty" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (Order) TableName() string { return "orders" }

// IsParticipant 买家或卖家
func (o *Order) IsParticipant(userID string) bool {
	return userID != "" && (o.BuyerID == userID || o.SellerID == userID)
}

// CanBeReviewed 已送达即可评价（是否已有评价由评价服务检查）
func (o *Order) CanBeReviewed() bool { return o.Status == OrderStatusDelivered }

// OrderItem 订单明细；商品名称与单价为下单时快照
type OrderItem struct {
	ID           string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID      string          `json:"order_id" gorm:"type:varchar(36);index;not null"`
	ProductID    string          `json:"product_id" gorm:"type:varchar(36);index;not null"`
	ProductName  string          `json:"product_name" gorm:"type:varchar(200);not null"`
	ProductPrice decimal.Decimal `json:"product_price" gorm:"type:decimal(10,2);not null"`
	Quantity     int             `json:"quantity" gorm:"not null;check:chk_order_items_quantity,quantity >= 1"`
	Subtotal     decimal.Decimal `json:"subtotal" gorm:"type:decimal(10,2);not null"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (OrderItem) TableName() string { return "order_items" }

// OrderStatusHistory 状态变更日志，只追加
type OrderStatusHistory struct {
	ID        string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID   string      `json:"order_id" gorm:"type:varchar(36);index;not null"`
	Status    OrderStatus `json:"status" gorm:"type:varchar(20);not null"`
	Notes     string      `json:"notes" gorm:"type:text"`
	ChangedBy *string     `json:"changed_by" gorm:"type:varchar(36)"`
	CreatedAt time.Time   `json:"created_at" gorm:"index"`
}

func (OrderStatusHistory) TableName() string { return "order_status_history" }
