package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ReceiptStatus 凭证校验状态
type ReceiptStatus string

const (
	ReceiptPending      ReceiptStatus = "PENDING"
	ReceiptVerifying    ReceiptStatus = "VERIFYING"
	ReceiptApproved     ReceiptStatus = "APPROVED"
	ReceiptRejected     ReceiptStatus = "REJECTED"
	ReceiptManualReview ReceiptStatus = "MANUAL_REVIEW"
)

// Final 已批准或已拒绝
func (s ReceiptStatus) Final() bool { return s == ReceiptApproved || s == ReceiptRejected }

// ExtractedData 从凭证图片中抽取的字段，均可能缺失
type ExtractedData struct {
	Amount          decimal.NullDecimal `json:"amount" gorm:"type:decimal(12,2)"`
	ReceiverPhone   *string             `json:"receiver_phone" gorm:"type:varchar(32)"`
	SenderPhone     *string             `json:"sender_phone" gorm:"type:varchar(32)"`
	TransactionID   *string             `json:"transaction_id" gorm:"type:varchar(64)"`
	TransactionDate *string             `json:"transaction_date" gorm:"type:varchar(64)"`
	Bank            *string             `json:"bank" gorm:"type:varchar(100)"`
}

// PaymentReceipt SINPE 支付凭证；同一订单同一时刻只有一张有效凭证
type PaymentReceipt struct {
	ID                 string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID            string        `json:"order_id" gorm:"type:varchar(36);index;not null"`
	ImagePath          string        `json:"image_path" gorm:"type:varchar(255);not null"`
	ImageHash          string        `json:"image_hash" gorm:"type:varchar(64);index"`
	ContentType        string        `json:"content_type" gorm:"type:varchar(64)"`
	VerificationStatus ReceiptStatus `json:"verification_status" gorm:"type:varchar(20);index:idx_receipt_status_created;not null"`

	Extracted         ExtractedData `json:"extracted_data" gorm:"embedded;embeddedPrefix:extracted_"`
	Issues            []string      `json:"issues" gorm:"serializer:json;type:text"`
	VerificationNotes string        `json:"verification_notes" gorm:"type:text"`
	VerifiedByService bool          `json:"verified_by_service" gorm:"not null"`
	Confidence        *float64      `json:"confidence"`

	ReviewedManually  bool    `json:"reviewed_manually" gorm:"not null"`
	ReviewedBy        *string `json:"reviewed_by" gorm:"type:varchar(36)"`
	ManualReviewNotes string  `json:"manual_review_notes" gorm:"type:text"`

	CreatedAt  time.Time  `json:"created_at" gorm:"index:idx_receipt_status_created"`
	UpdatedAt  time.Time  `json:"updated_at"`
	VerifiedAt *time.Time `json:"verified_at"`
	ExpiresAt  time.Time  `json:"expires_at" gorm:"index"`
}

func (PaymentReceipt) TableName() string { return "payment_receipts" }

// Expired 过期只是元数据，不会自动删除
func (r *PaymentReceipt) Expired(now time.Time) bool { return now.After(r.ExpiresAt) }

// VerificationMethod 校验方式
type VerificationMethod string

const (
	VerificationAutomated VerificationMethod = "AUTOMATED"
	VerificationManual    VerificationMethod = "MANUAL"
)

// PaymentVerificationLog 每次校验尝试的审计记录，只追加
type PaymentVerificationLog struct {
	ID          string             `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ReceiptID   string             `json:"receipt_id" gorm:"type:varchar(36);index;not null"`
	Method      VerificationMethod `json:"method" gorm:"type:varchar(20);not null"`
	Result      ReceiptStatus      `json:"result" gorm:"type:varchar(20);not null"`
	Details     datatypes.JSONMap  `json:"details"`
	PerformedBy *string            `json:"performed_by" gorm:"type:varchar(36)"`
	CreatedAt   time.Time          `json:"created_at" gorm:"index"`
}

func (PaymentVerificationLog) TableName() string { return "payment_verification_logs" }
