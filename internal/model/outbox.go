package model

import "time"

// Outbox 通知事件外发盒，与状态变更在同一事务内写入
type Outbox struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	EventType   string    `gorm:"type:varchar(64);index"`
	OrderID     string    `gorm:"type:varchar(36);index:idx_outbox_order"`
	Payload     string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
	Status      string    `gorm:"type:varchar(16);index"` // pending, processing, done
	ClaimedAt   *time.Time `gorm:"index"` // processing 租约起点，超时后可被重新抢占
	ProcessedAt *time.Time
	Attempts    int
}

func (Outbox) TableName() string { return "outbox" }

const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDone       = "done"
)
