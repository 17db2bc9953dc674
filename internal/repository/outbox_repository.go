package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/marketplace/internal/model"
)

// OutboxRepository 通知外发盒
type OutboxRepository interface {
	WithTx(tx *gorm.DB) OutboxRepository

	// Enqueue 在调用方事务内写入待发送事件
	Enqueue(ctx context.Context, ev *model.Outbox) error
	// Claim 抢占一批 pending 事件并标记为 processing，
	// claimed_at 早于 staleBefore 的 processing 事件视为持有者已失效，一并回收
	Claim(ctx context.Context, limit int, staleBefore time.Time) ([]*model.Outbox, error)
	MarkDone(ctx context.Context, id string) error
	// Release 发送失败时退回 pending 并累加重试次数
	Release(ctx context.Context, id string) error
	CountByStatus(ctx context.Context, status string) (int64, error)
}

type outboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository { return &outboxRepository{db: db} }

func (r *outboxRepository) WithTx(tx *gorm.DB) OutboxRepository { return &outboxRepository{db: tx} }

func (r *outboxRepository) Enqueue(ctx context.Context, ev *model.Outbox) error {
	if ev.Status == "" {
		ev.Status = model.OutboxPending
	}
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *outboxRepository) Claim(ctx context.Context, limit int, staleBefore time.Time) ([]*model.Outbox, error) {
	if limit <= 0 {
		limit = 100
	}
	var batch []*model.Outbox
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SELECT ... FOR UPDATE SKIP LOCKED，多实例下互不阻塞
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? OR (status = ? AND claimed_at < ?)", model.OutboxPending, model.OutboxProcessing, staleBefore).
			Order("created_at").
			Limit(limit).
			Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		now := time.Now()
		for _, b := range batch {
			b.Status = model.OutboxProcessing
			b.ClaimedAt = &now
		}
		return tx.Model(&model.Outbox{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     model.OutboxProcessing,
				"claimed_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *outboxRepository) MarkDone(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.Outbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.OutboxDone,
			"processed_at": time.Now(),
			"attempts":     gorm.Expr("attempts + 1"),
		}).Error
}

func (r *outboxRepository) Release(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.Outbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.OutboxPending,
			"claimed_at": nil,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
}

func (r *outboxRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Outbox{}).Where("status = ?", status).Count(&n).Error
	return n, err
}
