package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/internal/repository"
	"github.com/d60-Lab/marketplace/pkg/logger"
)

// Outbox event types.
const (
	EventOrderCreated         = "order.created"
	EventOrderStatusChanged   = "order.status_changed"
	EventOrderCancelled       = "order.cancelled"
	EventReceiptPendingReview = "receipt.pending_review"
	EventPaymentApproved      = "payment.approved"
	EventPaymentRejected      = "payment.rejected"
)

// NotificationEvent is the outbox payload.
type NotificationEvent struct {
	Type        string            `json:"type"`
	OrderID     string            `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	BuyerID     string            `json:"buyer_id"`
	SellerID    string            `json:"seller_id"`
	Status      model.OrderStatus `json:"status"`
	ReceiptID   string            `json:"receipt_id,omitempty"`
	Note        string            `json:"note,omitempty"`
	At          time.Time         `json:"at"`
}

// Notifier receives order and payment notifications. Delivery (push, SMS,
// email) is up to the implementation.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, ev NotificationEvent) error
	NewReceiptPendingReview(ctx context.Context, ev NotificationEvent) error
	PaymentApproved(ctx context.Context, ev NotificationEvent) error
	PaymentRejected(ctx context.Context, ev NotificationEvent) error
}

// LogNotifier only writes the event to the log.
type LogNotifier struct{}

func (LogNotifier) OrderStatusChanged(_ context.Context, ev NotificationEvent) error {
	logger.Info("notify order status", eventFields(ev)...)
	return nil
}

func (LogNotifier) NewReceiptPendingReview(_ context.Context, ev NotificationEvent) error {
	logger.Info("notify seller: receipt pending review", eventFields(ev)...)
	return nil
}

func (LogNotifier) PaymentApproved(_ context.Context, ev NotificationEvent) error {
	logger.Info("notify buyer: payment approved", eventFields(ev)...)
	return nil
}

func (LogNotifier) PaymentRejected(_ context.Context, ev NotificationEvent) error {
	logger.Info("notify buyer: payment rejected", eventFields(ev)...)
	return nil
}

func eventFields(ev NotificationEvent) []zap.Field {
	return []zap.Field{
		zap.String("type", ev.Type),
		zap.String("order_number", ev.OrderNumber),
		zap.String("status", string(ev.Status)),
		zap.String("receipt_id", ev.ReceiptID),
		zap.String("note", ev.Note),
	}
}

// enqueueEvent writes a notification into the outbox on the caller's transaction.
func enqueueEvent(ctx context.Context, ob repository.OutboxRepository, typ string, o *model.Order, receiptID, note string) error {
	now := time.Now()
	payload, err := json.Marshal(NotificationEvent{
		Type:        typ,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		BuyerID:     o.BuyerID,
		SellerID:    o.SellerID,
		Status:      o.Status,
		ReceiptID:   receiptID,
		Note:        note,
		At:          now,
	})
	if err != nil {
		return err
	}
	return ob.Enqueue(ctx, &model.Outbox{
		ID:        uuid.New().String(),
		EventType: typ,
		OrderID:   o.ID,
		Payload:   string(payload),
		CreatedAt: now,
		Status:    model.OutboxPending,
	})
}
