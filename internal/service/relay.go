package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/internal/repository"
	"github.com/d60-Lab/marketplace/pkg/logger"
)

// maxDeliveryAttempts after which an event is parked as done and logged.
const maxDeliveryAttempts = 5

// defaultClaimLease bounds how long a claimed event may stay in processing
// before another relay instance takes it over.
const defaultClaimLease = 5 * time.Minute

// OutboxRelay polls the outbox and hands events to the Notifier.
type OutboxRelay struct {
	outbox       repository.OutboxRepository
	notifier     Notifier
	batchSize    int
	pollInterval time.Duration
	claimLease   time.Duration
	metricsCh    chan time.Duration // outbox -> delivered latency
}

func NewOutboxRelay(outbox repository.OutboxRepository, notifier Notifier, batchSize int, pollInterval time.Duration) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &OutboxRelay{
		outbox:       outbox,
		notifier:     notifier,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		claimLease:   defaultClaimLease,
		metricsCh:    make(chan time.Duration, 4096),
	}
}

// WithClaimLease overrides how long a claimed event stays owned by this relay.
func (r *OutboxRelay) WithClaimLease(d time.Duration) *OutboxRelay {
	if d > 0 {
		r.claimLease = d
	}
	return r
}

// Metrics exposes per-event delivery latency samples.
func (r *OutboxRelay) Metrics() <-chan time.Duration { return r.metricsCh }

// Start runs the polling loop until the returned stop function is called.
func (r *OutboxRelay) Start() func(context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.loop(stop)
	}()
	return func(ctx context.Context) error {
		close(stop)
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *OutboxRelay) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.ProcessOnce(context.Background()); err != nil {
				logger.Warn("outbox relay poll failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce claims one batch and delivers it. It returns the number of events delivered.
func (r *OutboxRelay) ProcessOnce(ctx context.Context) (int, error) {
	batch, err := r.outbox.Claim(ctx, r.batchSize, time.Now().Add(-r.claimLease))
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, ev := range batch {
		if err := r.deliver(ctx, ev); err != nil {
			if ev.Attempts+1 >= maxDeliveryAttempts {
				logger.Error("outbox event dropped after retries",
					zap.String("id", ev.ID), zap.String("type", ev.EventType), zap.Error(err))
				if mErr := r.outbox.MarkDone(ctx, ev.ID); mErr != nil {
					logger.Error("park dropped outbox event failed",
						zap.String("id", ev.ID), zap.Error(mErr))
				}
				continue
			}
			logger.Warn("outbox delivery failed, will retry",
				zap.String("id", ev.ID), zap.String("type", ev.EventType), zap.Error(err))
			if rErr := r.outbox.Release(ctx, ev.ID); rErr != nil {
				return delivered, rErr
			}
			continue
		}
		if err := r.outbox.MarkDone(ctx, ev.ID); err != nil {
			return delivered, err
		}
		delivered++
		if !ev.CreatedAt.IsZero() {
			select {
			case r.metricsCh <- time.Since(ev.CreatedAt):
			default:
			}
		}
	}
	return delivered, nil
}

func (r *OutboxRelay) deliver(ctx context.Context, ob *model.Outbox) error {
	var ev NotificationEvent
	if err := json.Unmarshal([]byte(ob.Payload), &ev); err != nil {
		return fmt.Errorf("decode outbox payload: %w", err)
	}
	switch ob.EventType {
	case EventOrderCreated, EventOrderStatusChanged, EventOrderCancelled:
		return r.notifier.OrderStatusChanged(ctx, ev)
	case EventReceiptPendingReview:
		return r.notifier.NewReceiptPendingReview(ctx, ev)
	case EventPaymentApproved:
		return r.notifier.PaymentApproved(ctx, ev)
	case EventPaymentRejected:
		return r.notifier.PaymentRejected(ctx, ev)
	default:
		logger.Warn("unknown outbox event type", zap.String("type", ob.EventType))
		return nil
	}
}
