package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/marketplace/pkg/logger"
)

// VerifyFunc runs automated verification for one receipt.
type VerifyFunc func(ctx context.Context, receiptID string) error

type verifyJob struct {
	receiptID string
	enqAt     time.Time
}

// VerificationDispatcher runs receipt verification on a bounded local queue so
// uploads return before the vision service answers.
type VerificationDispatcher struct {
	verify    VerifyFunc
	timeout   time.Duration
	ch        chan verifyJob
	metricsCh chan time.Duration
}

func NewVerificationDispatcher(verify VerifyFunc, queueSize int, timeout time.Duration) *VerificationDispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &VerificationDispatcher{
		verify:    verify,
		timeout:   timeout,
		ch:        make(chan verifyJob, queueSize),
		metricsCh: make(chan time.Duration, 4096),
	}
}

// Start launches workers; the returned function stops them and waits for
// in-flight jobs or ctx, whichever comes first. Queued jobs left behind stay
// PENDING and can be re-triggered.
func (d *VerificationDispatcher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 2
	}
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case job := <-d.ch:
					d.run(job)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
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

func (d *VerificationDispatcher) run(job verifyJob) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.verify(ctx, job.receiptID); err != nil {
		logger.Error("receipt verification failed", zap.String("receipt_id", job.receiptID), zap.Error(err))
	}
	select {
	case d.metricsCh <- time.Since(job.enqAt):
	default:
	}
}

// Enqueue schedules a receipt. It returns false when the queue is full.
func (d *VerificationDispatcher) Enqueue(receiptID string) bool {
	select {
	case d.ch <- verifyJob{receiptID: receiptID, enqAt: time.Now()}:
		return true
	default:
		logger.Warn("verification queue full, receipt left pending", zap.String("receipt_id", receiptID))
		return false
	}
}

// Metrics returns enqueue-to-done latency samples.
func (d *VerificationDispatcher) Metrics() <-chan time.Duration { return d.metricsCh }

// QueueLen is a sampled queue length.
func (d *VerificationDispatcher) QueueLen() int { return len(d.ch) }
