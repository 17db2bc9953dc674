package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/marketplace/internal/cache"
	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/internal/repository"
	"github.com/d60-Lab/marketplace/internal/storage"
	"github.com/d60-Lab/marketplace/internal/verifier"
	"github.com/d60-Lab/marketplace/pkg/logger"
)

// UploadReceiptInput is a buyer's SINPE receipt for one order.
type UploadReceiptInput struct {
	OrderID  string
	Filename string
	Image    io.Reader
}

// ManualReviewInput is the seller's verdict.
type ManualReviewInput struct {
	Approve bool
	Notes   string
}

// ReceiptService runs the SINPE receipt workflow.
type ReceiptService interface {
	Upload(ctx context.Context, actor Actor, in UploadReceiptInput) (*model.PaymentReceipt, error)
	Get(ctx context.Context, actor Actor, id string) (*model.PaymentReceipt, error)
	Delete(ctx context.Context, actor Actor, id string) error
	ListPending(ctx context.Context, actor Actor, statuses []model.ReceiptStatus, page, size int) ([]*model.PaymentReceipt, error)
	Logs(ctx context.Context, actor Actor, id string) ([]*model.PaymentVerificationLog, error)
	// Verify runs automated verification. Failures of the vision service are
	// folded into the result and never returned.
	Verify(ctx context.Context, id string) (*model.PaymentReceipt, error)
	Retrigger(ctx context.Context, actor Actor, id string) (*model.PaymentReceipt, error)
	ManualReview(ctx context.Context, actor Actor, id string, in ManualReviewInput) (*model.PaymentReceipt, error)
}

// ReceiptSettings are the receipt-related knobs from config.
type ReceiptSettings struct {
	StorageDays int
	// StaleVerifyingAfter is how long a receipt may sit in VERIFYING before a
	// seller can re-trigger it.
	StaleVerifyingAfter time.Duration
	// PersistTimeout bounds writing a verification outcome once the receipt is claimed.
	PersistTimeout time.Duration
}

type receiptService struct {
	db         *gorm.DB
	stores     Stores
	images     *storage.ReceiptStore
	client     verifier.Client
	policy     verifier.Policy
	dispatcher *VerificationDispatcher
	cache      *cache.OrderCache
	settings   ReceiptSettings
	now        func() time.Time
}

// NewReceiptService wires the workflow. A nil dispatcher verifies inline on upload.
func NewReceiptService(db *gorm.DB, stores Stores, images *storage.ReceiptStore, client verifier.Client,
	policy verifier.Policy, dispatcher *VerificationDispatcher, orderCache *cache.OrderCache, settings ReceiptSettings) ReceiptService {
	if settings.StorageDays <= 0 {
		settings.StorageDays = 7
	}
	if settings.StaleVerifyingAfter <= 0 {
		settings.StaleVerifyingAfter = 5 * time.Minute
	}
	if settings.PersistTimeout <= 0 {
		settings.PersistTimeout = 30 * time.Second
	}
	return &receiptService{
		db:         db,
		stores:     stores,
		images:     images,
		client:     client,
		policy:     policy,
		dispatcher: dispatcher,
		cache:      orderCache,
		settings:   settings,
		now:        time.Now,
	}
}

func (s *receiptService) Upload(ctx context.Context, actor Actor, in UploadReceiptInput) (*model.PaymentReceipt, error) {
	if in.Image == nil {
		return nil, invalid("receipt_image", "image is required")
	}
	order, err := s.stores.Orders.GetByID(ctx, in.OrderID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, invalid("order_id", "order does not exist")
		}
		return nil, err
	}
	if err := checkUploadable(actor, order); err != nil {
		return nil, err
	}
	if _, err := s.stores.Receipts.CurrentForOrder(ctx, order.ID); err == nil {
		return nil, ErrDuplicateReceipt
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	id := uuid.New().String()
	img, err := s.images.Save(id, in.Filename, in.Image)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) || errors.Is(err, storage.ErrUnsupportedType) {
			return nil, invalid("receipt_image", "%v", err)
		}
		return nil, err
	}

	now := s.now()
	receipt := &model.PaymentReceipt{
		ID:                 id,
		OrderID:            order.ID,
		ImagePath:          img.Path,
		ImageHash:          img.Hash,
		ContentType:        img.ContentType,
		VerificationStatus: model.ReceiptPending,
		Issues:             []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.AddDate(0, 0, s.settings.StorageDays),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st := s.stores.withTx(tx)
		o, err := st.Orders.LockByID(ctx, order.ID)
		if err != nil {
			return notFound(err, "order")
		}
		if err := checkUploadable(actor, o); err != nil {
			return err
		}
		if _, err := st.Receipts.CurrentForOrder(ctx, o.ID); err == nil {
			return ErrDuplicateReceipt
		} else if !repository.IsNotFound(err) {
			return err
		}
		if err := st.Receipts.Create(ctx, receipt); err != nil {
			return err
		}

		if o.Status == model.OrderStatusPending {
			ok, err := st.Orders.UpdateIfStatus(ctx, o.ID, []model.OrderStatus{model.OrderStatusPending},
				map[string]interface{}{"status": model.OrderStatusPaymentPending, "updated_at": now})
			if err != nil {
				return err
			}
			if ok {
				o.Status = model.OrderStatusPaymentPending
				if err := st.Orders.AppendHistory(ctx, &model.OrderStatusHistory{
					ID:        uuid.New().String(),
					OrderID:   o.ID,
					Status:    model.OrderStatusPaymentPending,
					Notes:     "payment receipt uploaded",
					ChangedBy: actor.ref(),
					CreatedAt: now,
				}); err != nil {
					return err
				}
			}
		}
		order = o
		return nil
	})
	if err != nil {
		if rmErr := s.images.Remove(img.Path); rmErr != nil {
			logger.Warn("remove orphaned receipt image",
				zap.String("path", img.Path), zap.Error(rmErr))
		}
		return nil, err
	}
	s.cache.Invalidate(ctx, order.ID)

	logger.Info("payment receipt uploaded",
		zap.String("order_number", order.OrderNumber),
		zap.String("receipt_id", receipt.ID),
		zap.Int64("bytes", img.Size))

	// the receipt is committed from here on; verification problems leave it
	// for the seller instead of failing the upload
	if s.dispatcher == nil {
		verified, err := s.Verify(ctx, receipt.ID)
		if err != nil {
			logger.Error("inline receipt verification failed",
				zap.String("receipt_id", receipt.ID), zap.Error(err))
			s.notifyPendingReview(ctx, order, receipt.ID, "automatic verification did not complete")
			return s.reload(ctx, receipt), nil
		}
		return verified, nil
	}
	if !s.dispatcher.Enqueue(receipt.ID) {
		// left PENDING; the seller reviews it by hand or re-triggers verification
		s.notifyPendingReview(ctx, order, receipt.ID, "automatic verification queue full")
	}
	return receipt, nil
}

func (s *receiptService) notifyPendingReview(ctx context.Context, order *model.Order, receiptID, note string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.PersistTimeout)
	defer cancel()
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return enqueueEvent(ctx, s.stores.Outbox.WithTx(tx), EventReceiptPendingReview, order, receiptID, note)
	}); err != nil {
		logger.Error("enqueue pending review event", zap.String("receipt_id", receiptID), zap.Error(err))
	}
}

// reload returns the stored receipt, falling back to r when it cannot be read.
func (s *receiptService) reload(ctx context.Context, r *model.PaymentReceipt) *model.PaymentReceipt {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.PersistTimeout)
	defer cancel()
	if got, err := s.stores.Receipts.GetByID(ctx, r.ID); err == nil {
		return got
	}
	return r
}

func checkUploadable(actor Actor, o *model.Order) error {
	if err := actor.requireBuyer(o, "upload a payment receipt"); err != nil {
		return err
	}
	if o.PaymentMethod != model.PaymentSinpe {
		return invalid("order_id", "order is not paid with SINPE Móvil")
	}
	if o.PaymentVerified {
		return ErrAlreadyVerified
	}
	if o.Status != model.OrderStatusPending && o.Status != model.OrderStatusPaymentPending {
		return notPermitted("cannot upload a receipt for an order in status %s", o.Status)
	}
	return nil
}

// loadForActor returns the receipt and its order after checking that the actor takes part in it.
func (s *receiptService) loadForActor(ctx context.Context, actor Actor, id string) (*model.PaymentReceipt, *model.Order, error) {
	r, err := s.stores.Receipts.GetByID(ctx, id)
	if err != nil {
		return nil, nil, notFound(err, "receipt")
	}
	o, err := s.stores.Orders.GetByID(ctx, r.OrderID)
	if err != nil {
		return nil, nil, notFound(err, "order")
	}
	if !actor.IsAdmin() && !o.IsParticipant(actor.ID) {
		return nil, nil, forbidden("receipt %s", r.ID)
	}
	return r, o, nil
}

func (s *receiptService) Get(ctx context.Context, actor Actor, id string) (*model.PaymentReceipt, error) {
	r, _, err := s.loadForActor(ctx, actor, id)
	return r, err
}

func (s *receiptService) Delete(ctx context.Context, actor Actor, id string) error {
	r, o, err := s.loadForActor(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := actor.requireBuyer(o, "delete the receipt"); err != nil {
		return err
	}
	if r.VerificationStatus != model.ReceiptPending {
		return notPermitted("only pending receipts can be deleted")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// flip to REJECTED instead of removing so the audit trail survives
		ok, err := s.stores.Receipts.WithTx(tx).UpdateIfStatus(ctx, r.ID, []model.ReceiptStatus{model.ReceiptPending},
			map[string]interface{}{
				"verification_status": model.ReceiptRejected,
				"verification_notes":  "withdrawn by buyer",
				"updated_at":          s.now(),
			})
		if err != nil {
			return err
		}
		if !ok {
			return notPermitted("receipt is already being verified")
		}
		return s.stores.Receipts.WithTx(tx).AppendLog(ctx, &model.PaymentVerificationLog{
			ID:          uuid.New().String(),
			ReceiptID:   r.ID,
			Method:      model.VerificationManual,
			Result:      model.ReceiptRejected,
			Details:     map[string]interface{}{"reason": "withdrawn by buyer"},
			PerformedBy: actor.ref(),
			CreatedAt:   s.now(),
		})
	})
}

func (s *receiptService) ListPending(ctx context.Context, actor Actor, statuses []model.ReceiptStatus, page, size int) ([]*model.PaymentReceipt, error) {
	if actor.Role != model.RoleSeller && !actor.IsAdmin() {
		return nil, notPermitted("only sellers can list receipts to review")
	}
	if len(statuses) == 0 {
		statuses = []model.ReceiptStatus{model.ReceiptPending, model.ReceiptManualReview}
	}
	sellerID := actor.ID
	if actor.IsAdmin() {
		sellerID = ""
	}
	page, size = normalizePage(page, size)
	return s.stores.Receipts.ListForSeller(ctx, sellerID, statuses, (page-1)*size, size)
}

func (s *receiptService) Logs(ctx context.Context, actor Actor, id string) ([]*model.PaymentVerificationLog, error) {
	r, o, err := s.loadForActor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := actor.requireSeller(o, "read verification logs"); err != nil {
		return nil, err
	}
	return s.stores.Receipts.Logs(ctx, r.ID)
}

func (s *receiptService) Retrigger(ctx context.Context, actor Actor, id string) (*model.PaymentReceipt, error) {
	r, o, err := s.loadForActor(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := actor.requireSeller(o, "re-run verification"); err != nil {
		return nil, err
	}
	if r.ReviewedManually {
		return nil, notPermitted("receipt was reviewed manually")
	}
	switch r.VerificationStatus {
	case model.ReceiptPending, model.ReceiptManualReview:
	case model.ReceiptVerifying:
		// a run that never finished is handed back to PENDING
		ok, err := s.stores.Receipts.ReclaimStale(ctx, r.ID, s.now().Add(-s.settings.StaleVerifyingAfter),
			map[string]interface{}{
				"verification_status": model.ReceiptPending,
				"updated_at":          s.now(),
			})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, notPermitted("receipt is being verified")
		}
		logger.Warn("reclaimed stale verifying receipt", zap.String("receipt_id", r.ID))
	default:
		return nil, notPermitted("receipt is %s", r.VerificationStatus)
	}
	return s.verify(ctx, r.ID, []model.ReceiptStatus{model.ReceiptPending, model.ReceiptManualReview})
}

func (s *receiptService) Verify(ctx context.Context, id string) (*model.PaymentReceipt, error) {
	return s.verify(ctx, id, []model.ReceiptStatus{model.ReceiptPending})
}

func (s *receiptService) verify(ctx context.Context, id string, from []model.ReceiptStatus) (*model.PaymentReceipt, error) {
	claimed, err := s.stores.Receipts.UpdateIfStatus(ctx, id, from, map[string]interface{}{
		"verification_status": model.ReceiptVerifying,
		"updated_at":          s.now(),
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		r, err := s.stores.Receipts.GetByID(ctx, id)
		if err != nil {
			return nil, notFound(err, "receipt")
		}
		if r.VerificationStatus == model.ReceiptVerifying {
			return r, nil
		}
		return nil, notPermitted("receipt is %s", r.VerificationStatus)
	}

	// once claimed, the outcome is written even if the caller goes away;
	// only the vision call itself follows ctx
	persist, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.PersistTimeout)
	defer cancel()

	r, err := s.stores.Receipts.GetByID(persist, id)
	if err != nil {
		return nil, notFound(err, "receipt")
	}
	o, err := s.stores.Orders.GetByID(persist, r.OrderID)
	if err != nil {
		return nil, notFound(err, "order")
	}

	res := s.assess(ctx, r, o)
	return s.applyResult(persist, r, o, res)
}

// assess calls the vision service and validates its answer. It never fails.
func (s *receiptService) assess(ctx context.Context, r *model.PaymentReceipt, o *model.Order) verifier.Result {
	receiver := ""
	if profile, err := s.stores.Users.GetSellerProfile(ctx, o.SellerID); err == nil {
		receiver = profile.SinpeNumber
	} else if !repository.IsNotFound(err) {
		return s.failure(o, err)
	}

	reused, err := s.stores.Receipts.OtherOrderWithImage(ctx, r.ImageHash, o.ID)
	if err != nil {
		return s.failure(o, err)
	}

	image, err := s.images.Open(r.ImagePath)
	if err != nil {
		return s.failure(o, err)
	}

	ext, err := s.client.Extract(ctx, verifier.Request{
		Image:            image,
		ContentType:      r.ContentType,
		ExpectedAmount:   o.Total,
		ExpectedReceiver: verifier.NormalizePhone(receiver, s.policy.CountryCode),
	})
	if err != nil {
		return s.failure(o, err)
	}

	exp := verifier.Expectation{Total: o.Total, ReceiverPhone: receiver}
	if reused != "" {
		if other, err := s.stores.Orders.GetByID(ctx, reused); err == nil {
			exp.ReusedByOrder = other.OrderNumber
		} else {
			exp.ReusedByOrder = reused
		}
	}
	return s.policy.Assess(ext, exp)
}

func (s *receiptService) failure(o *model.Order, err error) verifier.Result {
	logger.Error("receipt verification error",
		zap.String("order_number", o.OrderNumber), zap.Error(err))
	return s.policy.Failure(err)
}

func (s *receiptService) applyResult(ctx context.Context, r *model.PaymentReceipt, o *model.Order, res verifier.Result) (*model.PaymentReceipt, error) {
	now := s.now()
	confidence := res.Confidence
	issues := res.Issues
	if issues == nil {
		issues = []string{}
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"verification_status":        res.Status,
		"extracted_amount":           res.Extracted.Amount,
		"extracted_receiver_phone":   res.Extracted.ReceiverPhone,
		"extracted_sender_phone":     res.Extracted.SenderPhone,
		"extracted_transaction_id":   res.Extracted.TransactionID,
		"extracted_transaction_date": res.Extracted.TransactionDate,
		"extracted_bank":             res.Extracted.Bank,
		"issues":                     string(issuesJSON),
		"verification_notes":         res.Note,
		"verified_by_service":        res.Verified,
		"confidence":                 confidence,
		"verified_at":                now,
		"updated_at":                 now,
	}

	applied := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st := s.stores.withTx(tx)
		ok, err := st.Receipts.UpdateIfStatus(ctx, r.ID, []model.ReceiptStatus{model.ReceiptVerifying}, updates)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true
		if err := st.Receipts.AppendLog(ctx, &model.PaymentVerificationLog{
			ID:        uuid.New().String(),
			ReceiptID: r.ID,
			Method:    model.VerificationAutomated,
			Result:    res.Status,
			Details: map[string]interface{}{
				"verified":      res.Verified,
				"confidence":    confidence,
				"issues":        issues,
				"note":          res.Note,
				"service_error": res.ServiceFail,
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}

		locked, err := st.Orders.LockByID(ctx, o.ID)
		if err != nil {
			return notFound(err, "order")
		}
		if res.Status == model.ReceiptApproved {
			if err := s.approveOrder(ctx, st, locked, nil, "payment approved automatically", now); err != nil {
				return err
			}
			return enqueueEvent(ctx, st.Outbox, EventPaymentApproved, locked, r.ID, res.Note)
		}
		return enqueueEvent(ctx, st.Outbox, EventReceiptPendingReview, locked, r.ID, res.Note)
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		logger.Info("verification result discarded, receipt changed meanwhile", zap.String("receipt_id", r.ID))
	} else {
		s.cache.Invalidate(ctx, o.ID)
		logger.Info("receipt verified",
			zap.String("order_number", o.OrderNumber),
			zap.String("result", string(res.Status)),
			zap.Bool("verified", res.Verified),
			zap.Float64("confidence", confidence),
			zap.Strings("issues", issues))
	}
	return s.stores.Receipts.GetByID(ctx, r.ID)
}

// approveOrder confirms payment on the order. An order that is already paid
// or no longer payable keeps its state; the receipt outcome still stands.
func (s *receiptService) approveOrder(ctx context.Context, st Stores, o *model.Order, by *string, note string, now time.Time) error {
	err := confirmPayment(ctx, st, o, by, note, now)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAlreadyVerified), errors.Is(err, ErrOperationNotPermitted):
		logger.Warn("receipt approved but order not transitioned",
			zap.String("order_number", o.OrderNumber), zap.Error(err))
		return nil
	default:
		return err
	}
}

func (s *receiptService) ManualReview(ctx context.Context, actor Actor, id string, in ManualReviewInput) (*model.PaymentReceipt, error) {
	var orderID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st := s.stores.withTx(tx)
		r, err := st.Receipts.LockByID(ctx, id)
		if err != nil {
			return notFound(err, "receipt")
		}
		o, err := st.Orders.LockByID(ctx, r.OrderID)
		if err != nil {
			return notFound(err, "order")
		}
		if err := actor.requireSeller(o, "review the receipt"); err != nil {
			return err
		}
		if r.VerificationStatus.Final() {
			return notPermitted("receipt already %s", r.VerificationStatus)
		}
		orderID = o.ID

		now := s.now()
		result := model.ReceiptRejected
		if in.Approve {
			result = model.ReceiptApproved
		}
		ok, err := st.Receipts.UpdateIfStatus(ctx, r.ID,
			[]model.ReceiptStatus{model.ReceiptPending, model.ReceiptVerifying, model.ReceiptManualReview},
			map[string]interface{}{
				"verification_status": result,
				"reviewed_manually":   true,
				"reviewed_by":         actor.ref(),
				"manual_review_notes": in.Notes,
				"verified_at":         now,
				"updated_at":          now,
			})
		if err != nil {
			return err
		}
		if !ok {
			return notPermitted("receipt changed concurrently")
		}
		if err := st.Receipts.AppendLog(ctx, &model.PaymentVerificationLog{
			ID:          uuid.New().String(),
			ReceiptID:   r.ID,
			Method:      model.VerificationManual,
			Result:      result,
			Details:     map[string]interface{}{"approved": in.Approve, "notes": in.Notes, "previous_status": string(r.VerificationStatus)},
			PerformedBy: actor.ref(),
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		if in.Approve {
			if err := s.approveOrder(ctx, st, o, actor.ref(), "payment approved by seller", now); err != nil {
				return err
			}
			return enqueueEvent(ctx, st.Outbox, EventPaymentApproved, o, r.ID, in.Notes)
		}
		return enqueueEvent(ctx, st.Outbox, EventPaymentRejected, o, r.ID, in.Notes)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, orderID)
	return s.stores.Receipts.GetByID(ctx, id)
}
