package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/marketplace/internal/cache"
	"github.com/d60-Lab/marketplace/internal/delivery"
	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/internal/repository"
	"github.com/d60-Lab/marketplace/pkg/logger"
)

const orderNumberAttempts = 5

// OrderItemInput is one requested line.
type OrderItemInput struct {
	ProductID string
	Quantity  int
}

// CreateOrderInput carries everything the buyer submits at checkout.
type CreateOrderInput struct {
	SellerID string
	Items    []OrderItemInput

	DeliveryMethod   model.DeliveryMethod
	DeliveryAddress  string
	DeliveryProvince string
	DeliveryCanton   string
	DeliveryDistrict string
	DeliveryNotes    string
	// DeliveryFee as quoted to the buyer. When nil and BuyerLocation is set the
	// fee is computed from the seller's registered location.
	DeliveryFee   *decimal.Decimal
	BuyerLocation *delivery.Point

	PaymentMethod model.PaymentMethod
	BuyerPhone    string
	BuyerNotes    string
}

// UpdateStatusInput is a seller-driven transition.
type UpdateStatusInput struct {
	Status      model.OrderStatus
	Notes       string
	SellerNotes *string
}

// ListOrdersInput paginates the caller's orders.
type ListOrdersInput struct {
	Status   model.OrderStatus
	Page     int
	PageSize int
}

// OrderService drives the order state machine.
type OrderService interface {
	Create(ctx context.Context, actor Actor, in CreateOrderInput) (*model.Order, error)
	Get(ctx context.Context, actor Actor, id string) (*model.Order, error)
	List(ctx context.Context, actor Actor, in ListOrdersInput) ([]*model.Order, int64, error)
	UpdateStatus(ctx context.Context, actor Actor, id string, in UpdateStatusInput) (*model.Order, error)
	ConfirmPayment(ctx context.Context, actor Actor, id, notes string) (*model.Order, error)
	Cancel(ctx context.Context, actor Actor, id, reason string) (*model.Order, error)
}

type orderService struct {
	db     *gorm.DB
	stores Stores
	fees   *delivery.Calculator
	cache  *cache.OrderCache
	now    func() time.Time
}

func NewOrderService(db *gorm.DB, stores Stores, fees *delivery.Calculator, orderCache *cache.OrderCache) OrderService {
	return &orderService{db: db, stores: stores, fees: fees, cache: orderCache, now: time.Now}
}

func (s *orderService) Create(ctx context.Context, actor Actor, in CreateOrderInput) (*model.Order, error) {
	if actor.Role != model.RoleBuyer {
		return nil, notPermitted("only buyers can place orders")
	}
	items, err := mergeItems(in.Items)
	if err != nil {
		return nil, err
	}
	if !in.DeliveryMethod.Valid() {
		return nil, invalid("delivery_method", "unknown delivery method %q", in.DeliveryMethod)
	}
	if !in.PaymentMethod.Valid() {
		return nil, invalid("payment_method", "unknown payment method %q", in.PaymentMethod)
	}
	if in.DeliveryMethod == model.DeliveryDelivery && strings.TrimSpace(in.DeliveryAddress) == "" {
		return nil, invalid("delivery_address", "required for delivery orders")
	}

	buyer, err := s.stores.Users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, notFound(err, "buyer")
	}
	seller, err := s.stores.Users.GetByID(ctx, in.SellerID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, invalid("seller_id", "seller does not exist")
		}
		return nil, err
	}
	if seller.Role != model.RoleSeller {
		return nil, invalid("seller_id", "user is not a seller")
	}
	if seller.ID == buyer.ID {
		return nil, invalid("seller_id", "cannot buy from yourself")
	}
	profile, err := s.stores.Users.GetSellerProfile(ctx, seller.ID)
	if err != nil && !repository.IsNotFound(err) {
		return nil, err
	}
	if in.PaymentMethod == model.PaymentSinpe && (profile == nil || !profile.AcceptsSinpe || profile.SinpeNumber == "") {
		return nil, invalid("payment_method", "seller does not accept SINPE Móvil")
	}

	fee, err := s.deliveryFee(in, profile)
	if err != nil {
		return nil, err
	}

	phone := in.BuyerPhone
	if phone == "" {
		phone = buyer.Phone
	}
	now := s.now()
	order := &model.Order{
		ID:               uuid.New().String(),
		BuyerID:          buyer.ID,
		SellerID:         seller.ID,
		DeliveryMethod:   in.DeliveryMethod,
		DeliveryAddress:  in.DeliveryAddress,
		DeliveryProvince: in.DeliveryProvince,
		DeliveryCanton:   in.DeliveryCanton,
		DeliveryDistrict: in.DeliveryDistrict,
		DeliveryNotes:    in.DeliveryNotes,
		DeliveryFee:      fee,
		PaymentMethod:    in.PaymentMethod,
		BuyerPhone:       phone,
		BuyerEmail:       buyer.Email,
		BuyerNotes:       in.BuyerNotes,
		Status:           model.OrderStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.PaymentMethod.RequiresVerification() {
		order.Status = model.OrderStatusPaymentPending
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st := s.stores.withTx(tx)

		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.ProductID
		}
		locked, err := st.Products.LockForUpdate(ctx, ids)
		if err != nil {
			return err
		}
		byID := make(map[string]*model.Product, len(locked))
		for _, p := range locked {
			byID[p.ID] = p
		}

		for _, it := range items {
			p, ok := byID[it.ProductID]
			if !ok {
				return invalid("items", "product %s does not exist", it.ProductID)
			}
			if p.SellerID != seller.ID {
				return invalid("items", "product %s is not sold by this seller", p.Name)
			}
			if !p.IsAvailable && p.Stock > 0 {
				return invalid("items", "product %s is not available", p.Name)
			}
		}
		for _, it := range items {
			if p := byID[it.ProductID]; it.Quantity > p.Stock {
				return &InsufficientStockError{ProductID: p.ID, ProductName: p.Name, Requested: it.Quantity, Available: p.Stock}
			}
		}

		subtotal := decimal.Zero
		order.Items = make([]model.OrderItem, 0, len(items))
		for _, it := range items {
			p := byID[it.ProductID]
			line := p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
			order.Items = append(order.Items, model.OrderItem{
				ID:           uuid.New().String(),
				OrderID:      order.ID,
				ProductID:    p.ID,
				ProductName:  p.Name,
				ProductPrice: p.Price,
				Quantity:     it.Quantity,
				Subtotal:     line,
				CreatedAt:    now,
			})
			subtotal = subtotal.Add(line)

			if err := st.Products.DecrementStock(ctx, p.ID, it.Quantity); err != nil {
				if errors.Is(err, repository.ErrStockConflict) {
					return &InsufficientStockError{ProductID: p.ID, ProductName: p.Name, Requested: it.Quantity, Available: p.Stock}
				}
				return err
			}
			if err := st.Products.MarkUnavailableIfExhausted(ctx, p.ID); err != nil {
				return err
			}
		}
		order.Subtotal = subtotal
		order.Total = subtotal.Add(order.DeliveryFee)

		number, err := s.newOrderNumber(ctx, st.Orders, now)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		if err := st.Orders.Create(ctx, order); err != nil {
			return err
		}
		if err := st.Orders.AppendHistory(ctx, &model.OrderStatusHistory{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			Status:    order.Status,
			Notes:     "order created",
			ChangedBy: actor.ref(),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return enqueueEvent(ctx, st.Outbox, EventOrderCreated, order, "", "")
	})
	if err != nil {
		return nil, err
	}

	logger.Info("order created",
		zap.String("order_number", order.OrderNumber),
		zap.String("buyer_id", order.BuyerID),
		zap.String("seller_id", order.SellerID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.String("status", string(order.Status)))
	return order, nil
}

func (s *orderService) deliveryFee(in CreateOrderInput, profile *model.SellerProfile) (decimal.Decimal, error) {
	if in.DeliveryMethod == model.DeliveryPickup {
		return decimal.Zero, nil
	}
	if in.DeliveryFee != nil {
		if in.DeliveryFee.IsNegative() {
			return decimal.Zero, invalid("delivery_fee", "must not be negative")
		}
		return in.DeliveryFee.Round(2), nil
	}
	if in.BuyerLocation != nil && profile != nil && profile.Latitude != nil && profile.Longitude != nil && s.fees != nil {
		q := s.fees.Quote(delivery.Point{Lat: *profile.Latitude, Lon: *profile.Longitude}, *in.BuyerLocation)
		return q.Fee, nil
	}
	return decimal.Zero, nil
}

// newOrderNumber yields YYYYMMDD-XXXXXX, retrying on collision.
func (s *orderService) newOrderNumber(ctx context.Context, orders repository.OrderRepository, now time.Time) (string, error) {
	for i := 0; i < orderNumberAttempts; i++ {
		suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
		number := fmt.Sprintf("%s-%s", now.Format("20060102"), suffix)
		exists, err := orders.OrderNumberExists(ctx, number)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique order number after %d attempts", orderNumberAttempts)
}

// mergeItems validates quantities and folds repeated products into one line.
func mergeItems(in []OrderItemInput) ([]OrderItemInput, error) {
	if len(in) == 0 {
		return nil, invalid("items", "at least one item is required")
	}
	qty := make(map[string]int, len(in))
	for _, it := range in {
		if strings.TrimSpace(it.ProductID) == "" {
			return nil, invalid("items", "product_id is required")
		}
		if it.Quantity < 1 {
			return nil, invalid("items", "quantity must be at least 1")
		}
		qty[it.ProductID] += it.Quantity
	}
	out := make([]OrderItemInput, 0, len(qty))
	for id, q := range qty {
		out = append(out, OrderItemInput{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *orderService) Get(ctx context.Context, actor Actor, id string) (*model.Order, error) {
	order, err := s.cache.Get(ctx, id, func(ctx context.Context) (*model.Order, error) {
		return s.stores.Orders.GetDetail(ctx, id)
	})
	if err != nil {
		return nil, notFound(err, "order")
	}
	if !actor.IsAdmin() && !order.IsParticipant(actor.ID) {
		return nil, forbidden("order %s", order.OrderNumber)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, actor Actor, in ListOrdersInput) ([]*model.Order, int64, error) {
	if in.Status != "" && !in.Status.Valid() {
		return nil, 0, invalid("status", "unknown status %q", in.Status)
	}
	page, size := normalizePage(in.Page, in.PageSize)
	f := repository.OrderFilter{Status: in.Status, Offset: (page - 1) * size, Limit: size}
	switch actor.Role {
	case model.RoleAdmin:
	case model.RoleSeller:
		f.SellerID = actor.ID
	default:
		f.BuyerID = actor.ID
	}
	return s.stores.Orders.List(ctx, f)
}

func (s *orderService) UpdateStatus(ctx context.Context, actor Actor, id string, in UpdateStatusInput) (*model.Order, error) {
	if !in.Status.Valid() {
		return nil, invalid("status", "unknown status %q", in.Status)
	}

	var updated *model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st := s.stores.withTx(tx)
		o, err := st.Orders.LockByID(ctx, id)
		if err != nil {
			return notFound(err, "order")
		}
		if err := actor.requireSeller(o, "update the order status"); err != nil {
			return err
		}

		now := s.now()
		prev := o.Status
		updates := map[string]interface{}{"status": in.Status, "updated_at": now}
		applyTimestamps(o, in.Status, now, updates)
		if in.SellerNotes != nil {
			updates["seller_notes"] = *in.SellerNotes
			o.SellerNotes = *in.SellerNotes
		}
		if err := st.Orders.Update(ctx, o.ID, updates); err != nil {
			return err
		}
		o.Status = in.Status
		o.UpdatedAt = now

		note := strings.TrimSpace(in.Notes)
		if note == "" {
			note = fmt.Sprintf("status changed from %s to %s", prev, in.Status)
		}
		if err := st.Orders.AppendHistory(ctx, &model.OrderStatusHistory{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			Status:    in.Status,
			Notes:     note,
			ChangedBy: actor.ref(),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		updated = o
		return enqueueEvent(ctx, st.Outbox, EventOrderStatusChanged, o, "", note)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, id)
	return updated, nil
}

// applyTimestamps sets lifecycle timestamps that are still unset.
func applyTimestamps(o *model.Order, status model.OrderStatus, now time.Time, updates map[string]interface{}) {
	t := now
	switch status {
	case model.OrderStatusConfirmed:
		if o.ConfirmedAt == nil {
			o.ConfirmedAt = &t
			updates["confirmed_at"] = now
		}
	case model.OrderStatusShipped:
		if o.ShippedAt == nil {
			o.ShippedAt = &t
			updates["shipped_at"] = now
		}
	case model.OrderStatusDelivered:
		if o.DeliveredAt == nil {
			o.DeliveredAt = &t
			updates["delivered_at"] = now
		}
	}
}

func (s *orderService) ConfirmPayment(ctx context.Context, actor Actor, id, notes string) (*model.Order, error) {
	var updated *model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st := s.stores.withTx(tx)
		o, err := st.Orders.LockByID(ctx, id)
		if err != nil {
			return notFound(err, "order")
		}
		if err := actor.requireSeller(o, "confirm the payment"); err != nil {
			return err
		}
		if notes == "" {
			notes = "payment confirmed by seller"
		}
		if err := confirmPayment(ctx, st, o, actor.ref(), notes, s.now()); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, id)
	return updated, nil
}

// confirmPayment marks a locked SINPE order as paid and advances PAYMENT_PENDING
// to CONFIRMED. It runs on the caller's transaction.
func confirmPayment(ctx context.Context, st Stores, o *model.Order, changedBy *string, note string, now time.Time) error {
	if o.PaymentMethod != model.PaymentSinpe {
		return invalid("payment_method", "only SINPE payments need confirmation")
	}
	if o.PaymentVerified {
		return ErrAlreadyVerified
	}
	if o.Status.Terminal() {
		return notPermitted("order is %s", o.Status)
	}

	updates := map[string]interface{}{
		"payment_verified":    true,
		"payment_verified_at": now,
		"updated_at":          now,
	}
	if o.Status == model.OrderStatusPaymentPending {
		updates["status"] = model.OrderStatusConfirmed
		applyTimestamps(o, model.OrderStatusConfirmed, now, updates)
		o.Status = model.OrderStatusConfirmed
	}
	ok, err := st.Orders.MarkPaymentVerified(ctx, o.ID, updates)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyVerified
	}
	t := now
	o.PaymentVerified = true
	o.PaymentVerifiedAt = &t
	o.UpdatedAt = now

	if err := st.Orders.AppendHistory(ctx, &model.OrderStatusHistory{
		ID:        uuid.New().String(),
		OrderID:   o.ID,
		Status:    o.Status,
		Notes:     note,
		ChangedBy: changedBy,
		CreatedAt: now,
	}); err != nil {
		return err
	}
	return enqueueEvent(ctx, st.Outbox, EventOrderStatusChanged, o, "", note)
}

func (s *orderService) Cancel(ctx context.Context, actor Actor, id, reason string) (*model.Order, error) {
	var updated *model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st := s.stores.withTx(tx)
		o, err := st.Orders.LockByID(ctx, id)
		if err != nil {
			return notFound(err, "order")
		}
		if err := actor.requireBuyer(o, "cancel the order"); err != nil {
			return err
		}
		if !o.Status.Cancellable() {
			return notPermitted("cannot cancel an order in status %s", o.Status)
		}

		items, err := st.Orders.Items(ctx, o.ID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := st.Products.RestoreStock(ctx, it.ProductID, it.Quantity); err != nil {
				if repository.IsNotFound(err) {
					logger.Warn("product gone, stock not restored",
						zap.String("order_number", o.OrderNumber), zap.String("product_id", it.ProductID))
					continue
				}
				return err
			}
		}

		now := s.now()
		ok, err := st.Orders.UpdateIfStatus(ctx, o.ID,
			[]model.OrderStatus{model.OrderStatusPending, model.OrderStatusPaymentPending},
			map[string]interface{}{"status": model.OrderStatusCancelled, "updated_at": now})
		if err != nil {
			return err
		}
		if !ok {
			return notPermitted("order %s was already changed", o.OrderNumber)
		}
		o.Status = model.OrderStatusCancelled
		o.UpdatedAt = now

		note := strings.TrimSpace(reason)
		if note == "" {
			note = "order cancelled by buyer"
		}
		if err := st.Orders.AppendHistory(ctx, &model.OrderStatusHistory{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			Status:    model.OrderStatusCancelled,
			Notes:     note,
			ChangedBy: actor.ref(),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		updated = o
		return enqueueEvent(ctx, st.Outbox, EventOrderCancelled, o, "", note)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, id)
	logger.Info("order cancelled", zap.String("order_number", updated.OrderNumber))
	return updated, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
