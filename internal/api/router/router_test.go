package router

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/marketplace/config"
	"github.com/d60-Lab/marketplace/internal/api/handler"
	"github.com/d60-Lab/marketplace/internal/delivery"
	"github.com/d60-Lab/marketplace/internal/middleware"
	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/internal/service"
	"github.com/d60-Lab/marketplace/internal/storage"
	"github.com/d60-Lab/marketplace/internal/verifier"
	"github.com/d60-Lab/marketplace/pkg/database"
	"github.com/d60-Lab/marketplace/pkg/jwt"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

type stubVision struct{ ext verifier.Extraction }

func (s stubVision) Extract(context.Context, verifier.Request) (*verifier.Extraction, error) {
	ext := s.ext
	return &ext, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	stores service.Stores
	tokens *jwt.Manager

	buyer, seller, stranger string
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode},
		Delivery: config.DeliveryConfig{
			Currency: "CRC",
			TierAMax: 5, TierBMax: 15, TierCMax: 30,
			TierAFee: decimal.NewFromInt(1500),
			TierBFee: decimal.NewFromInt(3000),
			TierCFee: decimal.NewFromInt(5000),
			TierDFee: decimal.NewFromInt(7500),
		},
		Payment: config.PaymentConfig{
			AutoApproveConfidence: 80,
			ManualReviewFloor:     50,
			RecencyWindow:         time.Hour,
			ReceiptStorageDays:    7,
			DefaultCountryCode:    "+506",
			Timezone:              "America/Costa_Rica",
		},
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testConfig()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	stores := service.NewStores(db)
	fees := delivery.NewCalculator(cfg.Delivery)
	vision := stubVision{ext: verifier.Extraction{
		Amount:          strp("5000"),
		ReceiverPhone:   strp("88887777"),
		TransactionDate: strp(time.Now().UTC().Add(-5 * time.Minute).Format(time.RFC3339)),
		Verified:        true,
		Confidence:      95,
	}}
	images := storage.NewReceiptStoreFs(afero.NewMemMapFs(), 1<<20)

	h := handler.New(
		service.NewOrderService(db, stores, fees, nil),
		service.NewReceiptService(db, stores, images, vision, verifier.NewPolicy(cfg.Payment), nil, nil,
			service.ReceiptSettings{StorageDays: cfg.Payment.ReceiptStorageDays}),
		service.NewReviewService(db, stores),
		service.NewProductService(stores),
		fees,
	)
	tokens := jwt.NewManager("test-secret", "marketplace", time.Hour)

	s := &testServer{
		t:      t,
		engine: Setup(cfg, h, tokens, middleware.NewIPRateLimiter(0, 0)),
		stores: stores,
		tokens: tokens,
	}
	s.buyer = s.user(model.RoleBuyer)
	s.seller = s.user(model.RoleSeller)
	s.stranger = s.user(model.RoleBuyer)
	require.NoError(t, stores.Users.CreateSellerProfile(context.Background(), &model.SellerProfile{
		UserID:       s.seller,
		BusinessName: "Soda La Esquina",
		SinpeNumber:  "8888-7777",
		AcceptsSinpe: true,
	}))
	return s
}

func strp(s string) *string { return &s }

func (s *testServer) user(role model.Role) string {
	id := uuid.New().String()
	require.NoError(s.t, s.stores.Users.Create(context.Background(), &model.User{
		ID: id, Email: id + "@example.com", Phone: "+50670001000", Role: role,
	}))
	return id
}

func (s *testServer) token(id string) string {
	u, err := s.stores.Users.GetByID(context.Background(), id)
	require.NoError(s.t, err)
	tok, err := s.tokens.Generate(u.ID, string(u.Role))
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) product(price int64, stock int) *model.Product {
	p := &model.Product{
		ID:          uuid.New().String(),
		SellerID:    s.seller,
		Name:        "Cafe molido",
		Price:       decimal.NewFromInt(price),
		Stock:       stock,
		IsAvailable: true,
	}
	require.NoError(s.t, s.stores.Products.Create(context.Background(), p))
	return p
}

func (s *testServer) do(method, path, userID string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(userID))
	}
	return s.serve(req)
}

func (s *testServer) serve(req *http.Request) (*httptest.ResponseRecorder, envelope) {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (s *testServer) upload(userID, orderID string) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(s.t, mw.WriteField("order_id", orderID))
	fw, err := mw.CreateFormFile("receipt_image", "sinpe.png")
	require.NoError(s.t, err)
	_, err = fw.Write(pngBytes)
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/receipts/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token(userID))
	return s.serve(req)
}

func orderBody(sellerID, productID string, qty int, payment string) gin.H {
	return gin.H{
		"seller_id":       sellerID,
		"items":           []gin.H{{"product_id": productID, "quantity": qty}},
		"delivery_method": "PICKUP",
		"payment_method":  payment,
	}
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSinpeCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	p := s.product(2500, 3)

	w, env := s.do(http.MethodPost, "/api/v1/orders", s.buyer, orderBody(s.seller, p.ID, 2, "SINPE"))
	require.Equal(t, http.StatusCreated, w.Code, env.Message)
	order := decode[model.Order](t, env)
	assert.Equal(t, model.OrderStatusPaymentPending, order.Status)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(5000)))

	w, env = s.upload(s.buyer, order.ID)
	require.Equal(t, http.StatusCreated, w.Code, env.Message)
	receipt := decode[model.PaymentReceipt](t, env)
	assert.Equal(t, model.ReceiptApproved, receipt.VerificationStatus)

	w, env = s.do(http.MethodGet, "/api/v1/orders/"+order.ID, s.buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[model.Order](t, env)
	assert.Equal(t, model.OrderStatusConfirmed, got.Status)
	assert.True(t, got.PaymentVerified)
	assert.NotEmpty(t, got.History)

	w, _ = s.upload(s.buyer, order.ID)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/payments/receipts/"+receipt.ID+"/logs", s.seller, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/orders/"+order.ID, s.stranger, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	status := gin.H{"status": "PROCESSING"}
	w, _ = s.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/update_status", s.buyer, status)
	assert.Equal(t, http.StatusConflict, w.Code)
	w, env = s.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/update_status", s.seller, status)
	require.Equal(t, http.StatusOK, w.Code, env.Message)

	w, _ = s.do(http.MethodDelete, "/api/v1/orders/"+order.ID, s.buyer, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateOrderErrors(t *testing.T) {
	s := newTestServer(t)
	p := s.product(1000, 1)

	w, env := s.do(http.MethodPost, "/api/v1/orders", s.buyer, orderBody(s.seller, p.ID, 3, "CASH"))
	require.Equal(t, http.StatusConflict, w.Code)
	details := decode[map[string]interface{}](t, env)
	assert.EqualValues(t, 1, details["available"])
	assert.EqualValues(t, 3, details["requested"])

	bad := orderBody(s.seller, p.ID, 1, "CASH")
	bad["delivery_method"] = "DRONE"
	w, _ = s.do(http.MethodPost, "/api/v1/orders", s.buyer, bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/orders", s.buyer, orderBody(s.buyer, p.ID, 1, "CASH"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/orders", s.seller, orderBody(s.seller, p.ID, 1, "CASH"))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelRestoresStock(t *testing.T) {
	s := newTestServer(t)
	p := s.product(1000, 2)

	_, env := s.do(http.MethodPost, "/api/v1/orders", s.buyer, orderBody(s.seller, p.ID, 2, "CASH"))
	order := decode[model.Order](t, env)

	w, env := s.do(http.MethodDelete, "/api/v1/orders/"+order.ID+"?reason=changed+my+mind", s.buyer, nil)
	require.Equal(t, http.StatusOK, w.Code, env.Message)
	assert.Equal(t, model.OrderStatusCancelled, decode[model.Order](t, env).Status)

	got, err := s.stores.Products.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)

	w, _ = s.do(http.MethodDelete, "/api/v1/orders/"+order.ID, s.buyer, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCalculateDeliveryCost(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(http.MethodPost, "/api/v1/orders/calculate_delivery_cost", "", gin.H{
		"seller_latitude": 9.9281, "seller_longitude": -84.0907,
		"buyer_latitude": 9.9281, "buyer_longitude": -84.0907,
	})
	require.Equal(t, http.StatusOK, w.Code, env.Message)
	quote := decode[delivery.Quote](t, env)
	assert.Equal(t, "A", quote.Tier)
	assert.True(t, quote.Fee.Equal(decimal.NewFromInt(1500)))

	w, _ = s.do(http.MethodPost, "/api/v1/orders/calculate_delivery_cost", "", gin.H{
		"seller_latitude": "north", "seller_longitude": -84.0907,
		"buyer_latitude": 9.9281, "buyer_longitude": -84.0907,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProductView(t *testing.T) {
	s := newTestServer(t)
	p := s.product(1000, 1)

	w, env := s.do(http.MethodGet, "/api/v1/products/"+p.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[model.Product](t, env).ViewsCount)

	w, _ = s.do(http.MethodGet, "/api/v1/products/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReviewEndpoints(t *testing.T) {
	s := newTestServer(t)
	p := s.product(1000, 1)
	_, env := s.do(http.MethodPost, "/api/v1/orders", s.buyer, orderBody(s.seller, p.ID, 1, "CASH"))
	order := decode[model.Order](t, env)

	review := gin.H{"order_id": order.ID, "rating": 4, "comment": "bien"}
	w, _ := s.do(http.MethodPost, "/api/v1/reviews", s.buyer, review)
	assert.Equal(t, http.StatusConflict, w.Code)

	for _, st := range []string{"CONFIRMED", "SHIPPED", "DELIVERED"} {
		w, env = s.do(http.MethodPost, "/api/v1/orders/"+order.ID+"/update_status", s.seller, gin.H{"status": st})
		require.Equal(t, http.StatusOK, w.Code, env.Message)
	}

	w, env = s.do(http.MethodPost, "/api/v1/reviews", s.buyer, review)
	require.Equal(t, http.StatusCreated, w.Code, env.Message)
	created := decode[model.Review](t, env)

	w, _ = s.do(http.MethodPost, "/api/v1/reviews", s.buyer, gin.H{"order_id": order.ID, "rating": 9})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodDelete, "/api/v1/reviews/"+created.ID, s.buyer, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
