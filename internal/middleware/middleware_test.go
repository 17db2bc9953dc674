package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/pkg/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAuth(t *testing.T) {
	m := jwt.NewManager("secret", "marketplace", time.Hour)
	r := gin.New()
	r.GET("/me", Auth(m), func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": actor.ID, "role": actor.Role})
	})

	token, err := m.Generate("u1", string(model.RoleSeller))
	require.NoError(t, err)
	badRole, err := m.Generate("u1", "root")
	require.NoError(t, err)
	other, err := jwt.NewManager("other", "marketplace", time.Hour).Generate("u1", "buyer")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Token " + token, http.StatusUnauthorized},
		{"bad signature", "Bearer " + other, http.StatusUnauthorized},
		{"unknown role", "Bearer " + badRole, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"id":"u1","role":"seller"}`, w.Body.String())
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Logger())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDHeader)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
}

func TestRateLimit(t *testing.T) {
	l := NewIPRateLimiter(1, 2)
	r := gin.New()
	r.Use(RateLimit(l))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	assert.Equal(t, 0, l.Sweep(time.Now()))
	assert.Equal(t, 1, l.Sweep(time.Now().Add(time.Hour)))
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}

func TestRegisterValidators(t *testing.T) {
	require.NoError(t, RegisterValidators())

	type req struct {
		Status   string `binding:"required,order_status"`
		Delivery string `binding:"required,delivery_method"`
		Payment  string `binding:"required,payment_method"`
	}
	assert.NoError(t, binding.Validator.ValidateStruct(req{Status: "SHIPPED", Delivery: "PICKUP", Payment: "SINPE"}))
	assert.Error(t, binding.Validator.ValidateStruct(req{Status: "LOST", Delivery: "PICKUP", Payment: "SINPE"}))
	assert.Error(t, binding.Validator.ValidateStruct(req{Status: "SHIPPED", Delivery: "DRONE", Payment: "SINPE"}))
	assert.Error(t, binding.Validator.ValidateStruct(req{Status: "SHIPPED", Delivery: "PICKUP", Payment: "CARD"}))
}
