package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/d60-Lab/marketplace/internal/service"
)

func TestFailStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &service.ValidationError{Field: "items", Message: "required"}, http.StatusBadRequest},
		{"not found", fmt.Errorf("%w: order", service.ErrNotFound), http.StatusNotFound},
		{"forbidden", fmt.Errorf("%w: order 1", service.ErrForbidden), http.StatusForbidden},
		{"not permitted", fmt.Errorf("%w: only the seller", service.ErrOperationNotPermitted), http.StatusConflict},
		{"duplicate receipt", service.ErrDuplicateReceipt, http.StatusConflict},
		{"already verified", service.ErrAlreadyVerified, http.StatusConflict},
		{"stock", &service.InsufficientStockError{ProductID: "p", Requested: 2, Available: 1}, http.StatusConflict},
		{"unknown", errors.New("db gone"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			fail(c, tt.err)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
