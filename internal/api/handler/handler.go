package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/marketplace/internal/delivery"
	"github.com/d60-Lab/marketplace/internal/middleware"
	"github.com/d60-Lab/marketplace/internal/service"
	"github.com/d60-Lab/marketplace/pkg/logger"
	"github.com/d60-Lab/marketplace/pkg/response"
)

// Handler 聚合各业务 handler 依赖
type Handler struct {
	orders   service.OrderService
	receipts service.ReceiptService
	reviews  service.ReviewService
	products service.ProductService
	fees     *delivery.Calculator
}

func New(orders service.OrderService, receipts service.ReceiptService, reviews service.ReviewService,
	products service.ProductService, fees *delivery.Calculator) *Handler {
	return &Handler{orders: orders, receipts: receipts, reviews: reviews, products: products, fees: fees}
}

// actor 路由组已挂 Auth，这里取不到说明路由配置错误
func actor(c *gin.Context) (service.Actor, bool) {
	a, ok := middleware.CurrentActor(c)
	if !ok {
		response.Unauthorized(c, "unauthenticated")
	}
	return a, ok
}

// fail 把业务错误映射为 HTTP 状态码
func fail(c *gin.Context, err error) {
	var (
		stockErr *service.InsufficientStockError
		valErr   *service.ValidationError
	)
	switch {
	case errors.As(err, &stockErr):
		response.Conflict(c, stockErr.Error(), gin.H{
			"product_id":   stockErr.ProductID,
			"product_name": stockErr.ProductName,
			"requested":    stockErr.Requested,
			"available":    stockErr.Available,
		})
	case errors.As(err, &valErr):
		response.BadRequest(c, valErr.Error())
	case errors.Is(err, service.ErrValidation):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	// ErrForbidden 包装了 ErrOperationNotPermitted，必须先判断
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrOperationNotPermitted),
		errors.Is(err, service.ErrDuplicateReceipt),
		errors.Is(err, service.ErrAlreadyVerified):
		response.Conflict(c, err.Error(), nil)
	default:
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(middleware.RequestIDHeader)),
			zap.Error(err))
		middleware.CaptureError(c, err)
		response.InternalError(c, err)
	}
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, size
}
