package router

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "github.com/d60-Lab/marketplace/docs"
	"github.com/d60-Lab/marketplace/config"
	"github.com/d60-Lab/marketplace/internal/api/handler"
	"github.com/d60-Lab/marketplace/internal/middleware"
	"github.com/d60-Lab/marketplace/pkg/jwt"
	"github.com/d60-Lab/marketplace/pkg/logger"
)

// Setup 组装中间件与路由
func Setup(cfg *config.Config, h *handler.Handler, tokens *jwt.Manager, limiter *middleware.IPRateLimiter) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	if err := middleware.RegisterValidators(); err != nil {
		logger.Warn("register validators failed", zap.Error(err))
	}
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
		middleware.Sentry(),
		gzip.Gzip(gzip.DefaultCompression),
	)
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Server.Mode != gin.ReleaseMode {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := r.Group("/api/v1", middleware.RateLimit(limiter))
	{
		v1.GET("/products/:id", h.GetProduct)
		v1.POST("/orders/calculate_delivery_cost", h.CalculateDeliveryCost)

		auth := v1.Group("", middleware.Auth(tokens))

		orders := auth.Group("/orders")
		{
			orders.POST("", h.CreateOrder)
			orders.GET("", h.ListOrders)
			orders.GET("/:id", h.GetOrder)
			orders.POST("/:id/update_status", h.UpdateOrderStatus)
			orders.POST("/:id/confirm_payment", h.ConfirmPayment)
			orders.DELETE("/:id", h.CancelOrder)
		}

		receipts := auth.Group("/payments/receipts")
		{
			receipts.POST("/upload", h.UploadReceipt)
			receipts.GET("/pending", h.ListPendingReceipts)
			receipts.GET("/:id", h.GetReceipt)
			receipts.DELETE("/:id", h.DeleteReceipt)
			receipts.GET("/:id/logs", h.ReceiptLogs)
			receipts.POST("/:id/verify", h.VerifyReceipt)
			receipts.POST("/:id/manual_review", h.ManualReview)
		}

		reviews := auth.Group("/reviews")
		{
			reviews.POST("", h.CreateReview)
			reviews.DELETE("/:id", h.DeleteReview)
		}
	}
	return r
}
