package middleware

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/marketplace/pkg/logger"
	"github.com/d60-Lab/marketplace/pkg/response"
)

// Sentry 为每个请求挂上 hub，上报 panic 后继续抛给 Recovery
func Sentry() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{Repanic: true})
}

// Recovery 捕获 panic，记录日志并返回 500
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(RequestIDHeader)),
				)
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
						Code:    http.StatusInternalServerError,
						Message: "internal server error",
					})
					return
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

// CaptureError 上报非 panic 的服务端错误
func CaptureError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	hub := sentrygin.GetHubFromContext(c)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("request_id", c.GetString(RequestIDHeader))
		scope.SetTag("route", fmt.Sprintf("%s %s", c.Request.Method, c.FullPath()))
		if actor, ok := CurrentActor(c); ok {
			scope.SetUser(sentry.User{ID: actor.ID})
		}
		hub.CaptureException(err)
	})
}
