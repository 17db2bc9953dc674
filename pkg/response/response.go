package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func write(c *gin.Context, status int, msg string, data interface{}) {
	c.JSON(status, Response{Code: status, Message: msg, Data: data})
}

// Success 200
func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, "success", data)
}

// Created 201
func Created(c *gin.Context, data interface{}) {
	write(c, http.StatusCreated, "created", data)
}

// BadRequest 400
func BadRequest(c *gin.Context, msg string) {
	write(c, http.StatusBadRequest, msg, nil)
}

// Unauthorized 401
func Unauthorized(c *gin.Context, msg string) {
	write(c, http.StatusUnauthorized, msg, nil)
}

// Forbidden 403
func Forbidden(c *gin.Context, msg string) {
	write(c, http.StatusForbidden, msg, nil)
}

// NotFound 404
func NotFound(c *gin.Context, msg string) {
	write(c, http.StatusNotFound, msg, nil)
}

// Conflict 409，data 可携带结构化细节（如可用库存）
func Conflict(c *gin.Context, msg string, data interface{}) {
	write(c, http.StatusConflict, msg, data)
}

// TooManyRequests 429
func TooManyRequests(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{Code: http.StatusTooManyRequests, Message: "too many requests"})
}

// InternalError 500，不向客户端暴露内部错误
func InternalError(c *gin.Context, err error) {
	if err != nil {
		_ = c.Error(err)
	}
	write(c, http.StatusInternalServerError, "internal server error", nil)
}
