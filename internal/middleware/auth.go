package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/marketplace/internal/model"
	"github.com/d60-Lab/marketplace/internal/service"
	"github.com/d60-Lab/marketplace/pkg/jwt"
	"github.com/d60-Lab/marketplace/pkg/response"
)

const actorKey = "actor"

// Auth 校验 Bearer 令牌，并把调用者写入上下文
func Auth(m *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}
		claims, err := m.Parse(strings.TrimSpace(token))
		if err != nil {
			response.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}
		role := model.Role(claims.Role)
		if !role.Valid() {
			response.Unauthorized(c, "invalid role")
			c.Abort()
			return
		}
		c.Set(actorKey, service.Actor{ID: claims.UserID, Role: role})
		c.Next()
	}
}

// CurrentActor 取出 Auth 写入的调用者
func CurrentActor(c *gin.Context) (service.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return service.Actor{}, false
	}
	actor, ok := v.(service.Actor)
	return actor, ok
}
