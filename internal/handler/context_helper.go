package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/opencourse/lms-api/internal/middleware"
	"github.com/opencourse/lms-api/internal/models"
	"github.com/opencourse/lms-api/internal/service"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func auditFromContext(c *gin.Context) service.AuditContext {
	actor := service.AuditContext{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if claims := claimsFromContext(c); claims != nil {
		id := claims.UserID
		actor.UserID = &id
	}
	return actor
}
