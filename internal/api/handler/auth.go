package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/somuraj07/saams/internal/models"
)

const callerKey = "caller"

// bearerToken дістає токен із заголовка Authorization або з ?token=
// (браузерний WebSocket не вміє ставити заголовки).
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(authHeader[len("Bearer "):])
	}
	return c.Query("token")
}

// AuthMiddleware validates the bearer token and stores the caller in the context.
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := h.authenticate(c)
		if !ok {
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func (h *Handler) authenticate(c *gin.Context) (models.Caller, bool) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
		return models.Caller{}, false
	}
	caller, err := h.Tokens.Validate(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return models.Caller{}, false
	}
	return caller, true
}

func callerFrom(c *gin.Context) models.Caller {
	v, _ := c.Get(callerKey)
	caller, _ := v.(models.Caller)
	return caller
}
