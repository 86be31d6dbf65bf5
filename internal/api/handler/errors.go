package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/somuraj07/saams/internal/apperrors"
	"go.uber.org/zap"
)

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *apperrors.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": verr.Fields})
	case errors.Is(err, apperrors.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, apperrors.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, apperrors.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	default:
		h.logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
