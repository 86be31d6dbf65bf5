package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/somuraj07/saams/internal/apperrors"
	"github.com/somuraj07/saams/internal/models"
)

type createMessageRequest struct {
	AppointmentID string `json:"appointmentId" binding:"required"`
	Content       string `json:"content"`
}

// ListMessages GET /api/communication/messages?appointmentId=
func (h *Handler) ListMessages(c *gin.Context) {
	msgs, err := h.Comm.ListMessages(c.Request.Context(), callerFrom(c), c.Query("appointmentId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// CreateMessage POST /api/communication/messages
func (h *Handler) CreateMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, apperrors.NewValidationError(apperrors.FieldError{Field: "appointmentId", Error: "this field is required"}))
		return
	}
	caller := callerFrom(c)
	if !h.Limiter.Allow(c.Request.Context(), caller.ID, h.MessageRule) {
		h.writeError(c, apperrors.ErrRateLimited)
		return
	}
	msg, err := h.Comm.CreateMessage(c.Request.Context(), caller, req.AppointmentID, req.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
