package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/somuraj07/saams/internal/apperrors"
	"github.com/somuraj07/saams/internal/models"
)

type createAppointmentRequest struct {
	TeacherID string `json:"teacherId" binding:"required"`
	Note      string `json:"note"`
}

// ListTeachers GET /api/teacher/list
func (h *Handler) ListTeachers(c *gin.Context) {
	teachers, err := h.Comm.ListTeachers(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if teachers == nil {
		teachers = []models.User{}
	}
	c.JSON(http.StatusOK, gin.H{"teachers": teachers})
}

// ListAppointments GET /api/communication/appointments
func (h *Handler) ListAppointments(c *gin.Context) {
	apts, err := h.Comm.ListAppointments(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if apts == nil {
		apts = []models.Appointment{}
	}
	c.JSON(http.StatusOK, gin.H{"appointments": apts})
}

// CreateAppointment POST /api/communication/appointments
func (h *Handler) CreateAppointment(c *gin.Context) {
	var req createAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, apperrors.NewValidationError(apperrors.FieldError{Field: "teacherId", Error: "this field is required"}))
		return
	}
	apt, err := h.Comm.CreateAppointment(c.Request.Context(), callerFrom(c), req.TeacherID, req.Note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"appointment": apt})
}

type transitionFunc func(ctx context.Context, caller models.Caller, id string) (*models.Appointment, error)

func (h *Handler) transition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		apt, err := fn(c.Request.Context(), callerFrom(c), c.Param("id"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"appointment": apt})
	}
}

// ApproveAppointment POST /api/communication/appointments/:id/approve
func (h *Handler) ApproveAppointment(c *gin.Context) {
	h.transition(h.Comm.ApproveAppointment)(c)
}

// RejectAppointment POST /api/communication/appointments/:id/reject
func (h *Handler) RejectAppointment(c *gin.Context) {
	h.transition(h.Comm.RejectAppointment)(c)
}

// CompleteAppointment POST /api/communication/appointments/:id/complete
func (h *Handler) CompleteAppointment(c *gin.Context) {
	h.transition(h.Comm.CompleteAppointment)(c)
}
