// Package conversation is the client-side chat session: it keeps one
// duplicate-free transcript for the selected appointment out of the history
// fetch and the live room events, and gates sending on the appointment status.
package conversation

import (
	"context"

	"github.com/somuraj07/saams/internal/models"
)

// Token identifies one Subscribe registration.
type Token uint64

// Transport is the realtime connection shared by the whole session.
type Transport interface {
	JoinRoom(roomID string) error
	LeaveRoom(roomID string) error
	SendToRoom(roomID string, msg models.ChatMessage) error
	// Subscribe registers handler for frames of roomID until Unsubscribe.
	Subscribe(roomID string, handler func(models.Frame)) Token
	Unsubscribe(token Token)
}

// AppointmentStore is the caller-scoped view of appointments.
type AppointmentStore interface {
	ListAppointments(ctx context.Context) ([]models.Appointment, error)
	CreateAppointment(ctx context.Context, teacherID, note string) (*models.Appointment, error)
	ApproveAppointment(ctx context.Context, id string) (*models.Appointment, error)
	RejectAppointment(ctx context.Context, id string) (*models.Appointment, error)
}

// MessageStore persists and lists the messages of an appointment.
type MessageStore interface {
	ListMessages(ctx context.Context, appointmentID string) ([]models.ChatMessage, error)
	CreateMessage(ctx context.Context, appointmentID, content string) (*models.ChatMessage, error)
}
