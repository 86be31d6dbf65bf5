package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusApproved  AppointmentStatus = "APPROVED"
	StatusRejected  AppointmentStatus = "REJECTED"
	StatusCompleted AppointmentStatus = "COMPLETED"
)

// Valid reports whether s is one of the known statuses.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted:
		return true
	}
	return false
}

// CanSend reports whether chat messages may be sent on an appointment in this status.
func (s AppointmentStatus) CanSend() bool {
	return s == StatusApproved
}

// Appointment is a status-gated conversation channel between a student
// (the requester) and a teacher (the counterparty). Its ID doubles as the
// realtime room ID.
type Appointment struct {
	ID        string            `gorm:"primaryKey" json:"id"`
	StudentID string            `gorm:"not null;index" json:"studentId"`
	TeacherID string            `gorm:"not null;index" json:"teacherId"`
	Status    AppointmentStatus `gorm:"type:text;not null;default:PENDING" json:"status"`
	Note      *string           `gorm:"type:text" json:"note,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// BeforeCreate заповнює ID та початковий статус, якщо їх не задано.
func (a *Appointment) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	return
}

// IsParticipant reports whether userID is the student or the teacher of the appointment.
func (a *Appointment) IsParticipant(userID string) bool {
	return userID != "" && (userID == a.StudentID || userID == a.TeacherID)
}

// Counterparty returns the other participant, or "" if userID is not a participant.
func (a *Appointment) Counterparty(userID string) string {
	switch userID {
	case a.StudentID:
		return a.TeacherID
	case a.TeacherID:
		return a.StudentID
	}
	return ""
}
