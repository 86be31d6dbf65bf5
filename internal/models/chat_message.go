package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatMessage is a persisted message of an appointment conversation.
// ID is globally unique, so a message delivered both by the history fetch and
// by the realtime stream is recognised as the same entity.
type ChatMessage struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	AppointmentID string    `gorm:"not null;index:idx_appointment_created" json:"appointmentId"`
	SenderID      string    `gorm:"not null" json:"senderId"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	CreatedAt     time.Time `gorm:"index:idx_appointment_created" json:"createdAt"`
}

// BeforeCreate: хук GORM, генерує UUID для повідомлення.
func (m *ChatMessage) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}
