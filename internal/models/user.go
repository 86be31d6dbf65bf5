package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq" // Необхідний для pq.StringArray
	"gorm.io/gorm"
)

// Role is the portal role of a user.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
	RoleAdmin   Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher || r == RoleAdmin
}

// User represents a portal user. Authentication itself happens elsewhere;
// this record only carries what the messaging core needs.
type User struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	Name      string         `json:"name"`
	Email     string         `gorm:"uniqueIndex" json:"email"`
	Role      Role           `gorm:"type:text;not null" json:"role"`
	Subjects  pq.StringArray `gorm:"type:text[]" json:"subjects,omitempty"` // тільки для вчителів
	CreatedAt time.Time      `json:"createdAt"`
}

// BeforeCreate це хук GORM, який викликається перед створенням запису.
// Він генерує новий UUID для користувача, якщо ID ще не встановлено.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// Caller is the authenticated identity behind a request or a socket.
type Caller struct {
	ID   string
	Role Role
}

// IsAdmin reports whether the caller has the admin role.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }
