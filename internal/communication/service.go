// Package communication implements the appointment and message store
// semantics: who may see, request, approve and write into an appointment.
package communication

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/somuraj07/saams/internal/apperrors"
	"github.com/somuraj07/saams/internal/config"
	"github.com/somuraj07/saams/internal/models"
	"github.com/somuraj07/saams/internal/storage"
	"go.uber.org/zap"
)

// AppointmentNotifier is told about every appointment status change so that
// members of the appointment room can re-evaluate the send gate.
type AppointmentNotifier interface {
	NotifyAppointment(apt models.Appointment)
}

// participantCacheSize bounds the appointment -> participants cache.
const participantCacheSize = 4096

// participants of an appointment never change after creation, so they are
// safe to cache; the status is always read from storage.
type participants struct {
	studentID string
	teacherID string
}

func (p participants) has(userID string) bool {
	return userID != "" && (userID == p.studentID || userID == p.teacherID)
}

// Service handles the business rules of appointments and their messages.
type Service struct {
	Storage          storage.Storage
	Notifier         AppointmentNotifier
	MaxMessageLength int
	participants     *lru.Cache[string, participants]
	logger           *zap.Logger
}

// NewService creates a new communication service.
func NewService(s storage.Storage, maxMessageLength int, logger *zap.Logger) *Service {
	if maxMessageLength <= 0 {
		maxMessageLength = config.DefaultMaxMessageLength
	}
	cache, _ := lru.New[string, participants](participantCacheSize)
	return &Service{
		Storage:          s,
		MaxMessageLength: maxMessageLength,
		participants:     cache,
		logger:           logger.With(zap.String("component", "communication")),
	}
}

// SetNotifier wires the realtime hub after both sides are constructed.
func (s *Service) SetNotifier(n AppointmentNotifier) {
	s.Notifier = n
}

// ListTeachers returns the teacher directory students pick from.
func (s *Service) ListTeachers(ctx context.Context) ([]models.User, error) {
	return s.Storage.ListTeachers(ctx)
}

// ListAppointments returns the appointments visible to the caller.
func (s *Service) ListAppointments(ctx context.Context, caller models.Caller) ([]models.Appointment, error) {
	if caller.IsAdmin() {
		return s.Storage.ListAllAppointments(ctx)
	}
	return s.Storage.ListAppointmentsForUser(ctx, caller.ID)
}

// CreateAppointment records a new PENDING request from a student to a teacher.
func (s *Service) CreateAppointment(ctx context.Context, caller models.Caller, teacherID, note string) (*models.Appointment, error) {
	if caller.Role != models.RoleStudent {
		return nil, fmt.Errorf("only students can request appointments: %w", apperrors.ErrForbidden)
	}
	teacherID = strings.TrimSpace(teacherID)
	if teacherID == "" {
		return nil, apperrors.NewValidationError(apperrors.FieldError{Field: "teacherId", Error: "this field is required"})
	}
	note = strings.TrimSpace(note)
	if len([]rune(note)) > config.MaxNoteLength {
		return nil, apperrors.NewValidationError(apperrors.FieldError{
			Field: "note",
			Error: fmt.Sprintf("must be at most %d characters", config.MaxNoteLength),
		})
	}

	teacher, err := s.Storage.GetUserByID(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	if teacher.Role != models.RoleTeacher {
		return nil, fmt.Errorf("teacher %s: %w", teacherID, apperrors.ErrNotFound)
	}

	apt := &models.Appointment{
		StudentID: caller.ID,
		TeacherID: teacher.ID,
		Status:    models.StatusPending,
	}
	if note != "" {
		apt.Note = &note
	}
	if err := s.Storage.CreateAppointment(ctx, apt); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	if apt.ID != "" {
		s.participants.Add(apt.ID, participants{studentID: apt.StudentID, teacherID: apt.TeacherID})
	}

	s.logger.Info("appointment requested",
		zap.String("appointment_id", apt.ID),
		zap.String("student_id", apt.StudentID),
		zap.String("teacher_id", apt.TeacherID))
	return apt, nil
}

// ApproveAppointment moves a PENDING or REJECTED appointment to APPROVED.
// Approving an approved appointment returns it unchanged.
func (s *Service) ApproveAppointment(ctx context.Context, caller models.Caller, id string) (*models.Appointment, error) {
	return s.transition(ctx, caller, id, models.StatusApproved)
}

// RejectAppointment moves a PENDING appointment to REJECTED.
func (s *Service) RejectAppointment(ctx context.Context, caller models.Caller, id string) (*models.Appointment, error) {
	return s.transition(ctx, caller, id, models.StatusRejected)
}

// CompleteAppointment closes an APPROVED appointment.
func (s *Service) CompleteAppointment(ctx context.Context, caller models.Caller, id string) (*models.Appointment, error) {
	return s.transition(ctx, caller, id, models.StatusCompleted)
}

// allowedTransitions lists, per target status, the statuses it may be reached from.
var allowedTransitions = map[models.AppointmentStatus][]models.AppointmentStatus{
	models.StatusApproved:  {models.StatusPending, models.StatusRejected},
	models.StatusRejected:  {models.StatusPending},
	models.StatusCompleted: {models.StatusApproved},
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to models.AppointmentStatus) bool {
	for _, src := range allowedTransitions[to] {
		if src == from {
			return true
		}
	}
	return false
}

func (s *Service) transition(ctx context.Context, caller models.Caller, id string, to models.AppointmentStatus) (*models.Appointment, error) {
	apt, err := s.Storage.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && caller.ID != apt.TeacherID {
		return nil, fmt.Errorf("only the teacher can change appointment %s: %w", id, apperrors.ErrForbidden)
	}
	if apt.Status == to && to == models.StatusApproved {
		return apt, nil
	}
	if !CanTransition(apt.Status, to) {
		return nil, fmt.Errorf("appointment %s is %s, cannot become %s: %w", id, apt.Status, to, apperrors.ErrConflict)
	}

	updated, err := s.Storage.UpdateAppointmentStatus(ctx, id, to)
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logger.Info("appointment status changed",
		zap.String("appointment_id", id),
		zap.String("from", string(apt.Status)),
		zap.String("to", string(to)),
		zap.String("by", caller.ID))

	if s.Notifier != nil {
		s.Notifier.NotifyAppointment(*updated)
	}
	return updated, nil
}

// access checks that the caller may see the appointment. Only the
// participants are needed here, so a cached copy is used when present.
func (s *Service) access(ctx context.Context, caller models.Caller, appointmentID string) error {
	if strings.TrimSpace(appointmentID) == "" {
		return apperrors.NewValidationError(apperrors.FieldError{Field: "appointmentId", Error: "this field is required"})
	}
	p, err := s.lookupParticipants(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !caller.IsAdmin() && !p.has(caller.ID) {
		return fmt.Errorf("not a participant of appointment %s: %w", appointmentID, apperrors.ErrForbidden)
	}
	return nil
}

func (s *Service) lookupParticipants(ctx context.Context, appointmentID string) (participants, error) {
	if p, ok := s.participants.Get(appointmentID); ok {
		return p, nil
	}
	apt, err := s.Storage.GetAppointment(ctx, appointmentID)
	if err != nil {
		return participants{}, err
	}
	p := participants{studentID: apt.StudentID, teacherID: apt.TeacherID}
	s.participants.Add(appointmentID, p)
	return p, nil
}

// ListMessages returns the persisted history of an appointment, oldest first.
func (s *Service) ListMessages(ctx context.Context, caller models.Caller, appointmentID string) ([]models.ChatMessage, error) {
	if err := s.access(ctx, caller, appointmentID); err != nil {
		return nil, err
	}
	return s.Storage.ListMessages(ctx, appointmentID)
}

// CreateMessage persists a message from a participant of an APPROVED appointment.
func (s *Service) CreateMessage(ctx context.Context, caller models.Caller, appointmentID, content string) (*models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidationError(apperrors.FieldError{Field: "content", Error: "this field is required"})
	}
	if len([]rune(content)) > s.MaxMessageLength {
		return nil, apperrors.NewValidationError(apperrors.FieldError{
			Field: "content",
			Error: fmt.Sprintf("must be at most %d characters", s.MaxMessageLength),
		})
	}

	apt, err := s.Storage.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	// Адмін бачить історію, але писати можуть лише учасники.
	if !apt.IsParticipant(caller.ID) {
		return nil, fmt.Errorf("not a participant of appointment %s: %w", appointmentID, apperrors.ErrForbidden)
	}
	if !apt.Status.CanSend() {
		return nil, fmt.Errorf("appointment %s is %s: %w", appointmentID, apt.Status, apperrors.ErrForbidden)
	}

	msg := &models.ChatMessage{
		AppointmentID: apt.ID,
		SenderID:      caller.ID,
		Content:       content,
	}
	if err := s.Storage.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return msg, nil
}

// AuthorizeRoom checks that the caller may join the room of an appointment.
// Any status is allowed so that a requester hears about the approval.
func (s *Service) AuthorizeRoom(ctx context.Context, caller models.Caller, roomID string) error {
	return s.access(ctx, caller, roomID)
}

// VerifyBroadcast makes sure a relayed message is a persisted message of the
// room sent by the caller, and returns the persisted copy.
func (s *Service) VerifyBroadcast(ctx context.Context, caller models.Caller, roomID, messageID string) (*models.ChatMessage, error) {
	if messageID == "" {
		return nil, apperrors.NewValidationError(apperrors.FieldError{Field: "message.id", Error: "this field is required"})
	}
	msg, err := s.Storage.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.AppointmentID != roomID || msg.SenderID != caller.ID {
		return nil, fmt.Errorf("message %s does not belong to %s in room %s: %w", messageID, caller.ID, roomID, apperrors.ErrForbidden)
	}
	return msg, nil
}
