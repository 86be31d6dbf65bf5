package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/somuraj07/saams/internal/apperrors"
	"github.com/somuraj07/saams/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Storage is the persistence surface of the appointment and message stores.
type Storage interface {
	SaveUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	ListTeachers(ctx context.Context) ([]models.User, error)

	CreateAppointment(ctx context.Context, apt *models.Appointment) error
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
	ListAppointmentsForUser(ctx context.Context, userID string) ([]models.Appointment, error)
	ListAllAppointments(ctx context.Context) ([]models.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id string, status models.AppointmentStatus) (*models.Appointment, error)

	SaveMessage(ctx context.Context, msg *models.ChatMessage) error
	GetMessage(ctx context.Context, id string) (*models.ChatMessage, error)
	ListMessages(ctx context.Context, appointmentID string) ([]models.ChatMessage, error)
}

// Service implements Storage on PostgreSQL through gorm. Redis is optional
// and only used by the components that share this connection (broker,
// rate limiter).
type Service struct {
	DB     *gorm.DB
	Redis  *redis.Client
	logger *zap.Logger
}

var _ Storage = (*Service)(nil)

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client, logger *zap.Logger) *Service {
	return &Service{
		DB:     db,
		Redis:  rdb,
		logger: logger.With(zap.String("component", "storage")),
	}
}

// Open connects to PostgreSQL with the given DSN.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// notFound maps gorm's missing-record error onto the shared sentinel.
func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, apperrors.ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", what, id, err)
}

// SaveUser зберігає користувача в PostgreSQL
func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	return s.DB.WithContext(ctx).Save(user).Error
}

func (s *Service) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, notFound(err, "user", userID)
	}
	return &user, nil
}

// ListTeachers returns every user with the TEACHER role, ordered by name.
func (s *Service) ListTeachers(ctx context.Context) ([]models.User, error) {
	var teachers []models.User
	err := s.DB.WithContext(ctx).
		Where("role = ?", models.RoleTeacher).
		Order("name asc").
		Find(&teachers).Error
	if err != nil {
		s.logger.Error("failed to list teachers", zap.Error(err))
		return nil, err
	}
	return teachers, nil
}

func (s *Service) CreateAppointment(ctx context.Context, apt *models.Appointment) error {
	if err := s.DB.WithContext(ctx).Create(apt).Error; err != nil {
		s.logger.Error("failed to create appointment",
			zap.String("student_id", apt.StudentID),
			zap.String("teacher_id", apt.TeacherID),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	var apt models.Appointment
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&apt).Error; err != nil {
		return nil, notFound(err, "appointment", id)
	}
	return &apt, nil
}

// ListAppointmentsForUser повертає зустрічі, де користувач є студентом АБО вчителем.
func (s *Service) ListAppointmentsForUser(ctx context.Context, userID string) ([]models.Appointment, error) {
	var apts []models.Appointment
	err := s.DB.WithContext(ctx).
		Where("student_id = ? OR teacher_id = ?", userID, userID).
		Order("created_at desc").
		Find(&apts).Error
	if err != nil {
		s.logger.Error("failed to list appointments", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	return apts, nil
}

func (s *Service) ListAllAppointments(ctx context.Context) ([]models.Appointment, error) {
	var apts []models.Appointment
	if err := s.DB.WithContext(ctx).Order("created_at desc").Find(&apts).Error; err != nil {
		return nil, err
	}
	return apts, nil
}

// UpdateAppointmentStatus sets the status and returns the updated record.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id string, status models.AppointmentStatus) (*models.Appointment, error) {
	res := s.DB.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update appointment %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("appointment %s: %w", id, apperrors.ErrNotFound)
	}
	return s.GetAppointment(ctx, id)
}

// SaveMessage зберігає повідомлення; ID та CreatedAt заповнюються під час створення.
func (s *Service) SaveMessage(ctx context.Context, msg *models.ChatMessage) error {
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		s.logger.Error("failed to save message",
			zap.String("appointment_id", msg.AppointmentID),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) GetMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&msg).Error; err != nil {
		return nil, notFound(err, "message", id)
	}
	return &msg, nil
}

// ListMessages отримує історію повідомлень зустрічі, сортуючи за часом створення.
func (s *Service) ListMessages(ctx context.Context, appointmentID string) ([]models.ChatMessage, error) {
	history := []models.ChatMessage{}
	err := s.DB.WithContext(ctx).
		Where("appointment_id = ?", appointmentID).
		Order("created_at asc, id asc").
		Find(&history).Error
	if err != nil {
		s.logger.Error("failed to get chat history", zap.String("appointment_id", appointmentID), zap.Error(err))
		return nil, err
	}
	return history, nil
}
