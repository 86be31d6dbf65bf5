package communication_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/somuraj07/saams/internal/apperrors"
	"github.com/somuraj07/saams/internal/communication"
	"github.com/somuraj07/saams/internal/models"
	"github.com/somuraj07/saams/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	student = models.Caller{ID: "s1", Role: models.RoleStudent}
	teacher = models.Caller{ID: "t1", Role: models.RoleTeacher}
	admin   = models.Caller{ID: "a1", Role: models.RoleAdmin}
	other   = models.Caller{ID: "s2", Role: models.RoleStudent}
)

type recordingNotifier struct {
	updates []models.Appointment
}

func (n *recordingNotifier) NotifyAppointment(apt models.Appointment) {
	n.updates = append(n.updates, apt)
}

func newService(t *testing.T) (*communication.Service, *storagetest.MockStorage, *recordingNotifier) {
	t.Helper()
	st := new(storagetest.MockStorage)
	svc := communication.NewService(st, 20, zap.NewNop())
	n := &recordingNotifier{}
	svc.SetNotifier(n)
	return svc, st, n
}

func appointment(status models.AppointmentStatus) *models.Appointment {
	return &models.Appointment{ID: "apt1", StudentID: "s1", TeacherID: "t1", Status: status}
}

func TestListAppointments_Scoping(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	st.On("ListAppointmentsForUser", mock.Anything, "s1").Return([]models.Appointment{*appointment(models.StatusPending)}, nil)
	st.On("ListAllAppointments", mock.Anything).Return([]models.Appointment{}, nil)

	apts, err := svc.ListAppointments(ctx, student)
	require.NoError(t, err)
	assert.Len(t, apts, 1)

	_, err = svc.ListAppointments(ctx, admin)
	require.NoError(t, err)

	st.AssertExpectations(t)
}

func TestCreateAppointment(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	st.On("GetUserByID", mock.Anything, "t1").Return(&models.User{ID: "t1", Role: models.RoleTeacher}, nil)
	st.On("CreateAppointment", mock.Anything, mock.AnythingOfType("*models.Appointment")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*models.Appointment).ID = "apt-new"
		}).
		Return(nil)

	apt, err := svc.CreateAppointment(ctx, student, " t1 ", "  about homework ")
	require.NoError(t, err)

	assert.Equal(t, "apt-new", apt.ID)
	assert.Equal(t, models.StatusPending, apt.Status)
	assert.Equal(t, "s1", apt.StudentID)
	assert.Equal(t, "t1", apt.TeacherID)
	require.NotNil(t, apt.Note)
	assert.Equal(t, "about homework", *apt.Note)
}

func TestCreateAppointment_Rejections(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	st.On("GetUserByID", mock.Anything, "s9").Return(&models.User{ID: "s9", Role: models.RoleStudent}, nil)
	st.On("GetUserByID", mock.Anything, "ghost").Return(nil, apperrors.ErrNotFound)

	_, err := svc.CreateAppointment(ctx, teacher, "t2", "")
	assert.ErrorIs(t, err, apperrors.ErrForbidden, "teachers do not request appointments")

	_, err = svc.CreateAppointment(ctx, student, "", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.CreateAppointment(ctx, student, "s9", "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "counterparty must be a teacher")

	_, err = svc.CreateAppointment(ctx, student, "ghost", "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.CreateAppointment(ctx, student, "t1", strings.Repeat("x", 501))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	st.AssertNotCalled(t, "CreateAppointment", mock.Anything, mock.Anything)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.AppointmentStatus
		want     bool
	}{
		{models.StatusPending, models.StatusApproved, true},
		{models.StatusPending, models.StatusRejected, true},
		{models.StatusRejected, models.StatusApproved, true},
		{models.StatusApproved, models.StatusCompleted, true},
		{models.StatusApproved, models.StatusRejected, false},
		{models.StatusPending, models.StatusCompleted, false},
		{models.StatusCompleted, models.StatusApproved, false},
		{models.StatusRejected, models.StatusRejected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, communication.CanTransition(tt.from, tt.to))
		})
	}
}

func TestApproveAppointment(t *testing.T) {
	svc, st, n := newService(t)
	ctx := context.Background()
	st.On("GetAppointment", mock.Anything, "apt1").Return(appointment(models.StatusPending), nil)
	st.On("UpdateAppointmentStatus", mock.Anything, "apt1", models.StatusApproved).Return(appointment(models.StatusApproved), nil)

	apt, err := svc.ApproveAppointment(ctx, teacher, "apt1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, apt.Status)
	require.Len(t, n.updates, 1)
	assert.Equal(t, models.StatusApproved, n.updates[0].Status)
}

func TestApproveAppointment_AlreadyApproved(t *testing.T) {
	svc, st, n := newService(t)
	st.On("GetAppointment", mock.Anything, "apt1").Return(appointment(models.StatusApproved), nil)

	apt, err := svc.ApproveAppointment(context.Background(), teacher, "apt1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, apt.Status)
	assert.Empty(t, n.updates)
	st.AssertNotCalled(t, "UpdateAppointmentStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestApproveAppointment_Rights(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	st.On("GetAppointment", mock.Anything, "apt1").Return(appointment(models.StatusPending), nil)
	st.On("GetAppointment", mock.Anything, "missing").Return(nil, apperrors.ErrNotFound)

	_, err := svc.ApproveAppointment(ctx, student, "apt1")
	assert.ErrorIs(t, err, apperrors.ErrForbidden, "the requester cannot approve")

	_, err = svc.ApproveAppointment(ctx, teacher, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRejectAppointment_Conflict(t *testing.T) {
	svc, st, _ := newService(t)
	st.On("GetAppointment", mock.Anything, "apt1").Return(appointment(models.StatusApproved), nil)

	_, err := svc.RejectAppointment(context.Background(), teacher, "apt1")
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestCompleteAppointment_ByAdmin(t *testing.T) {
	svc, st, _ := newService(t)
	st.On("GetAppointment", mock.Anything, "apt1").Return(appointment(models.StatusApproved), nil)
	st.On("UpdateAppointmentStatus", mock.Anything, "apt1", models.StatusCompleted).Return(appointment(models.StatusCompleted), nil)

	apt, err := svc.CompleteAppointment(context.Background(), admin, "apt1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, apt.Status)
}

func TestListMessages_Access(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	st.On("GetAppointment", mock.Anything, "apt1").Return(appointment(models.StatusPending), nil)
	st.On("ListMessages", mock.Anything, "apt1").Return([]models.ChatMessage{{ID: "m1"}}, nil)

	msgs, err := svc.ListMessages(ctx, student, "apt1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = svc.ListMessages(ctx, admin, "apt1")
	require.NoError(t, err)

	_, err = svc.ListMessages(ctx, other, "apt1")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = svc.ListMessages(ctx, student, "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCreateMessage(t *testing.T) {
	svc, st, _ := newService(t)
	st.On("GetAppointment", mock.Anything, "apt1").Return(appointment(models.StatusApproved), nil)
	st.On("SaveMessage", mock.Anything, mock.AnythingOfType("*models.ChatMessage")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*models.ChatMessage).ID = "m1"
		}).
		Return(nil)

	msg, err := svc.CreateMessage(context.Background(), student, "apt1", "  ok  ")
	require.NoError(t, err)

	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "ok", msg.Content)
	assert.Equal(t, "s1", msg.SenderID)
	assert.Equal(t, "apt1", msg.AppointmentID)
}

func TestCreateMessage_Gate(t *testing.T) {
	for _, status := range []models.AppointmentStatus{models.StatusPending, models.StatusRejected, models.StatusCompleted} {
		t.Run(string(status), func(t *testing.T) {
			svc, st, _ := newService(t)
			st.On("GetAppointment", mock.Anything, "apt1").Return(appointment(status), nil)

			_, err := svc.CreateMessage(context.Background(), student, "apt1", "hello")

			assert.ErrorIs(t, err, apperrors.ErrForbidden)
			st.AssertNotCalled(t, "SaveMessage", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateMessage_Validation(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	st.On("GetAppointment", mock.Anything, "apt1").Return(appointment(models.StatusApproved), nil)
	st.On("GetAppointment", mock.Anything, "missing").Return(nil, apperrors.ErrNotFound)

	_, err := svc.CreateMessage(ctx, student, "apt1", "   ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.CreateMessage(ctx, student, "apt1", strings.Repeat("a", 21))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.CreateMessage(ctx, other, "apt1", "hi")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = svc.CreateMessage(ctx, admin, "apt1", "hi")
	assert.ErrorIs(t, err, apperrors.ErrForbidden, "admins read but do not write")

	_, err = svc.CreateMessage(ctx, student, "missing", "hi")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCreateMessage_StoreFailure(t *testing.T) {
	svc, st, _ := newService(t)
	boom := errors.New("db down")
	st.On("GetAppointment", mock.Anything, "apt1").Return(appointment(models.StatusApproved), nil)
	st.On("SaveMessage", mock.Anything, mock.Anything).Return(boom)

	_, err := svc.CreateMessage(context.Background(), student, "apt1", "hi")
	assert.ErrorIs(t, err, boom)
}

func TestVerifyBroadcast(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	st.On("GetMessage", mock.Anything, "m1").Return(&models.ChatMessage{ID: "m1", AppointmentID: "apt1", SenderID: "s1"}, nil)

	msg, err := svc.VerifyBroadcast(ctx, student, "apt1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)

	_, err = svc.VerifyBroadcast(ctx, teacher, "apt1", "m1")
	assert.ErrorIs(t, err, apperrors.ErrForbidden, "only the sender can relay a message")

	_, err = svc.VerifyBroadcast(ctx, student, "apt2", "m1")
	assert.ErrorIs(t, err, apperrors.ErrForbidden, "message must belong to the room")

	_, err = svc.VerifyBroadcast(ctx, student, "apt1", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAuthorizeRoom(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	st.On("GetAppointment", mock.Anything, "apt1").Return(appointment(models.StatusPending), nil)

	assert.NoError(t, svc.AuthorizeRoom(ctx, student, "apt1"))
	assert.NoError(t, svc.AuthorizeRoom(ctx, teacher, "apt1"))
	assert.ErrorIs(t, svc.AuthorizeRoom(ctx, other, "apt1"), apperrors.ErrForbidden)
}

func TestAuthorizeRoom_CachesParticipants(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	st.On("GetAppointment", mock.Anything, "apt1").Return(appointment(models.StatusPending), nil).Once()

	require.NoError(t, svc.AuthorizeRoom(ctx, student, "apt1"))
	require.NoError(t, svc.AuthorizeRoom(ctx, teacher, "apt1"))
	assert.ErrorIs(t, svc.AuthorizeRoom(ctx, other, "apt1"), apperrors.ErrForbidden)

	st.AssertNumberOfCalls(t, "GetAppointment", 1)
}

func TestAuthorizeRoom_MissingIsNotCached(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	st.On("GetAppointment", mock.Anything, "missing").Return(nil, apperrors.ErrNotFound)

	assert.ErrorIs(t, svc.AuthorizeRoom(ctx, student, "missing"), apperrors.ErrNotFound)
	assert.ErrorIs(t, svc.AuthorizeRoom(ctx, student, "missing"), apperrors.ErrNotFound)

	st.AssertNumberOfCalls(t, "GetAppointment", 2)
}

func TestApproveAppointment_CompletedIsTerminal(t *testing.T) {
	svc, st, n := newService(t)
	st.On("GetAppointment", mock.Anything, "apt1").Return(appointment(models.StatusCompleted), nil)

	_, err := svc.ApproveAppointment(context.Background(), teacher, "apt1")

	assert.ErrorIs(t, err, apperrors.ErrConflict)
	st.AssertNotCalled(t, "UpdateAppointmentStatus", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, n.updates)
}
