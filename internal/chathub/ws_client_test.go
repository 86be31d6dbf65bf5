package chathub_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/somuraj07/saams/internal/apperrors"
	"github.com/somuraj07/saams/internal/chathub"
	"github.com/somuraj07/saams/internal/models"
	"github.com/somuraj07/saams/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubAuthorizer allows rooms listed in allowed and verifies any message ID
// found in messages.
type stubAuthorizer struct {
	allowed  map[string]bool
	messages map[string]models.ChatMessage
}

func (a *stubAuthorizer) AuthorizeRoom(_ context.Context, _ models.Caller, roomID string) error {
	if !a.allowed[roomID] {
		return apperrors.ErrForbidden
	}
	return nil
}

func (a *stubAuthorizer) VerifyBroadcast(_ context.Context, caller models.Caller, roomID, messageID string) (*models.ChatMessage, error) {
	m, ok := a.messages[messageID]
	if !ok || m.AppointmentID != roomID || m.SenderID != caller.ID {
		return nil, apperrors.ErrForbidden
	}
	return &m, nil
}

func newWSServer(t *testing.T, hub *chathub.ManagerService, authz chathub.RoomAuthorizer) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		caller := models.Caller{ID: r.URL.Query().Get("user"), Role: models.RoleStudent}
		c := chathub.NewWebSocketClient(uuid.NewString(), caller, conn, hub, authz, nil, ratelimit.Rule{}, zap.NewNop())
		hub.Register(c)
		c.Run()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) models.Frame {
	t.Helper()
	var f models.Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestWebSocketClient_RelayBetweenParticipants(t *testing.T) {
	hub := startHub(t, nil)
	persisted := models.ChatMessage{ID: "m1", AppointmentID: "apt-1", SenderID: "student", Content: "hi", CreatedAt: time.Now().UTC()}
	authz := &stubAuthorizer{
		allowed:  map[string]bool{"apt-1": true},
		messages: map[string]models.ChatMessage{"m1": persisted},
	}
	srv := newWSServer(t, hub, authz)

	student := dial(t, srv, "student")
	teacher := dial(t, srv, "teacher")
	for _, c := range []*websocket.Conn{student, teacher} {
		require.NoError(t, c.WriteJSON(models.Frame{Type: models.EventJoinRoom, RoomID: "apt-1"}))
	}
	require.Eventually(t, func() bool { return len(hub.RoomMembers("apt-1")) == 2 }, 2*time.Second, 10*time.Millisecond)

	// Клієнт надсилає лише ID, вміст береться зі збереженої копії.
	require.NoError(t, student.WriteJSON(models.Frame{
		Type:    models.EventSendMessage,
		RoomID:  "apt-1",
		Message: &models.ChatMessage{ID: "m1", Content: "tampered"},
	}))

	f := readFrame(t, teacher)
	assert.Equal(t, models.EventReceiveMessage, f.Type)
	require.NotNil(t, f.Message)
	assert.Equal(t, "hi", f.Message.Content)
	assert.Equal(t, "student", f.Message.SenderID)
}

func TestWebSocketClient_ForbiddenJoin(t *testing.T) {
	hub := startHub(t, nil)
	srv := newWSServer(t, hub, &stubAuthorizer{allowed: map[string]bool{}})

	conn := dial(t, srv, "student")
	require.NoError(t, conn.WriteJSON(models.Frame{Type: models.EventJoinRoom, RoomID: "apt-9"}))

	f := readFrame(t, conn)
	assert.Equal(t, models.EventError, f.Type)
	assert.Equal(t, "apt-9", f.RoomID)
	assert.Equal(t, "forbidden", f.Error)
	assert.Empty(t, hub.RoomMembers("apt-9"))
}

func TestWebSocketClient_BadFrames(t *testing.T) {
	hub := startHub(t, nil)
	srv := newWSServer(t, hub, &stubAuthorizer{})
	conn := dial(t, srv, "student")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "malformed frame", readFrame(t, conn).Error)

	require.NoError(t, conn.WriteJSON(models.Frame{Type: "dance"}))
	assert.Contains(t, readFrame(t, conn).Error, "unknown event type")

	require.NoError(t, conn.WriteJSON(models.Frame{Type: models.EventSendMessage, RoomID: "apt-1"}))
	assert.Equal(t, "message is required", readFrame(t, conn).Error)
}
