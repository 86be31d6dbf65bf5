package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/somuraj07/saams/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testServer records inbound frames and lets the test push frames back.
type testServer struct {
	*httptest.Server
	inbound chan models.Frame
	push    chan models.Frame
	auth    chan string
	drop    chan struct{}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		inbound: make(chan models.Frame, 16),
		push:    make(chan models.Frame, 16),
		auth:    make(chan string, 1),
		drop:    make(chan struct{}),
	}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for {
				var f models.Frame
				if err := conn.ReadJSON(&f); err != nil {
					return
				}
				s.inbound <- f
			}
		}()
		for {
			select {
			case f := <-s.push:
				if err := conn.WriteJSON(f); err != nil {
					return
				}
			case <-s.drop:
				return
			case <-r.Context().Done():
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *testServer) next(t *testing.T) models.Frame {
	t.Helper()
	select {
	case f := <-s.inbound:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return models.Frame{}
	}
}

func dialTest(t *testing.T, s *testServer) *Client {
	t.Helper()
	c, err := Dial(context.Background(), s.url(), "tok", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.Equal(t, "Bearer tok", <-s.auth)
	return c
}

func TestClient_JoinIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	c := dialTest(t, s)

	require.NoError(t, c.JoinRoom("apt1"))
	require.NoError(t, c.JoinRoom("apt1"))
	require.NoError(t, c.SendToRoom("apt1", models.ChatMessage{ID: "m1", AppointmentID: "apt1"}))

	f := s.next(t)
	assert.Equal(t, models.EventJoinRoom, f.Type)
	assert.Equal(t, "apt1", f.RoomID)

	f = s.next(t)
	assert.Equal(t, models.EventSendMessage, f.Type, "second join must not reach the wire")
	require.NotNil(t, f.Message)
	assert.Equal(t, "m1", f.Message.ID)

	require.NoError(t, c.LeaveRoom("apt1"))
	require.NoError(t, c.LeaveRoom("apt1"))
	assert.Equal(t, models.EventLeaveRoom, s.next(t).Type)
}

func TestClient_DispatchByRoom(t *testing.T) {
	s := newTestServer(t)
	c := dialTest(t, s)

	gotA := make(chan models.Frame, 4)
	gotB := make(chan models.Frame, 4)
	tokA := c.Subscribe("A", func(f models.Frame) { gotA <- f })
	c.Subscribe("B", func(f models.Frame) { gotB <- f })

	s.push <- models.Frame{Type: models.EventReceiveMessage, RoomID: "A", Message: &models.ChatMessage{ID: "a1"}}
	s.push <- models.Frame{Type: models.EventReceiveMessage, Message: &models.ChatMessage{ID: "b1", AppointmentID: "B"}}

	select {
	case f := <-gotA:
		assert.Equal(t, "a1", f.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("room A handler not called")
	}
	select {
	case f := <-gotB:
		assert.Equal(t, "b1", f.Message.ID, "room falls back to the message's appointment")
	case <-time.After(2 * time.Second):
		t.Fatal("room B handler not called")
	}

	c.Unsubscribe(tokA)
	c.Unsubscribe(tokA)
	s.push <- models.Frame{Type: models.EventReceiveMessage, RoomID: "A", Message: &models.ChatMessage{ID: "a2"}}
	s.push <- models.Frame{Type: models.EventReceiveMessage, RoomID: "B", Message: &models.ChatMessage{ID: "b2"}}
	<-gotB
	assert.Empty(t, gotA)
}

func TestClient_CloseStopsOperations(t *testing.T) {
	s := newTestServer(t)
	c := dialTest(t, s)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
	assert.ErrorIs(t, c.JoinRoom("apt1"), ErrClosed)
	assert.ErrorIs(t, c.SendToRoom("apt1", models.ChatMessage{}), ErrClosed)
	assert.NoError(t, c.Err())
}

func TestClient_ServerDropClosesDone(t *testing.T) {
	s := newTestServer(t)
	c := dialTest(t, s)

	close(s.drop)
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after server dropped the connection")
	}
	assert.Error(t, c.Err())
}

func TestDial_Refused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), "bad", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
