package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/somuraj07/saams/internal/apperrors"
	"github.com/somuraj07/saams/internal/config"
	"github.com/somuraj07/saams/internal/models"
	"github.com/somuraj07/saams/internal/ratelimit"
	"go.uber.org/zap"
)

const commandTimeout = 5 * time.Second

// RoomAuthorizer checks room access for realtime commands.
type RoomAuthorizer interface {
	AuthorizeRoom(ctx context.Context, caller models.Caller, roomID string) error
	VerifyBroadcast(ctx context.Context, caller models.Caller, roomID, messageID string) (*models.ChatMessage, error)
}

// WebSocketClient реалізує інтерфейс chathub.Client
type WebSocketClient struct {
	ConnID string
	Caller models.Caller
	Conn   *websocket.Conn
	Hub    *ManagerService
	Send   chan models.Frame

	// replies carries error frames produced by readPump; it is never closed.
	replies chan models.Frame

	authz    RoomAuthorizer
	limiter  *ratelimit.Limiter
	rateRule ratelimit.Rule
	logger   *zap.Logger

	closeOnce sync.Once
}

// NewWebSocketClient wraps an upgraded connection. limiter may be nil.
func NewWebSocketClient(
	connID string,
	caller models.Caller,
	conn *websocket.Conn,
	hub *ManagerService,
	authz RoomAuthorizer,
	limiter *ratelimit.Limiter,
	rule ratelimit.Rule,
	logger *zap.Logger,
) *WebSocketClient {
	return &WebSocketClient{
		ConnID:   connID,
		Caller:   caller,
		Conn:     conn,
		Hub:      hub,
		Send:     make(chan models.Frame, config.ClientSendQueue),
		replies:  make(chan models.Frame, 16),
		authz:    authz,
		limiter:  limiter,
		rateRule: rule,
		logger: logger.With(
			zap.String("conn_id", connID),
			zap.String("user_id", caller.ID)),
	}
}

// --- Реалізація методів інтерфейсу ---

func (c *WebSocketClient) GetConnID() string                   { return c.ConnID }
func (c *WebSocketClient) GetUserID() string                   { return c.Caller.ID }
func (c *WebSocketClient) GetSendChannel() chan<- models.Frame { return c.Send }

// Run запускає 'pumps' для WebSocket
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close закриває Send канал (що зупинить writePump)
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(config.MaxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("error reading frame", zap.Error(err))
			}
			return
		}

		var f models.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.reply(models.Frame{Type: models.EventError, Error: "malformed frame"})
			continue // Пропускаємо невірне повідомлення
		}
		c.handleFrame(f)
	}
}

func (c *WebSocketClient) handleFrame(f models.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch f.Type {
	case models.EventJoinRoom:
		if f.RoomID == "" {
			c.reply(models.Frame{Type: models.EventError, Error: "roomId is required"})
			return
		}
		if err := c.authz.AuthorizeRoom(ctx, c.Caller, f.RoomID); err != nil {
			c.replyErr(f.RoomID, err)
			return
		}
		c.Hub.Join(c, f.RoomID)

	case models.EventLeaveRoom:
		c.Hub.Leave(c, f.RoomID)

	case models.EventSendMessage:
		if f.Message == nil {
			c.reply(models.Frame{Type: models.EventError, RoomID: f.RoomID, Error: "message is required"})
			return
		}
		roomID := f.RoomID
		if roomID == "" {
			roomID = f.Message.AppointmentID
		}
		if !c.limiter.Allow(ctx, c.Caller.ID, c.rateRule) {
			c.reply(models.Frame{Type: models.EventError, RoomID: roomID, Error: "rate limit exceeded"})
			return
		}
		msg, err := c.authz.VerifyBroadcast(ctx, c.Caller, roomID, f.Message.ID)
		if err != nil {
			c.replyErr(roomID, err)
			return
		}
		c.Hub.Send(c, roomID, *msg)

	default:
		c.reply(models.Frame{Type: models.EventError, Error: "unknown event type " + f.Type})
	}
}

func (c *WebSocketClient) replyErr(roomID string, err error) {
	text := "internal error"
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		text = "room not found"
	case errors.Is(err, apperrors.ErrForbidden):
		text = "forbidden"
	case errors.Is(err, apperrors.ErrValidation):
		text = err.Error()
	default:
		c.logger.Error("realtime command failed", zap.String("room_id", roomID), zap.Error(err))
	}
	c.reply(models.Frame{Type: models.EventError, RoomID: roomID, Error: text})
}

func (c *WebSocketClient) reply(f models.Frame) {
	select {
	case c.replies <- f:
	default:
	}
}

// writePump читає кадри з каналу Send і записує їх у WebSocket.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(config.PingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if !ok {
				// Канал закрито хабом, закриваємо з'єднання WS
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(f); err != nil {
				return
			}

		case f := <-c.replies:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.Conn.WriteJSON(f); err != nil {
				return
			}

		case <-ticker.C:
			// Надсилаємо Ping для підтримки з'єднання активним
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
