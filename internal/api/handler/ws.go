package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/somuraj07/saams/internal/chathub"
	"go.uber.org/zap"
)

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

// checkOrigin дозволяє будь-яке джерело, якщо список ALLOWED_ORIGINS порожній.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket
func (h *Handler) ServeWebSocket(c *gin.Context) {
	caller, ok := h.authenticate(c)
	if !ok {
		return
	}

	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade вже відповів клієнту.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	rule := h.MessageRule
	rule.Key = "rl:ws:"
	client := chathub.NewWebSocketClient(uuid.NewString(), caller, conn, h.Hub, h.Comm, h.Limiter, rule, h.logger)

	h.Hub.Register(client)
	client.Run()
}
