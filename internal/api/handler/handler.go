package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/somuraj07/saams/internal/auth"
	"github.com/somuraj07/saams/internal/chathub"
	"github.com/somuraj07/saams/internal/communication"
	"github.com/somuraj07/saams/internal/metrics"
	"github.com/somuraj07/saams/internal/ratelimit"
	"go.uber.org/zap"
)

// Handler містить посилання на ChatHub та сервіс зустрічей
type Handler struct {
	Hub     *chathub.ManagerService
	Comm    *communication.Service
	Tokens  *auth.Tokens
	Limiter *ratelimit.Limiter

	// MessageRule limits message creation per user, over REST and realtime.
	MessageRule    ratelimit.Rule
	AllowedOrigins []string

	logger *zap.Logger
}

func NewHandler(hub *chathub.ManagerService, comm *communication.Service, tokens *auth.Tokens, logger *zap.Logger) *Handler {
	return &Handler{
		Hub:    hub,
		Comm:   comm,
		Tokens: tokens,
		logger: logger.With(zap.String("component", "http")),
	}
}

// Routes builds the gin engine with every HTTP and WebSocket route.
func (h *Handler) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", h.ServeWebSocket)

	api := r.Group("/api", h.AuthMiddleware())
	api.GET("/teacher/list", h.ListTeachers)

	comm := api.Group("/communication")
	comm.GET("/appointments", h.ListAppointments)
	comm.POST("/appointments", h.CreateAppointment)
	comm.POST("/appointments/:id/approve", h.ApproveAppointment)
	comm.POST("/appointments/:id/reject", h.RejectAppointment)
	comm.POST("/appointments/:id/complete", h.CompleteAppointment)
	comm.GET("/messages", h.ListMessages)
	comm.POST("/messages", h.CreateMessage)

	return r
}

// requestLogger logs each request and records its latency.
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		h.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))
	}
}
