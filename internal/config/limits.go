package config

import "time"

const (
	// WebSocket
	WriteWait       = 10 * time.Second
	PongWait        = 60 * time.Second
	PingPeriod      = (PongWait * 9) / 10
	MaxFrameSize    = 8 << 10
	ClientSendQueue = 256

	// Messages
	DefaultMaxMessageLength = 2000
	MaxNoteLength           = 500

	// Rate limiting (per user)
	DefaultMessageRateLimit  = 20
	DefaultMessageRateWindow = 10 * time.Second

	// HTTP
	ReadTimeout     = 10 * time.Second
	WriteTimeout    = 10 * time.Second
	ShutdownTimeout = 15 * time.Second
	MaxHeaderBytes  = 1 << 20
)
