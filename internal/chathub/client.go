package chathub

import "github.com/somuraj07/saams/internal/models"

// Client is the interface for one realtime connection. A user may hold
// several connections at once (e.g. two browser tabs), so the hub keys
// clients by connection ID, not by user.
type Client interface {
	// GetConnID returns the unique identifier of this connection.
	GetConnID() string
	// GetUserID returns the authenticated user behind the connection.
	GetUserID() string

	// GetSendChannel returns the channel to which the ManagerService (hub) sends
	// frames intended for this specific connection. It is a send-only channel.
	GetSendChannel() chan<- models.Frame

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts down the send channel. Only the hub calls it, once.
	Close()
}
