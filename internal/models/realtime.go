package models

// Realtime event types. The first three are sent by clients, the rest by the server.
const (
	EventJoinRoom           = "join-room"
	EventLeaveRoom          = "leave-room"
	EventSendMessage        = "send-message"
	EventReceiveMessage     = "receive-message"
	EventAppointmentUpdated = "appointment-updated"
	EventError              = "error"
)

// Frame is one JSON text frame on the realtime connection.
type Frame struct {
	Type        string       `json:"type"`
	RoomID      string       `json:"roomId,omitempty"`
	Message     *ChatMessage `json:"message,omitempty"`
	Appointment *Appointment `json:"appointment,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// RoomBroadcast is the envelope published to the broker so that every server
// instance can deliver a frame to its local members of the room.
type RoomBroadcast struct {
	Origin      string `json:"origin"`                // instance ID
	ExcludeConn string `json:"excludeConn,omitempty"` // connection that must not receive it
	Frame       Frame  `json:"frame"`
}
