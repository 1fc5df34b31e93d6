package ports

import "context"

// EventType names a realtime event on the wire.
type EventType string

const (
	EventConnectionEstablished EventType = "connection_established"
	EventMessageHistory        EventType = "message_history"
	EventChatMessage           EventType = "chat_message"
	EventPresenceUpdate        EventType = "presence_update"
	EventRoomListUpdate        EventType = "room_list_update"
	EventUserTyping            EventType = "user_typing"
	EventAITyping              EventType = "ai_typing"
	EventError                 EventType = "error"
	EventPong                  EventType = "pong"
)

// Event is the outbound envelope, identical on the pub/sub channel and on
// the client connection.
type Event struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"room_id,omitempty"`
	Data   any       `json:"data,omitempty"`
}

// PresenceChange is the payload of presence_update.
type PresenceChange struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
	Event    string `json:"event"`
}

const (
	PresenceJoined = "user_joined"
	PresenceLeft   = "user_left"
)

// ErrorPayload is the payload of error events.
type ErrorPayload struct {
	Code         string `json:"code"`
	Description  string `json:"description"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

// RoomAction is a registry mutation kind.
type RoomAction string

const (
	RoomCreated  RoomAction = "created"
	RoomUpdated  RoomAction = "updated"
	RoomAssigned RoomAction = "assigned"
	RoomDeleted  RoomAction = "deleted"
)

// RoomChange is broadcast to every instance when the registry changes.
type RoomChange struct {
	Action RoomAction `json:"action"`
	RoomID string     `json:"room_id"`
}

// EventBus fans events out to every instance.
type EventBus interface {
	PublishRoom(ctx context.Context, ev Event) error
	PublishRoomChange(ctx context.Context, change RoomChange) error
}

// Notifier delivers an event to one local connection.
type Notifier interface {
	SendToConn(connID string, ev Event) bool
}
