package domain

import "time"

// MessageKind distinguishes human, assistant and system authored messages.
type MessageKind string

const (
	KindUser      MessageKind = "user"
	KindAssistant MessageKind = "assistant"
	KindSystem    MessageKind = "system"
)

// AssistantID is the sender id of the synthetic assistant.
const AssistantID = "ai_assistant"

// Message is an immutable, sequenced chat message.
type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"room_id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Body       string      `json:"body"`
	Kind       MessageKind `json:"kind"`
	Seq        int64       `json:"sequence"`
	ReplyTo    string      `json:"reply_to,omitempty"`
	CreatedAt  time.Time   `json:"timestamp"`
}

// FromAssistant reports whether the synthetic assistant authored m.
func (m *Message) FromAssistant() bool { return m.Kind == KindAssistant }
