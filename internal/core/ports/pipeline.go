package ports

import (
	"context"

	"github.com/styxchat/chat-service/internal/core/domain"
)

// PipelineEventKind distinguishes client submissions from assistant replies.
type PipelineEventKind int

const (
	InboundMessage PipelineEventKind = iota
	AssistantReply
)

// PipelineEvent is the unit of work of the Message Pipeline. Events for one
// room are processed in FIFO order.
type PipelineEvent struct {
	Kind   PipelineEventKind
	RoomID string

	// InboundMessage fields.
	ConnID        string
	Sender        domain.Principal
	CurrentRoomID string
	Body          string
	ClientMsgID   string

	// AssistantReply fields.
	ReplyTo string
	Model   string
}

// EventProcessor handles one pipeline event.
type EventProcessor interface {
	Process(ctx context.Context, ev PipelineEvent) error
}

// Enqueuer accepts pipeline events for ordered asynchronous processing.
type Enqueuer interface {
	Enqueue(ev PipelineEvent)
}

// ChatService is the public face of the Message Pipeline.
type ChatService interface {
	Submit(ev PipelineEvent)
	History(ctx context.Context, actor domain.Principal, roomID string, limit int) ([]domain.Message, error)
	ClearHistory(ctx context.Context, actor domain.Principal, roomID string) error
}
