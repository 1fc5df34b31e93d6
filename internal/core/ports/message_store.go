package ports

import (
	"context"

	"github.com/styxchat/chat-service/internal/core/domain"
)

// MessageStore persists the bounded History Window of every room.
type MessageStore interface {
	// Append assigns the next room sequence number, appends msg evicting the
	// oldest entries beyond capacity, and publishes it to the room channel as
	// one atomic step. Fails with domain.ErrRoomNotFound if the room is gone.
	Append(ctx context.Context, msg *domain.Message, capacity int) (*domain.Message, error)
	// Recent returns up to limit trailing messages in sequence order.
	Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	Clear(ctx context.Context, roomID string) error
}

// Deduplicator remembers client message ids.
type Deduplicator interface {
	// Seen marks key and reports whether it had already been marked.
	Seen(ctx context.Context, roomID, userID, clientMsgID string) (bool, error)
	// Forget drops the mark so a failed message can be resent.
	Forget(ctx context.Context, roomID, userID, clientMsgID string) error
}
