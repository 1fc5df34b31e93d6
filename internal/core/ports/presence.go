package ports

import (
	"context"

	"github.com/styxchat/chat-service/internal/core/domain"
)

// PresenceMember is one online user of a room.
type PresenceMember struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// PresenceStore counts live connections per (room, user).
type PresenceStore interface {
	// Join reports whether this was the user's first connection in the room.
	Join(ctx context.Context, roomID string, member PresenceMember) (bool, error)
	// Leave reports whether this was the user's last connection in the room.
	Leave(ctx context.Context, roomID, userID string) (bool, error)
	Members(ctx context.Context, roomID string) ([]PresenceMember, error)
	Clear(ctx context.Context, roomID string) error
}

// PresenceTracker maintains per-room online sets and publishes diffs.
type PresenceTracker interface {
	Enter(ctx context.Context, roomID string, who domain.Principal) ([]PresenceMember, error)
	Leave(ctx context.Context, roomID string, who domain.Principal) error
}
