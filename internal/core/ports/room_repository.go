package ports

import (
	"context"

	"github.com/styxchat/chat-service/internal/core/domain"
)

// RoomRepository is the authoritative room store.
type RoomRepository interface {
	// Create fails with domain.ErrRoomExists when the id is taken.
	Create(ctx context.Context, room *domain.Room) error
	Get(ctx context.Context, id string) (*domain.Room, error)
	List(ctx context.Context) ([]*domain.Room, error)
	Update(ctx context.Context, room *domain.Room) error
	SetAllowedUsers(ctx context.Context, id string, userIDs []string) error
	// Delete removes the room together with its membership and history.
	Delete(ctx context.Context, id string) error
}
