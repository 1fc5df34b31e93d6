package ports

import (
	"context"

	"github.com/styxchat/chat-service/internal/core/domain"
)

// CreateRoomInput is the DTO for room creation.
type CreateRoomInput struct {
	Name         string
	Description  string
	Visibility   domain.Visibility
	AllowedUsers []string
	AI           domain.AIConfig
}

// UpdateRoomInput carries optional room changes; nil fields are untouched.
type UpdateRoomInput struct {
	Description *string
	Visibility  *domain.Visibility
	AI          *domain.AIConfig
}

// AccessResult answers an access check.
type AccessResult struct {
	RoomID    string `json:"room_id"`
	CanAccess bool   `json:"can_access"`
	Reason    string `json:"reason"`
}

// RoomService is the Room Registry.
type RoomService interface {
	Create(ctx context.Context, actor domain.Principal, in CreateRoomInput) (*domain.Room, error)
	Get(ctx context.Context, actor domain.Principal, id string) (*domain.Room, error)
	Update(ctx context.Context, actor domain.Principal, id string, in UpdateRoomInput) (*domain.Room, error)
	Delete(ctx context.Context, actor domain.Principal, id string) error
	List(ctx context.Context, actor domain.Principal) ([]*domain.Room, error)
	AssignUsers(ctx context.Context, actor domain.Principal, id string, userIDs []string) (*domain.Room, error)
	CheckAccess(ctx context.Context, actor domain.Principal, id string) (AccessResult, error)
	// Join resolves the room and fails with domain.ErrAccessDenied when the
	// actor may not enter it.
	Join(ctx context.Context, actor domain.Principal, id string) (*domain.Room, error)
}
