package ports

import (
	"context"

	"github.com/styxchat/chat-service/internal/core/domain"
)

// CreateUserInput is the DTO for admin account creation.
type CreateUserInput struct {
	Username    string
	Password    string
	FullName    string
	AvatarColor string
	Role        domain.Role
}

// UserService exposes account administration.
type UserService interface {
	List(ctx context.Context, actor domain.Principal) ([]*domain.User, error)
	Get(ctx context.Context, id string) (*domain.User, error)
	Create(ctx context.Context, actor domain.Principal, in CreateUserInput) (*domain.User, error)
	Disable(ctx context.Context, actor domain.Principal, id string) error
}
