package ports

import (
	"context"
	"time"

	"github.com/styxchat/chat-service/internal/core/domain"
)

// UserRepository defines persistence for accounts.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	List(ctx context.Context, includeInactive bool) ([]*domain.User, error)
	SetActive(ctx context.Context, id string, active bool) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
}
