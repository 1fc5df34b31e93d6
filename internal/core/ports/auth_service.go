package ports

import (
	"context"

	"github.com/styxchat/chat-service/internal/core/domain"
)

// AuthService issues and verifies bearer tokens.
type AuthService interface {
	Login(ctx context.Context, username, password string) (string, *domain.User, error)
	ParseToken(token string) (*domain.Claims, error)
}

// TokenVerifier is the part of AuthService the transport layers need.
type TokenVerifier interface {
	ParseToken(token string) (*domain.Claims, error)
}
