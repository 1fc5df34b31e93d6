package service

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
)

const minPasswordLength = 8

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// UserService implements account administration on top of the user store.
type UserService struct {
	repo ports.UserRepository
	log  zerolog.Logger
}

func NewUserService(repo ports.UserRepository, log zerolog.Logger) *UserService {
	return &UserService{repo: repo, log: log.With().Str("component", "users").Logger()}
}

// List returns every account to admins and active accounts to users.
func (s *UserService) List(ctx context.Context, actor domain.Principal) ([]*domain.User, error) {
	if !domain.Can(actor.Role, domain.ActionListUsers, domain.Resource{UserID: actor.UserID}) {
		return nil, domain.ErrAccessDenied
	}
	return s.repo.List(ctx, actor.Role == domain.RoleAdmin)
}

func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *UserService) Create(ctx context.Context, actor domain.Principal, in ports.CreateUserInput) (*domain.User, error) {
	if !domain.Can(actor.Role, domain.ActionManageUsers, domain.Resource{UserID: actor.UserID}) {
		return nil, domain.ErrPermissionDenied
	}
	if !usernamePattern.MatchString(in.Username) {
		return nil, domain.Validationf("username must be 3-32 characters of letters, digits, '_', '.' or '-'")
	}
	if len(in.Password) < minPasswordLength {
		return nil, domain.Validationf("password must be at least %d characters", minPasswordLength)
	}
	if !in.Role.Valid() {
		return nil, domain.Validationf("role must be one of: admin, user, kid")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user, err := s.repo.Create(ctx, &domain.User{
		Username:     in.Username,
		FullName:     in.FullName,
		AvatarColor:  in.AvatarColor,
		PasswordHash: string(hash),
		Role:         in.Role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", user.ID).
		Str("username", user.Username).
		Str("role", string(user.Role)).
		Str("by", actor.UserID).
		Msg("user created")
	return user, nil
}

// Disable soft-deletes an account; the record stays for message history.
func (s *UserService) Disable(ctx context.Context, actor domain.Principal, id string) error {
	if !domain.Can(actor.Role, domain.ActionManageUsers, domain.Resource{UserID: actor.UserID}) {
		return domain.ErrPermissionDenied
	}
	if id == actor.UserID {
		return domain.Validationf("cannot disable your own account")
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}

	s.log.Info().Str("user_id", id).Str("by", actor.UserID).Msg("user disabled")
	return nil
}
