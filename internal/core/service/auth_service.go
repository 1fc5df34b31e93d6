package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
)

const defaultTokenTTL = 480 * time.Minute

// AuthService implements login and bearer token verification.
type AuthService struct {
	repo      ports.UserRepository
	jwtSecret string
	tokenTTL  time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

func NewAuthService(repo ports.UserRepository, jwtSecret string, tokenTTL time.Duration, log zerolog.Logger) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &AuthService{
		repo:      repo,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		now:       time.Now,
		log:       log.With().Str("component", "auth").Logger(),
	}
}

// TokenTTL is the lifetime of issued tokens.
func (s *AuthService) TokenTTL() time.Duration { return s.tokenTTL }

func (s *AuthService) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	if username == "" || password == "" {
		return "", nil, domain.ErrInvalidCredentials
	}

	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			// same answer as a bad password, no account enumeration
			return "", nil, domain.ErrInvalidCredentials
		}
		return "", nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, domain.ErrInvalidCredentials
	}
	if !user.IsActive {
		return "", nil, fmt.Errorf("account disabled: %w", domain.ErrAuthentication)
	}

	token, err := s.generateToken(user)
	if err != nil {
		return "", nil, err
	}

	now := s.now().UTC()
	if err := s.repo.TouchLogin(ctx, user.ID, now); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record last login")
	} else {
		user.LastLogin = &now
	}

	return token, user, nil
}

// ParseToken verifies an HS256 token and returns its claims.
func (s *AuthService) ParseToken(token string) (*domain.Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", domain.ErrAuthentication)
	}

	claims := jwt.MapClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(s.jwtSecret), nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))
	if err != nil || !tkn.Valid {
		return nil, fmt.Errorf("invalid token: %w", domain.ErrAuthentication)
	}

	userID, _ := claims["sub"].(string)
	username, _ := claims["username"].(string)
	role, _ := claims["role"].(string)
	if userID == "" || !domain.Role(role).Valid() {
		return nil, fmt.Errorf("incomplete token claims: %w", domain.ErrAuthentication)
	}

	out := &domain.Claims{
		Principal: domain.Principal{UserID: userID, Username: username, Role: domain.Role(role)},
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// EnsureAdmin creates the bootstrap admin account when it does not exist. An
// empty password is replaced by a random one, returned so it can be logged.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password string) (created bool, generated string, err error) {
	if _, err := s.repo.FindByUsername(ctx, username); err == nil {
		return false, "", nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return false, "", err
	}

	if password == "" {
		password, err = randomPassword()
		if err != nil {
			return false, "", err
		}
		generated = password
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, "", err
	}

	now := s.now().UTC()
	_, err = s.repo.Create(ctx, &domain.User{
		Username:     username,
		FullName:     "Administrator",
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, domain.ErrUserExists) {
		// another instance won the race
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, generated, nil
}

func (s *AuthService) generateToken(user *domain.User) (string, error) {
	claims := jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"role":     string(user.Role),
		"iat":      s.now().Unix(),
		"exp":      s.now().Add(s.tokenTTL).Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(s.jwtSecret))
}

func randomPassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
