package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/styxchat/chat-service/internal/core/domain"
)

func seedUser(t *testing.T, repo *stubUserRepo, username, password string, role domain.Role, active bool) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := repo.Create(context.Background(), &domain.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     active,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func TestAuthService_Login_Success(t *testing.T) {
	repo := newStubUserRepo()
	seeded := seedUser(t, repo, "carol", "s3cret", domain.RoleAdmin, true)
	svc := NewAuthService(repo, "secret", time.Hour, zerolog.Nop())

	token, user, err := svc.Login(context.Background(), "carol", "s3cret")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token, got empty")
	}
	if user == nil || user.Username != "carol" || user.LastLogin == nil {
		t.Fatalf("unexpected user: %+v", user)
	}
	if len(repo.touched) != 1 || repo.touched[0] != seeded.ID {
		t.Fatalf("expected last login recorded for %s, got %v", seeded.ID, repo.touched)
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("token invalid: %v", err)
	}
	if claims["role"] != string(domain.RoleAdmin) || claims["sub"] != seeded.ID {
		t.Fatalf("unexpected claims: %v", claims)
	}
}

func TestAuthService_Login_InvalidPassword(t *testing.T) {
	repo := newStubUserRepo()
	seedUser(t, repo, "dave", "goodpass", domain.RoleUser, true)
	svc := NewAuthService(repo, "secret", time.Hour, zerolog.Nop())

	if _, _, err := svc.Login(context.Background(), "dave", "badpass"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthService_Login_UnknownUserLooksLikeBadPassword(t *testing.T) {
	svc := NewAuthService(newStubUserRepo(), "secret", time.Hour, zerolog.Nop())

	if _, _, err := svc.Login(context.Background(), "ghost", "pass"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthService_Login_DisabledAccount(t *testing.T) {
	repo := newStubUserRepo()
	seedUser(t, repo, "erin", "password1", domain.RoleUser, false)
	svc := NewAuthService(repo, "secret", time.Hour, zerolog.Nop())

	_, _, err := svc.Login(context.Background(), "erin", "password1")
	if !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestAuthService_Login_EmptyInput(t *testing.T) {
	svc := NewAuthService(newStubUserRepo(), "secret", time.Hour, zerolog.Nop())

	if _, _, err := svc.Login(context.Background(), "", ""); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthService_ParseToken_RoundTrip(t *testing.T) {
	repo := newStubUserRepo()
	seedUser(t, repo, "kim", "kidpass1", domain.RoleKid, true)
	svc := NewAuthService(repo, "secret", time.Hour, zerolog.Nop())

	token, user, err := svc.Login(context.Background(), "kim", "kidpass1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	claims, err := svc.ParseToken(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.UserID != user.ID || claims.Username != "kim" || claims.Role != domain.RoleKid {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ExpiresAt.IsZero() {
		t.Fatalf("expected expiry")
	}
}

func TestAuthService_ParseToken_Rejects(t *testing.T) {
	svc := NewAuthService(newStubUserRepo(), "secret", time.Hour, zerolog.Nop())

	sign := func(secret string, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	future := time.Now().Add(time.Hour).Unix()

	cases := map[string]string{
		"empty":         "",
		"garbage":       "not-a-token",
		"wrong secret":  sign("other", jwt.MapClaims{"sub": "u1", "role": "user", "exp": future}),
		"expired":       sign("secret", jwt.MapClaims{"sub": "u1", "role": "user", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no expiry":     sign("secret", jwt.MapClaims{"sub": "u1", "role": "user"}),
		"unknown role":  sign("secret", jwt.MapClaims{"sub": "u1", "role": "guest", "exp": future}),
		"missing sub":   sign("secret", jwt.MapClaims{"role": "user", "exp": future}),
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.ParseToken(token); !errors.Is(err, domain.ErrAuthentication) {
				t.Fatalf("expected ErrAuthentication, got %v", err)
			}
		})
	}
}

func TestAuthService_EnsureAdmin(t *testing.T) {
	repo := newStubUserRepo()
	svc := NewAuthService(repo, "secret", time.Hour, zerolog.Nop())

	created, generated, err := svc.EnsureAdmin(context.Background(), "admin", "")
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if !created || generated == "" {
		t.Fatalf("expected admin created with generated password, got %v %q", created, generated)
	}

	admin, err := repo.FindByUsername(context.Background(), "admin")
	if err != nil {
		t.Fatalf("admin missing: %v", err)
	}
	if admin.Role != domain.RoleAdmin || !admin.IsActive {
		t.Fatalf("unexpected admin: %+v", admin)
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(generated)) != nil {
		t.Fatalf("generated password does not match stored hash")
	}

	created, _, err = svc.EnsureAdmin(context.Background(), "admin", "ignored")
	if err != nil || created {
		t.Fatalf("second call should be a no-op, got created=%v err=%v", created, err)
	}
}
