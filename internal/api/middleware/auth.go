package middleware

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
)

// PrincipalKey is the echo context key holding the verified domain.Principal.
const PrincipalKey = "principal"

// Auth validates the bearer token and injects the principal into context.
func Auth(verifier ports.TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return fmt.Errorf("missing authorization header: %w", domain.ErrAuthentication)
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return fmt.Errorf("invalid authorization header: %w", domain.ErrAuthentication)
			}

			claims, err := verifier.ParseToken(strings.TrimSpace(parts[1]))
			if err != nil {
				return err
			}

			c.Set(PrincipalKey, claims.Principal)
			c.Set("user_id", claims.UserID)
			c.Set("role", claims.Role)

			return next(c)
		}
	}
}

// PrincipalFrom returns the principal set by Auth.
func PrincipalFrom(c echo.Context) (domain.Principal, bool) {
	p, ok := c.Get(PrincipalKey).(domain.Principal)
	return p, ok && p.UserID != ""
}
