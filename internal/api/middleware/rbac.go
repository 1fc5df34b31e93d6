package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/styxchat/chat-service/internal/core/domain"
)

// RBAC admits only principals whose role is one of allowedRoles.
func RBAC(allowedRoles ...domain.Role) echo.MiddlewareFunc {
	allowed := make(map[domain.Role]struct{}, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[r] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return fmt.Errorf("missing principal: %w", domain.ErrAuthentication)
			}
			if _, ok := allowed[p.Role]; !ok {
				return domain.ErrPermissionDenied
			}
			return next(c)
		}
	}
}

// Can admits principals allowed to perform a room-independent action.
func Can(action domain.Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return fmt.Errorf("missing principal: %w", domain.ErrAuthentication)
			}
			if !domain.Can(p.Role, action, domain.Resource{UserID: p.UserID}) {
				return domain.ErrAccessDenied
			}
			return next(c)
		}
	}
}
