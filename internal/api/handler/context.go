package handler

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/styxchat/chat-service/internal/api/middleware"
	"github.com/styxchat/chat-service/internal/core/domain"
)

// ctxPrincipal extracts the principal injected by the Auth middleware and
// fails fast before any service call when it is absent.
func ctxPrincipal(c echo.Context) (domain.Principal, error) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return domain.Principal{}, fmt.Errorf("missing authentication claims: %w", domain.ErrAuthentication)
	}
	return p, nil
}

// bindAndValidate decodes the request body into req and runs the struct
// validator.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return domain.Validationf("invalid payload")
	}
	if err := c.Validate(req); err != nil {
		return domain.Validationf("%s", err.Error())
	}
	return nil
}
