package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/styxchat/chat-service/internal/core/domain"
)

type stubVerifier struct{ principal domain.Principal }

func (s stubVerifier) ParseToken(token string) (*domain.Claims, error) {
	if token != "good" {
		return nil, domain.ErrAuthentication
	}
	return &domain.Claims{Principal: s.principal}, nil
}

var alice = domain.Principal{UserID: "u1", Username: "alice", Role: domain.RoleUser}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := Auth(stubVerifier{alice})(func(c echo.Context) error {
		called = true
		p, ok := PrincipalFrom(c)
		if !ok || p != alice {
			t.Fatalf("principal not set: %+v", p)
		}
		if c.Get("role") != domain.RoleUser {
			t.Fatalf("role not set")
		}
		return c.NoContent(http.StatusOK)
	})

	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !called {
		t.Fatalf("next not called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Token good",
		"bad token":      "Bearer forged",
		"no token":       "Bearer",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			c := e.NewContext(req, httptest.NewRecorder())

			err := Auth(stubVerifier{alice})(func(c echo.Context) error {
				t.Fatalf("should not reach next")
				return nil
			})(c)
			if !errors.Is(err, domain.ErrAuthentication) {
				t.Fatalf("expected ErrAuthentication, got %v", err)
			}
		})
	}
}
