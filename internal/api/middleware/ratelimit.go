package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
)

// RateLimit takes one token from the channel bucket of the caller: the
// authenticated user when Auth ran before it, the client IP otherwise.
func RateLimit(limiter ports.RateLimiter, channel ports.Channel) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if p, ok := PrincipalFrom(c); ok {
				key = "user:" + p.UserID
			}

			d := limiter.Allow(channel, key)
			if d.Limit > 0 {
				h := c.Response().Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			}
			if !d.Allowed {
				return &domain.RateLimitError{Channel: string(channel), RetryAfter: d.RetryAfter}
			}
			return next(c)
		}
	}
}
