package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/styxchat/chat-service/internal/api/handler"
	"github.com/styxchat/chat-service/internal/core/domain"
)

var statusByCode = map[string]int{
	domain.CodeAuthentication:      http.StatusUnauthorized,
	domain.CodeAccessDenied:        http.StatusForbidden,
	domain.CodePermissionDenied:    http.StatusForbidden,
	domain.CodeValidation:          http.StatusBadRequest,
	domain.CodeRateLimited:         http.StatusTooManyRequests,
	domain.CodeUpstreamTimeout:     http.StatusGatewayTimeout,
	domain.CodeUpstreamUnavailable: http.StatusServiceUnavailable,
	domain.CodeNotFound:            http.StatusNotFound,
	domain.CodeConflict:            http.StatusConflict,
}

// NewHTTPErrorHandler returns an echo.HTTPErrorHandler that:
//   - Maps domain errors to their HTTP status and stable code.
//   - Sets Retry-After on rate limited responses.
//   - Logs unexpected errors internally without leaking details to the client.
//   - Renders a consistent JSON envelope: {"error": "<message>", "code": "<code>"}.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := resolveError(err, log, c)
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			secs := int(math.Ceil(rl.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, handler.ErrorResponse) {
	// Echo's own errors (bind failures, 404 from router, etc.)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, handler.ErrorResponse{Error: fmt.Sprintf("%v", he.Message), Code: codeForStatus(he.Code)}
	}

	code := domain.Code(err)
	if status, ok := statusByCode[code]; ok {
		return status, handler.ErrorResponse{Error: err.Error(), Code: code}
	}

	// Unexpected error: log the real cause, return a generic message.
	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
		Msg("unhandled error")

	return http.StatusInternalServerError, handler.ErrorResponse{Error: "internal server error", Code: domain.CodeInternal}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return domain.CodeAuthentication
	case http.StatusForbidden:
		return domain.CodePermissionDenied
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		return domain.CodeValidation
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return domain.CodeNotFound
	case http.StatusTooManyRequests:
		return domain.CodeRateLimited
	case http.StatusConflict:
		return domain.CodeConflict
	case http.StatusServiceUnavailable:
		return domain.CodeUpstreamUnavailable
	case http.StatusGatewayTimeout:
		return domain.CodeUpstreamTimeout
	default:
		return domain.CodeInternal
	}
}
