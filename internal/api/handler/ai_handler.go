package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/styxchat/chat-service/internal/core/ports"
)

type AIHandler struct {
	completer    ports.Completer
	defaultModel string
}

func NewAIHandler(completer ports.Completer, defaultModel string) *AIHandler {
	return &AIHandler{completer: completer, defaultModel: defaultModel}
}

// Models handles GET /models.
//
// @Summary      Models offered by the assistant endpoint
// @Tags         ai
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  modelsResponse
// @Failure      403  {object}  errorResponse
// @Failure      503  {object}  errorResponse
// @Router       /models [get]
func (h *AIHandler) Models(c echo.Context) error {
	models, err := h.completer.Models(c.Request().Context())
	if err != nil {
		return err
	}
	if models == nil {
		models = []string{}
	}
	return c.JSON(http.StatusOK, modelsResponse{Models: models, Default: h.defaultModel})
}
