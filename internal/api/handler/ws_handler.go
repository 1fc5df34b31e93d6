package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/styxchat/chat-service/internal/core/domain"
)

// SessionServer runs one websocket session on an upgraded request.
type SessionServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, roomID string)
}

type WSHandler struct {
	server SessionServer
}

func NewWSHandler(server SessionServer) *WSHandler {
	return &WSHandler{server: server}
}

// Connect upgrades GET /ws and GET /ws/:room_id. Authentication happens
// after the upgrade so failures can be reported with a close code.
//
// @Summary      Open a realtime session
// @Tags         realtime
// @Param        room_id  path   string  false  "Room id, defaults to the general room"
// @Param        token    query  string  false  "Bearer token"
// @Success      101
// @Router       /ws/{room_id} [get]
func (h *WSHandler) Connect(c echo.Context) error {
	roomID := c.Param("room_id")
	if roomID == "" {
		roomID = domain.DefaultRoomID
	}
	h.server.ServeWS(c.Response(), c.Request(), roomID)
	return nil
}
