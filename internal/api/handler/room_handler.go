package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
)

// RoomHandler exposes the Room Registry and room history over REST.
type RoomHandler struct {
	rooms ports.RoomService
	chat  ports.ChatService
}

func NewRoomHandler(rooms ports.RoomService, chat ports.ChatService) *RoomHandler {
	return &RoomHandler{rooms: rooms, chat: chat}
}

// List handles GET /rooms.
//
// @Summary      Rooms visible to the caller
// @Tags         rooms
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   domain.Room
// @Failure      401  {object}  errorResponse
// @Router       /rooms [get]
func (h *RoomHandler) List(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	rooms, err := h.rooms.List(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rooms)
}

// Create handles POST /rooms.
//
// @Summary      Create a room
// @Tags         rooms
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      createRoomRequest  true  "Room"
// @Success      201   {object}  domain.Room
// @Failure      400   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Router       /rooms [post]
func (h *RoomHandler) Create(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	var req createRoomRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	in := ports.CreateRoomInput{
		Name:         req.Name,
		Description:  req.Description,
		Visibility:   domain.Visibility(req.Visibility),
		AllowedUsers: req.AllowedUsers,
		AI:           domain.AIConfig{Enabled: true},
	}
	if in.Visibility == "" {
		in.Visibility = domain.VisibilityPublic
	}
	if req.AI != nil {
		in.AI = req.AI.toDomain()
	}

	room, err := h.rooms.Create(c.Request().Context(), p, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, room)
}

// Get handles GET /rooms/:room_id.
//
// @Summary      Room detail
// @Tags         rooms
// @Produce      json
// @Security     BearerAuth
// @Param        room_id  path      string  true  "Room id"
// @Success      200      {object}  domain.Room
// @Failure      403      {object}  errorResponse
// @Failure      404      {object}  errorResponse
// @Router       /rooms/{room_id} [get]
func (h *RoomHandler) Get(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	room, err := h.rooms.Get(c.Request().Context(), p, c.Param("room_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, room)
}

// Update handles PUT /rooms/:room_id.
//
// @Summary      Update a room
// @Tags         rooms
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        room_id  path      string             true  "Room id"
// @Param        body     body      updateRoomRequest  true  "Changes"
// @Success      200      {object}  domain.Room
// @Failure      400      {object}  errorResponse
// @Failure      403      {object}  errorResponse
// @Failure      404      {object}  errorResponse
// @Router       /rooms/{room_id} [put]
func (h *RoomHandler) Update(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	var req updateRoomRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	in := ports.UpdateRoomInput{Description: req.Description}
	if req.Visibility != nil {
		v := domain.Visibility(*req.Visibility)
		in.Visibility = &v
	}
	if req.AI != nil {
		cfg := req.AI.toDomain()
		in.AI = &cfg
	}

	room, err := h.rooms.Update(c.Request().Context(), p, c.Param("room_id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, room)
}

// Delete handles DELETE /rooms/:room_id.
//
// @Summary      Delete a room
// @Tags         rooms
// @Produce      json
// @Security     BearerAuth
// @Param        room_id  path      string  true  "Room id"
// @Success      200      {object}  messageResponse
// @Failure      403      {object}  errorResponse
// @Failure      404      {object}  errorResponse
// @Router       /rooms/{room_id} [delete]
func (h *RoomHandler) Delete(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	id := c.Param("room_id")
	if err := h.rooms.Delete(c.Request().Context(), p, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "room " + id + " deleted"})
}

// AssignUsers handles POST /rooms/:room_id/assign-users.
//
// @Summary      Replace the assigned users of a room
// @Tags         rooms
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        room_id  path      string              true  "Room id"
// @Param        body     body      assignUsersRequest  true  "User ids"
// @Success      200      {object}  domain.Room
// @Failure      403      {object}  errorResponse
// @Failure      404      {object}  errorResponse
// @Router       /rooms/{room_id}/assign-users [post]
func (h *RoomHandler) AssignUsers(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	var req assignUsersRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	room, err := h.rooms.AssignUsers(c.Request().Context(), p, c.Param("room_id"), req.UserIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, room)
}

// AccessCheck handles GET /rooms/:room_id/access-check.
//
// @Summary      Check room access
// @Tags         rooms
// @Produce      json
// @Security     BearerAuth
// @Param        room_id  path      string  true  "Room id"
// @Success      200      {object}  ports.AccessResult
// @Failure      404      {object}  errorResponse
// @Router       /rooms/{room_id}/access-check [get]
func (h *RoomHandler) AccessCheck(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	res, err := h.rooms.CheckAccess(c.Request().Context(), p, c.Param("room_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Messages handles GET /rooms/:room_id/messages.
//
// @Summary      Room history
// @Tags         rooms
// @Produce      json
// @Security     BearerAuth
// @Param        room_id  path      string  true   "Room id"
// @Param        limit    query     int     false  "Number of trailing messages"
// @Success      200      {object}  historyResponse
// @Failure      400      {object}  errorResponse
// @Failure      403      {object}  errorResponse
// @Failure      404      {object}  errorResponse
// @Router       /rooms/{room_id}/messages [get]
func (h *RoomHandler) Messages(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return domain.Validationf("limit must be a positive integer")
		}
	}

	id := c.Param("room_id")
	msgs, err := h.chat.History(c.Request().Context(), p, id, limit)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return c.JSON(http.StatusOK, historyResponse{RoomID: id, Messages: msgs})
}

// ClearMessages handles DELETE /rooms/:room_id/messages.
//
// @Summary      Wipe room history (admin)
// @Tags         rooms
// @Produce      json
// @Security     BearerAuth
// @Param        room_id  path      string  true  "Room id"
// @Success      200      {object}  messageResponse
// @Failure      403      {object}  errorResponse
// @Failure      404      {object}  errorResponse
// @Router       /rooms/{room_id}/messages [delete]
func (h *RoomHandler) ClearMessages(c echo.Context) error {
	p, err := ctxPrincipal(c)
	if err != nil {
		return err
	}
	id := c.Param("room_id")
	if err := h.chat.ClearHistory(c.Request().Context(), p, id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "history of room " + id + " cleared"})
}
