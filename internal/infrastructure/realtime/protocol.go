// Package realtime is the Connection Manager: websocket sessions, the local
// fanout hub and the wire protocol spoken with clients.
package realtime

import (
	"encoding/json"
	"errors"

	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
)

// Inbound frame types.
const (
	FrameMessage  = "message"
	FrameJoinRoom = "join_room"
	FrameTyping   = "typing"
	FramePing     = "ping"
)

// Close codes sent when a connection cannot enter its room.
const (
	CloseAuthFailed   = 4001
	CloseAccessDenied = 4003
	CloseRoomNotFound = 4004
	CloseInternal     = 4005
)

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type messageData struct {
	RoomID      string `json:"room_id"`
	Body        string `json:"body"`
	ClientMsgID string `json:"client_msg_id"`
}

type joinRoomData struct {
	RoomID string `json:"room_id"`
}

type typingData struct {
	Typing bool `json:"typing"`
}

type connectionEstablished struct {
	ConnID      string                 `json:"conn_id"`
	User        domain.Principal       `json:"user"`
	RoomID      string                 `json:"room_id"`
	ActiveUsers []ports.PresenceMember `json:"active_users"`
}

type messageHistory struct {
	RoomID   string           `json:"room_id"`
	Messages []domain.Message `json:"messages"`
}

type roomListUpdate struct {
	Rooms []*domain.Room `json:"rooms"`
}

type userTyping struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

// closeCodeFor maps a join failure to the close code and reason sent to the
// client.
func closeCodeFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrAuthentication):
		return CloseAuthFailed, "authentication failed"
	case errors.Is(err, domain.ErrAccessDenied), errors.Is(err, domain.ErrPermissionDenied):
		return CloseAccessDenied, "access denied"
	case errors.Is(err, domain.ErrNotFound):
		return CloseRoomNotFound, "room not found"
	default:
		return CloseInternal, "internal error"
	}
}

func rejectReason(code int) string {
	switch code {
	case CloseAuthFailed:
		return "authentication"
	case CloseAccessDenied:
		return "access_denied"
	case CloseRoomNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

func errorEvent(roomID string, err error) ports.Event {
	code := domain.Code(err)
	payload := ports.ErrorPayload{Code: code, Description: err.Error()}
	if code == domain.CodeInternal {
		payload.Description = "internal error"
	}
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		payload.RetryAfterMS = rl.RetryAfter.Milliseconds()
	}
	return ports.Event{Type: ports.EventError, RoomID: roomID, Data: payload}
}

// peekSeq returns the room sequence number carried by an encoded
// chat_message event, or 0 for any other event.
func peekSeq(raw []byte) int64 {
	var head struct {
		Type ports.EventType `json:"type"`
		Data struct {
			Seq int64 `json:"sequence"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.Type != ports.EventChatMessage {
		return 0
	}
	return head.Data.Seq
}
