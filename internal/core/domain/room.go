package domain

import (
	"strings"
	"time"
	"unicode"
)

const (
	DefaultRoomID   = "general"
	DefaultRoomName = "General Chat"
)

// Visibility controls who may discover and join a room.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// AIConfig is the per-room assistant configuration.
type AIConfig struct {
	Enabled      bool   `json:"enabled"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	VoiceID      string `json:"voice_id,omitempty"`
}

// Room is a chat room. AllowedUsers holds explicitly assigned user ids; for
// private rooms it gates access, for kid accounts it gates every room except
// the default one.
type Room struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Visibility   Visibility `json:"visibility"`
	AllowedUsers []string   `json:"allowed_users,omitempty"`
	CreatedBy    string     `json:"created_by"`
	AI           AIConfig   `json:"ai"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsDefault reports whether r is the well-known default room.
func (r *Room) IsDefault() bool { return r.ID == DefaultRoomID }

// IsAssigned reports whether userID is in the room's allowed set.
func (r *Room) IsAssigned(userID string) bool {
	for _, id := range r.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// NewDefaultRoom returns the room every account can always reach.
func NewDefaultRoom(now time.Time) *Room {
	return &Room{
		ID:          DefaultRoomID,
		Name:        DefaultRoomName,
		Description: "Default room for everyone",
		Visibility:  VisibilityPublic,
		CreatedBy:   "system",
		AI:          AIConfig{Enabled: true},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Slugify derives a room id from a display name: lowercase ASCII letters and
// digits, other runs collapsed to a single dash.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
