package redis

import (
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/styxchat/chat-service/internal/core/domain"
)

func TestRoomFromChannel(t *testing.T) {
	cases := map[string]struct {
		id string
		ok bool
	}{
		RoomChannel("general"):   {"general", true},
		RoomChannel("demo-room"): {"demo-room", true},
		"chat:room::events":      {"", false},
		RoomsChannel:             {"", false},
		"chat:room:general":      {"", false},
	}
	for channel, want := range cases {
		id, ok := roomFromChannel(channel)
		if id != want.id || ok != want.ok {
			t.Fatalf("%s: got (%q, %v), want (%q, %v)", channel, id, ok, want.id, want.ok)
		}
	}
}

func TestEncodeDecodeRoom(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	room := &domain.Room{
		ID:           "staff",
		Name:         "Staff",
		Description:  "admins only",
		Visibility:   domain.VisibilityPrivate,
		AllowedUsers: []string{"u2", "u1"},
		CreatedBy:    "u1",
		AI:           domain.AIConfig{Enabled: true, Model: "m", SystemPrompt: "be brief"},
		CreatedAt:    created,
		UpdatedAt:    created.Add(time.Hour),
	}

	fields, err := encodeRoom(room)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	hash := make(map[string]string, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		hash[fields[i].(string)] = fields[i+1].(string)
	}

	got, err := decodeRoom("staff", hash, []string{"u2", "u1"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "Staff" || got.Visibility != domain.VisibilityPrivate || got.AI != room.AI {
		t.Fatalf("unexpected room: %+v", got)
	}
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(room.UpdatedAt) {
		t.Fatalf("timestamps lost: %+v", got)
	}
	if len(got.AllowedUsers) != 2 || got.AllowedUsers[0] != "u1" {
		t.Fatalf("allowed users should be sorted, got %v", got.AllowedUsers)
	}
}

func TestDecodeDeliveries(t *testing.T) {
	bus := NewEventBus(nil, zerolog.Nop())

	d, ok := bus.decode(&goredis.Message{Channel: RoomsChannel, Payload: `{"action":"deleted","room_id":"demo"}`})
	if !ok || d.Change == nil || d.Change.RoomID != "demo" || d.Event != nil {
		t.Fatalf("unexpected change delivery: %+v", d)
	}

	d, ok = bus.decode(&goredis.Message{Channel: RoomChannel("demo"), Payload: `{"type":"chat_message"}`})
	if !ok || d.RoomID != "demo" || string(d.Event) != `{"type":"chat_message"}` {
		t.Fatalf("unexpected room delivery: %+v", d)
	}

	if _, ok := bus.decode(&goredis.Message{Channel: RoomsChannel, Payload: "{"}); ok {
		t.Fatalf("malformed change must be dropped")
	}
}
