package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
	"github.com/styxchat/chat-service/internal/infrastructure/db/redis"
)

func testClient(userID string) *Client {
	return newClient(nil, domain.Principal{UserID: userID, Username: userID, Role: domain.RoleUser}, zerolog.Nop())
}

func drain(c *Client) []ports.EventType {
	var types []ports.EventType
	for {
		select {
		case frame := <-c.send:
			var head struct {
				Type ports.EventType `json:"type"`
			}
			_ = json.Unmarshal(frame, &head)
			types = append(types, head.Type)
		default:
			return types
		}
	}
}

func chatFrame(t *testing.T, roomID string, seq int64) []byte {
	t.Helper()
	b, err := json.Marshal(ports.Event{Type: ports.EventChatMessage, RoomID: roomID, Data: domain.Message{RoomID: roomID, Seq: seq}})
	require.NoError(t, err)
	return b
}

func isClosed(c *Client) bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func TestHub_BroadcastReachesRoomMembersOnly(t *testing.T) {
	hub := NewHub(&stubDirectory{}, zerolog.Nop())
	alice, bob, carol := testClient("alice"), testClient("bob"), testClient("carol")
	hub.Register(alice, "general")
	hub.Register(bob, "general")
	hub.Register(carol, "demo")

	hub.Dispatch(redis.Delivery{RoomID: "general", Event: chatFrame(t, "general", 1)})

	assert.Equal(t, []ports.EventType{ports.EventChatMessage}, drain(alice))
	assert.Equal(t, []ports.EventType{ports.EventChatMessage}, drain(bob))
	assert.Empty(t, drain(carol))
	assert.Equal(t, 2, hub.RoomSize("general"))
}

func TestHub_MoveAndUnregister(t *testing.T) {
	hub := NewHub(&stubDirectory{}, zerolog.Nop())
	c := testClient("alice")
	hub.Register(c, "general")

	from := hub.Move(c, "demo")
	assert.Equal(t, "general", from)
	assert.Equal(t, "demo", c.Room())
	assert.Zero(t, hub.RoomSize("general"))
	assert.Equal(t, 1, hub.RoomSize("demo"))

	hub.Unregister(c)
	hub.Unregister(c)
	assert.Zero(t, hub.Count())
	assert.Zero(t, hub.RoomSize("demo"))
	assert.False(t, hub.SendToConn(c.ID, ports.Event{Type: ports.EventPong}))
}

func TestClient_SyncSkipsMessagesCoveredByHistory(t *testing.T) {
	c := testClient("alice")
	c.beginSync()

	// Messages 4 and 5 raced with the history read that returned up to 4.
	require.True(t, c.deliver(chatFrame(t, "general", 4), 4))
	require.True(t, c.deliver(chatFrame(t, "general", 5), 5))
	presence, _ := json.Marshal(ports.Event{Type: ports.EventPresenceUpdate, RoomID: "general"})
	require.True(t, c.deliver(presence, 0))
	assert.Empty(t, drain(c), "nothing is sent before the snapshot")

	established, _ := json.Marshal(ports.Event{Type: ports.EventConnectionEstablished})
	history, _ := json.Marshal(ports.Event{Type: ports.EventMessageHistory})
	require.True(t, c.endSync([][]byte{established, history}, 4))

	got := drain(c)
	assert.Equal(t, []ports.EventType{
		ports.EventConnectionEstablished,
		ports.EventMessageHistory,
		ports.EventChatMessage,
		ports.EventPresenceUpdate,
	}, got)
}

func TestHub_SlowConsumerIsDropped(t *testing.T) {
	hub := NewHub(&stubDirectory{}, zerolog.Nop())
	slow, fast := testClient("slow"), testClient("fast")
	hub.Register(slow, "general")
	hub.Register(fast, "general")

	for i := 1; i <= sendBufferSize+1; i++ {
		hub.Dispatch(redis.Delivery{RoomID: "general", Event: chatFrame(t, "general", int64(i))})
		if i == sendBufferSize {
			drain(fast)
		}
	}

	assert.True(t, isClosed(slow))
	assert.False(t, isClosed(fast))
	assert.Equal(t, 1008, slow.closeCode)
}

func TestHub_RoomChangeRefreshesListsAndEvicts(t *testing.T) {
	dir := &stubDirectory{rooms: map[string]*domain.Room{
		domain.DefaultRoomID: domain.NewDefaultRoom(time.Now()),
	}}
	hub := NewHub(dir, zerolog.Nop())

	var mu sync.Mutex
	evicted := map[string]error{}
	done := make(chan struct{}, 4)
	hub.OnEvict(func(c *Client, roomID string, reason error) {
		mu.Lock()
		evicted[c.Principal.UserID] = reason
		mu.Unlock()
		done <- struct{}{}
	})

	a1, a2, bob := testClient("alice"), testClient("alice"), testClient("bob")
	hub.Register(a1, "demo")
	hub.Register(a2, "general")
	hub.Register(bob, "general")

	hub.Dispatch(redis.Delivery{RoomID: "demo", Change: &ports.RoomChange{Action: ports.RoomDeleted, RoomID: "demo"}})

	assert.Equal(t, []ports.EventType{ports.EventRoomListUpdate}, drain(a1))
	assert.Equal(t, []ports.EventType{ports.EventRoomListUpdate}, drain(a2))
	assert.Equal(t, []ports.EventType{ports.EventRoomListUpdate}, drain(bob))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("member of deleted room was not evicted")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, evicted, 1)
	assert.ErrorIs(t, evicted["alice"], domain.ErrRoomNotFound)
	assert.Equal(t, 2, dir.listCalls(), "one room list per distinct user")
}

func TestHub_RoomUpdateEvictsMembersWithoutAccess(t *testing.T) {
	private := &domain.Room{ID: "secret", Visibility: domain.VisibilityPrivate, CreatedBy: "alice", AllowedUsers: []string{"alice"}}
	dir := &stubDirectory{rooms: map[string]*domain.Room{"secret": private}}
	hub := NewHub(dir, zerolog.Nop())

	evicted := make(chan string, 2)
	hub.OnEvict(func(c *Client, roomID string, reason error) {
		assert.ErrorIs(t, reason, domain.ErrAccessDenied)
		evicted <- c.Principal.UserID
	})

	hub.Register(testClient("alice"), "secret")
	hub.Register(testClient("bob"), "secret")
	hub.Dispatch(redis.Delivery{RoomID: "secret", Change: &ports.RoomChange{Action: ports.RoomAssigned, RoomID: "secret"}})

	select {
	case id := <-evicted:
		assert.Equal(t, "bob", id)
	case <-time.After(time.Second):
		t.Fatal("bob kept access after being removed from the room")
	}
	assert.Empty(t, evicted)
}

func TestPeekSeq(t *testing.T) {
	assert.Equal(t, int64(7), peekSeq(chatFrame(t, "general", 7)))
	presence, _ := json.Marshal(ports.Event{Type: ports.EventPresenceUpdate, Data: map[string]int{"sequence": 3}})
	assert.Zero(t, peekSeq(presence))
	assert.Zero(t, peekSeq([]byte("not json")))
}

func TestCloseCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{domain.ErrAuthentication, CloseAuthFailed},
		{domain.ErrAccessDenied, CloseAccessDenied},
		{domain.ErrRoomNotFound, CloseRoomNotFound},
		{context.DeadlineExceeded, CloseInternal},
	}
	for _, tc := range cases {
		code, _ := closeCodeFor(tc.err)
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=q", nil)
	assert.Equal(t, "q", bearerToken(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", bearerToken(r))

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Sec-WebSocket-Protocol", "bearer, p")
	assert.Equal(t, "p", bearerToken(r))

	assert.Empty(t, bearerToken(httptest.NewRequest("GET", "/ws", nil)))
}
