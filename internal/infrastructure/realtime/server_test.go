package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
	"github.com/styxchat/chat-service/internal/infrastructure/db/redis"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubDirectory struct {
	mu    sync.Mutex
	rooms map[string]*domain.Room
	lists int
}

func (d *stubDirectory) List(_ context.Context, actor domain.Principal) ([]*domain.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lists++
	var out []*domain.Room
	for _, r := range d.rooms {
		if domain.Can(actor.Role, domain.ActionViewRoom, domain.Resource{Room: r, UserID: actor.UserID}) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *stubDirectory) Join(_ context.Context, actor domain.Principal, id string) (*domain.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if !domain.Can(actor.Role, domain.ActionJoinRoom, domain.Resource{Room: r, UserID: actor.UserID}) {
		return nil, domain.ErrAccessDenied
	}
	return r, nil
}

func (d *stubDirectory) listCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lists
}

type stubVerifier map[string]domain.Principal

func (v stubVerifier) ParseToken(token string) (*domain.Claims, error) {
	p, ok := v[token]
	if !ok {
		return nil, domain.ErrAuthentication
	}
	return &domain.Claims{Principal: p, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// loopbackBus hands published events straight to the hub, standing in for
// the Redis round trip.
type loopbackBus struct{ hub *Hub }

func (b *loopbackBus) PublishRoom(_ context.Context, ev ports.Event) error {
	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b.hub.Dispatch(redis.Delivery{RoomID: ev.RoomID, Event: frame})
	return nil
}

func (b *loopbackBus) PublishRoomChange(_ context.Context, change ports.RoomChange) error {
	b.hub.Dispatch(redis.Delivery{RoomID: change.RoomID, Change: &change})
	return nil
}

type stubPresence struct {
	mu     sync.Mutex
	online map[string]map[string]int
	log    []string
}

func newStubPresence() *stubPresence {
	return &stubPresence{online: make(map[string]map[string]int)}
}

func (p *stubPresence) Enter(_ context.Context, roomID string, who domain.Principal) ([]ports.PresenceMember, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online[roomID] == nil {
		p.online[roomID] = make(map[string]int)
	}
	p.online[roomID][who.UserID]++
	p.log = append(p.log, "enter:"+roomID+":"+who.UserID)
	var members []ports.PresenceMember
	for id := range p.online[roomID] {
		members = append(members, ports.PresenceMember{UserID: id, Username: id})
	}
	return members, nil
}

func (p *stubPresence) Leave(_ context.Context, roomID string, who domain.Principal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online[roomID][who.UserID]--; p.online[roomID][who.UserID] <= 0 {
		delete(p.online[roomID], who.UserID)
	}
	p.log = append(p.log, "leave:"+roomID+":"+who.UserID)
	return nil
}

func (p *stubPresence) count(roomID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online[roomID])
}

func (p *stubPresence) entries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.log...)
}

// stubChat sequences and broadcasts every submission synchronously. Bodies
// longer than maxLen runes are answered with a validation error, as the
// pipeline does.
type stubChat struct {
	mu      sync.Mutex
	bus     ports.EventBus
	hub     *Hub
	maxLen  int
	seq     map[string]int64
	history map[string][]domain.Message
}

func (s *stubChat) Submit(ev ports.PipelineEvent) {
	if n := utf8.RuneCountInString(ev.Body); n > s.maxLen {
		s.hub.SendToConn(ev.ConnID, errorEvent(ev.RoomID, domain.Validationf("message is %d characters, limit is %d", n, s.maxLen)))
		return
	}
	s.mu.Lock()
	s.seq[ev.RoomID]++
	msg := domain.Message{
		ID: "m", RoomID: ev.RoomID, SenderID: ev.Sender.UserID, SenderName: ev.Sender.Username,
		Body: ev.Body, Kind: domain.KindUser, Seq: s.seq[ev.RoomID], CreatedAt: time.Now().UTC(),
	}
	s.history[ev.RoomID] = append(s.history[ev.RoomID], msg)
	s.mu.Unlock()
	_ = s.bus.PublishRoom(context.Background(), ports.Event{Type: ports.EventChatMessage, RoomID: ev.RoomID, Data: msg})
}

func (s *stubChat) History(_ context.Context, _ domain.Principal, roomID string, _ int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.history[roomID]...), nil
}

func (s *stubChat) ClearHistory(context.Context, domain.Principal, string) error { return nil }

type stubLimiter struct{ denied atomic.Bool }

func (l *stubLimiter) Allow(ports.Channel, string) ports.Decision {
	if !l.denied.Load() {
		return ports.Decision{Allowed: true, Limit: 30, Remaining: 29}
	}
	return ports.Decision{Allowed: false, Limit: 30, RetryAfter: 1500 * time.Millisecond}
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type wsFixture struct {
	url      string
	hub      *Hub
	srv      *Server
	dir      *stubDirectory
	presence *stubPresence
	limiter  *stubLimiter
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	dir := &stubDirectory{rooms: map[string]*domain.Room{
		domain.DefaultRoomID: domain.NewDefaultRoom(time.Now()),
		"demo":               {ID: "demo", Name: "Demo", Visibility: domain.VisibilityPublic, CreatedBy: "alice"},
		"secret":             {ID: "secret", Name: "Secret", Visibility: domain.VisibilityPrivate, CreatedBy: "alice", AllowedUsers: []string{"alice"}},
	}}
	hub := NewHub(dir, zerolog.Nop())
	bus := &loopbackBus{hub: hub}
	presence := newStubPresence()
	limiter := &stubLimiter{}
	chat := &stubChat{bus: bus, hub: hub, maxLen: 2000, seq: map[string]int64{}, history: map[string][]domain.Message{}}

	srv := NewServer(hub, Deps{
		Auth: stubVerifier{
			"alice-token": {UserID: "alice", Username: "alice", Role: domain.RoleUser},
			"kid-token":   {UserID: "kid", Username: "kid", Role: domain.RoleKid},
		},
		Rooms:    dir,
		Presence: presence,
		Chat:     chat,
		Bus:      bus,
		Limiter:  limiter,
	}, Config{PingInterval: time.Second, PongTimeout: 2 * time.Second, MaxMessageLength: 2000}, zerolog.Nop())

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.ServeWS(w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	}))
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
	})

	return &wsFixture{
		url:      "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/",
		hub:      hub,
		srv:      srv,
		dir:      dir,
		presence: presence,
		limiter:  limiter,
	}
}

func (f *wsFixture) dial(t *testing.T, roomID, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url+roomID+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type received struct {
	Type   ports.EventType `json:"type"`
	RoomID string          `json:"room_id"`
	Data   json.RawMessage `json:"data"`
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev received
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// readUntil skips frames until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want ports.EventType) received {
	t.Helper()
	for i := 0; i < 20; i++ {
		if ev := read(t, conn); ev.Type == want {
			return ev
		}
	}
	t.Fatalf("no %s frame received", want)
	return received{}
}

func readSnapshot(t *testing.T, conn *websocket.Conn) (connectionEstablished, messageHistory) {
	t.Helper()
	var est connectionEstablished
	var hist messageHistory
	ev := read(t, conn)
	require.Equal(t, ports.EventConnectionEstablished, ev.Type)
	require.NoError(t, json.Unmarshal(ev.Data, &est))
	ev = read(t, conn)
	require.Equal(t, ports.EventMessageHistory, ev.Type)
	require.NoError(t, json.Unmarshal(ev.Data, &hist))
	require.Equal(t, ports.EventRoomListUpdate, read(t, conn).Type)
	return est, hist
}

func send(t *testing.T, conn *websocket.Conn, frameType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(inboundFrame{Type: frameType, Data: raw}))
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, code, ce.Code)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestServeWS_RejectsAtHandshake(t *testing.T) {
	f := newWSFixture(t)

	cases := []struct {
		name  string
		room  string
		token string
		code  int
	}{
		{"bad token", "general", "forged", CloseAuthFailed},
		{"missing token", "general", "", CloseAuthFailed},
		{"private room", "secret", "kid-token", CloseAccessDenied},
		{"kid in unassigned public room", "demo", "kid-token", CloseAccessDenied},
		{"unknown room", "nowhere", "alice-token", CloseRoomNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectClose(t, f.dial(t, tc.room, tc.token), tc.code)
		})
	}
	assert.Zero(t, f.hub.Count())
}

func TestServeWS_SnapshotThenBroadcast(t *testing.T) {
	f := newWSFixture(t)

	alice := f.dial(t, "", "alice-token")
	est, hist := readSnapshot(t, alice)
	assert.Equal(t, domain.DefaultRoomID, est.RoomID)
	assert.Equal(t, "alice", est.User.UserID)
	assert.NotEmpty(t, est.ConnID)
	assert.Len(t, est.ActiveUsers, 1)
	assert.Empty(t, hist.Messages)

	kid := f.dial(t, "general", "kid-token")
	readSnapshot(t, kid)

	send(t, alice, FrameMessage, messageData{Body: "hello"})

	for _, conn := range []*websocket.Conn{alice, kid} {
		ev := readUntil(t, conn, ports.EventChatMessage)
		var msg domain.Message
		require.NoError(t, json.Unmarshal(ev.Data, &msg))
		assert.Equal(t, "hello", msg.Body)
		assert.Equal(t, int64(1), msg.Seq)
	}

	late := f.dial(t, "general", "kid-token")
	_, hist = readSnapshot(t, late)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, "hello", hist.Messages[0].Body)
}

func TestServeWS_JoinRoomMovesPresence(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, "general", "alice-token")
	readSnapshot(t, alice)

	send(t, alice, FrameJoinRoom, joinRoomData{RoomID: "demo"})
	est, _ := readSnapshot(t, alice)
	assert.Equal(t, "demo", est.RoomID)

	assert.Equal(t, []string{"enter:general:alice", "leave:general:alice", "enter:demo:alice"}, f.presence.entries())
	assert.Equal(t, 1, f.hub.RoomSize("demo"))
	assert.Zero(t, f.hub.RoomSize("general"))
}

func TestServeWS_JoinForbiddenRoomKeepsSession(t *testing.T) {
	f := newWSFixture(t)
	kid := f.dial(t, "general", "kid-token")
	readSnapshot(t, kid)

	send(t, kid, FrameJoinRoom, joinRoomData{RoomID: "secret"})
	ev := readUntil(t, kid, ports.EventError)

	var payload ports.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, domain.CodeAccessDenied, payload.Code)
	assert.Equal(t, 1, f.hub.RoomSize("general"))

	send(t, kid, FramePing, nil)
	assert.Equal(t, ports.EventPong, readUntil(t, kid, ports.EventPong).Type)
}

func TestServeWS_RateLimitedFrames(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, "general", "alice-token")
	readSnapshot(t, alice)

	f.limiter.denied.Store(true)
	send(t, alice, FrameMessage, messageData{Body: "spam"})

	ev := readUntil(t, alice, ports.EventError)
	var payload ports.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, domain.CodeRateLimited, payload.Code)
	assert.Equal(t, int64(1500), payload.RetryAfterMS)
}

func TestServeWS_OverlongBodyIsAnsweredNotDisconnected(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, "general", "alice-token")
	readSnapshot(t, alice)

	send(t, alice, FrameMessage, messageData{Body: strings.Repeat("a", 20000)})

	ev := readUntil(t, alice, ports.EventError)
	var payload ports.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, domain.CodeValidation, payload.Code)

	send(t, alice, FramePing, nil)
	assert.Equal(t, ports.EventPong, readUntil(t, alice, ports.EventPong).Type)
	assert.Equal(t, 1, f.hub.RoomSize("general"))
}

func TestServeWS_EscapedBodyAtLimitIsDelivered(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, "general", "alice-token")
	readSnapshot(t, alice)

	// 2000 runes written as surrogate pair escapes is 24000 bytes of body.
	body := strings.Repeat(`\ud83d\ude00`, 2000)
	frame := `{"type":"message","data":{"body":"` + body + `"}}`
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(frame)))

	ev := readUntil(t, alice, ports.EventChatMessage)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	assert.Equal(t, 2000, utf8.RuneCountInString(msg.Body))
}

func TestFrameLimit_CoversEscapedBodies(t *testing.T) {
	assert.Greater(t, frameLimit(2000), int64(2000*12))
	assert.Equal(t, frameLimit(defaultMaxMessageLength), frameLimit(0))
}

func TestServeWS_TypingAndMalformedFrames(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, "general", "alice-token")
	readSnapshot(t, alice)

	send(t, alice, FrameTyping, typingData{Typing: true})
	ev := readUntil(t, alice, ports.EventUserTyping)
	var typing userTyping
	require.NoError(t, json.Unmarshal(ev.Data, &typing))
	assert.True(t, typing.Typing)
	assert.Equal(t, "alice", typing.UserID)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{nope")))
	assert.Equal(t, ports.EventError, readUntil(t, alice, ports.EventError).Type)

	send(t, alice, "dance", struct{}{})
	assert.Equal(t, ports.EventError, readUntil(t, alice, ports.EventError).Type)
}

func TestServeWS_DisconnectReleasesPresence(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, "general", "alice-token")
	readSnapshot(t, alice)
	require.Equal(t, 1, f.presence.count("general"))

	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		return f.presence.count("general") == 0 && f.hub.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeWS_DeletedRoomRelocatesToDefault(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, "demo", "alice-token")
	readSnapshot(t, alice)

	f.dir.mu.Lock()
	delete(f.dir.rooms, "demo")
	f.dir.mu.Unlock()
	f.hub.Dispatch(redis.Delivery{RoomID: "demo", Change: &ports.RoomChange{Action: ports.RoomDeleted, RoomID: "demo"}})

	ev := readUntil(t, alice, ports.EventError)
	var payload ports.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, domain.CodeNotFound, payload.Code)

	est := readUntil(t, alice, ports.EventConnectionEstablished)
	assert.Equal(t, domain.DefaultRoomID, est.RoomID)
	require.Eventually(t, func() bool { return f.hub.RoomSize(domain.DefaultRoomID) == 1 }, time.Second, 10*time.Millisecond)
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	f := newWSFixture(t)
	alice := f.dial(t, "general", "alice-token")
	readSnapshot(t, alice)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Shutdown(ctx))
	expectClose(t, alice, websocket.CloseGoingAway)
}
