package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/styxchat/chat-service/internal/api/metrics"
	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
)

const (
	storeTimeout            = 5 * time.Second
	defaultMaxMessageLength = 2000
)

type Config struct {
	PingInterval     time.Duration
	PongTimeout      time.Duration
	AllowedOrigins   []string
	MaxMessageLength int // sizes the inbound frame limit
}

// Deps groups the collaborators of a websocket session.
type Deps struct {
	Auth     ports.TokenVerifier
	Rooms    RoomDirectory
	Presence ports.PresenceTracker
	Chat     ports.ChatService
	Bus      ports.EventBus
	Limiter  ports.RateLimiter
}

// Server upgrades HTTP requests to websocket sessions.
type Server struct {
	hub      *Hub
	deps     Deps
	cfg      Config
	upgrader websocket.Upgrader
	sessions sync.WaitGroup
	log      zerolog.Logger
}

func NewServer(hub *Hub, deps Deps, cfg Config, log zerolog.Logger) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	s := &Server{
		hub:  hub,
		deps: deps,
		cfg:  cfg,
		log:  log.With().Str("component", "websocket").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{"bearer"},
		CheckOrigin:     s.checkOrigin,
	}
	hub.OnEvict(s.evict)
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Wait blocks until every session has released its resources.
func (s *Server) Wait() { s.sessions.Wait() }

// Shutdown closes every connection and waits for the sessions to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll(websocket.CloseGoingAway, "server shutting down")
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeWS runs one websocket session bound to roomID, or to the default room
// when roomID is empty. It returns when the connection is gone.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request, roomID string) {
	token := bearerToken(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	sess := &session{srv: s, state: stateConnecting, log: s.log}
	if roomID == "" {
		roomID = domain.DefaultRoomID
	}

	claims, err := s.deps.Auth.ParseToken(token)
	if err != nil {
		s.reject(conn, domain.ErrAuthentication)
		return
	}
	sess.transition(stateAuthenticated)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	room, err := s.deps.Rooms.Join(ctx, claims.Principal, roomID)
	cancel()
	if err != nil {
		s.reject(conn, err)
		return
	}

	c := newClient(conn, claims.Principal, s.log)
	c.session = sess
	sess.client = c
	sess.log = c.log

	sess.switchMu.Lock()
	c.beginSync()
	s.hub.Register(c, room.ID)
	metrics.ConnectionsActive.Inc()
	defer sess.release()

	go c.writePump(s.cfg.PingInterval)

	sess.enter(room)
	sess.transition(stateInRoom)
	sess.switchMu.Unlock()
	c.log.Info().Str("room_id", room.ID).Msg("client connected")

	err = c.readPump(frameLimit(s.cfg.MaxMessageLength), s.cfg.PongTimeout, sess.handle)
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		c.log.Debug().Err(err).Msg("connection closed abnormally")
	}
}

func (s *Server) reject(conn *websocket.Conn, err error) {
	code, reason := closeCodeFor(err)
	metrics.ConnectionsRejectedTotal.WithLabelValues(rejectReason(code)).Inc()
	s.log.Info().Err(err).Int("close_code", code).Msg("websocket connection rejected")

	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// evict moves c to the default room after it lost access to roomID.
func (s *Server) evict(c *Client, roomID string, reason error) {
	if c.session == nil {
		return
	}
	c.session.relocate(roomID, reason)
}

// bearerToken reads the token from the query string, the Authorization
// header or the "bearer, <token>" websocket subprotocol.
func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	protocols := websocket.Subprotocols(r)
	for i, p := range protocols {
		if strings.EqualFold(p, "bearer") && i+1 < len(protocols) {
			return protocols[i+1]
		}
	}
	return ""
}

type sessionState int

const (
	stateConnecting sessionState = iota
	stateAuthenticated
	stateInRoom
	stateSwitchingRoom
	stateDisconnected
)

func (st sessionState) String() string {
	switch st {
	case stateConnecting:
		return "connecting"
	case stateAuthenticated:
		return "authenticated"
	case stateInRoom:
		return "in_room"
	case stateSwitchingRoom:
		return "switching_room"
	default:
		return "disconnected"
	}
}

// session is the per-connection state machine. Room switches are serialized
// by switchMu so a client never sits in two broadcast groups.
type session struct {
	srv    *Server
	client *Client
	log    zerolog.Logger

	switchMu     sync.Mutex
	state        sessionState
	presenceRoom string
}

func (ss *session) transition(to sessionState) {
	ss.log.Debug().Str("from", ss.state.String()).Str("to", to.String()).Msg("session state")
	ss.state = to
}

// enter publishes presence for room and sends the join snapshot. The caller
// holds switchMu, has bound the client to room and started holding
// deliveries.
func (ss *session) enter(room *domain.Room, notices ...ports.Event) {
	c := ss.client
	deps := ss.srv.deps

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	members, err := deps.Presence.Enter(ctx, room.ID, c.Principal)
	if err != nil {
		ss.log.Warn().Err(err).Str("room_id", room.ID).Msg("presence enter failed")
	} else {
		ss.presenceRoom = room.ID
	}
	if members == nil {
		members = []ports.PresenceMember{}
	}

	history, err := deps.Chat.History(ctx, c.Principal, room.ID, 0)
	if err != nil {
		ss.log.Warn().Err(err).Str("room_id", room.ID).Msg("history load failed")
		notices = append(notices, errorEvent(room.ID, err))
	}
	if history == nil {
		history = []domain.Message{}
	}
	var lastSeq int64
	if n := len(history); n > 0 {
		lastSeq = history[n-1].Seq
	}

	events := append(notices,
		ports.Event{Type: ports.EventConnectionEstablished, RoomID: room.ID, Data: connectionEstablished{
			ConnID: c.ID, User: c.Principal, RoomID: room.ID, ActiveUsers: members,
		}},
		ports.Event{Type: ports.EventMessageHistory, RoomID: room.ID, Data: messageHistory{RoomID: room.ID, Messages: history}},
	)
	if rooms, err := deps.Rooms.List(ctx, c.Principal); err == nil {
		events = append(events, ports.Event{Type: ports.EventRoomListUpdate, Data: roomListUpdate{Rooms: rooms}})
	}

	snapshot := make([][]byte, 0, len(events))
	for _, ev := range events {
		frame, err := json.Marshal(ev)
		if err != nil {
			ss.log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to encode snapshot")
			continue
		}
		snapshot = append(snapshot, frame)
	}
	if !c.endSync(snapshot, lastSeq) {
		ss.srv.hub.dropSlow(c)
	}
}

// leavePresence releases the presence entry held for the current room.
func (ss *session) leavePresence() {
	if ss.presenceRoom == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := ss.srv.deps.Presence.Leave(ctx, ss.presenceRoom, ss.client.Principal); err != nil {
		ss.log.Warn().Err(err).Str("room_id", ss.presenceRoom).Msg("presence leave failed")
	}
	ss.presenceRoom = ""
}

// release runs on every exit path of ServeWS.
func (ss *session) release() {
	ss.switchMu.Lock()
	defer ss.switchMu.Unlock()

	c := ss.client
	c.Close(websocket.CloseNormalClosure, "")
	ss.srv.hub.Unregister(c)
	ss.leavePresence()
	metrics.ConnectionsActive.Dec()
	ss.transition(stateDisconnected)
	c.log.Info().Msg("client disconnected")
}

// switchRoom moves the session to target. On failure the session stays in
// its current room.
func (ss *session) switchRoom(target string, notices ...ports.Event) error {
	ss.switchMu.Lock()
	defer ss.switchMu.Unlock()
	if ss.state == stateDisconnected {
		return nil
	}
	if target == "" {
		target = domain.DefaultRoomID
	}

	c := ss.client
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	room, err := ss.srv.deps.Rooms.Join(ctx, c.Principal, target)
	cancel()
	if err != nil {
		return err
	}

	ss.transition(stateSwitchingRoom)
	c.beginSync()
	from := ss.srv.hub.Move(c, room.ID)
	ss.leavePresence()
	ss.enter(room, notices...)
	ss.transition(stateInRoom)
	c.log.Info().Str("from", from).Str("room_id", room.ID).Msg("switched room")
	return nil
}

// relocate moves the session to the default room when it is still bound to
// roomID.
func (ss *session) relocate(roomID string, reason error) {
	if ss.client.Room() != roomID {
		return
	}
	notice := errorEvent(roomID, reason)
	if errors.Is(reason, domain.ErrNotFound) {
		notice.Data = ports.ErrorPayload{Code: domain.CodeNotFound, Description: "room was deleted, moved to " + domain.DefaultRoomName}
	} else {
		notice.Data = ports.ErrorPayload{Code: domain.CodeAccessDenied, Description: "access to room revoked, moved to " + domain.DefaultRoomName}
	}
	if err := ss.switchRoom(domain.DefaultRoomID, notice); err != nil {
		ss.log.Error().Err(err).Str("room_id", roomID).Msg("relocation failed, closing connection")
		ss.client.Close(CloseInternal, "internal error")
	}
}

// handle dispatches one inbound frame.
func (ss *session) handle(raw []byte) {
	c := ss.client
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		ss.send(errorEvent(c.Room(), domain.Validationf("malformed frame")))
		return
	}

	switch f.Type {
	case FramePing:
		ss.send(ports.Event{Type: ports.EventPong, RoomID: c.Room()})

	case FrameTyping:
		var d typingData
		if err := decodeData(f.Data, &d); err != nil {
			ss.send(errorEvent(c.Room(), err))
			return
		}
		ss.publishTyping(d.Typing)

	case FrameMessage:
		if !ss.allow() {
			return
		}
		var d messageData
		if err := decodeData(f.Data, &d); err != nil {
			ss.send(errorEvent(c.Room(), err))
			return
		}
		current := c.Room()
		if d.RoomID == "" {
			d.RoomID = current
		}
		ss.srv.deps.Chat.Submit(ports.PipelineEvent{
			Kind:          ports.InboundMessage,
			RoomID:        d.RoomID,
			ConnID:        c.ID,
			Sender:        c.Principal,
			CurrentRoomID: current,
			Body:          d.Body,
			ClientMsgID:   d.ClientMsgID,
		})

	case FrameJoinRoom:
		if !ss.allow() {
			return
		}
		var d joinRoomData
		if err := decodeData(f.Data, &d); err != nil {
			ss.send(errorEvent(c.Room(), err))
			return
		}
		if d.RoomID == c.Room() {
			return
		}
		if err := ss.switchRoom(d.RoomID); err != nil {
			ss.send(errorEvent(d.RoomID, err))
		}

	default:
		ss.send(errorEvent(c.Room(), domain.Validationf("unknown frame type %q", f.Type)))
	}
}

func (ss *session) allow() bool {
	if ss.srv.deps.Limiter == nil {
		return true
	}
	d := ss.srv.deps.Limiter.Allow(ports.ChannelWS, ss.client.Principal.UserID)
	if d.Allowed {
		return true
	}
	ss.send(errorEvent(ss.client.Room(), &domain.RateLimitError{Channel: string(ports.ChannelWS), RetryAfter: d.RetryAfter}))
	return false
}

func (ss *session) publishTyping(typing bool) {
	c := ss.client
	roomID := c.Room()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	err := ss.srv.deps.Bus.PublishRoom(ctx, ports.Event{Type: ports.EventUserTyping, RoomID: roomID, Data: userTyping{
		RoomID: roomID, UserID: c.Principal.UserID, Username: c.Principal.Username, Typing: typing,
	}})
	if err != nil {
		ss.log.Warn().Err(err).Str("room_id", roomID).Msg("failed to publish typing")
	}
}

func (ss *session) send(ev ports.Event) {
	ss.srv.hub.SendToConn(ss.client.ID, ev)
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return domain.Validationf("frame data is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.Validationf("malformed frame data")
	}
	return nil
}
