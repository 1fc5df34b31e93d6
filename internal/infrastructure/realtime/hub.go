package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/styxchat/chat-service/internal/api/metrics"
	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
	"github.com/styxchat/chat-service/internal/infrastructure/db/redis"
)

// RoomDirectory is the part of the Room Registry the hub consults when the
// registry changes.
type RoomDirectory interface {
	List(ctx context.Context, actor domain.Principal) ([]*domain.Room, error)
	Join(ctx context.Context, actor domain.Principal, id string) (*domain.Room, error)
}

// Subscriber streams bus deliveries to fn until ctx is done.
type Subscriber interface {
	Listen(ctx context.Context, ready chan<- struct{}, fn func(redis.Delivery)) error
}

// EvictFunc moves a client out of a room it may no longer stay in.
type EvictFunc func(c *Client, roomID string, reason error)

// Hub owns the local connection state: every client of this instance and the
// broadcast group of each room. Events reach it from the bus and are fanned
// out to the local members only.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	directory RoomDirectory
	onEvict   EvictFunc
	log       zerolog.Logger
}

func NewHub(directory RoomDirectory, log zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		rooms:     make(map[string]map[string]*Client),
		directory: directory,
		log:       log.With().Str("component", "hub").Logger(),
	}
}

// OnEvict sets the callback used when a room is deleted or a member loses
// access to it.
func (h *Hub) OnEvict(fn EvictFunc) { h.onEvict = fn }

// Register adds c to the broadcast group of roomID.
func (h *Hub) Register(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	h.join(c, roomID)
}

// Move switches c to the broadcast group of roomID and returns the room it
// left.
func (h *Hub) Move(c *Client, roomID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	from := c.Room()
	h.leave(c, from)
	h.join(c, roomID)
	return from
}

// Unregister removes c from the hub.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	h.leave(c, c.Room())
}

func (h *Hub) join(c *Client, roomID string) {
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	members[c.ID] = c
	c.setRoom(roomID)
}

func (h *Hub) leave(c *Client, roomID string) {
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// Count returns the number of local connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of local connections bound to roomID.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// SendToConn delivers ev to one local connection. It reports false when the
// connection is not on this instance.
func (h *Hub) SendToConn(connID string, ev ports.Event) bool {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to encode event")
		return false
	}
	if !c.deliver(frame, 0) {
		h.dropSlow(c)
	}
	return true
}

// Run forwards bus deliveries to Dispatch until ctx is done, resubscribing
// after failures.
func (h *Hub) Run(ctx context.Context, sub Subscriber, ready chan<- struct{}) error {
	backoff := 100 * time.Millisecond
	for {
		err := sub.Listen(ctx, ready, h.Dispatch)
		if ctx.Err() != nil {
			return nil
		}
		ready = nil
		h.log.Error().Err(err).Dur("retry_in", backoff).Msg("event subscription lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

// Dispatch handles one bus delivery.
func (h *Hub) Dispatch(d redis.Delivery) {
	if d.Change != nil {
		h.roomChanged(*d.Change)
		return
	}
	h.broadcast(d.RoomID, d.Event)
}

func (h *Hub) broadcast(roomID string, frame []byte) {
	seq := peekSeq(frame)

	h.mu.RLock()
	var slow []*Client
	for _, c := range h.rooms[roomID] {
		if !c.deliver(frame, seq) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.dropSlow(c)
	}
}

func (h *Hub) dropSlow(c *Client) {
	metrics.SlowConsumersTotal.Inc()
	c.log.Warn().Msg("outbound buffer full, dropping slow consumer")
	c.Close(websocket.ClosePolicyViolation, "slow consumer")
}

// roomChanged refreshes the room list of every local user and moves members
// out of a room they can no longer be in.
func (h *Hub) roomChanged(change ports.RoomChange) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	byUser := make(map[string][]*Client)
	for _, c := range h.clients {
		byUser[c.Principal.UserID] = append(byUser[c.Principal.UserID], c)
	}
	var members []*Client
	for _, c := range h.rooms[change.RoomID] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, conns := range byUser {
		rooms, err := h.directory.List(ctx, conns[0].Principal)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", conns[0].Principal.UserID).Msg("room list refresh failed")
			continue
		}
		frame, err := json.Marshal(ports.Event{Type: ports.EventRoomListUpdate, Data: roomListUpdate{Rooms: rooms}})
		if err != nil {
			continue
		}
		for _, c := range conns {
			if !c.deliver(frame, 0) {
				h.dropSlow(c)
			}
		}
	}

	if h.onEvict == nil || change.RoomID == domain.DefaultRoomID {
		return
	}
	for _, c := range members {
		switch change.Action {
		case ports.RoomDeleted:
			go h.onEvict(c, change.RoomID, domain.ErrRoomNotFound)
		case ports.RoomUpdated, ports.RoomAssigned:
			_, err := h.directory.Join(ctx, c.Principal, change.RoomID)
			if errors.Is(err, domain.ErrAccessDenied) || errors.Is(err, domain.ErrNotFound) {
				go h.onEvict(c, change.RoomID, err)
			}
		}
	}
}

// CloseAll closes every local connection with code.
func (h *Hub) CloseAll(code int, reason string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.Close(code, reason)
	}
}
