package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
)

func now() time.Time { return time.Now().UTC() }

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

type stubUserRepo struct {
	mu      sync.Mutex
	users   map[string]*domain.User // by id
	nextID  int
	touched []string
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[string]*domain.User)}
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}

func (r *stubUserRepo) Create(_ context.Context, user *domain.User) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username {
			return nil, domain.ErrUserExists
		}
	}
	r.nextID++
	copy := cloneUser(user)
	copy.ID = fmt.Sprintf("u%d", r.nextID)
	r.users[copy.ID] = copy
	return cloneUser(copy), nil
}

func (r *stubUserRepo) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *stubUserRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, domain.ErrUserNotFound
}

func (r *stubUserRepo) List(_ context.Context, includeInactive bool) ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.User, 0, len(r.users))
	for _, u := range r.users {
		if includeInactive || u.IsActive {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (r *stubUserRepo) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

func (r *stubUserRepo) TouchLogin(_ context.Context, id string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, id)
	return nil
}

// ---------------------------------------------------------------------------
// Rooms
// ---------------------------------------------------------------------------

type stubRoomRepo struct {
	mu      sync.Mutex
	rooms   map[string]*domain.Room
	deleted []string
	getErr  error
}

func newStubRoomRepo(rooms ...*domain.Room) *stubRoomRepo {
	r := &stubRoomRepo{rooms: make(map[string]*domain.Room)}
	for _, room := range rooms {
		r.rooms[room.ID] = cloneRoom(room)
	}
	return r
}

func cloneRoom(r *domain.Room) *domain.Room {
	clone := *r
	clone.AllowedUsers = append([]string(nil), r.AllowedUsers...)
	return &clone
}

func (r *stubRoomRepo) Create(_ context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room.ID]; ok {
		return domain.ErrRoomExists
	}
	r.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (r *stubRoomRepo) Get(_ context.Context, id string) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	room, ok := r.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (r *stubRoomRepo) List(_ context.Context) ([]*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, cloneRoom(room))
	}
	return out, nil
}

func (r *stubRoomRepo) Update(_ context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room.ID]; !ok {
		return domain.ErrRoomNotFound
	}
	r.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (r *stubRoomRepo) SetAllowedUsers(_ context.Context, id string, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.AllowedUsers = append([]string(nil), ids...)
	return nil
}

func (r *stubRoomRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, id)
	r.deleted = append(r.deleted, id)
	return nil
}

// ---------------------------------------------------------------------------
// Message store: sequence + bounded window + publish, under one lock like the
// Redis script.
// ---------------------------------------------------------------------------

type memStore struct {
	mu        sync.Mutex
	rooms     *stubRoomRepo
	seq       map[string]int64
	windows   map[string][]domain.Message
	published []domain.Message
	appendErr error
}

func newMemStore(rooms *stubRoomRepo) *memStore {
	return &memStore{
		rooms:   rooms,
		seq:     make(map[string]int64),
		windows: make(map[string][]domain.Message),
	}
}

func (s *memStore) Append(ctx context.Context, msg *domain.Message, capacity int) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	if _, err := s.rooms.Get(ctx, msg.RoomID); err != nil {
		return nil, err
	}
	s.seq[msg.RoomID]++
	stored := *msg
	stored.Seq = s.seq[msg.RoomID]
	w := append(s.windows[msg.RoomID], stored)
	if len(w) > capacity {
		w = w[len(w)-capacity:]
	}
	s.windows[msg.RoomID] = w
	s.published = append(s.published, stored)
	return &stored, nil
}

func (s *memStore) Recent(_ context.Context, roomID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.windows[roomID]
	if limit > 0 && len(w) > limit {
		w = w[len(w)-limit:]
	}
	return append([]domain.Message(nil), w...), nil
}

func (s *memStore) Clear(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, roomID)
	return nil
}

func (s *memStore) count(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows[roomID])
}

func (s *memStore) messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.published...)
}

// ---------------------------------------------------------------------------
// Bus, notifier, dedup, queue
// ---------------------------------------------------------------------------

type stubBus struct {
	mu      sync.Mutex
	events  []ports.Event
	changes []ports.RoomChange
}

func (b *stubBus) PublishRoom(_ context.Context, ev ports.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *stubBus) PublishRoomChange(_ context.Context, c ports.RoomChange) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = append(b.changes, c)
	return nil
}

func (b *stubBus) eventsOf(t ports.EventType) []ports.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []ports.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type sentEvent struct {
	connID string
	event  ports.Event
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (n *stubNotifier) SendToConn(connID string, ev ports.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEvent{connID: connID, event: ev})
	return true
}

func (n *stubNotifier) all() []sentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentEvent(nil), n.sent...)
}

type stubDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *stubDedup) Seen(_ context.Context, roomID, userID, id string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	key := roomID + ":" + userID + ":" + id
	dup := d.seen[key]
	d.seen[key] = true
	return dup, nil
}

func (d *stubDedup) Forget(_ context.Context, roomID, userID, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, roomID+":"+userID+":"+id)
	return nil
}

// syncQueue processes events inline, standing in for the dispatcher.
type syncQueue struct {
	proc ports.EventProcessor
}

func (q *syncQueue) Enqueue(ev ports.PipelineEvent) {
	_ = q.proc.Process(context.Background(), ev)
}

// ---------------------------------------------------------------------------
// Completer
// ---------------------------------------------------------------------------

type stubCompleter struct {
	mu       sync.Mutex
	reply    string
	err      error
	delay    time.Duration
	requests []ports.CompletionRequest
}

func (c *stubCompleter) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", fmt.Errorf("complete: %w", domain.ErrUpstreamTimeout)
		}
	}
	return c.reply, c.err
}

func (c *stubCompleter) Models(context.Context) ([]string, error) {
	return []string{"local-model"}, nil
}

func (c *stubCompleter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}
