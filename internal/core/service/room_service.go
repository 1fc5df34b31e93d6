package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
)

const (
	maxRoomNameLength   = 64
	maxRoomPromptLength = 4000
)

// RoomService is the Room Registry. The repository is the single source of
// truth; nothing here caches rooms.
type RoomService struct {
	repo ports.RoomRepository
	bus  ports.EventBus
	now  func() time.Time
	log  zerolog.Logger
}

func NewRoomService(repo ports.RoomRepository, bus ports.EventBus, log zerolog.Logger) *RoomService {
	return &RoomService{
		repo: repo,
		bus:  bus,
		now:  time.Now,
		log:  log.With().Str("component", "rooms").Logger(),
	}
}

// EnsureDefaultRoom creates the default room if it is missing.
func (s *RoomService) EnsureDefaultRoom(ctx context.Context) error {
	_, err := s.repo.Get(ctx, domain.DefaultRoomID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrRoomNotFound) {
		return err
	}
	err = s.repo.Create(ctx, domain.NewDefaultRoom(s.now().UTC()))
	if err != nil && !errors.Is(err, domain.ErrRoomExists) {
		return fmt.Errorf("create default room: %w", err)
	}
	s.log.Info().Str("room_id", domain.DefaultRoomID).Msg("default room ready")
	return nil
}

func (s *RoomService) Create(ctx context.Context, actor domain.Principal, in ports.CreateRoomInput) (*domain.Room, error) {
	if !domain.Can(actor.Role, domain.ActionCreateRoom, domain.Resource{UserID: actor.UserID}) {
		return nil, domain.ErrPermissionDenied
	}

	name := strings.TrimSpace(in.Name)
	if name == "" || len([]rune(name)) > maxRoomNameLength {
		return nil, domain.Validationf("name must be 1-%d characters", maxRoomNameLength)
	}
	id := domain.Slugify(name)
	if id == "" {
		return nil, domain.Validationf("name must contain letters or digits")
	}
	if err := validateAI(in.AI); err != nil {
		return nil, err
	}

	visibility := in.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}
	if visibility != domain.VisibilityPublic && visibility != domain.VisibilityPrivate {
		return nil, domain.Validationf("visibility must be public or private")
	}

	now := s.now().UTC()
	room := &domain.Room{
		ID:           id,
		Name:         name,
		Description:  strings.TrimSpace(in.Description),
		Visibility:   visibility,
		AllowedUsers: withCreator(in.AllowedUsers, actor.UserID),
		CreatedBy:    actor.UserID,
		AI:           in.AI,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, room); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("room_id", room.ID).
		Str("visibility", string(room.Visibility)).
		Str("by", actor.UserID).
		Msg("room created")
	s.announce(ctx, ports.RoomCreated, room.ID)
	return room, nil
}

func (s *RoomService) Get(ctx context.Context, actor domain.Principal, id string) (*domain.Room, error) {
	room, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.Can(actor.Role, domain.ActionViewRoom, domain.Resource{Room: room, UserID: actor.UserID}) {
		return nil, domain.ErrAccessDenied
	}
	return room, nil
}

// Join resolves the room a connection wants to enter.
func (s *RoomService) Join(ctx context.Context, actor domain.Principal, id string) (*domain.Room, error) {
	if id == "" {
		id = domain.DefaultRoomID
	}
	room, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.Can(actor.Role, domain.ActionJoinRoom, domain.Resource{Room: room, UserID: actor.UserID}) {
		return nil, domain.ErrAccessDenied
	}
	return room, nil
}

func (s *RoomService) Update(ctx context.Context, actor domain.Principal, id string, in ports.UpdateRoomInput) (*domain.Room, error) {
	room, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.Can(actor.Role, domain.ActionUpdateRoom, domain.Resource{Room: room, UserID: actor.UserID}) {
		return nil, domain.ErrPermissionDenied
	}

	if in.Description != nil {
		room.Description = strings.TrimSpace(*in.Description)
	}
	if in.Visibility != nil {
		v := *in.Visibility
		if v != domain.VisibilityPublic && v != domain.VisibilityPrivate {
			return nil, domain.Validationf("visibility must be public or private")
		}
		if room.IsDefault() && v != domain.VisibilityPublic {
			return nil, domain.Validationf("default room must stay public")
		}
		room.Visibility = v
	}
	if in.AI != nil {
		if err := validateAI(*in.AI); err != nil {
			return nil, err
		}
		room.AI = *in.AI
	}
	room.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, room); err != nil {
		return nil, err
	}

	s.log.Info().Str("room_id", room.ID).Str("by", actor.UserID).Msg("room updated")
	s.announce(ctx, ports.RoomUpdated, room.ID)
	return room, nil
}

func (s *RoomService) Delete(ctx context.Context, actor domain.Principal, id string) error {
	if id == domain.DefaultRoomID {
		return domain.ErrDefaultRoomProtected
	}
	room, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !domain.Can(actor.Role, domain.ActionDeleteRoom, domain.Resource{Room: room, UserID: actor.UserID}) {
		return domain.ErrPermissionDenied
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.log.Info().Str("room_id", id).Str("by", actor.UserID).Msg("room deleted")
	s.announce(ctx, ports.RoomDeleted, id)
	return nil
}

// List returns the rooms the actor may see, default room first, then by name.
func (s *RoomService) List(ctx context.Context, actor domain.Principal) ([]*domain.Room, error) {
	rooms, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	visible := make([]*domain.Room, 0, len(rooms))
	for _, r := range rooms {
		if domain.Can(actor.Role, domain.ActionViewRoom, domain.Resource{Room: r, UserID: actor.UserID}) {
			visible = append(visible, r)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if visible[i].IsDefault() != visible[j].IsDefault() {
			return visible[i].IsDefault()
		}
		return strings.ToLower(visible[i].Name) < strings.ToLower(visible[j].Name)
	})
	return visible, nil
}

// AssignUsers replaces the room's assigned-user set. The creator is always kept.
func (s *RoomService) AssignUsers(ctx context.Context, actor domain.Principal, id string, userIDs []string) (*domain.Room, error) {
	room, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.Can(actor.Role, domain.ActionAssignUsers, domain.Resource{Room: room, UserID: actor.UserID}) {
		return nil, domain.ErrPermissionDenied
	}

	room.AllowedUsers = withCreator(userIDs, room.CreatedBy)
	if err := s.repo.SetAllowedUsers(ctx, id, room.AllowedUsers); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("room_id", id).
		Int("assigned", len(room.AllowedUsers)).
		Str("by", actor.UserID).
		Msg("room users assigned")
	s.announce(ctx, ports.RoomAssigned, id)
	return room, nil
}

func (s *RoomService) CheckAccess(ctx context.Context, actor domain.Principal, id string) (ports.AccessResult, error) {
	res := ports.AccessResult{RoomID: id}
	room, err := s.repo.Get(ctx, id)
	if err != nil {
		return res, err
	}

	res.CanAccess = domain.Can(actor.Role, domain.ActionJoinRoom, domain.Resource{Room: room, UserID: actor.UserID})
	switch {
	case actor.Role == domain.RoleAdmin:
		res.Reason = "admin access"
	case room.IsDefault():
		res.Reason = "default room"
	case room.IsAssigned(actor.UserID):
		res.Reason = "assigned to room"
	case res.CanAccess:
		res.Reason = "public room"
	case actor.Role == domain.RoleKid:
		res.Reason = "kid accounts need an assignment"
	default:
		res.Reason = "private room"
	}
	return res, nil
}

func (s *RoomService) announce(ctx context.Context, action ports.RoomAction, id string) {
	if err := s.bus.PublishRoomChange(ctx, ports.RoomChange{Action: action, RoomID: id}); err != nil {
		s.log.Warn().Err(err).Str("room_id", id).Str("action", string(action)).Msg("failed to publish room change")
	}
}

func validateAI(cfg domain.AIConfig) error {
	if len(cfg.SystemPrompt) > maxRoomPromptLength {
		return domain.Validationf("system prompt must be at most %d characters", maxRoomPromptLength)
	}
	return nil
}

func withCreator(ids []string, creator string) []string {
	seen := make(map[string]struct{}, len(ids)+1)
	out := make([]string, 0, len(ids)+1)
	for _, id := range append([]string{creator}, ids...) {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
