package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
)

// PresenceTracker keeps the per-room online set and publishes diff events
// only when a user's first connection arrives or last connection leaves.
type PresenceTracker struct {
	store ports.PresenceStore
	bus   ports.EventBus
	log   zerolog.Logger
}

func NewPresenceTracker(store ports.PresenceStore, bus ports.EventBus, log zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{store: store, bus: bus, log: log.With().Str("component", "presence").Logger()}
}

// Enter registers one connection of who in roomID and returns the full member
// snapshot for the joining connection.
func (p *PresenceTracker) Enter(ctx context.Context, roomID string, who domain.Principal) ([]ports.PresenceMember, error) {
	first, err := p.store.Join(ctx, roomID, ports.PresenceMember{UserID: who.UserID, Username: who.Username})
	if err != nil {
		return nil, fmt.Errorf("presence join: %w", err)
	}
	if first {
		p.publish(ctx, roomID, who, true)
	}

	members, err := p.store.Members(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("presence snapshot: %w", err)
	}
	return members, nil
}

// Leave unregisters one connection of who from roomID.
func (p *PresenceTracker) Leave(ctx context.Context, roomID string, who domain.Principal) error {
	last, err := p.store.Leave(ctx, roomID, who.UserID)
	if err != nil {
		return fmt.Errorf("presence leave: %w", err)
	}
	if last {
		p.publish(ctx, roomID, who, false)
	}
	return nil
}

func (p *PresenceTracker) publish(ctx context.Context, roomID string, who domain.Principal, online bool) {
	change := ports.PresenceChange{
		RoomID:   roomID,
		UserID:   who.UserID,
		Username: who.Username,
		Online:   online,
		Event:    ports.PresenceLeft,
	}
	if online {
		change.Event = ports.PresenceJoined
	}

	ev := ports.Event{Type: ports.EventPresenceUpdate, RoomID: roomID, Data: change}
	if err := p.bus.PublishRoom(ctx, ev); err != nil {
		p.log.Warn().Err(err).Str("room_id", roomID).Str("user_id", who.UserID).Msg("failed to publish presence")
	}
}
