package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/styxchat/chat-service/internal/core/ports"
)

// EventBus publishes room events and registry changes over Redis pub/sub so
// every instance delivers them to its local connections.
type EventBus struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewEventBus(client *redis.Client, log zerolog.Logger) *EventBus {
	return &EventBus{client: client, log: log.With().Str("component", "event_bus").Logger()}
}

func (b *EventBus) PublishRoom(ctx context.Context, ev ports.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, RoomChannel(ev.RoomID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (b *EventBus) PublishRoomChange(ctx context.Context, change ports.RoomChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode room change: %w", err)
	}
	if err := b.client.Publish(ctx, RoomsChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish room change: %w", err)
	}
	return nil
}

// Delivery is one message received from the bus. Exactly one of Event and
// Change is set.
type Delivery struct {
	RoomID string
	// Event is the encoded ports.Event, forwarded to clients as is.
	Event  []byte
	Change *ports.RoomChange
}

// Listen subscribes to every room channel plus the registry channel and
// calls fn for each delivery, in arrival order, until ctx is cancelled.
// ready is closed once both subscriptions are confirmed.
func (b *EventBus) Listen(ctx context.Context, ready chan<- struct{}, fn func(Delivery)) error {
	sub := b.client.PSubscribe(ctx, RoomEventsPattern)
	defer sub.Close()

	if err := sub.Subscribe(ctx, RoomsChannel); err != nil {
		return fmt.Errorf("subscribe %s: %w", RoomsChannel, err)
	}
	for confirmed := 0; confirmed < 2; {
		msg, err := sub.Receive(ctx)
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		if _, ok := msg.(*redis.Subscription); ok {
			confirmed++
		}
	}
	if ready != nil {
		close(ready)
	}
	b.log.Info().Str("pattern", RoomEventsPattern).Str("channel", RoomsChannel).Msg("listening for events")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if d, ok := b.decode(msg); ok {
				fn(d)
			}
		}
	}
}

func (b *EventBus) decode(msg *redis.Message) (Delivery, bool) {
	if msg.Channel == RoomsChannel {
		var change ports.RoomChange
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			b.log.Warn().Err(err).Msg("malformed room change dropped")
			return Delivery{}, false
		}
		return Delivery{RoomID: change.RoomID, Change: &change}, true
	}

	roomID, ok := roomFromChannel(msg.Channel)
	if !ok {
		b.log.Warn().Str("channel", msg.Channel).Msg("event on unknown channel dropped")
		return Delivery{}, false
	}
	return Delivery{RoomID: roomID, Event: []byte(msg.Payload)}, true
}
