package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/styxchat/chat-service/internal/core/domain"
	"github.com/styxchat/chat-service/internal/core/ports"
)

// appendScript assigns the next sequence number, appends to the bounded
// window and publishes the chat_message envelope in one atomic step, so the
// broadcast order on the room channel equals sequence order.
// It returns 0 without touching any key when the room does not exist.
// KEYS: room, seq, history. ARGV: message json, capacity, channel, event type.
var appendScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return 0
	end
	local seq = redis.call('INCR', KEYS[2])
	local msg = cjson.decode(ARGV[1])
	msg['sequence'] = seq
	local encoded = cjson.encode(msg)
	redis.call('RPUSH', KEYS[3], encoded)
	redis.call('LTRIM', KEYS[3], -tonumber(ARGV[2]), -1)
	redis.call('PUBLISH', ARGV[3],
		'{"type":"' .. ARGV[4] .. '","room_id":' .. cjson.encode(msg['room_id']) .. ',"data":' .. encoded .. '}')
	return seq
`)

// MessageStore keeps every room's History Window in a capped Redis list.
type MessageStore struct {
	client *redis.Client
}

func NewMessageStore(client *redis.Client) *MessageStore {
	return &MessageStore{client: client}
}

func (s *MessageStore) Append(ctx context.Context, msg *domain.Message, capacity int) (*domain.Message, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("append message: capacity must be positive")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	seq, err := appendScript.Run(ctx, s.client,
		[]string{roomKey(msg.RoomID), seqKey(msg.RoomID), historyKey(msg.RoomID)},
		string(raw), capacity, RoomChannel(msg.RoomID), string(ports.EventChatMessage),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if seq == 0 {
		return nil, domain.ErrRoomNotFound
	}

	stored := *msg
	stored.Seq = seq
	return &stored, nil
}

func (s *MessageStore) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	rows, err := s.client.LRange(ctx, historyKey(roomID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	msgs := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		var m domain.Message
		if err := json.Unmarshal([]byte(row), &m); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Clear wipes the window. The sequence counter is kept so numbering never
// restarts inside a room.
func (s *MessageStore) Clear(ctx context.Context, roomID string) error {
	if err := s.client.Del(ctx, historyKey(roomID)).Err(); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
