package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/styxchat/chat-service/internal/core/domain"
)

// createRoomScript writes the room hash, its allowed set and the index entry
// only if the room does not exist yet.
// KEYS: room, allowed, index. ARGV: id, field count, fields..., allowed ids...
var createRoomScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	local n = tonumber(ARGV[2])
	for i = 3, 2 + n, 2 do
		redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
	end
	for i = 3 + n, #ARGV do
		redis.call('SADD', KEYS[2], ARGV[i])
	end
	redis.call('SADD', KEYS[3], ARGV[1])
	return 1
`)

// updateRoomScript overwrites room fields if the room exists.
var updateRoomScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return 0
	end
	for i = 1, #ARGV, 2 do
		redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
	end
	return 1
`)

// replaceAllowedScript swaps the allowed set of an existing room.
var replaceAllowedScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return 0
	end
	redis.call('DEL', KEYS[2])
	for i = 1, #ARGV do
		redis.call('SADD', KEYS[2], ARGV[i])
	end
	return 1
`)

// RoomRepository is the Redis-backed Room Registry.
type RoomRepository struct {
	client *redis.Client
}

func NewRoomRepository(client *redis.Client) *RoomRepository {
	return &RoomRepository{client: client}
}

func (r *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	fields, err := encodeRoom(room)
	if err != nil {
		return err
	}
	args := make([]any, 0, 2+len(fields)+len(room.AllowedUsers))
	args = append(args, room.ID, len(fields))
	args = append(args, fields...)
	for _, id := range room.AllowedUsers {
		args = append(args, id)
	}

	created, err := createRoomScript.Run(ctx, r.client,
		[]string{roomKey(room.ID), allowedKey(room.ID), roomIndexKey}, args...).Int()
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	if created == 0 {
		return domain.ErrRoomExists
	}
	return nil
}

func (r *RoomRepository) Get(ctx context.Context, id string) (*domain.Room, error) {
	var (
		hash    *redis.MapStringStringCmd
		allowed *redis.StringSliceCmd
	)
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		hash = p.HGetAll(ctx, roomKey(id))
		allowed = p.SMembers(ctx, allowedKey(id))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	if len(hash.Val()) == 0 {
		return nil, domain.ErrRoomNotFound
	}
	return decodeRoom(id, hash.Val(), allowed.Val())
}

func (r *RoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	ids, err := r.client.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	sort.Strings(ids)

	hashes := make([]*redis.MapStringStringCmd, len(ids))
	allowed := make([]*redis.StringSliceCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			hashes[i] = p.HGetAll(ctx, roomKey(id))
			allowed[i] = p.SMembers(ctx, allowedKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	rooms := make([]*domain.Room, 0, len(ids))
	for i, id := range ids {
		// index entries can briefly outlive a concurrent delete
		if len(hashes[i].Val()) == 0 {
			continue
		}
		room, err := decodeRoom(id, hashes[i].Val(), allowed[i].Val())
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (r *RoomRepository) Update(ctx context.Context, room *domain.Room) error {
	fields, err := encodeRoom(room)
	if err != nil {
		return err
	}
	ok, err := updateRoomScript.Run(ctx, r.client, []string{roomKey(room.ID)}, fields...).Int()
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	if ok == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *RoomRepository) SetAllowedUsers(ctx context.Context, id string, userIDs []string) error {
	args := make([]any, len(userIDs))
	for i, uid := range userIDs {
		args[i] = uid
	}
	ok, err := replaceAllowedScript.Run(ctx, r.client, []string{roomKey(id), allowedKey(id)}, args...).Int()
	if err != nil {
		return fmt.Errorf("assign users: %w", err)
	}
	if ok == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

// Delete drops the room, its membership, history, sequence and presence.
func (r *RoomRepository) Delete(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, roomKey(id), allowedKey(id), historyKey(id), seqKey(id), presenceKey(id), presenceNamesKey(id))
		p.SRem(ctx, roomIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// encodeRoom flattens a room into HSET field/value pairs.
func encodeRoom(room *domain.Room) ([]any, error) {
	ai, err := json.Marshal(room.AI)
	if err != nil {
		return nil, fmt.Errorf("encode room ai config: %w", err)
	}
	return []any{
		"name", room.Name,
		"description", room.Description,
		"visibility", string(room.Visibility),
		"created_by", room.CreatedBy,
		"ai", string(ai),
		"created_at", room.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at", room.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func decodeRoom(id string, h map[string]string, allowed []string) (*domain.Room, error) {
	room := &domain.Room{
		ID:          id,
		Name:        h["name"],
		Description: h["description"],
		Visibility:  domain.Visibility(h["visibility"]),
		CreatedBy:   h["created_by"],
		CreatedAt:   parseTime(h["created_at"]),
		UpdatedAt:   parseTime(h["updated_at"]),
	}
	if raw := h["ai"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &room.AI); err != nil {
			return nil, fmt.Errorf("decode room %s ai config: %w", id, err)
		}
	}
	if len(allowed) > 0 {
		sort.Strings(allowed)
		room.AllowedUsers = allowed
	}
	return room, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
