package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/styxchat/chat-service/internal/core/ports"
)

// joinScript bumps the user's connection count and records the display name.
// Returns the new count.
var joinScript = redis.NewScript(`
	local c = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
	return c
`)

// leaveScript drops one connection; returns 1 when it was the last one.
var leaveScript = redis.NewScript(`
	if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
		return 0
	end
	local c = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
	if c <= 0 then
		redis.call('HDEL', KEYS[1], ARGV[1])
		redis.call('HDEL', KEYS[2], ARGV[1])
		return 1
	end
	return 0
`)

// PresenceStore counts live connections per (room, user) across instances.
type PresenceStore struct {
	client *redis.Client
}

func NewPresenceStore(client *redis.Client) *PresenceStore {
	return &PresenceStore{client: client}
}

func (s *PresenceStore) Join(ctx context.Context, roomID string, m ports.PresenceMember) (bool, error) {
	n, err := joinScript.Run(ctx, s.client, []string{presenceKey(roomID), presenceNamesKey(roomID)}, m.UserID, m.Username).Int()
	if err != nil {
		return false, fmt.Errorf("presence join: %w", err)
	}
	return n == 1, nil
}

func (s *PresenceStore) Leave(ctx context.Context, roomID, userID string) (bool, error) {
	last, err := leaveScript.Run(ctx, s.client, []string{presenceKey(roomID), presenceNamesKey(roomID)}, userID).Int()
	if err != nil {
		return false, fmt.Errorf("presence leave: %w", err)
	}
	return last == 1, nil
}

func (s *PresenceStore) Members(ctx context.Context, roomID string) ([]ports.PresenceMember, error) {
	var (
		counts *redis.MapStringStringCmd
		names  *redis.MapStringStringCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		counts = p.HGetAll(ctx, presenceKey(roomID))
		names = p.HGetAll(ctx, presenceNamesKey(roomID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("presence members: %w", err)
	}

	members := make([]ports.PresenceMember, 0, len(counts.Val()))
	for userID, raw := range counts.Val() {
		if n, err := strconv.Atoi(raw); err != nil || n <= 0 {
			continue
		}
		members = append(members, ports.PresenceMember{UserID: userID, Username: names.Val()[userID]})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Username < members[j].Username })
	return members, nil
}

func (s *PresenceStore) Clear(ctx context.Context, roomID string) error {
	if err := s.client.Del(ctx, presenceKey(roomID), presenceNamesKey(roomID)).Err(); err != nil {
		return fmt.Errorf("presence clear: %w", err)
	}
	return nil
}
