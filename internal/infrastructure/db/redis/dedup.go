package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupTTL = time.Hour

// DedupChecker remembers client message ids so a resend is accepted once.
// Key format: chat:dedup:<room_id>:<user_id>:<client_msg_id>
type DedupChecker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDedupChecker creates a DedupChecker wrapping the given Redis client.
func NewDedupChecker(client *redis.Client) *DedupChecker {
	return &DedupChecker{client: client, ttl: dedupTTL}
}

// Seen claims the id and reports whether someone already held the claim.
// An empty id is never a duplicate.
func (d *DedupChecker) Seen(ctx context.Context, roomID, userID, clientMsgID string) (bool, error) {
	if clientMsgID == "" {
		return false, nil
	}
	claimed, err := d.client.SetNX(ctx, dedupKey(roomID, userID, clientMsgID), time.Now().UnixMilli(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim %s: %w", clientMsgID, err)
	}
	return !claimed, nil
}

// Forget releases a claim taken by Seen so the client can retry after the
// message failed to persist.
func (d *DedupChecker) Forget(ctx context.Context, roomID, userID, clientMsgID string) error {
	if clientMsgID == "" {
		return nil
	}
	if err := d.client.Del(ctx, dedupKey(roomID, userID, clientMsgID)).Err(); err != nil {
		return fmt.Errorf("dedup release %s: %w", clientMsgID, err)
	}
	return nil
}
