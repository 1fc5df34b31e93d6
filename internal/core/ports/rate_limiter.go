package ports

import "time"

// Channel identifies an independent token bucket family.
type Channel string

const (
	ChannelAuth Channel = "auth"
	ChannelAPI  Channel = "api"
	ChannelWS   Channel = "ws"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter takes one token from the (channel, key) bucket.
type RateLimiter interface {
	Allow(channel Channel, key string) Decision
}
