// Package ratelimit implements the per-(channel, key) token buckets that
// guard login attempts, REST calls and websocket actions.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/styxchat/chat-service/internal/api/metrics"
	"github.com/styxchat/chat-service/internal/core/ports"
)

// Rule allows Events actions per Window, refilled continuously.
type Rule struct {
	Events int
	Window time.Duration
}

func (r Rule) limit() rate.Limit {
	return rate.Every(r.Window / time.Duration(r.Events))
}

type bucketKey struct {
	channel ports.Channel
	key     string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one independent bucket per (channel, key). Channels without
// a rule are unlimited.
type Limiter struct {
	rules map[ports.Channel]Rule
	now   func() time.Time

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

func New(rules map[ports.Channel]Rule) *Limiter {
	valid := make(map[ports.Channel]Rule, len(rules))
	for ch, r := range rules {
		if r.Events > 0 && r.Window > 0 {
			valid[ch] = r
		}
	}
	return &Limiter{
		rules:   valid,
		now:     time.Now,
		buckets: make(map[bucketKey]*bucket),
	}
}

// Allow takes one token from the (channel, key) bucket.
func (l *Limiter) Allow(channel ports.Channel, key string) ports.Decision {
	rule, ok := l.rules[channel]
	if !ok {
		return ports.Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := bucketKey{channel: channel, key: key}
	b, ok := l.buckets[k]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rule.limit(), rule.Events)}
		l.buckets[k] = b
	}
	b.lastSeen = now

	d := ports.Decision{Limit: rule.Events}
	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		d.RetryAfter = delay
		metrics.RateLimitedTotal.WithLabelValues(string(channel)).Inc()
		return d
	}

	d.Allowed = true
	if tokens := b.limiter.TokensAt(now); tokens > 0 {
		d.Remaining = int(tokens)
	}
	return d
}

// Sweep drops buckets idle long enough to have refilled completely.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.rules[k.channel].Window {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

// Run sweeps idle buckets every interval until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
