// Package redis backs the shared rate limiter and read-your-writes tracker
// when several server processes run behind one load balancer.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyNamespace    = "swapshelf"
	rateLimitPrefix = "rate_limit"
	recentPrefix    = "recent_write"
)

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Exists(context.Context, ...string) *redis.IntCmd
	Incr(context.Context, string) *redis.IntCmd
	Expire(context.Context, string, time.Duration) *redis.BoolCmd
	TTL(context.Context, string) *redis.DurationCmd
}

// Client wraps the redis commands the service needs.
type Client struct {
	store cmdable
	raw   *redis.Client
}

// New connects to url and verifies the connection.
func New(ctx context.Context, url string) (*Client, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{store: raw, raw: raw}, nil
}

// IncrWithTTL increments key and makes sure it expires. The TTL is set on
// the first increment and re-applied on later calls if the key has none, so
// a failed Expire cannot leave a counter that never resets.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if c.store == nil {
		return 0, errors.New("redis client not initialized")
	}
	count, err := c.store.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return count, nil
	}
	if count > 1 {
		// TTL reports -1 for a key without an expiry.
		current, err := c.store.TTL(ctx, key).Result()
		if err != nil {
			return count, err
		}
		if current != -1 {
			return count, nil
		}
	}
	if _, err := c.store.Expire(ctx, key, ttl).Result(); err != nil {
		return count, err
	}
	return count, nil
}

// FixedWindowAllow applies a fixed-window rate limit to scope.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	count, err := c.IncrWithTTL(ctx, c.RateLimitKey(scope), window)
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}

// MarkRecent records a write by participantID that expires after ttl.
func (c *Client) MarkRecent(ctx context.Context, participantID string, ttl time.Duration) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	return c.store.Set(ctx, c.RecentWriteKey(participantID), "1", ttl).Err()
}

// IsRecent reports whether a MarkRecent for participantID is still live.
func (c *Client) IsRecent(ctx context.Context, participantID string) (bool, error) {
	if c.store == nil {
		return false, errors.New("redis client not initialized")
	}
	n, err := c.store.Exists(ctx, c.RecentWriteKey(participantID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) RateLimitKey(scope string) string {
	return buildKey(rateLimitPrefix, scope)
}

func (c *Client) RecentWriteKey(participantID string) string {
	return buildKey(recentPrefix, participantID)
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	return c.store.Ping(ctx).Err()
}

// Close shuts down the underlying client if available.
func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func buildKey(parts ...string) string {
	clean := []string{keyNamespace}
	for _, part := range parts {
		if part == "" {
			continue
		}
		clean = append(clean, strings.TrimSpace(part))
	}
	return strings.Join(clean, ":")
}

// RateLimiter limits a scope to Limit calls per Window.
type RateLimiter struct {
	client *Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window}
}

func (l *RateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	ok, _, err := l.client.FixedWindowAllow(ctx, scope, l.limit, l.window)
	return ok, err
}

// RecencyTracker remembers recent writers for window.
type RecencyTracker struct {
	client *Client
	window time.Duration
}

func NewRecencyTracker(client *Client, window time.Duration) *RecencyTracker {
	return &RecencyTracker{client: client, window: window}
}

func (t *RecencyTracker) MarkWrite(ctx context.Context, participantID string) error {
	return t.client.MarkRecent(ctx, participantID, t.window)
}

func (t *RecencyTracker) RecentlyWrote(ctx context.Context, participantID string) (bool, error) {
	return t.client.IsRecent(ctx, participantID)
}
