package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	limiter := NewRateLimiter(&Client{store: mock}, 2, time.Minute)

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "negotiation:create:p1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
	ok, err := limiter.Allow(ctx, "negotiation:create:p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("third call should be limited")
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected one expire call, got %d", len(mock.expireCalls))
	}
	if mock.expireCalls[0].key != "swapshelf:rate_limit:negotiation:create:p1" {
		t.Fatalf("unexpected key %s", mock.expireCalls[0].key)
	}

	ok, err = limiter.Allow(ctx, "negotiation:create:p2")
	if err != nil || !ok {
		t.Fatalf("other scope should be allowed, ok=%v err=%v", ok, err)
	}
}

func TestIncrWithTTLRepairsMissingExpiry(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	mock.expireFails = 1
	client := &Client{store: mock}
	key := client.RateLimitKey("chat:send:p1")

	if _, err := client.IncrWithTTL(ctx, key, time.Minute); err == nil {
		t.Fatalf("expected the failed expire to surface")
	}
	if _, ok := mock.ttls[key]; ok {
		t.Fatalf("ttl should not be set after a failed expire")
	}

	count, err := client.IncrWithTTL(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if mock.ttls[key] != time.Minute {
		t.Fatalf("expected ttl to be repaired, got %v", mock.ttls[key])
	}

	if _, err := client.IncrWithTTL(ctx, key, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.expireCalls) != 2 {
		t.Fatalf("expected no expire once a ttl exists, got %d calls", len(mock.expireCalls))
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(&Client{}, 0, time.Minute)
	ok, err := limiter.Allow(context.Background(), "x")
	if err != nil || !ok {
		t.Fatalf("zero limit should allow, ok=%v err=%v", ok, err)
	}
}

func TestRecencyTracker(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	tracker := NewRecencyTracker(&Client{store: mock}, 5*time.Second)

	recent, err := tracker.RecentlyWrote(ctx, "p1")
	if err != nil || recent {
		t.Fatalf("expected no recent write, recent=%v err=%v", recent, err)
	}
	if err := tracker.MarkWrite(ctx, "p1"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if mock.ttls["swapshelf:recent_write:p1"] != 5*time.Second {
		t.Fatalf("expected ttl to match window, got %v", mock.ttls["swapshelf:recent_write:p1"])
	}
	recent, err = tracker.RecentlyWrote(ctx, "p1")
	if err != nil || !recent {
		t.Fatalf("expected recent write, recent=%v err=%v", recent, err)
	}
}

func TestErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	mock.err = errors.New("connection refused")
	client := &Client{store: mock}

	if _, err := NewRateLimiter(client, 1, time.Second).Allow(ctx, "x"); err == nil {
		t.Fatalf("expected error from limiter")
	}
	if _, err := NewRecencyTracker(client, time.Second).RecentlyWrote(ctx, "p1"); err == nil {
		t.Fatalf("expected error from tracker")
	}
	if err := (&Client{}).Ping(ctx); err == nil {
		t.Fatalf("expected error from uninitialized client")
	}
}

type mockCmdable struct {
	data        map[string]string
	ttls        map[string]time.Duration
	incr        map[string]int64
	expireCalls []expireCall
	expireFails int
	err         error
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
		incr: make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", m.err)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if m.err != nil {
		return redis.NewStatusResult("", m.err)
	}
	m.data[key] = fmt.Sprint(value)
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	if m.err != nil {
		return redis.NewIntResult(0, m.err)
	}
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	if m.err != nil {
		return redis.NewIntResult(0, m.err)
	}
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	if m.expireFails > 0 {
		m.expireFails--
		return redis.NewBoolResult(false, errors.New("i/o timeout"))
	}
	m.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) TTL(ctx context.Context, key string) *redis.DurationCmd {
	if m.err != nil {
		return redis.NewDurationResult(0, m.err)
	}
	if ttl, ok := m.ttls[key]; ok {
		return redis.NewDurationResult(ttl, nil)
	}
	if _, ok := m.incr[key]; ok {
		return redis.NewDurationResult(-1, nil)
	}
	return redis.NewDurationResult(-2, nil)
}
