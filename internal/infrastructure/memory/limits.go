package memory

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a fixed-window counter used when Redis is not configured.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int64
	window  time.Duration
	now     func() time.Time
	windows map[string]*fixedWindow
}

type fixedWindow struct {
	start time.Time
	count int64
}

func NewRateLimiter(limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window, now: time.Now, windows: make(map[string]*fixedWindow)}
}

func (l *RateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.windows[scope]
	if !ok || now.Sub(w.start) >= l.window {
		w = &fixedWindow{start: now}
		l.windows[scope] = w
	}
	w.count++
	return w.count <= l.limit, nil
}

// RecencyTracker remembers which participants wrote recently so their reads
// can be routed to the primary store.
type RecencyTracker struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	writes map[string]time.Time
}

func NewRecencyTracker(window time.Duration) *RecencyTracker {
	return &RecencyTracker{window: window, now: time.Now, writes: make(map[string]time.Time)}
}

func (t *RecencyTracker) MarkWrite(ctx context.Context, participantID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.writes[participantID] = now
	for id, at := range t.writes {
		if now.Sub(at) >= t.window {
			delete(t.writes, id)
		}
	}
	return nil
}

func (t *RecencyTracker) RecentlyWrote(ctx context.Context, participantID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.writes[participantID]
	return ok && t.now().Sub(at) < t.window, nil
}
