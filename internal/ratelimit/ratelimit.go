package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/HanTheDev/art-gateway/internal/counter"
)

// UnknownClient identifies callers whose address could not be determined.
const UnknownClient = "unknown"

// Window is a fixed-window limit: at most Limit hits per Length.
type Window struct {
	Limit  int64
	Length time.Duration
}

// Decision is the outcome of one hit against a window.
type Decision struct {
	Allowed   bool
	Limit     int64
	Count     int64
	Remaining int64
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

type RateLimiter struct {
	store  counter.Store
	client Window
	global Window
	now    func() time.Time
}

func NewRateLimiter(store counter.Store, client, global Window, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{store: store, client: client, global: global, now: now}
}

// AllowClient counts one request for clientID in its per-client window.
func (rl *RateLimiter) AllowClient(ctx context.Context, clientID string) (Decision, error) {
	if clientID == "" {
		clientID = UnknownClient
	}
	return rl.hit(ctx, "client:"+clientID, rl.client)
}

// AllowGlobal counts one request in the window shared by every caller.
func (rl *RateLimiter) AllowGlobal(ctx context.Context) (Decision, error) {
	return rl.hit(ctx, "global", rl.global)
}

func (rl *RateLimiter) hit(ctx context.Context, scope string, w Window) (Decision, error) {
	now := rl.now()
	index := now.UnixNano() / int64(w.Length)
	resetAt := time.Unix(0, (index+1)*int64(w.Length))

	count, err := rl.store.Incr(ctx, BuildKey(scope, index), 1, resetAt.Sub(now))
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", scope, err)
	}

	remaining := w.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= w.Limit,
		Limit:     w.Limit,
		Count:     count,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// BuildKey names the counter for one scope and window index.
func BuildKey(scope string, windowIndex int64) string {
	return fmt.Sprintf("rl:%s:%d", scope, windowIndex)
}
