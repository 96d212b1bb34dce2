// Package counter holds the atomic counters behind rate limiting and the
// spend ledger.
package counter

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned when no counter store URL is set.
var ErrNotConfigured = errors.New("counter store not configured")

// Store is an external key/value store with atomic increments and expiry.
type Store interface {
	// Incr adds by to key and returns the new value. ttl is applied when the
	// key is created by this call; existing expiries are left alone.
	Incr(ctx context.Context, key string, by int64, ttl time.Duration) (int64, error)
	// Get returns the current value, or 0 when the key is absent.
	Get(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}
