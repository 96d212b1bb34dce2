package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"
)

var ErrNotFound = errors.New("object not found")

const (
	Prefix    = "art/"
	LatestKey = Prefix + "latest.jpg"

	HistoryCacheControl = "public, max-age=31536000, immutable"
	LatestCacheControl  = "no-cache, no-store, must-revalidate"
)

type PutOptions struct {
	ContentType  string
	CacheControl string
}

// ObjectInfo describes a stored object without its bytes.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	CacheControl string
	ETag         string
	UploadedAt   time.Time
}

type Object struct {
	ObjectInfo
	Data []byte
}

// Store is a key/value blob store with per-object metadata.
type Store interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) (*Object, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// HistoryKey names the immutable history object for a generation at t:
// the ISO-8601 UTC timestamp with ':' and '.' replaced by '-'.
func HistoryKey(t time.Time) string {
	stamp := t.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return Prefix + stamp + ".jpg"
}

// IsHistoryKey reports whether key is a history object.
func IsHistoryKey(key string) bool {
	return strings.HasPrefix(key, Prefix) && key != LatestKey
}

// Recent returns up to n history objects, newest first.
func Recent(ctx context.Context, store Store, n int) ([]ObjectInfo, error) {
	objects, err := store.List(ctx, Prefix)
	if err != nil {
		return nil, err
	}

	history := objects[:0]
	for _, obj := range objects {
		if IsHistoryKey(obj.Key) {
			history = append(history, obj)
		}
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].UploadedAt.After(history[j].UploadedAt)
	})

	if n >= 0 && len(history) > n {
		history = history[:n]
	}
	return history, nil
}

// ETag returns a strong entity tag for data.
func ETag(data []byte) string {
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
