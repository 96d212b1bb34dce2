package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps objects in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	objects map[string]*Object
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, objects: make(map[string]*Object)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	copied := append([]byte(nil), data...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &Object{
		ObjectInfo: ObjectInfo{
			Key:          key,
			Size:         int64(len(copied)),
			ContentType:  opts.ContentType,
			CacheControl: opts.CacheControl,
			ETag:         ETag(copied),
			UploadedAt:   s.now(),
		},
		Data: copied,
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := *obj
	out.Data = append([]byte(nil), obj.Data...)
	return &out, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var infos []ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, obj.ObjectInfo)
		}
	}
	return infos, nil
}
