package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	rec       VersionedRecord
	expiresAt time.Time
}

// MemoryStore keeps records in process memory.  It is safe for concurrent
// use; expired entries are dropped on access and swept by Keys.
type MemoryStore struct {
	opts Options
	now  func() time.Time

	mu   sync.RWMutex
	data map[string]memoryEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts: opts.withDefaults(),
		now:  time.Now,
		data: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (VersionedRecord, error) {
	if err := ctx.Err(); err != nil {
		return VersionedRecord{}, unavailable("get", err)
	}
	full := s.opts.scoped(key)
	s.mu.RLock()
	e, ok := s.data[full]
	s.mu.RUnlock()
	if !ok {
		return VersionedRecord{}, ErrNotFound
	}
	if !s.now().Before(e.expiresAt) {
		s.evict(full)
		return VersionedRecord{}, ErrNotFound
	}
	return cloneRecord(e.rec), nil
}

// evict removes full if it is still expired; a concurrent Put may have
// refreshed it since the read.
func (s *MemoryStore) evict(full string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[full]; ok && !s.now().Before(e.expiresAt) {
		delete(s.data, full)
	}
}

func (s *MemoryStore) Put(ctx context.Context, key string, rec VersionedRecord) error {
	if err := ctx.Err(); err != nil {
		return unavailable("put", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[s.opts.scoped(key)] = memoryEntry{rec: cloneRecord(rec), expiresAt: s.now().Add(s.opts.TTL)}
	return nil
}

func (s *MemoryStore) PutIfVersion(ctx context.Context, key string, expected uint64, rec VersionedRecord) error {
	if err := ctx.Err(); err != nil {
		return unavailable("put if version", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	full := s.opts.scoped(key)
	e, ok := s.data[full]
	if !ok {
		return ErrNotFound
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.data, full)
		return ErrNotFound
	}
	if e.rec.Version != expected {
		return ErrConflict
	}
	s.data[full] = memoryEntry{rec: cloneRecord(rec), expiresAt: s.now().Add(s.opts.TTL)}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete", err)
	}
	s.mu.Lock()
	delete(s.data, s.opts.scoped(key))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("keys", err)
	}
	full := s.opts.scoped(prefix)
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k, e := range s.data {
		// sweep everything expired, whatever the prefix
		if !now.Before(e.expiresAt) {
			delete(s.data, k)
			continue
		}
		if strings.HasPrefix(k, full) {
			keys = append(keys, s.opts.unscoped(k))
		}
	}
	return keys, nil
}

func cloneRecord(r VersionedRecord) VersionedRecord {
	v := make([]byte, len(r.Value))
	copy(v, r.Value)
	return VersionedRecord{Version: r.Version, Value: v}
}
