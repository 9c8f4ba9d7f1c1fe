package blobstore

import (
	"context"
	"sync"

	"github.com/hupe1980/cstcache/model"
)

// MemoryStore is an in-memory Store, useful for tests and for running the
// cache without a storage directory (disk tiers then live in process
// memory and vanish on restart).
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry // by key path
}

type memoryEntry struct {
	payload []byte
	meta    EntryMeta
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// ReadEntry implements Store.
func (s *MemoryStore) ReadEntry(ctx context.Context, key model.Key) ([]byte, EntryMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, EntryMeta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key.Path]
	if !ok || e.meta.Key.Hash != key.Hash {
		return nil, EntryMeta{}, ErrNotFound
	}
	payload := make([]byte, len(e.payload))
	copy(payload, e.payload)
	return payload, e.meta, nil
}

// WriteEntry implements Store.
func (s *MemoryStore) WriteEntry(ctx context.Context, key model.Key, payload []byte, meta EntryMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)
	meta.Key = key

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key.Path] = memoryEntry{payload: buf, meta: meta}
	return nil
}

// UpdateMeta implements Store.
func (s *MemoryStore) UpdateMeta(ctx context.Context, key model.Key, meta EntryMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key.Path]
	if !ok {
		return ErrNotFound
	}
	meta.Key = key
	e.meta = meta
	s.entries[key.Path] = e
	return nil
}

// DeleteEntry implements Store.
func (s *MemoryStore) DeleteEntry(ctx context.Context, key model.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key.Path)
	return nil
}

// Entries implements Store.
func (s *MemoryStore) Entries(ctx context.Context) ([]EntryMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EntryMeta, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.meta)
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
