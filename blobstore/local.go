package blobstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/cstcache/model"
)

const indexFileName = "index.bin"

// LocalStore persists entries under a storage directory: one blob file per
// cache key plus an atomically rewritten index manifest.
type LocalStore struct {
	dir string

	mu    sync.RWMutex
	index map[string]EntryMeta // by key path
}

// NewLocalStore opens (or creates) a store rooted at dir. A missing or
// corrupt index manifest starts the store empty; stale blob files are
// overwritten or removed as keys are written and deleted.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create storage dir: %w", err)
	}
	s := &LocalStore{
		dir:   dir,
		index: make(map[string]EntryMeta),
	}
	if data, err := os.ReadFile(filepath.Join(dir, indexFileName)); err == nil {
		if entries, err := decodeIndex(data); err == nil {
			for _, m := range entries {
				s.index[m.Key.Path] = m
			}
		}
	}
	return s, nil
}

// blobPath derives the blob file location from the key path, so rewrites of
// the same file replace the previous blob. Blobs fan out into 256
// subdirectories named by the first hash byte, keeping any single directory
// small for large caches.
func (s *LocalStore) blobPath(path string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	name := fmt.Sprintf("%016x", h.Sum64())
	return filepath.Join(s.dir, name[:2], name+".bin")
}

// ReadEntry implements Store.
func (s *LocalStore) ReadEntry(ctx context.Context, key model.Key) ([]byte, EntryMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, EntryMeta{}, err
	}

	s.mu.RLock()
	meta, ok := s.index[key.Path]
	s.mu.RUnlock()
	if !ok || meta.Key.Hash != key.Hash {
		return nil, EntryMeta{}, ErrNotFound
	}

	payload, err := os.ReadFile(s.blobPath(key.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, EntryMeta{}, ErrNotFound
		}
		return nil, EntryMeta{}, fmt.Errorf("blobstore: read entry: %w", err)
	}
	return payload, meta, nil
}

// WriteEntry implements Store. The blob is written to a temporary file and
// renamed into place so a crash never leaves a torn entry behind.
func (s *LocalStore) WriteEntry(ctx context.Context, key model.Key, payload []byte, meta EntryMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.blobPath(key.Path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("blobstore: write entry: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("blobstore: write entry: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("blobstore: write entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("blobstore: write entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("blobstore: write entry: %w", err)
	}

	meta.Key = key
	s.mu.Lock()
	s.index[key.Path] = meta
	err = s.saveIndexLocked()
	s.mu.Unlock()
	return err
}

// UpdateMeta implements Store.
func (s *LocalStore) UpdateMeta(ctx context.Context, key model.Key, meta EntryMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[key.Path]; !ok {
		return ErrNotFound
	}
	meta.Key = key
	s.index[key.Path] = meta
	return s.saveIndexLocked()
}

// DeleteEntry implements Store.
func (s *LocalStore) DeleteEntry(ctx context.Context, key model.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	_, ok := s.index[key.Path]
	delete(s.index, key.Path)
	var err error
	if ok {
		err = s.saveIndexLocked()
	}
	s.mu.Unlock()

	if rmErr := os.Remove(s.blobPath(key.Path)); rmErr != nil && !os.IsNotExist(rmErr) {
		return fmt.Errorf("blobstore: delete entry: %w", rmErr)
	}
	return err
}

// Entries implements Store.
func (s *LocalStore) Entries(ctx context.Context) ([]EntryMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EntryMeta, 0, len(s.index))
	for _, m := range s.index {
		out = append(out, m)
	}
	return out, nil
}

// Close implements Store.
func (s *LocalStore) Close() error { return nil }

// saveIndexLocked atomically rewrites the index manifest. Callers hold mu.
func (s *LocalStore) saveIndexLocked() error {
	entries := make([]EntryMeta, 0, len(s.index))
	for _, m := range s.index {
		entries = append(entries, m)
	}
	data := encodeIndex(entries)

	tmp, err := os.CreateTemp(s.dir, "index-*.tmp")
	if err != nil {
		return fmt.Errorf("blobstore: save index: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("blobstore: save index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("blobstore: save index: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, indexFileName)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("blobstore: save index: %w", err)
	}
	return nil
}
