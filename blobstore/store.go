// Package blobstore persists compressed bytecode streams for the disk-backed
// cache tiers (Cold and Frozen).
//
// A Store keeps one blob per cache key plus a lookup index mapping key to
// location and metadata, so reads never scan the storage directory.
package blobstore

import (
	"context"
	"os"
	"time"

	"github.com/hupe1980/cstcache/model"
)

// ErrNotFound is returned when no entry exists for a key.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// EntryMeta is the index record kept per persisted entry.
type EntryMeta struct {
	Key          model.Key
	Tier         model.Tier
	SizeBytes    int64
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  uint32
}

// Store is an abstraction over the persistence backend for compressed cache
// entries. Implementations must be safe for concurrent use.
type Store interface {
	// ReadEntry returns the payload and metadata for key, or ErrNotFound.
	ReadEntry(ctx context.Context, key model.Key) ([]byte, EntryMeta, error)

	// WriteEntry persists the payload and metadata, replacing any previous
	// entry for the same key path.
	WriteEntry(ctx context.Context, key model.Key, payload []byte, meta EntryMeta) error

	// UpdateMeta rewrites the metadata for an existing entry without
	// touching the payload (e.g. a Cold -> Frozen tier change).
	UpdateMeta(ctx context.Context, key model.Key, meta EntryMeta) error

	// DeleteEntry removes the entry for key. Deleting a missing entry is
	// not an error.
	DeleteEntry(ctx context.Context, key model.Key) error

	// Entries returns a snapshot of all index records.
	Entries(ctx context.Context) ([]EntryMeta, error)

	// Close releases resources held by the store.
	Close() error
}
