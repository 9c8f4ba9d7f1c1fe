// Package cstcache provides a memory-budgeted embedded cache for parsed
// syntax trees.
//
// Trees are serialized into a compact, deterministic bytecode stream with
// O(1)-amortized random node access, then kept across four tiers:
//
//   - Hot: raw stream in memory
//   - Warm: compressed in memory
//   - Cold: compressed on disk
//   - Frozen: compressed on disk, reclaimed first
//
// Entries promote toward Hot under access pressure and demote toward Frozen
// as they idle, with per-tier byte budgets enforced by a background sweep.
// Node identifiers are stable across incremental edits: re-parsing a file
// after a small edit preserves the ids of every node the edit provably did
// not touch.
//
// # Quick start
//
//	ctx := context.Background()
//	cache, err := cstcache.New(ctx,
//	    cstcache.WithStorageDir("./cstcache"),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer cache.Close()
//
//	// After parsing:
//	if err := cache.Store(ctx, "main.rs", tree, source); err != nil {
//	    return err
//	}
//
//	// On re-access:
//	if decoded, ok := cache.Get(ctx, cstcache.Key("main.rs", source)); ok {
//	    root, _ := decoded.Node(0)
//	    _ = root
//	}
//
// A miss (absent, stale or corrupted entry) returns ok == false; the caller
// re-parses and stores again. After an incremental re-parse, use
// StoreIncremental with the edit description to carry node ids over.
package cstcache

import (
	"context"
	"fmt"

	"github.com/hupe1980/cstcache/blobstore"
	"github.com/hupe1980/cstcache/bytecode"
	"github.com/hupe1980/cstcache/engine"
	"github.com/hupe1980/cstcache/model"
)

// Cache is the public handle. All methods are safe for concurrent use.
type Cache struct {
	engine *engine.Engine
	logger *Logger
}

// New creates a cache. Without WithStore or WithStorageDir the disk tiers
// are backed by an in-memory store, which is useful for tests and for
// embedders that only want the Hot/Warm memory tiers.
func New(ctx context.Context, optFns ...Option) (*Cache, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(o)
	}

	store := o.store
	if store == nil {
		if o.storageDir != "" {
			var err error
			store, err = blobstore.NewLocalStore(o.storageDir)
			if err != nil {
				return nil, fmt.Errorf("cstcache: open storage dir: %w", err)
			}
		} else {
			store = blobstore.NewMemoryStore()
		}
	}

	eng, err := engine.New(ctx, engine.Config{
		Store:      store,
		Compressor: o.compressor,
		Logger:     o.logger.Logger,
		Observer:   &collectorObserver{c: o.metrics},
		Options:    o.engine,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{engine: eng, logger: o.logger}, nil
}

// Key builds the cache key for a path and the exact source bytes the tree
// was parsed from.
func Key(path string, source []byte) model.Key {
	return model.Key{Path: path, Hash: model.HashSource(source)}
}

// Store encodes tree and caches it under path in the Hot tier. Every node
// receives a fresh stable id.
func (c *Cache) Store(ctx context.Context, path string, tree *model.SyntaxTree, source []byte) error {
	return c.engine.Store(ctx, path, tree, source)
}

// StoreIncremental caches a re-parse of path after a single edit, carrying
// stable ids over from the previous entry wherever the edit left a node
// unchanged. Without a usable previous entry it behaves like Store.
func (c *Cache) StoreIncremental(ctx context.Context, path string, tree *model.SyntaxTree, source []byte, edit model.Edit) error {
	return c.engine.StoreIncremental(ctx, path, tree, source, edit)
}

// Get returns the cached tree for key, or ok == false on a miss. A stored
// entry whose content hash no longer matches is a miss, never a stale hit.
func (c *Cache) Get(ctx context.Context, key model.Key) (*DecodedTree, bool) {
	stream, ok := c.engine.Get(ctx, key)
	if !ok {
		return nil, false
	}
	return &DecodedTree{stream: stream, nav: bytecode.NewNavigator(stream)}, true
}

// Invalidate drops the entry for path, if any.
func (c *Cache) Invalidate(path string) {
	c.engine.Invalidate(path)
}

// Stats returns a point-in-time snapshot of entries and bytes per tier plus
// lifetime hit/miss and promotion/demotion counters.
func (c *Cache) Stats() model.Stats {
	return c.engine.Stats()
}

// Sweep runs one maintenance pass immediately, in addition to the
// background schedule. Mostly useful in tests with compressed timeouts.
func (c *Cache) Sweep(ctx context.Context) error {
	return c.engine.Sweep(ctx)
}

// Close stops background maintenance and closes the persistence layer.
func (c *Cache) Close() error {
	return c.engine.Close()
}

// DecodedTree is a read view over a cached bytecode stream.
type DecodedTree struct {
	stream *bytecode.Stream
	nav    *bytecode.Navigator
}

// NodeCount returns the number of nodes in preorder.
func (t *DecodedTree) NodeCount() uint32 {
	return t.stream.NodeCount
}

// Node returns the record at preorder index i with O(1) amortized cost.
func (t *DecodedTree) Node(i uint32) (bytecode.NodeRecord, error) {
	return t.nav.Node(i)
}

// Records materializes all node records in preorder.
func (t *DecodedTree) Records() ([]bytecode.NodeRecord, error) {
	return bytecode.NewDecoder(t.stream).Decode()
}

// Stream exposes the underlying stream, e.g. for re-serialization.
func (t *DecodedTree) Stream() *bytecode.Stream {
	return t.stream
}
