// Package engine implements the tier manager: a sharded, memory-budgeted
// cache that keeps encoded syntax trees Hot (raw, in memory), Warm
// (compressed, in memory), Cold or Frozen (compressed, on disk) and moves
// entries between tiers under access-pattern and byte-budget pressure.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/cstcache/blobstore"
	"github.com/hupe1980/cstcache/bytecode"
	"github.com/hupe1980/cstcache/compress"
	"github.com/hupe1980/cstcache/model"
	"github.com/hupe1980/cstcache/resource"
	"github.com/hupe1980/cstcache/stableid"
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("engine: closed")

// Config wires the engine's collaborators. Store is required; the remaining
// fields default to zstd compression, a discarding logger and no metrics.
type Config struct {
	Store      blobstore.Store
	Compressor compress.Compressor
	Logger     *slog.Logger
	Observer   MetricsObserver
	Options    Options
}

// entry is one cached file. tier, payload, size and gen are guarded by the
// owning shard's mutex; the access fields are atomics so concurrent readers
// can bump them under the shard's read lock.
type entry struct {
	key       model.Key
	gen       uint64
	tier      model.Tier
	payload   []byte // raw stream for Hot, compressed for Warm, nil on disk
	size      int64
	createdAt time.Time

	lastAccess  atomic.Int64 // unix nanos
	accessCount atomic.Uint32
}

func (e *entry) lastAccessTime() time.Time {
	return time.Unix(0, e.lastAccess.Load())
}

// shard is one lock domain. Tier transitions for a file contend only with
// operations on files in the same shard, never with the whole cache.
type shard struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	assigners map[string]*stableid.Assigner
}

// Engine is the tier manager. All methods are safe for concurrent use.
type Engine struct {
	opts    Options
	store   blobstore.Store
	comp    compress.Compressor
	encoder *bytecode.Encoder
	ctrl    *resource.Controller
	logger  *slog.Logger
	obs     MetricsObserver

	shards []*shard

	loads singleflight.Group

	hits       atomic.Uint64
	misses     atomic.Uint64
	promotions atomic.Uint64
	demotions  atomic.Uint64
	evictions  atomic.Uint64

	pendingMu      sync.Mutex
	pendingDeletes []model.Key

	kick      chan struct{}
	closing   chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeErr  error
	closeOnce sync.Once

	now func() time.Time
}

// New creates an engine, repopulates disk-backed entries from the store's
// index and starts the background sweep.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if cfg.Compressor == nil {
		cfg.Compressor = compress.NewZstd()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Observer == nil {
		cfg.Observer = NoopMetricsObserver{}
	}
	opts := cfg.Options.normalized()

	e := &Engine{
		opts:    opts,
		store:   cfg.Store,
		comp:    cfg.Compressor,
		encoder: bytecode.NewEncoder(bytecode.WithCheckpointInterval(opts.CheckpointInterval)),
		ctrl: resource.NewController(resource.Config{
			MaxBackgroundWorkers: opts.MaxBackgroundWorkers,
			IOLimitBytesPerSec:   opts.IOLimitBytesPerSec,
		}),
		logger:  cfg.Logger,
		obs:     cfg.Observer,
		shards:  make([]*shard, opts.NumShards),
		kick:    make(chan struct{}, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	for i := range e.shards {
		e.shards[i] = &shard{
			entries:   make(map[string]*entry),
			assigners: make(map[string]*stableid.Assigner),
		}
	}

	if err := e.recover(ctx); err != nil {
		return nil, fmt.Errorf("engine: recover persisted entries: %w", err)
	}

	go e.run()
	return e, nil
}

// recover rebuilds disk-tier entries from the store index so a restarted
// process serves Cold/Frozen hits without re-parsing. Entries recorded in a
// memory tier (crash mid-demotion) surface as Cold.
func (e *Engine) recover(ctx context.Context) error {
	metas, err := e.store.Entries(ctx)
	if err != nil {
		return err
	}
	for _, meta := range metas {
		tier := meta.Tier
		if tier != model.TierCold && tier != model.TierFrozen {
			tier = model.TierCold
		}
		ent := &entry{
			key:       meta.Key,
			tier:      tier,
			size:      meta.SizeBytes,
			createdAt: meta.CreatedAt,
		}
		ent.lastAccess.Store(meta.LastAccessed.UnixNano())
		ent.accessCount.Store(meta.AccessCount)

		sh := e.shardFor(meta.Key.Path)
		sh.mu.Lock()
		sh.entries[meta.Key.Path] = ent
		sh.mu.Unlock()
	}
	return nil
}

func (e *Engine) shardFor(path string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	return e.shards[h.Sum32()%uint32(len(e.shards))]
}

// Store encodes tree and inserts it into the Hot tier, replacing any
// previous entry for the same path. Every node receives a fresh stable id.
func (e *Engine) Store(ctx context.Context, path string, tree *model.SyntaxTree, source []byte) error {
	return e.storeTree(ctx, path, tree, source, nil, model.Edit{}, false)
}

// StoreIncremental is Store for a re-parse after a single edit: node ids
// are carried over from the previous entry wherever the edit provably left
// a node unchanged. Without a usable previous entry it degrades to Store.
func (e *Engine) StoreIncremental(ctx context.Context, path string, tree *model.SyntaxTree, source []byte, edit model.Edit) error {
	prev := e.previousRecords(ctx, path)
	return e.storeTree(ctx, path, tree, source, prev, edit, prev != nil)
}

func (e *Engine) storeTree(ctx context.Context, path string, tree *model.SyntaxTree, source []byte, prev []bytecode.NodeRecord, edit model.Edit, incremental bool) error {
	start := e.now()
	if e.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := model.Key{Path: path, Hash: model.HashSource(source)}
	sh := e.shardFor(path)

	// Id assignment is serialized per file under the shard lock; the
	// assigner survives invalidation so ids are never reissued within a
	// file's lifetime.
	sh.mu.Lock()
	assigner := sh.assigners[path]
	if assigner == nil {
		assigner = stableid.NewAssigner()
		sh.assigners[path] = assigner
	}
	var ids []uint64
	if incremental {
		ids = assigner.Assign(prev, tree, edit)
	} else {
		ids = assigner.AssignFresh(tree)
	}
	sh.mu.Unlock()

	stream, err := e.encoder.EncodeWithIDs(tree, source, ids)
	if err != nil {
		e.obs.OnStore(e.now().Sub(start), 0, err)
		return fmt.Errorf("engine: encode %s: %w", path, err)
	}
	data := stream.Marshal()

	now := e.now()
	ent := &entry{
		key:       key,
		tier:      model.TierHot,
		payload:   data,
		size:      int64(len(data)),
		createdAt: now,
	}
	ent.lastAccess.Store(now.UnixNano())

	sh.mu.Lock()
	if old := sh.entries[path]; old != nil {
		ent.gen = old.gen + 1
		if old.payload == nil {
			e.queueBlobDelete(old.key)
		}
	}
	sh.entries[path] = ent
	sh.mu.Unlock()

	e.kickSweep()
	e.obs.OnStore(e.now().Sub(start), len(data), nil)
	e.logger.Debug("stored entry", "path", path, "bytes", len(data), "nodes", stream.NodeCount)
	return nil
}

// previousRecords loads and decodes the current entry for path without
// touching access counters. Any failure yields nil: the caller falls back
// to fresh id assignment rather than surfacing an error.
func (e *Engine) previousRecords(ctx context.Context, path string) []bytecode.NodeRecord {
	sh := e.shardFor(path)
	sh.mu.RLock()
	ent := sh.entries[path]
	var (
		tier    model.Tier
		payload []byte
		key     model.Key
	)
	if ent != nil {
		tier = ent.tier
		payload = ent.payload
		key = ent.key
	}
	sh.mu.RUnlock()
	if ent == nil {
		return nil
	}

	raw, _, err := e.loadRaw(ctx, key, tier, payload)
	if err != nil {
		return nil
	}
	stream, err := bytecode.Unmarshal(raw)
	if err != nil {
		return nil
	}
	records, err := bytecode.NewDecoder(stream).Decode()
	if err != nil {
		return nil
	}
	return records
}

// Get returns the decoded stream for key, or false on a miss. An entry
// whose content hash differs from key's is stale: it is dropped and the
// lookup reported as a miss. Corrupt payloads are likewise evicted so the
// caller can re-parse and re-store.
func (e *Engine) Get(ctx context.Context, key model.Key) (*bytecode.Stream, bool) {
	start := e.now()
	if e.closed.Load() || ctx.Err() != nil {
		return nil, false
	}

	sh := e.shardFor(key.Path)
	sh.mu.RLock()
	ent := sh.entries[key.Path]
	var (
		tier    model.Tier
		payload []byte
		gen     uint64
	)
	if ent != nil {
		tier = ent.tier
		payload = ent.payload
		gen = ent.gen
	}
	sh.mu.RUnlock()

	if ent == nil {
		e.miss(start)
		return nil, false
	}
	if ent.key.Hash != key.Hash {
		e.dropEntry(sh, key.Path, gen, "content hash changed")
		e.miss(start)
		return nil, false
	}

	count := ent.accessCount.Add(1)
	ent.lastAccess.Store(e.now().UnixNano())

	raw, compressed, err := e.loadRaw(ctx, ent.key, tier, payload)
	if err != nil {
		e.dropEntry(sh, key.Path, gen, err.Error())
		e.miss(start)
		return nil, false
	}
	stream, err := bytecode.Unmarshal(raw)
	if err != nil {
		e.dropEntry(sh, key.Path, gen, err.Error())
		e.miss(start)
		return nil, false
	}

	e.maybePromote(sh, key.Path, gen, tier, count, raw, compressed)

	e.hits.Add(1)
	e.obs.OnGet(tier, true, e.now().Sub(start))
	return stream, true
}

func (e *Engine) miss(start time.Time) {
	e.misses.Add(1)
	e.obs.OnGet(model.TierHot, false, e.now().Sub(start))
}

// loadRaw produces the raw stream bytes for an entry, plus the compressed
// form when one was materialized on the way (used for Warm promotion).
// Disk reads are deduplicated so concurrent misses on the same key perform
// one read.
func (e *Engine) loadRaw(ctx context.Context, key model.Key, tier model.Tier, payload []byte) (raw, compressed []byte, err error) {
	switch tier {
	case model.TierHot:
		return payload, nil, nil
	case model.TierWarm:
		raw, err = e.comp.Decompress(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("decompress warm entry: %w", err)
		}
		return raw, payload, nil
	default:
		type loaded struct {
			raw        []byte
			compressed []byte
		}
		v, err, _ := e.loads.Do(key.String(), func() (any, error) {
			blob, _, err := e.store.ReadEntry(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("read entry: %w", err)
			}
			raw, err := e.comp.Decompress(blob)
			if err != nil {
				return nil, fmt.Errorf("decompress %s entry: %w", tier, err)
			}
			return loaded{raw: raw, compressed: blob}, nil
		})
		if err != nil {
			return nil, nil, err
		}
		l := v.(loaded)
		return l.raw, l.compressed, nil
	}
}

// maybePromote applies access-driven promotion after a hit: disk tiers
// promote to Warm once the entry's access count reaches the Warm threshold,
// Warm promotes to Hot at the Hot threshold.
func (e *Engine) maybePromote(sh *shard, path string, gen uint64, from model.Tier, count uint32, raw, compressed []byte) {
	var (
		to      model.Tier
		payload []byte
	)
	switch {
	case (from == model.TierCold || from == model.TierFrozen) && count >= e.opts.PromoteToWarmThreshold:
		to, payload = model.TierWarm, compressed
	case from == model.TierWarm && count >= e.opts.PromoteToHotThreshold:
		to, payload = model.TierHot, raw
	default:
		return
	}

	sh.mu.Lock()
	ent := sh.entries[path]
	if ent == nil || ent.gen != gen || ent.tier != from {
		sh.mu.Unlock()
		return
	}
	ent.tier = to
	ent.payload = payload
	ent.size = int64(len(payload))
	key := ent.key
	sh.mu.Unlock()

	if from == model.TierCold || from == model.TierFrozen {
		// The blob is redundant once the entry lives in memory.
		e.queueBlobDelete(key)
	}
	e.promotions.Add(1)
	e.obs.OnTierChange(from, to)
	e.logger.Debug("promoted entry", "path", path, "from", from, "to", to, "accesses", count)
	e.kickSweep()
}

// Invalidate removes the entry for path, if any. The per-file id assigner
// is kept so future stores never reissue old ids.
func (e *Engine) Invalidate(path string) {
	sh := e.shardFor(path)
	sh.mu.Lock()
	ent := sh.entries[path]
	if ent != nil {
		delete(sh.entries, path)
		ent.gen++ // racing background work sees a stale generation
		if ent.payload == nil {
			e.queueBlobDelete(ent.key)
		}
	}
	sh.mu.Unlock()
	if ent != nil {
		e.kickSweep()
	}
}

// dropEntry removes an entry after a stale hash or corruption was observed,
// counting an eviction. The generation check makes the removal a no-op if a
// newer entry replaced it in the meantime.
func (e *Engine) dropEntry(sh *shard, path string, gen uint64, reason string) {
	sh.mu.Lock()
	ent := sh.entries[path]
	if ent == nil || ent.gen != gen {
		sh.mu.Unlock()
		return
	}
	delete(sh.entries, path)
	key := ent.key
	sh.mu.Unlock()

	e.queueBlobDelete(key)
	e.evictions.Add(1)
	e.logger.Warn("evicted entry", "path", path, "reason", reason)
	e.kickSweep()
}

// queueBlobDelete defers blob removal to the sweep so foreground calls
// never wait on disk. Deletes are idempotent.
func (e *Engine) queueBlobDelete(key model.Key) {
	e.pendingMu.Lock()
	e.pendingDeletes = append(e.pendingDeletes, key)
	e.pendingMu.Unlock()
}

// TierOf reports the tier currently holding path's entry.
func (e *Engine) TierOf(path string) (model.Tier, bool) {
	sh := e.shardFor(path)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	ent := sh.entries[path]
	if ent == nil {
		return 0, false
	}
	return ent.tier, true
}

// Stats returns a point-in-time snapshot across all shards.
func (e *Engine) Stats() model.Stats {
	var s model.Stats
	for _, sh := range e.shards {
		sh.mu.RLock()
		for _, ent := range sh.entries {
			switch ent.tier {
			case model.TierHot:
				s.HotEntries++
				s.HotBytes += ent.size
			case model.TierWarm:
				s.WarmEntries++
				s.WarmBytes += ent.size
			case model.TierCold:
				s.ColdEntries++
				s.ColdBytes += ent.size
			case model.TierFrozen:
				s.FrozenEntries++
				s.FrozenBytes += ent.size
			}
		}
		sh.mu.RUnlock()
	}
	s.TotalHits = e.hits.Load()
	s.TotalMisses = e.misses.Load()
	s.Promotions = e.promotions.Load()
	s.Demotions = e.demotions.Load()
	s.Evictions = e.evictions.Load()
	return s
}

func (e *Engine) kickSweep() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer close(e.done)
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closing:
			return
		case <-ticker.C:
		case <-e.kick:
		}
		if err := e.Sweep(context.Background()); err != nil {
			e.logger.Warn("sweep failed", "error", err)
		}
	}
}

// Close stops the sweep and closes the store. Safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.closing)
		<-e.done
		e.closeErr = e.store.Close()
	})
	return e.closeErr
}
