package engine

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/cstcache/blobstore"
	"github.com/hupe1980/cstcache/model"
)

// sweepJob is one planned tier transition. evict means a hard delete
// (Frozen past its disk budget, recoverable only by re-parsing).
type sweepJob struct {
	sh    *shard
	path  string
	key   model.Key
	gen   uint64
	from  model.Tier
	to    model.Tier
	evict bool

	lastAccess  time.Time
	accessCount uint32
}

// candidate is a point-in-time view of one entry taken under the shard's
// read lock; the gen field detects entries replaced before the job runs.
type candidate struct {
	sh          *shard
	path        string
	key         model.Key
	gen         uint64
	tier        model.Tier
	size        int64
	lastAccess  time.Time
	accessCount uint32
}

// Sweep runs one maintenance pass: it flushes deferred blob deletes,
// demotes entries idle past their tier's timeout, and demotes LRU entries
// out of any tier over its byte budget (a hard delete for Frozen). At most
// SweepBatch transitions run per call, so a single pass is bounded no
// matter how large the cache is. The background loop calls Sweep on every
// tick; tests may call it directly.
func (e *Engine) Sweep(ctx context.Context) error {
	start := e.now()

	e.flushBlobDeletes(ctx)

	cands := e.snapshot()
	jobs := e.planTimeouts(cands, start)
	jobs = append(jobs, e.planBudgets(cands, jobs)...)
	if len(jobs) > e.opts.SweepBatch {
		jobs = jobs[:e.opts.SweepBatch]
	}
	if len(jobs) == 0 {
		e.obs.OnSweep(e.now().Sub(start), 0, 0)
		return nil
	}

	var demoted, evicted int
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			if err := e.ctrl.AcquireWorker(gctx); err != nil {
				return err
			}
			defer e.ctrl.ReleaseWorker()
			if err := e.runJob(gctx, job); err != nil {
				e.logger.Warn("tier transition failed",
					"path", job.path, "from", job.from, "to", job.to, "error", err)
			}
			return nil
		})
		if job.evict {
			evicted++
		} else {
			demoted++
		}
	}
	err := g.Wait()
	e.obs.OnSweep(e.now().Sub(start), demoted, evicted)
	return err
}

// snapshot copies entry metadata out of every shard under its read lock.
func (e *Engine) snapshot() []candidate {
	var cands []candidate
	for _, sh := range e.shards {
		sh.mu.RLock()
		for path, ent := range sh.entries {
			cands = append(cands, candidate{
				sh:          sh,
				path:        path,
				key:         ent.key,
				gen:         ent.gen,
				tier:        ent.tier,
				size:        ent.size,
				lastAccess:  ent.lastAccessTime(),
				accessCount: ent.accessCount.Load(),
			})
		}
		sh.mu.RUnlock()
	}
	return cands
}

// planTimeouts schedules one-step demotions for entries idle past their
// tier's timeout.
func (e *Engine) planTimeouts(cands []candidate, now time.Time) []sweepJob {
	var jobs []sweepJob
	for _, c := range cands {
		idle := now.Sub(c.lastAccess)
		var to model.Tier
		switch c.tier {
		case model.TierHot:
			if idle < e.opts.DemoteToWarmTimeout {
				continue
			}
			to = model.TierWarm
		case model.TierWarm:
			if idle < e.opts.DemoteToColdTimeout {
				continue
			}
			to = model.TierCold
		case model.TierCold:
			if idle < e.opts.DemoteToFrozenTimeout {
				continue
			}
			to = model.TierFrozen
		default:
			continue
		}
		jobs = append(jobs, sweepJob{
			sh: c.sh, path: c.path, key: c.key, gen: c.gen, from: c.tier, to: to,
			lastAccess: c.lastAccess, accessCount: c.accessCount,
		})
	}
	// Idle-most first, lower access count breaking ties, so a truncated
	// batch still demotes the best candidates.
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].lastAccess.Equal(jobs[j].lastAccess) {
			return jobs[i].lastAccess.Before(jobs[j].lastAccess)
		}
		return jobs[i].accessCount < jobs[j].accessCount
	})
	return jobs
}

// planBudgets schedules LRU demotions out of every tier over its byte
// budget or entry cap, skipping entries already scheduled. Demotion is one
// tier down; for Frozen it is a hard delete.
func (e *Engine) planBudgets(cands []candidate, scheduled []sweepJob) []sweepJob {
	taken := make(map[string]bool, len(scheduled))
	for _, j := range scheduled {
		taken[j.path] = true
	}

	// Group and order each tier's entries LRU-first, lower access count
	// breaking ties among equally idle entries.
	byTier := make([][]candidate, 4)
	bytes := make([]int64, 4)
	for _, c := range cands {
		t := int(c.tier)
		byTier[t] = append(byTier[t], c)
		bytes[t] += c.size
	}

	var jobs []sweepJob
	for t := 0; t < 4; t++ {
		budget := e.opts.budgetFor(t)
		maxEntries := e.opts.maxEntriesFor(t)
		overBytes := budget >= 0 && bytes[t] > budget
		overCount := maxEntries > 0 && len(byTier[t]) > maxEntries
		if !overBytes && !overCount {
			continue
		}
		tier := byTier[t]
		sort.Slice(tier, func(i, j int) bool {
			if !tier[i].lastAccess.Equal(tier[j].lastAccess) {
				return tier[i].lastAccess.Before(tier[j].lastAccess)
			}
			return tier[i].accessCount < tier[j].accessCount
		})
		var over int64
		if overBytes {
			over = bytes[t] - budget
		}
		excess := 0
		if overCount {
			excess = len(tier) - maxEntries
		}
		for _, c := range tier {
			if over <= 0 && excess <= 0 {
				break
			}
			if taken[c.path] {
				continue
			}
			taken[c.path] = true
			over -= c.size
			excess--
			job := sweepJob{
				sh: c.sh, path: c.path, key: c.key, gen: c.gen, from: c.tier,
			}
			if c.tier == model.TierFrozen {
				job.evict = true
			} else {
				job.to = c.tier + 1
			}
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// runJob performs one transition. The expensive work (compression, disk IO)
// happens without holding the shard lock; the result is applied only if the
// entry is still present, unreplaced and in the expected source tier.
func (e *Engine) runJob(ctx context.Context, job sweepJob) error {
	sh := job.sh

	sh.mu.RLock()
	ent := sh.entries[job.path]
	matched := ent != nil && ent.gen == job.gen && ent.tier == job.from
	var payload []byte
	var size int64
	var createdAt time.Time
	if matched {
		payload = ent.payload
		size = ent.size
		createdAt = ent.createdAt
	}
	sh.mu.RUnlock()
	if !matched {
		return nil
	}

	if job.evict {
		sh.mu.Lock()
		cur := sh.entries[job.path]
		if cur == nil || cur.gen != job.gen || cur.tier != job.from {
			sh.mu.Unlock()
			return nil
		}
		delete(sh.entries, job.path)
		sh.mu.Unlock()

		if err := e.store.DeleteEntry(ctx, job.key); err != nil {
			return err
		}
		e.evictions.Add(1)
		e.logger.Debug("evicted entry over budget", "path", job.path, "tier", job.from)
		return nil
	}

	var newPayload []byte
	var newSize int64
	switch {
	case job.from == model.TierHot && job.to == model.TierWarm:
		compressed, err := e.comp.Compress(payload)
		if err != nil {
			return err
		}
		newPayload = compressed
		newSize = int64(len(compressed))

	case job.from == model.TierWarm && job.to == model.TierCold:
		if err := e.ctrl.WaitIO(ctx, len(payload)); err != nil {
			return err
		}
		meta := blobstore.EntryMeta{
			Key:          job.key,
			Tier:         model.TierCold,
			SizeBytes:    int64(len(payload)),
			CreatedAt:    createdAt,
			LastAccessed: ent.lastAccessTime(),
			AccessCount:  ent.accessCount.Load(),
		}
		if err := e.store.WriteEntry(ctx, job.key, payload, meta); err != nil {
			return err
		}
		newPayload = nil
		newSize = int64(len(payload))

	case job.from == model.TierCold && job.to == model.TierFrozen:
		meta := blobstore.EntryMeta{
			Key:          job.key,
			Tier:         model.TierFrozen,
			SizeBytes:    size,
			CreatedAt:    createdAt,
			LastAccessed: ent.lastAccessTime(),
			AccessCount:  ent.accessCount.Load(),
		}
		if err := e.store.UpdateMeta(ctx, job.key, meta); err != nil {
			return err
		}
		newPayload = nil
		newSize = size

	default:
		return nil
	}

	sh.mu.Lock()
	cur := sh.entries[job.path]
	if cur == nil || cur.gen != job.gen || cur.tier != job.from {
		// Replaced or promoted while we worked; discard the result. A
		// blob written for a now-stale generation is cleaned up lazily.
		sh.mu.Unlock()
		if job.to == model.TierCold {
			e.queueBlobDelete(job.key)
		}
		return nil
	}
	cur.tier = job.to
	cur.payload = newPayload
	cur.size = newSize
	sh.mu.Unlock()

	e.demotions.Add(1)
	e.obs.OnTierChange(job.from, job.to)
	e.logger.Debug("demoted entry", "path", job.path, "from", job.from, "to", job.to)
	return nil
}

// flushBlobDeletes performs deferred blob deletions queued by foreground
// operations.
func (e *Engine) flushBlobDeletes(ctx context.Context) {
	e.pendingMu.Lock()
	pending := e.pendingDeletes
	e.pendingDeletes = nil
	e.pendingMu.Unlock()

	for _, key := range pending {
		if err := e.store.DeleteEntry(ctx, key); err != nil {
			e.logger.Warn("blob delete failed", "path", key.Path, "error", err)
		}
	}
}
