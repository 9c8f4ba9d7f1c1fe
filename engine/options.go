package engine

import (
	"time"

	"github.com/hupe1980/cstcache/bytecode"
)

// Options configures tier budgets, promotion/demotion policy and sweep
// scheduling. Thresholds and timeouts are policy, not semantics: tests and
// latency-sensitive embedders are expected to tighten them.
type Options struct {
	// Per-tier byte budgets. After a sweep settles, resident bytes in a
	// tier never exceed its budget. Zero means the default, negative
	// means unlimited.
	HotBudgetBytes    int64
	WarmBudgetBytes   int64
	ColdBudgetBytes   int64
	FrozenBudgetBytes int64

	// Per-tier entry caps, enforced alongside the byte budgets. Zero
	// means uncapped.
	HotMaxEntries    int
	WarmMaxEntries   int
	ColdMaxEntries   int
	FrozenMaxEntries int

	// PromoteToWarmThreshold is the access count at which a Cold or
	// Frozen hit is promoted into memory.
	PromoteToWarmThreshold uint32
	// PromoteToHotThreshold is the access count at which a Warm hit is
	// promoted to Hot.
	PromoteToHotThreshold uint32

	// Idle timeouts driving sweep demotions, one per transition.
	DemoteToWarmTimeout   time.Duration
	DemoteToColdTimeout   time.Duration
	DemoteToFrozenTimeout time.Duration

	// SweepInterval is the background sweep period. SweepBatch bounds how
	// many tier transitions a single tick performs so a sweep never
	// starves foreground calls.
	SweepInterval time.Duration
	SweepBatch    int

	// NumShards is the number of independent entry map shards.
	NumShards int

	// MaxBackgroundWorkers bounds concurrent sweep jobs;
	// IOLimitBytesPerSec caps background disk throughput (0 = unlimited).
	MaxBackgroundWorkers int64
	IOLimitBytesPerSec   int64

	// CheckpointInterval is the encoder checkpoint spacing in nodes.
	CheckpointInterval int
}

// DefaultOptions returns production defaults: generous budgets, the
// conventional 2/3 promotion thresholds and 5m/15m/1h idle timeouts.
func DefaultOptions() Options {
	return Options{
		HotBudgetBytes:    64 << 20,
		WarmBudgetBytes:   128 << 20,
		ColdBudgetBytes:   512 << 20,
		FrozenBudgetBytes: 2 << 30,

		PromoteToWarmThreshold: 2,
		PromoteToHotThreshold:  3,

		DemoteToWarmTimeout:   5 * time.Minute,
		DemoteToColdTimeout:   15 * time.Minute,
		DemoteToFrozenTimeout: time.Hour,

		SweepInterval: time.Second,
		SweepBatch:    32,

		NumShards: 16,

		MaxBackgroundWorkers: 4,

		CheckpointInterval: bytecode.DefaultCheckpointInterval,
	}
}

// normalized fills zero values with defaults and clamps nonsense.
func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.HotBudgetBytes == 0 {
		o.HotBudgetBytes = def.HotBudgetBytes
	}
	if o.WarmBudgetBytes == 0 {
		o.WarmBudgetBytes = def.WarmBudgetBytes
	}
	if o.ColdBudgetBytes == 0 {
		o.ColdBudgetBytes = def.ColdBudgetBytes
	}
	if o.FrozenBudgetBytes == 0 {
		o.FrozenBudgetBytes = def.FrozenBudgetBytes
	}
	if o.PromoteToWarmThreshold == 0 {
		o.PromoteToWarmThreshold = def.PromoteToWarmThreshold
	}
	if o.PromoteToHotThreshold == 0 {
		o.PromoteToHotThreshold = def.PromoteToHotThreshold
	}
	if o.PromoteToHotThreshold < o.PromoteToWarmThreshold {
		o.PromoteToHotThreshold = o.PromoteToWarmThreshold
	}
	if o.DemoteToWarmTimeout <= 0 {
		o.DemoteToWarmTimeout = def.DemoteToWarmTimeout
	}
	if o.DemoteToColdTimeout <= 0 {
		o.DemoteToColdTimeout = def.DemoteToColdTimeout
	}
	if o.DemoteToFrozenTimeout <= 0 {
		o.DemoteToFrozenTimeout = def.DemoteToFrozenTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = def.SweepInterval
	}
	if o.SweepBatch <= 0 {
		o.SweepBatch = def.SweepBatch
	}
	if o.NumShards <= 0 {
		o.NumShards = def.NumShards
	}
	if o.MaxBackgroundWorkers <= 0 {
		o.MaxBackgroundWorkers = def.MaxBackgroundWorkers
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = def.CheckpointInterval
	}
	return o
}

// budgetFor returns the byte budget for a tier index (model.Tier order).
func (o Options) budgetFor(tier int) int64 {
	switch tier {
	case 0:
		return o.HotBudgetBytes
	case 1:
		return o.WarmBudgetBytes
	case 2:
		return o.ColdBudgetBytes
	default:
		return o.FrozenBudgetBytes
	}
}

// maxEntriesFor returns the entry cap for a tier index, 0 meaning uncapped.
func (o Options) maxEntriesFor(tier int) int {
	switch tier {
	case 0:
		return o.HotMaxEntries
	case 1:
		return o.WarmMaxEntries
	case 2:
		return o.ColdMaxEntries
	default:
		return o.FrozenMaxEntries
	}
}
