package cstcache

import (
	"github.com/hupe1980/cstcache/blobstore"
	"github.com/hupe1980/cstcache/compress"
	"github.com/hupe1980/cstcache/engine"
)

type options struct {
	storageDir string
	store      blobstore.Store
	compressor compress.Compressor
	logger     *Logger
	metrics    MetricsCollector
	engine     engine.Options
}

func defaultOptions() *options {
	return &options{
		compressor: compress.NewZstd(),
		logger:     NoopLogger(),
		metrics:    NoopMetricsCollector{},
		engine:     engine.DefaultOptions(),
	}
}

// Option configures cache construction.
type Option func(*options)

// WithStorageDir backs the Cold and Frozen tiers with files under dir. The
// directory is created if missing. Ignored when WithStore is also given.
func WithStorageDir(dir string) Option {
	return func(o *options) {
		o.storageDir = dir
	}
}

// WithStore supplies a custom persistence backend for the disk tiers.
func WithStore(store blobstore.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithCompressor selects the compressor for the non-Hot tiers. The default
// is zstd; compress.NewLZ4() trades ratio for speed.
func WithCompressor(c compress.Compressor) Option {
	return func(o *options) {
		if c == nil {
			c = compress.NewZstd()
		}
		o.compressor = c
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector wires a metrics sink for store/get/sweep events.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithEngineOptions tunes tier budgets, promotion thresholds, demotion
// timeouts and sweep scheduling.
//
// Example, a "test mode" with compressed timeouts:
//
//	cstcache.New(ctx, cstcache.WithEngineOptions(func(o *engine.Options) {
//	    o.HotBudgetBytes = 1 << 20
//	    o.DemoteToWarmTimeout = 50 * time.Millisecond
//	    o.SweepInterval = 10 * time.Millisecond
//	}))
func WithEngineOptions(fn func(*engine.Options)) Option {
	return func(o *options) {
		if fn != nil {
			fn(&o.engine)
		}
	}
}
