// Package resource bounds the background work the cache performs: a worker
// slot semaphore for sweep jobs and an optional throughput limit on disk
// tier traffic.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits for background cache maintenance.
type Config struct {
	// MaxBackgroundWorkers is the maximum number of concurrent demotion,
	// compression and flush jobs. If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec caps disk throughput of Cold/Frozen traffic.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller hands out background worker slots and meters disk IO so a
// sweep never monopolizes the machine under foreground load.
type Controller struct {
	workers  *semaphore.Weighted
	ioLimit  *rate.Limiter
	inFlight atomic.Int64
}

// NewController creates a controller from cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		workers: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimit = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// AcquireWorker reserves a background worker slot, blocking until one is
// free or ctx is canceled.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if err := c.workers.Acquire(ctx, 1); err != nil {
		return err
	}
	c.inFlight.Add(1)
	return nil
}

// TryAcquireWorker reserves a slot without blocking.
func (c *Controller) TryAcquireWorker() bool {
	if !c.workers.TryAcquire(1) {
		return false
	}
	c.inFlight.Add(1)
	return true
}

// ReleaseWorker returns a slot taken by AcquireWorker or TryAcquireWorker.
func (c *Controller) ReleaseWorker() {
	c.inFlight.Add(-1)
	c.workers.Release(1)
}

// InFlight returns the number of background jobs currently holding a slot.
func (c *Controller) InFlight() int64 {
	return c.inFlight.Load()
}

// WaitIO blocks until the throughput limit admits n more bytes of disk
// traffic. Without a configured limit it admits immediately.
func (c *Controller) WaitIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimit == nil || n <= 0 {
		return nil
	}
	// WaitN rejects bursts larger than the limiter allows; clamp so a
	// single oversized payload degrades to a full-burst wait instead of
	// an error.
	if burst := c.ioLimit.Burst(); n > burst {
		n = burst
	}
	return c.ioLimit.WaitN(ctx, n)
}
