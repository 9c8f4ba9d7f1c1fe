package cstcache

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/cstcache/model"
)

// MetricsCollector receives operational events. Implement this to integrate
// with monitoring systems like Prometheus; implementations must be safe for
// concurrent use and must not block.
type MetricsCollector interface {
	// RecordStore is called after each store with the encoded stream size.
	RecordStore(duration time.Duration, streamBytes int, err error)

	// RecordGet is called after each lookup; on a hit, tier is the tier
	// the entry was served from.
	RecordGet(tier model.Tier, hit bool, duration time.Duration)

	// RecordTierChange is called for every promotion and demotion.
	RecordTierChange(from, to model.Tier)

	// RecordSweep is called after each background sweep tick.
	RecordSweep(duration time.Duration, demotions, evictions int)
}

// NoopMetricsCollector discards all events. Use this when metrics
// collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordStore(time.Duration, int, error) {}

func (NoopMetricsCollector) RecordGet(model.Tier, bool, time.Duration) {}

func (NoopMetricsCollector) RecordTierChange(model.Tier, model.Tier) {}

func (NoopMetricsCollector) RecordSweep(time.Duration, int, int) {}

// BasicMetricsCollector provides simple in-memory counters, useful for
// debugging and tests without an external metrics system.
type BasicMetricsCollector struct {
	StoreCount      atomic.Int64
	StoreErrors     atomic.Int64
	StoreTotalNanos atomic.Int64
	StoreBytes      atomic.Int64

	GetCount      atomic.Int64
	Hits          atomic.Int64
	Misses        atomic.Int64
	GetTotalNanos atomic.Int64

	Promotions atomic.Int64
	Demotions  atomic.Int64

	SweepCount     atomic.Int64
	SweepEvictions atomic.Int64
}

// RecordStore implements MetricsCollector.
func (m *BasicMetricsCollector) RecordStore(duration time.Duration, streamBytes int, err error) {
	m.StoreCount.Add(1)
	m.StoreTotalNanos.Add(int64(duration))
	m.StoreBytes.Add(int64(streamBytes))
	if err != nil {
		m.StoreErrors.Add(1)
	}
}

// RecordGet implements MetricsCollector.
func (m *BasicMetricsCollector) RecordGet(_ model.Tier, hit bool, duration time.Duration) {
	m.GetCount.Add(1)
	m.GetTotalNanos.Add(int64(duration))
	if hit {
		m.Hits.Add(1)
	} else {
		m.Misses.Add(1)
	}
}

// RecordTierChange implements MetricsCollector. A move to a faster tier is
// a promotion, anything else a demotion.
func (m *BasicMetricsCollector) RecordTierChange(from, to model.Tier) {
	if to < from {
		m.Promotions.Add(1)
	} else {
		m.Demotions.Add(1)
	}
}

// RecordSweep implements MetricsCollector.
func (m *BasicMetricsCollector) RecordSweep(_ time.Duration, _ int, evictions int) {
	m.SweepCount.Add(1)
	m.SweepEvictions.Add(int64(evictions))
}

// collectorObserver adapts a MetricsCollector to the engine's observer
// interface.
type collectorObserver struct {
	c MetricsCollector
}

func (o *collectorObserver) OnStore(duration time.Duration, streamBytes int, err error) {
	o.c.RecordStore(duration, streamBytes, err)
}

func (o *collectorObserver) OnGet(tier model.Tier, hit bool, duration time.Duration) {
	o.c.RecordGet(tier, hit, duration)
}

func (o *collectorObserver) OnTierChange(from, to model.Tier) {
	o.c.RecordTierChange(from, to)
}

func (o *collectorObserver) OnSweep(duration time.Duration, demotions, evictions int) {
	o.c.RecordSweep(duration, demotions, evictions)
}
