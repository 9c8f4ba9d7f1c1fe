package engine

import (
	"time"

	"github.com/hupe1980/cstcache/model"
)

// MetricsObserver receives engine events. Implementations must be safe for
// concurrent use and must not block; slow sinks should buffer internally.
type MetricsObserver interface {
	// OnStore is called after each store, with the encoded stream size.
	OnStore(duration time.Duration, streamBytes int, err error)

	// OnGet is called after each lookup. On a hit, tier is the tier the
	// entry was served from.
	OnGet(tier model.Tier, hit bool, duration time.Duration)

	// OnTierChange is called for every promotion or demotion.
	OnTierChange(from, to model.Tier)

	// OnSweep is called after each sweep tick.
	OnSweep(duration time.Duration, demotions, evictions int)
}

// NoopMetricsObserver discards all events.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnStore(time.Duration, int, error) {}

func (NoopMetricsObserver) OnGet(model.Tier, bool, time.Duration) {}

func (NoopMetricsObserver) OnTierChange(model.Tier, model.Tier) {}

func (NoopMetricsObserver) OnSweep(time.Duration, int, int) {}
