package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestController_WorkerSlots(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 2})
	ctx := context.Background()

	require.NoError(t, c.AcquireWorker(ctx))
	require.True(t, c.TryAcquireWorker())
	require.EqualValues(t, 2, c.InFlight())

	// All slots taken.
	require.False(t, c.TryAcquireWorker())

	c.ReleaseWorker()
	require.EqualValues(t, 1, c.InFlight())
	require.True(t, c.TryAcquireWorker())

	c.ReleaseWorker()
	c.ReleaseWorker()
	require.EqualValues(t, 0, c.InFlight())
}

func TestController_AcquireWorkerHonorsContext(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 1})
	require.True(t, c.TryAcquireWorker())
	defer c.ReleaseWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, c.AcquireWorker(ctx))
}

func TestController_DefaultsToOneWorker(t *testing.T) {
	c := NewController(Config{})
	require.True(t, c.TryAcquireWorker())
	require.False(t, c.TryAcquireWorker())
	c.ReleaseWorker()
}

func TestController_WaitIO(t *testing.T) {
	// Unlimited controller admits anything immediately.
	c := NewController(Config{MaxBackgroundWorkers: 1})
	require.NoError(t, c.WaitIO(context.Background(), 1<<30))

	// A limited controller clamps oversized requests instead of failing.
	limited := NewController(Config{MaxBackgroundWorkers: 1, IOLimitBytesPerSec: 1 << 20})
	require.NoError(t, limited.WaitIO(context.Background(), 1<<10))
	require.NoError(t, limited.WaitIO(context.Background(), 4<<20))

	var nilController *Controller
	require.NoError(t, nilController.WaitIO(context.Background(), 100))
}
