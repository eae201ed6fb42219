package agentpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsemmanuelingwani/sentra-lab/internal/agent"
	"github.com/itsemmanuelingwani/sentra-lab/internal/procmanager"
	"github.com/itsemmanuelingwani/sentra-lab/internal/sandbox"
)

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	procs := procmanager.New(nil)
	sb := sandbox.New(nil)

	factory := func(ctx context.Context, kind procmanager.Kind) (*agent.Runtime, error) {
		return agent.New(ctx, agent.Config{Kind: kind, ExecuteTimeout: 5 * time.Second}, procs, sb, nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := New(ctx, size, []procmanager.Kind{procmanager.KindScriptB}, factory, nil)
	if err != nil {
		t.Skipf("node not available on PATH in this environment: %v", err)
	}
	t.Cleanup(func() { pool.Shutdown(context.Background()) })
	return pool
}

func TestPool_AcquireReleaseInvariant(t *testing.T) {
	pool := newTestPool(t, 3)

	stats := pool.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Available)
	assert.Equal(t, 0, stats.Busy)

	rt, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	stats = pool.Stats()
	assert.Equal(t, 2, stats.Available)
	assert.Equal(t, 1, stats.Busy)
	assert.LessOrEqual(t, stats.Available+stats.Busy, stats.Total)

	pool.Release(context.Background(), rt)

	stats = pool.Stats()
	assert.Equal(t, 3, stats.Available)
	assert.Equal(t, 0, stats.Busy)
}

func TestPool_AcquireBlocksWhenExhausted(t *testing.T) {
	pool := newTestPool(t, 1)

	rt, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.Error(t, err, "acquire should block until the single permit is released")

	pool.Release(context.Background(), rt)
}

func TestPool_ConcurrentAcquireRelease(t *testing.T) {
	pool := newTestPool(t, 4)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt, err := pool.Acquire(context.Background())
			if err != nil {
				return
			}
			pool.Release(context.Background(), rt)
		}()
	}
	wg.Wait()

	stats := pool.Stats()
	assert.Equal(t, stats.Total, stats.Available)
	assert.Equal(t, 0, stats.Busy)
}
