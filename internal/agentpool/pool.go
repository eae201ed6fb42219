// Package agentpool holds a fixed collection of Agent Runtimes and
// enforces fair acquisition with a counting semaphore.
package agentpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/itsemmanuelingwani/sentra-lab/internal/agent"
	"github.com/itsemmanuelingwani/sentra-lab/internal/logging"
	"github.com/itsemmanuelingwani/sentra-lab/internal/procmanager"
	"github.com/itsemmanuelingwani/sentra-lab/internal/simerrors"
)

// Factory builds a fresh Agent Runtime of the given kind, used both at
// pool construction and by the background replenisher.
type Factory func(ctx context.Context, kind procmanager.Kind) (*agent.Runtime, error)

// Stats summarizes pool occupancy.
type Stats struct {
	Total          int
	Available      int
	Busy           int
	MaxConcurrent  int
}

// Pool is a fixed-size set of Agent Runtimes split across interpreter kinds.
type Pool struct {
	sem *semaphore.Weighted

	mu        sync.Mutex
	available []*agent.Runtime
	total     int
	busy      int
	maxBusy   int

	factory Factory
	logger  *logging.Logger

	retired chan procmanager.Kind
	closed  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a pool of the given size, spawning size runtimes split
// evenly across kinds via factory.
func New(ctx context.Context, size int, kinds []procmanager.Kind, factory Factory, logger *logging.Logger) (*Pool, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if size <= 0 {
		size = 64
	}
	if len(kinds) == 0 {
		kinds = []procmanager.Kind{procmanager.KindScriptA, procmanager.KindScriptB}
	}

	p := &Pool{
		sem:     semaphore.NewWeighted(int64(size)),
		factory: factory,
		logger:  logger,
		retired: make(chan procmanager.Kind, size),
		closed:  make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		kind := kinds[i%len(kinds)]
		rt, err := factory(ctx, kind)
		if err != nil {
			return nil, simerrors.PoolExhausted("failed to populate agent pool").WithDetails("cause", err.Error())
		}
		p.available = append(p.available, rt)
		p.total++
	}

	p.wg.Add(1)
	go p.replenish(ctx)

	return p, nil
}

// Acquire awaits a semaphore permit, pops a runtime from the available
// set, and returns it. The permit is held across the borrowing period.
func (p *Pool) Acquire(ctx context.Context) (*agent.Runtime, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, simerrors.PoolExhausted("failed to acquire pool permit").WithDetails("cause", err.Error())
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.available) == 0 {
		p.sem.Release(1)
		return nil, simerrors.PoolExhausted("semaphore admitted a caller but the available set is empty")
	}

	n := len(p.available)
	rt := p.available[n-1]
	p.available = p.available[:n-1]
	p.busy++
	if p.busy > p.maxBusy {
		p.maxBusy = p.busy
	}
	return rt, nil
}

// Release resets the runtime and returns it to the available set on
// success. On reset failure the runtime is retired and, per the deferred
// replenisher (§4.15), queued for eager replacement; the permit is
// released either way.
func (p *Pool) Release(ctx context.Context, rt *agent.Runtime) {
	err := rt.Reset(ctx)

	p.mu.Lock()
	p.busy--
	if err == nil {
		p.available = append(p.available, rt)
	} else {
		p.total--
		p.logger.LogAgentLifecycle(ctx, 0, string(rt.Kind()), "retired-after-reset-failure", err)
		select {
		case p.retired <- rt.Kind():
		default:
		}
	}
	p.mu.Unlock()

	p.sem.Release(1)
}

// replenish drains the retired channel and spawns a same-kind replacement
// for each retirement, re-growing the available set.
func (p *Pool) replenish(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-p.closed:
			return
		case kind := <-p.retired:
			rt, err := p.factory(ctx, kind)
			if err != nil {
				p.logger.Warn(ctx, "replenisher failed to spawn replacement agent", map[string]interface{}{
					"kind": string(kind), "cause": err.Error(),
				})
				continue
			}
			p.mu.Lock()
			p.available = append(p.available, rt)
			p.total++
			p.mu.Unlock()
			p.logger.LogAgentLifecycle(ctx, 0, string(kind), "replenished", nil)
		}
	}
}

// Stats reports total, available, busy, and max-concurrent-busy counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Total:         p.total,
		Available:     len(p.available),
		Busy:          p.busy,
		MaxConcurrent: p.maxBusy,
	}
}

// Shutdown stops the replenisher and shuts down every runtime still held
// in the available set.
func (p *Pool) Shutdown(ctx context.Context) {
	close(p.closed)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rt := range p.available {
		rt.Shutdown(ctx)
	}
	p.available = nil
}
