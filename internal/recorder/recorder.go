// Package recorder owns the Ring Queue and a single drain task that
// batches, compresses, and persists events to the Blob Store.
package recorder

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itsemmanuelingwani/sentra-lab/internal/blobstore"
	"github.com/itsemmanuelingwani/sentra-lab/internal/compress"
	"github.com/itsemmanuelingwani/sentra-lab/internal/event"
	"github.com/itsemmanuelingwani/sentra-lab/internal/logging"
	"github.com/itsemmanuelingwani/sentra-lab/internal/queue"
	"github.com/itsemmanuelingwani/sentra-lab/internal/simerrors"
)

// drainState names the drain task's three states.
type drainState int

const (
	stateIdle drainState = iota
	stateDraining
	stateFlushing
)

// Config configures batching, flush cadence, and compression.
type Config struct {
	BatchSize        int
	FlushInterval    time.Duration
	CompressionLevel compress.Level
	MaxQueueSize     int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.CompressionLevel == "" {
		c.CompressionLevel = compress.LevelFast
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1_000_000
	}
	return c
}

// Stats is an eventually-consistent snapshot of recorder-level counters,
// layered on top of the ring queue's own Stats.
type Stats struct {
	queue.Stats
	BatchesFlushed   int64
	ConsecutiveFails int
}

// Recorder drives the ring queue with a single background drain task.
type Recorder struct {
	cfg    Config
	q      *queue.Queue
	store  *blobstore.Store
	logger *logging.Logger

	flushCh chan struct{}
	done    chan struct{}

	mu             sync.Mutex
	buffer         []event.Event
	batchesFlushed int64
	failStreak     int

	eg *errgroup.Group
}

// New constructs a Recorder over an existing ring queue and blob store.
func New(cfg Config, q *queue.Queue, store *blobstore.Store, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Recorder{
		cfg:     cfg.withDefaults(),
		q:       q,
		store:   store,
		logger:  logger,
		flushCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Record pushes ev onto the ring queue. It never blocks.
func (r *Recorder) Record(ev event.Event) {
	if ok, _ := r.q.Push(ev); !ok {
		r.logger.Warn(context.Background(), "ring queue full, event dropped", map[string]interface{}{
			"run_id": ev.RunID, "kind": string(ev.Kind),
		})
	}
}

// Flush signals the drain task to emit any partial batch as soon as
// possible. It does not wait for the flush to complete.
func (r *Recorder) Flush() {
	select {
	case r.flushCh <- struct{}{}:
	default:
	}
}

// Start launches the drain task loop under an errgroup tied to ctx.
func (r *Recorder) Start(ctx context.Context) {
	group, gctx := errgroup.WithContext(ctx)
	r.eg = group
	group.Go(func() error {
		r.drainLoop(gctx)
		return nil
	})
}

// Shutdown requests a final flush, stops the drain task, and waits for it
// to finish draining and flushing whatever remains.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.Flush()
	close(r.done)
	if r.eg == nil {
		return nil
	}
	return r.eg.Wait()
}

func (r *Recorder) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			// Flush batch after batch until the queue is empty or a flush fails.
			for {
				r.drainAndFlush(ctx)
				r.mu.Lock()
				retained := len(r.buffer)
				r.mu.Unlock()
				if retained > 0 || r.q.Stats().CurrentSize == 0 {
					return
				}
			}
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drainAndFlush(ctx)
		case <-r.flushCh:
			r.drainAndFlush(ctx)
		}
	}
}

// drainAndFlush walks Draining -> Flushing -> Idle exactly once: pulls
// events out of the ring queue into the working buffer up to batch_size
// (or until the queue runs dry), then flushes whatever was collected.
func (r *Recorder) drainAndFlush(ctx context.Context) {
	r.mu.Lock()
	for len(r.buffer) < r.cfg.BatchSize {
		ev, ok := r.q.TryPop()
		if !ok {
			break
		}
		r.buffer = append(r.buffer, ev)
	}
	batch := r.buffer
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := r.flushBatch(ctx, batch); err != nil {
		r.handleFlushFailure(err)
		return
	}

	r.mu.Lock()
	r.batchesFlushed++
	r.failStreak = 0
	r.buffer = nil
	r.mu.Unlock()
}

func (r *Recorder) flushBatch(ctx context.Context, batch []event.Event) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return simerrors.RecordingFailed("failed to serialize batch").WithDetails("cause", err.Error())
	}

	compressed, err := compress.Compress(raw, r.cfg.CompressionLevel)
	if err != nil {
		return err
	}

	batchID, err := r.store.WriteBatch(compressed, len(batch))
	if err != nil {
		return err
	}

	r.logger.LogBatchFlush(ctx, batchID, len(batch), len(compressed), nil)
	return nil
}

// handleFlushFailure retains the buffer for retry on the next tick; after
// three consecutive failures the oldest half is discarded so the recorder
// keeps making progress instead of growing without bound. Discarded events
// are not added to the queue's drop counter or to any recorder counter.
func (r *Recorder) handleFlushFailure(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failStreak++
	r.logger.Warn(context.Background(), "batch flush failed", map[string]interface{}{
		"cause": cause.Error(), "consecutive_failures": r.failStreak, "retained_events": len(r.buffer),
	})

	if r.failStreak >= 3 && len(r.buffer) > 0 {
		half := len(r.buffer) / 2
		if half == 0 {
			half = 1
		}
		r.buffer = r.buffer[half:]
		r.failStreak = 0
	}
}

// Stats reports the underlying queue stats plus recorder-level counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Stats:            r.q.Stats(),
		BatchesFlushed:   r.batchesFlushed,
		ConsecutiveFails: r.failStreak,
	}
}
