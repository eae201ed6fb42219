package recorder

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsemmanuelingwani/sentra-lab/internal/blobstore"
	"github.com/itsemmanuelingwani/sentra-lab/internal/compress"
	"github.com/itsemmanuelingwani/sentra-lab/internal/event"
	"github.com/itsemmanuelingwani/sentra-lab/internal/queue"
)

func TestRecorder_RoundTrip(t *testing.T) {
	// S1: batch_size=3, flush_interval=10ms, 5 events recorded then a
	// single flush. Expect exactly two batches: e1..e3, then e4..e5.
	store, err := blobstore.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	q := queue.New(64)
	rec := New(Config{BatchSize: 3, FlushInterval: 10 * time.Millisecond, CompressionLevel: compress.LevelFast}, q, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec.Start(ctx)

	ids := []string{"e1", "e2", "e3", "e4", "e5"}
	for _, id := range ids {
		rec.Record(event.New(id, "run-1", event.KindDecisionMade, nil))
	}
	rec.Flush()

	require.Eventually(t, func() bool {
		batches, err := store.ListBatches()
		return err == nil && len(batches) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, rec.Shutdown(ctx))

	batches, err := store.ListBatches()
	require.NoError(t, err)
	require.Len(t, batches, 2)

	assert.Equal(t, "batch_00000001", batches[0].BatchID)
	assert.Equal(t, 3, batches[0].EventCount)
	assert.Equal(t, "batch_00000002", batches[1].BatchID)
	assert.Equal(t, 2, batches[1].EventCount)

	first := decodeBatch(t, store, batches[0].BatchID)
	assert.Equal(t, []string{"e1", "e2", "e3"}, eventIDs(first))

	second := decodeBatch(t, store, batches[1].BatchID)
	assert.Equal(t, []string{"e4", "e5"}, eventIDs(second))
}

func decodeBatch(t *testing.T, store *blobstore.Store, batchID string) []event.Event {
	t.Helper()
	compressed, err := store.ReadBatch(batchID)
	require.NoError(t, err)
	raw, err := compress.Decompress(compressed)
	require.NoError(t, err)
	var events []event.Event
	require.NoError(t, json.Unmarshal(raw, &events))
	return events
}

func eventIDs(events []event.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

func TestRecorder_RetainsAndDiscardsOnRepeatedFailure(t *testing.T) {
	store, err := blobstore.Open(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Close()) // closed store makes WriteBatch fail

	q := queue.New(64)
	rec := New(Config{BatchSize: 2, FlushInterval: 5 * time.Millisecond}, q, store, nil)

	for i := 0; i < 4; i++ {
		rec.Record(event.New("e", "run-1", event.KindDecisionMade, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec.drainAndFlush(ctx)
	rec.mu.Lock()
	bufLenAfterFirst := len(rec.buffer)
	rec.mu.Unlock()
	assert.Equal(t, 2, bufLenAfterFirst)

	rec.drainAndFlush(ctx)
	rec.drainAndFlush(ctx)
	rec.mu.Lock()
	failStreak := rec.failStreak
	bufLenAfterThird := len(rec.buffer)
	rec.mu.Unlock()
	assert.Equal(t, 0, failStreak, "streak resets after the oldest half is discarded")
	assert.Less(t, bufLenAfterThird, bufLenAfterFirst)
}
