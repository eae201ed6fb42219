package scheduler

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_WorkStealing(t *testing.T) {
	// S5: four workers, submit 1000 tasks; the union of drained tasks
	// equals the submitted set, and at least two workers serve a
	// non-zero share.
	const workers = 4
	const total = 1000

	s := New(workers)

	submitted := make([]Task, total)
	for i := 0; i < total; i++ {
		submitted[i] = Task{ID: fmt.Sprintf("task-%04d", i)}
	}
	s.SubmitBatch(submitted)

	var mu sync.Mutex
	drained := make(map[string]struct{}, total)
	perWorker := make([]int, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				mu.Lock()
				done := len(drained) >= total
				mu.Unlock()
				if done {
					return
				}

				done2 := make(chan Task, 1)
				go func() { done2 <- s.GetTask(id) }()

				select {
				case task := <-done2:
					mu.Lock()
					if _, seen := drained[task.ID]; !seen {
						drained[task.ID] = struct{}{}
						perWorker[id]++
					}
					mu.Unlock()
				case <-time.After(2 * time.Second):
					return
				}
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, drained, total)
	for _, id := range submitted {
		_, ok := drained[id.ID]
		assert.True(t, ok)
	}

	nonZero := 0
	for _, count := range perWorker {
		if count > 0 {
			nonZero++
		}
	}
	assert.GreaterOrEqual(t, nonZero, 2)
}

func TestScheduler_LocalFIFOOrder(t *testing.T) {
	s := New(1)
	s.AssignLocal(0, Task{ID: "first"})
	s.AssignLocal(0, Task{ID: "second"})

	first := s.GetTask(0)
	second := s.GetTask(0)
	assert.Equal(t, "first", first.ID)
	assert.Equal(t, "second", second.ID)
}

func TestScheduler_SubmitWakesWaiter(t *testing.T) {
	s := New(2)

	result := make(chan Task, 1)
	go func() { result <- s.GetTask(0) }()

	time.Sleep(20 * time.Millisecond)
	s.Submit(Task{ID: "woken"})

	select {
	case task := <-result:
		assert.Equal(t, "woken", task.ID)
	case <-time.After(time.Second):
		t.Fatal("GetTask did not return after Submit")
	}
}
