// Package queue implements the bounded MPMC ring queue that event
// instrumentation points push into. The fast path never blocks and never
// takes a lock: each slot carries its own sequence number so producers and
// consumers can claim slots with a single CAS, following the classic
// bounded MPMC ring buffer construction.
package queue

import (
	"sync/atomic"

	"github.com/itsemmanuelingwani/sentra-lab/internal/event"
)

// DefaultCapacity is the queue capacity used when none is supplied.
const DefaultCapacity = 1 << 20

type slot struct {
	seq  uint64
	item event.Event
}

// Queue is a bounded multi-producer multi-consumer FIFO of events.
type Queue struct {
	mask uint64

	enqueuePos uint64
	_          [7]uint64 // pad to keep producer/consumer cursors on separate cache lines
	dequeuePos uint64

	pushes  uint64
	pops    uint64
	drops   uint64

	buf []slot
}

// New constructs a Queue with the given capacity, rounded up to the next
// power of two so index masking works. A capacity below 2 is replaced by
// DefaultCapacity.
func New(capacity int) *Queue {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	n := nextPow2(uint64(capacity))
	q := &Queue{
		mask: n - 1,
		buf:  make([]slot, n),
	}
	for i := range q.buf {
		q.buf[i].seq = uint64(i)
	}
	return q
}

func nextPow2(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	if v < 2 {
		v = 2
	}
	return v
}

// Push inserts ev into the queue. It never blocks: on a full queue it
// returns ev back to the caller as dropped.
func (q *Queue) Push(ev event.Event) (ok bool, dropped event.Event) {
	pos := atomic.LoadUint64(&q.enqueuePos)
	for {
		s := &q.buf[pos&q.mask]
		seq := atomic.LoadUint64(&s.seq)
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&q.enqueuePos, pos, pos+1) {
				s.item = ev
				atomic.StoreUint64(&s.seq, pos+1)
				atomic.AddUint64(&q.pushes, 1)
				return true, event.Event{}
			}
			pos = atomic.LoadUint64(&q.enqueuePos)
		case diff < 0:
			// Queue is full: every slot is still owned by a pending consumer.
			atomic.AddUint64(&q.drops, 1)
			return false, ev
		default:
			pos = atomic.LoadUint64(&q.enqueuePos)
		}
	}
}

// TryPop removes and returns the oldest event, or false if the queue is empty.
func (q *Queue) TryPop() (event.Event, bool) {
	pos := atomic.LoadUint64(&q.dequeuePos)
	for {
		s := &q.buf[pos&q.mask]
		seq := atomic.LoadUint64(&s.seq)
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&q.dequeuePos, pos, pos+1) {
				ev := s.item
				atomic.StoreUint64(&s.seq, pos+q.mask+1)
				atomic.AddUint64(&q.pops, 1)
				return ev, true
			}
			pos = atomic.LoadUint64(&q.dequeuePos)
		case diff < 0:
			return event.Event{}, false
		default:
			pos = atomic.LoadUint64(&q.dequeuePos)
		}
	}
}

// Stats is an eventually-consistent snapshot of queue counters.
type Stats struct {
	Pushes      uint64
	Pops        uint64
	Drops       uint64
	CurrentSize int64
	Capacity    int
}

// Stats snapshots the queue's counters. Individual counters are monotone;
// the snapshot as a whole need only be eventually consistent.
func (q *Queue) Stats() Stats {
	pushes := atomic.LoadUint64(&q.pushes)
	pops := atomic.LoadUint64(&q.pops)
	drops := atomic.LoadUint64(&q.drops)
	enq := atomic.LoadUint64(&q.enqueuePos)
	deq := atomic.LoadUint64(&q.dequeuePos)
	return Stats{
		Pushes:      pushes,
		Pops:        pops,
		Drops:       drops,
		CurrentSize: int64(enq - deq),
		Capacity:    len(q.buf),
	}
}

// Capacity returns the queue's fixed slot count (a power of two).
func (q *Queue) Capacity() int {
	return len(q.buf)
}
