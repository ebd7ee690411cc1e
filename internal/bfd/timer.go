package bfd

import (
	"container/heap"
	"time"
)

// TimerKind selects one of the two timers every session owns.
type TimerKind uint8

const (
	// TimerTransmit drives periodic Control packet transmission
	// (RFC 5880 Section 6.8.7).
	TimerTransmit TimerKind = iota

	// TimerDetect fires when no valid packet arrived within the detection
	// time (RFC 5880 Section 6.8.4).
	TimerDetect
)

// String returns the name of the timer kind.
func (k TimerKind) String() string {
	switch k {
	case TimerTransmit:
		return "transmit"
	case TimerDetect:
		return "detect"
	default:
		return "unknown"
	}
}

// timerKey identifies one timer. Timers reference sessions by SessionID,
// never by pointer, so a timer outliving its session resolves to nothing.
type timerKey struct {
	id   SessionID
	kind TimerKind
}

// Expiry is one fired timer returned by TimerQueue.Expire.
type Expiry struct {
	ID       SessionID
	Kind     TimerKind
	Deadline time.Time
}

type timerEntry struct {
	key      timerKey
	deadline time.Time
	seq      uint64
	index    int
}

// timerHeap orders entries by deadline, then by arm order.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry) //nolint:forcetypeassert // heap only holds *timerEntry
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TimerQueue holds every session timer in a single deadline heap.
//
// It is not safe for concurrent use: the Engine loop goroutine is its only
// caller. Time is passed in explicitly, so the queue itself never reads a
// clock and unit tests drive it deterministically.
//
// Arm, Cancel and CancelAll are idempotent. A cancelled or rearmed entry is
// removed from the heap immediately, so a cancelled timer can never be
// returned by Expire.
type TimerQueue struct {
	heap    timerHeap
	entries map[timerKey]*timerEntry
	seq     uint64
}

// NewTimerQueue creates an empty TimerQueue.
func NewTimerQueue() *TimerQueue {
	return &TimerQueue{
		entries: make(map[timerKey]*timerEntry),
	}
}

// Arm sets the timer (id, kind) to fire at deadline, replacing any
// previous deadline for the same timer.
func (q *TimerQueue) Arm(id SessionID, kind TimerKind, deadline time.Time) {
	key := timerKey{id: id, kind: kind}
	q.seq++

	if e, ok := q.entries[key]; ok {
		e.deadline = deadline
		e.seq = q.seq
		heap.Fix(&q.heap, e.index)
		return
	}

	e := &timerEntry{key: key, deadline: deadline, seq: q.seq}
	heap.Push(&q.heap, e)
	q.entries[key] = e
}

// Cancel disarms the timer (id, kind). Cancelling a disarmed timer is a
// no-op.
func (q *TimerQueue) Cancel(id SessionID, kind TimerKind) {
	key := timerKey{id: id, kind: kind}
	e, ok := q.entries[key]
	if !ok {
		return
	}
	heap.Remove(&q.heap, e.index)
	delete(q.entries, key)
}

// CancelAll disarms both timers of a session.
func (q *TimerQueue) CancelAll(id SessionID) {
	q.Cancel(id, TimerTransmit)
	q.Cancel(id, TimerDetect)
}

// Deadline returns the deadline of (id, kind) and whether it is armed.
func (q *TimerQueue) Deadline(id SessionID, kind TimerKind) (time.Time, bool) {
	e, ok := q.entries[timerKey{id: id, kind: kind}]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Next returns the soonest deadline, or false when nothing is armed.
func (q *TimerQueue) Next() (time.Time, bool) {
	if len(q.heap) == 0 {
		return time.Time{}, false
	}
	return q.heap[0].deadline, true
}

// Len returns the number of armed timers.
func (q *TimerQueue) Len() int { return len(q.heap) }

// Expire removes every timer whose deadline is at or before now and
// appends it to dst in deadline order. A timer is due at exactly its
// deadline, not one tick later.
func (q *TimerQueue) Expire(now time.Time, dst []Expiry) []Expiry {
	for len(q.heap) > 0 && !q.heap[0].deadline.After(now) {
		e := heap.Pop(&q.heap).(*timerEntry) //nolint:forcetypeassert // heap only holds *timerEntry
		delete(q.entries, e.key)
		dst = append(dst, Expiry{ID: e.key.id, Kind: e.key.kind, Deadline: e.deadline})
	}
	return dst
}
