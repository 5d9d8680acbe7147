package event

import (
	"container/heap"
	"sync"
)

// Queue is a thread-safe priority queue of pending events, ordered by
// Priority (higher first). Among equal priorities, events are returned in
// the order they were pushed (heap.Push/Pop preserve insertion order only
// loosely, so the queue tags each entry with a sequence number to break
// ties deterministically - see Invariant: last-in policy is acceptable for
// *equal* priority, but within a single pusher's program order FIFO holds).
type Queue struct {
	mu   sync.Mutex
	heap eventHeap
	seq  uint64
}

// NewQueue creates an empty event queue.
func NewQueue() *Queue {
	q := &Queue{}
	heap.Init(&q.heap)
	return q
}

// Push inserts an event into the queue.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.heap, entry{event: e, seq: q.seq})
	q.mu.Unlock()
}

// Len returns the number of events currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	n := q.heap.Len()
	q.mu.Unlock()
	return n
}

// Peek returns the highest-priority event without removing it, and
// whether the queue was non-empty.
func (q *Queue) Peek() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return Event{}, false
	}
	return q.heap[0].event, true
}

// Pop removes and returns the highest-priority event.
func (q *Queue) Pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return Event{}, false
	}
	e := heap.Pop(&q.heap).(entry)
	return e.event, true
}

// PopIfDispatchable pops and returns the top event only if the queue is
// non-empty and either hasCurrent is false or the top event's priority is
// strictly greater than curPriority. This implements the dispatcher's
// poll-and-decide step atomically with respect to
// concurrent Push calls.
func (q *Queue) PopIfDispatchable(curPriority uint8, hasCurrent bool) (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return Event{}, false
	}
	top := q.heap[0].event
	if hasCurrent && top.Priority <= curPriority {
		return Event{}, false
	}
	heap.Pop(&q.heap)
	return top, true
}

// Drain removes and returns every remaining event. Used only at agent
// shutdown; the dispatcher discards what Drain returns.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, 0, q.heap.Len())
	for q.heap.Len() > 0 {
		out = append(out, heap.Pop(&q.heap).(entry).event)
	}
	return out
}

type entry struct {
	event Event
	seq   uint64
}

// eventHeap implements container/heap.Interface ordered by descending
// priority, breaking ties by ascending sequence number (FIFO for equal
// priority within this queue).
type eventHeap []entry

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].event.Priority != h[j].event.Priority {
		return h[i].event.Priority > h[j].event.Priority
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(entry))
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
