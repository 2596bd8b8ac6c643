// Package tickqueue defers items until a logical clock threshold is
// reached. The queue is drained only from the host's per-tick callback;
// it never executes anything itself.
package tickqueue

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value      T
	targetTick int64
	receivedAt time.Time
}

// ExecutionInfo records bookkeeping for the most recent tick-targeted
// execution, used for diagnostics.
type ExecutionInfo struct {
	TargetTick    int64
	ExecutionTick int64
	ReceivedAt    time.Time
	ExecutedAt    time.Time
}

// Queue holds items until the current tick reaches their target. A
// negative target means "run on the next drain". The queue is unbounded;
// an item whose target tick is never reached stays forever. Known risk,
// accepted.
type Queue[T any] struct {
	mu      sync.Mutex
	entries []entry[T]

	lastExec ExecutionInfo
	hasExec  bool

	now func() time.Time
}

func New[T any]() *Queue[T] {
	return &Queue[T]{now: time.Now}
}

// Push enqueues v to run once the clock reaches targetTick, or on the
// next drain when targetTick is negative.
func (q *Queue[T]) Push(v T, targetTick int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry[T]{value: v, targetTick: targetTick, receivedAt: q.now()})
}

// Len reports how many items are still waiting.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Drain removes and returns every item whose target tick has been
// reached, in arrival order. Items still pending stay queued. Items with
// an explicit target update the last-execution bookkeeping.
func (q *Queue[T]) Drain(currentTick int64) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []T
	var pending []entry[T]
	for _, e := range q.entries {
		if e.targetTick < 0 || currentTick >= e.targetTick {
			if e.targetTick >= 0 {
				q.lastExec = ExecutionInfo{
					TargetTick:    e.targetTick,
					ExecutionTick: currentTick,
					ReceivedAt:    e.receivedAt,
					ExecutedAt:    q.now(),
				}
				q.hasExec = true
			}
			ready = append(ready, e.value)
		} else {
			pending = append(pending, e)
		}
	}
	q.entries = pending
	return ready
}

// LastExecution returns diagnostics for the most recent tick-targeted
// execution, if any has happened.
func (q *Queue[T]) LastExecution() (ExecutionInfo, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastExec, q.hasExec
}
