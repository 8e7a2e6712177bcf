package signaling

import "sync"

// Executor runs callbacks on a single designated execution context, such
// as a UI main loop. Implementations must run functions one at a time and
// in the order Execute was called.
type Executor interface {
	Execute(fn func())
}

// serialQueue is the default Executor. Functions are appended to an
// unbounded queue and drained by at most one goroutine at a time, so
// producers never block on slow subscribers. The draining goroutine exits
// as soon as the queue is empty.
type serialQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
	idle    *sync.Cond
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{}
	q.idle = sync.NewCond(&q.mu)
	return q
}

func (q *serialQueue) Execute(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.drain()
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}

// flush blocks until every function queued so far has run.
func (q *serialQueue) flush() {
	q.mu.Lock()
	for q.running {
		q.idle.Wait()
	}
	q.mu.Unlock()
}
