package runner

import "sync"

// runQueue is the FIFO of submitted runs waiting for a worker.
type runQueue struct {
	pending []*entry
	mu      sync.Mutex
	cond    *sync.Cond
	closed  bool
}

func newRunQueue() *runQueue {
	q := &runQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends e and wakes one worker. It reports false once the queue is
// closed.
func (q *runQueue) Enqueue(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.pending = append(q.pending, e)
	q.cond.Signal()
	return true
}

// Dequeue blocks until a run is available or the queue is closed.
func (q *runQueue) Dequeue() (*entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.pending) == 0 {
		return nil, false
	}

	e := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return e, true
}

// Close stops the queue and returns the runs that never reached a worker.
func (q *runQueue) Close() []*entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	rest := q.pending
	q.pending = nil
	q.cond.Broadcast()
	return rest
}

func (q *runQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
