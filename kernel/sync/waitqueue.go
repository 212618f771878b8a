package sync

import stdsync "sync"

// WaitQueue is a FIFO queue of blocked callers, the Go-native
// replacement for ALMOS's wait_queue_s + wait_on/wakeup_one/wakeup_all
// (see original_source kern/dqdt.c's dqdt_task_queue for a representative
// use). A blocked caller calls Enqueue to obtain a Waiter and then
// blocks on Waiter.Wait(); wakeup_one releases the queue's head,
// wakeup_all releases everyone.
type WaitQueue struct {
	mu stdsync.Mutex
	q  []*Waiter
}

// Waiter is a single caller's slot on a WaitQueue.
type Waiter struct {
	ch chan struct{}
}

// Wait blocks until this waiter is released by WakeOne or WakeAll.
func (w *Waiter) Wait() {
	<-w.ch
}

// Enqueue registers the caller on the queue. front corresponds to
// ALMOS's WAIT_FIRST (true) vs WAIT_LAST (false) insertion order.
func (q *WaitQueue) Enqueue(front bool) *Waiter {
	q.mu.Lock()
	defer q.mu.Unlock()

	w := &Waiter{ch: make(chan struct{})}
	if front {
		q.q = append([]*Waiter{w}, q.q...)
	} else {
		q.q = append(q.q, w)
	}
	return w
}

// WakeOne releases the queue's head waiter, if any, and reports whether
// one was released.
func (q *WaitQueue) WakeOne() bool {
	q.mu.Lock()
	if len(q.q) == 0 {
		q.mu.Unlock()
		return false
	}
	w := q.q[0]
	q.q = q.q[1:]
	q.mu.Unlock()

	close(w.ch)
	return true
}

// WakeAll releases every waiter currently on the queue.
func (q *WaitQueue) WakeAll() {
	q.mu.Lock()
	waiters := q.q
	q.q = nil
	q.mu.Unlock()

	for _, w := range waiters {
		close(w.ch)
	}
}

// Len reports the number of callers currently blocked on the queue.
func (q *WaitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.q)
}
