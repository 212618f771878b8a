// Package barrier is a reusable N-party rendezvous. Grounded on
// kern/barrier.c's barrier_shared_wait: an mcs_lock-protected ticket
// counter that puts every arriver but the last to sleep, has the last
// arriver broadcast a wakeup and reset the counter for the next cycle,
// and hands that last arriver back PTHREAD_BARRIER_SERIAL_THREAD so
// exactly one caller can run the cycle's serial section. The hardware
// (ARCH_HAS_BARRIERS) and private-task (barrier_private_wait) variants
// that same file also implements exist to exploit a physical barrier
// unit or skip a lock for a single-task barrier; neither changes the
// observable contract Wait gives callers, so only the one generic path
// is ported.
package barrier

import (
	"context"
	"sync"

	"almos/kernel"
)

// Barrier is a cyclic rendezvous for a fixed party size.
type Barrier struct {
	mu       sync.Mutex
	count    int
	waiting  int
	released chan struct{} // closed by the arriver that completes a cycle
}

// New builds a Barrier for count parties, the Go analogue of
// barrier_init's shared-scope path (mcs_lock_init, cntr = 0).
func New(count int) (*Barrier, error) {
	if count <= 0 {
		return nil, kernel.NewError("barrier", kernel.EINVAL, "a barrier needs at least one party")
	}
	return &Barrier{count: count, released: make(chan struct{})}, nil
}

// Wait blocks until count calls have reached this cycle's barrier, or
// ctx is done first. It returns serial == true for the single caller
// that completed the cycle (PTHREAD_BARRIER_SERIAL_THREAD), false for
// every other party. The Go analogue of barrier_shared_wait: the
// counter increments under lock, the last arriver resets it to 0 and
// broadcasts, everyone else sleeps on the cycle's release.
func (b *Barrier) Wait(ctx context.Context) (serial bool, err error) {
	b.mu.Lock()
	b.waiting++
	ticket := b.waiting

	if ticket == b.count {
		b.waiting = 0
		released := b.released
		b.released = make(chan struct{})
		b.mu.Unlock()
		close(released)
		return true, nil
	}

	released := b.released
	b.mu.Unlock()

	select {
	case <-released:
		return false, nil
	case <-ctx.Done():
		b.mu.Lock()
		if b.released == released {
			b.waiting--
		}
		b.mu.Unlock()
		return false, ctx.Err()
	}
}

// Count reports the party size this barrier was built for.
func (b *Barrier) Count() int { return b.count }

// Waiting reports how many parties have already arrived in the current
// cycle, the Go analogue of reading barrier->cntr.
func (b *Barrier) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiting
}
