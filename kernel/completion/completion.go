// Package completion gives cross-cluster operations a one-shot result
// signal. kern/thread_migrate.c's th_migrate_info_t.isDone is a
// volatile bool the originator busy-polls via
// `while(info.isDone == false) sched_yield(this)` once it has handed
// the work off to a remote event handler; a Completion replaces that
// spin loop with a channel the remote handler closes exactly once.
package completion

import "context"

// Completion is a single result slot, signaled at most once. The zero
// value is not usable — build one with New.
type Completion struct {
	done chan struct{}
	err  error
}

// New builds an unsignaled completion.
func New() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Signal records err and wakes every waiter, the Go analogue of
// `rinfo->err = err; rinfo->isDone = true`. Calling Signal more than
// once panics — a remote handler only ever runs to completion once per
// request, so a second call means a caller reused a Completion instead
// of building a fresh one.
func (c *Completion) Signal(err error) {
	c.err = err
	close(c.done)
}

// Wait blocks until Signal is called or ctx is done, returning the
// signaled error (nil on success) or ctx.Err() on cancellation. This
// replaces the originator's `while(info.isDone == false) sched_yield
// (this)` loop from thread_migrate/sys_fork/sys_thread_create with a
// blocking receive that costs nothing while idle and composes with a
// deadline or cancellation the original had no way to express.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done reports whether Signal has already been called, without
// blocking.
func (c *Completion) Done() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
