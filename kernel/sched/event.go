package sched

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"almos/kernel"
)

// Priority orders events the way el->prio does: lower numbers are
// serviced first. EvtClock mirrors E_CLK (timer ticks), EvtChar mirrors
// E_CHR (the re-send-backoff trampoline's retry priority — deliberately
// lowest, so a backed-off resend never jumps ahead of real work).
type Priority int

const (
	EvtClock Priority = iota
	EvtIPI
	EvtDevice
	EvtFunc
	EvtChar
	priorityCount
)

// Event carries a handler to run on the target CPU, the Go analogue of
// event_s plus its handler/argument pair.
type Event struct {
	Priority Priority
	Handler  func(*Event)
	Arg      any
}

// Listener is a CPU's local event queue (le_listner): one FIFO per
// priority, drained highest-priority-first by Notify. Handlers run with
// the listener unlocked, matching local_event_listner_notify's
// re-enabling of interrupts around the handler call.
type Listener struct {
	mu      sync.Mutex
	queues  [priorityCount][]*Event
	pending bool
}

// Send enqueues ev, prepending when fifo is false (RemoteListener.Drain
// asks for this so drained remote events run ahead of anything already
// queued at their priority), the Go analogue of local_event_send.
func (l *Listener) Send(ev *Event, fifo bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fifo {
		l.queues[ev.Priority] = append(l.queues[ev.Priority], ev)
	} else {
		l.queues[ev.Priority] = append([]*Event{ev}, l.queues[ev.Priority]...)
	}
	l.pending = true
}

// Pending reports whether any event is queued.
func (l *Listener) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

// Notify drains every priority queue from EvtClock to EvtChar, running
// each handler in turn, the Go analogue of local_event_listner_notify.
// A handler that enqueues a higher-priority event makes Notify service
// it before returning to the queue it interrupted, since the scan
// restarts from EvtClock after every event it runs.
func (l *Listener) Notify() {
	for {
		l.mu.Lock()
		if !l.pending {
			l.mu.Unlock()
			return
		}

		var prio Priority = -1
		for p := Priority(0); p < priorityCount; p++ {
			if len(l.queues[p]) != 0 {
				prio = p
				break
			}
		}
		if prio == -1 {
			l.pending = false
			l.mu.Unlock()
			return
		}

		ev := l.queues[prio][0]
		l.queues[prio] = l.queues[prio][1:]
		l.mu.Unlock()

		ev.Handler(ev)
	}
}

// RemoteListener is a CPU's inbound cross-CPU queue (re_listner), the
// Go analogue of the per-priority LFFB ring: golang.org/x/sync/
// semaphore.Weighted reproduces the ring's fixed capacity and
// contention signal (TryAcquire failing where lffb_put would return
// EBUSY) without re-deriving the wridx/rdidx modulo arithmetic, and a
// channel stands in for the ring's backing array as the actual FIFO.
type RemoteListener struct {
	queues [priorityCount]remoteQueue
	// SendIPI notifies the owning CPU's event manager that remote work
	// is waiting, the Go analogue of arch_cpu_send_ipi. Left nil is a
	// valid no-op (tests, or a CPU that polls instead of waking on IPI).
	SendIPI func()
}

type remoteQueue struct {
	sem *semaphore.Weighted
	ch  chan *Event
}

// NewRemoteListener builds a listener whose per-priority ring holds up
// to capacity events, mirroring lffb_init's fixed size argument.
func NewRemoteListener(capacity int, sendIPI func()) *RemoteListener {
	rl := &RemoteListener{SendIPI: sendIPI}
	for p := Priority(0); p < priorityCount; p++ {
		rl.queues[p] = remoteQueue{
			sem: semaphore.NewWeighted(int64(capacity)),
			ch:  make(chan *Event, capacity),
		}
	}
	return rl
}

// Send enqueues ev from another CPU, the Go analogue of
// remote_event_send's lffb_put loop: a full ring reports EBUSY instead
// of blocking, since the caller (or its re-send-backoff trampoline,
// SendTrampoline) is expected to retry rather than stall a remote CPU
// indefinitely.
func (rl *RemoteListener) Send(ev *Event) error {
	q := &rl.queues[ev.Priority]
	if !q.sem.TryAcquire(1) {
		return kernel.NewError("sched", kernel.EBUSY, "remote event ring is full")
	}
	q.ch <- ev

	if ev.Priority < EvtFunc && rl.SendIPI != nil {
		rl.SendIPI()
	}
	return nil
}

// SendTrampoline retries Send against rl up to maxTry times
// (config.RemoteEventMaxTry's bound on the original LFFB's lock-free
// CAS loop), and once it keeps reporting EBUSY, falls back to running
// ev on fallback — the sender's own local listener — at EvtChar
// priority instead, the Go analogue of remote_event_send giving up on
// the remote CPU and servicing the event itself at the priority this
// package's own doc comment on EvtChar reserves for exactly this case,
// so a backed-off resend never jumps ahead of real local work. It
// reports whether the event actually went out remotely (false means
// the trampoline fired); ev is always serviced one way or the other.
func (rl *RemoteListener) SendTrampoline(ev *Event, maxTry int, fallback *Listener) (sentRemote bool, err error) {
	for try := 0; try < maxTry; try++ {
		if err = rl.Send(ev); err == nil {
			return true, nil
		}
	}
	fallback.Send(&Event{Priority: EvtChar, Handler: ev.Handler, Arg: ev.Arg}, true)
	return false, nil
}

// Drain moves every currently queued remote event into local, the Go
// analogue of remote_event_listner_notify: remote events are always
// re-posted as non-FIFO (list_add_first) so they're serviced ahead of
// whatever the local listener already had pending.
func (rl *RemoteListener) Drain(local *Listener) {
	for p := Priority(0); p < priorityCount; p++ {
		q := &rl.queues[p]
	drainQueue:
		for {
			select {
			case ev := <-q.ch:
				q.sem.Release(1)
				local.Send(ev, false)
			default:
				break drainQueue
			}
		}
	}
}

// Manager is a CPU's event-manager thread loop (thread_event_manager):
// on each wake it drains the remote listener into the local one, then
// runs the local listener to completion, then sleeps again.
type Manager struct {
	Local  *Listener
	Remote *RemoteListener
	Wake   chan struct{}

	// MaxTry bounds SendTo's retries against a destination's remote
	// ring, the Go analogue of config.RemoteEventMaxTry.
	MaxTry int
}

// NewManager builds a manager with a single-slot wake channel — an IPI
// coalesces with any already-pending wake, matching how a real IPI
// would set a single pending-interrupt flag rather than queueing one
// per sender. maxTry is the bound SendTo passes to SendTrampoline.
func NewManager(local *Listener, remote *RemoteListener, maxTry int) *Manager {
	return &Manager{Local: local, Remote: remote, Wake: make(chan struct{}, 1), MaxTry: maxTry}
}

// SendTo posts ev to dest on another CPU through the re-send-backoff
// trampoline, falling back to m's own local listener once dest's ring
// keeps refusing it rather than ever blocking this CPU on a remote
// one's contention.
func (m *Manager) SendTo(dest *RemoteListener, ev *Event) (sentRemote bool, err error) {
	return dest.SendTrampoline(ev, m.MaxTry, m.Local)
}

// Notify wakes the manager loop, coalescing with any pending wake.
func (m *Manager) Notify() {
	select {
	case m.Wake <- struct{}{}:
	default:
	}
}

// Run drains and services events until ctx is done, the Go analogue of
// thread_event_manager's infinite loop (sched_sleep/wakeup replaced by
// blocking on a channel instead of the scheduler's own wait queue,
// since the event manager here is a goroutine, not a scheduled thread).
func (m *Manager) Run(ctx context.Context) {
	for {
		m.Remote.Drain(m.Local)
		m.Local.Notify()

		select {
		case <-ctx.Done():
			return
		case <-m.Wake:
		}
	}
}
