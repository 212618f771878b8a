// Package sched implements the per-CPU cooperative round-robin
// scheduler: a single ready queue per cluster.CPU, kernel threads
// prepended ahead of user threads, a fixed quantum ticked down by the
// timer interrupt. It is the Go analogue of kern/rr-sched.c — the only
// scheduling strategy ALMOS ships, so there is no sched_ops_s vtable
// here, just the one policy's methods.
package sched

import (
	"sync"
	"sync/atomic"

	"almos/kernel/cluster"
)

// Kind distinguishes kernel threads (service/event-manager threads,
// always given queue priority) from user threads and the per-CPU idle
// thread, the Go analogue of KTHREAD/PTHREAD/TH_IDLE.
type Kind int

const (
	UserThread Kind = iota
	KernelThread
	IdleThread
)

// State mirrors thread_s's S_CREATE/S_READY/S_KERNEL/S_WAIT/S_DEAD.
type State int32

const (
	Create State = iota
	Ready
	Running
	Wait
	Dead
)

func (s State) String() string {
	switch s {
	case Create:
		return "create"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Wait:
		return "wait"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// RRQuantum is the number of ticks a thread runs before rr_clock flags
// it for rescheduling (RR_QUANTUM in kernel-config.h).
const RRQuantum = 3

// Thread is the scheduling-relevant slice of a thread descriptor —
// kernel/thread builds the rest of the TCB (stack, VMM handle, signal
// state) around an embedded *Thread.
type Thread struct {
	ID   uint64
	Kind Kind

	state       int32 // State, accessed atomically
	quantum     int32 // ticks remaining, accessed atomically
	needResched int32 // bool as int32, accessed atomically
}

// NewThread builds a thread in the Create state with a fresh quantum.
func NewThread(id uint64, kind Kind) *Thread {
	return &Thread{ID: id, Kind: kind, state: int32(Create), quantum: RRQuantum}
}

// State returns the thread's current scheduling state.
func (t *Thread) State() State { return State(atomic.LoadInt32(&t.state)) }

func (t *Thread) setState(s State) { atomic.StoreInt32(&t.state, int32(s)) }

// NeedResched reports whether rr_clock flagged this thread for
// preemption since it was last elected.
func (t *Thread) NeedResched() bool { return atomic.LoadInt32(&t.needResched) != 0 }

func (t *Thread) setNeedResched(v bool) {
	if v {
		atomic.StoreInt32(&t.needResched, 1)
	} else {
		atomic.StoreInt32(&t.needResched, 0)
	}
}

// Stats mirrors the counters cpu_compute_stats and DQDT's leaf sampling
// read off scheduler_s: k_runnable/u_runnable/total_nr/user_nr.
type Stats struct {
	KRunnable int
	URunnable int
	TotalNr   int
	UserNr    int
}

// Scheduler is one CPU's run queue. A Scheduler must be constructed
// with NewScheduler; the zero value is not usable because it needs a
// backing cluster.CPU to keep DQDT's runnable counter in sync.
type Scheduler struct {
	CPU  *cluster.CPU
	Idle *Thread

	mu      sync.Mutex
	queue   []*Thread
	current *Thread

	kRunnable int32
	totalNr   int32
	userNr    int32
}

// NewScheduler builds an empty run queue bound to cpu, with idle as the
// thread elected when the queue is empty (TH_IDLE never sits on the
// ready queue itself).
func NewScheduler(cpu *cluster.CPU, idle *Thread) *Scheduler {
	idle.Kind = IdleThread
	return &Scheduler{CPU: cpu, Idle: idle}
}

// AddCreated admits a newly created thread onto the run queue, the Go
// analogue of rr_add_created: kernel threads are prepended ahead of
// whatever is already queued, user threads appended, and total_nr/
// user_nr (and the CPU's DQDT-visible u_runnable) are bumped.
func (s *Scheduler) AddCreated(th *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th.setState(Ready)
	s.enqueueLocked(th)

	atomic.AddInt32(&s.totalNr, 1)
	if th.Kind == UserThread {
		atomic.AddInt32(&s.userNr, 1)
		s.CPU.AddRunnable(1)
	} else if th.Kind == KernelThread {
		atomic.AddInt32(&s.kRunnable, 1)
	}
}

// Wakeup moves a blocked thread back onto the run queue, the Go
// analogue of rr_wakeup: same prepend/append split as add_created, but
// total_nr/user_nr are left untouched since the thread already counted
// toward them.
func (s *Scheduler) Wakeup(th *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th.setState(Ready)
	s.enqueueLocked(th)

	if th.Kind == UserThread {
		s.CPU.AddRunnable(1)
	} else if th.Kind == KernelThread {
		atomic.AddInt32(&s.kRunnable, 1)
	}
}

func (s *Scheduler) enqueueLocked(th *Thread) {
	if th.Kind == KernelThread {
		s.queue = append([]*Thread{th}, s.queue...)
	} else {
		s.queue = append(s.queue, th)
	}
}

// Sleep removes th from the ready queue and marks it blocked, the Go
// analogue of rr_sleep: total_nr/user_nr are untouched (the thread
// still exists), but it no longer counts as runnable.
func (s *Scheduler) Sleep(th *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th.setState(Wait)
	s.removeLocked(th)

	if th.Kind == UserThread {
		s.CPU.AddRunnable(-1)
	} else if th.Kind == KernelThread {
		atomic.AddInt32(&s.kRunnable, -1)
	}
}

// Remove unlinks th from the run queue without changing its state, the
// Go analogue of rr_remove (used when a thread is about to migrate to
// another CPU and must leave this queue but stays otherwise live).
func (s *Scheduler) Remove(th *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removeLocked(th) {
		atomic.AddInt32(&s.totalNr, -1)
		if th.Kind == UserThread {
			atomic.AddInt32(&s.userNr, -1)
		}
	}
}

// Exit retires th permanently, the Go analogue of rr_exit: unlinks it
// if still queued, marks it Dead, and backs out every counter it was
// contributing to.
func (s *Scheduler) Exit(th *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasQueued := s.removeLocked(th)
	wasRunning := s.current == th
	th.setState(Dead)

	atomic.AddInt32(&s.totalNr, -1)
	if th.Kind == UserThread {
		atomic.AddInt32(&s.userNr, -1)
	}
	// A thread already asleep (Sleep) has its runnable counters backed
	// out already; only back them out here if it was still queued or
	// actually running, so a blocked thread's exit doesn't double-count.
	if wasQueued || wasRunning {
		if th.Kind == UserThread {
			s.CPU.AddRunnable(-1)
		} else if th.Kind == KernelThread {
			atomic.AddInt32(&s.kRunnable, -1)
		}
	}
	if wasRunning {
		s.current = nil
	}
}

func (s *Scheduler) removeLocked(th *Thread) bool {
	for i, q := range s.queue {
		if q == th {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Clock ticks the currently running thread's quantum, the Go analogue
// of rr_clock: once it goes negative the thread is flagged for
// preemption at the next reschedule point. The idle thread never has a
// quantum to spend.
func (s *Scheduler) Clock(th *Thread) {
	if th == nil || th.Kind == IdleThread {
		return
	}
	if atomic.AddInt32(&th.quantum, -1) < 0 {
		th.setNeedResched(true)
	}
}

// Yield re-queues the calling thread (if it is still schedulable) and
// elects the next one, the Go analogue of rr_yield's cooperative
// reschedule point.
func (s *Scheduler) Yield(current *Thread) *Thread {
	s.mu.Lock()
	if current != nil && current.Kind != IdleThread && current.State() == Running {
		current.setState(Ready)
		s.enqueueLocked(current)
	}
	s.mu.Unlock()
	return s.Elect(current)
}

// Elect picks the next thread to run, the Go analogue of rr_elect: if
// the outgoing thread is still runnable it is re-enqueued at the tail
// first, then the queue head is dequeued and given a fresh quantum. An
// empty queue elects the idle thread.
func (s *Scheduler) Elect(current *Thread) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current != nil && current.Kind != IdleThread && current.State() == Running {
		current.setState(Ready)
		s.queue = append(s.queue, current)
	}

	var elected *Thread
	if len(s.queue) == 0 {
		elected = s.Idle
	} else {
		elected = s.queue[0]
		s.queue = s.queue[1:]
	}

	elected.quantum = RRQuantum
	elected.setNeedResched(false)
	elected.setState(Running)
	s.current = elected
	return elected
}

// Stats reports the run queue's current counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		KRunnable: int(atomic.LoadInt32(&s.kRunnable)),
		URunnable: s.CPU.Runnable(),
		TotalNr:   int(atomic.LoadInt32(&s.totalNr)),
		UserNr:    int(atomic.LoadInt32(&s.userNr)),
	}
}

// Len reports how many threads are currently sitting on the ready
// queue (excludes the running thread and the idle thread).
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
