// Package signal delivers a small fixed set of process signals to a
// task's threads. Grounded on kern/signal.c: signal_manager_init's
// default-ignored set, signal_rise's all-threads/one-thread split,
// and signal_notify's lowest-pending-bit scan plus its
// already-signaled latch that keeps a second interrupt from
// re-entering delivery for the same thread.
package signal

import (
	"sync"

	"almos/kernel"
	"almos/kernel/mem/vmm"
	"almos/kernel/task"
	"almos/kernel/thread"
)

// Signal is one of the fixed signal numbers this port models. ALMOS
// defines a much larger POSIX set in signal.h; only the ones
// signal.c's own logic branches on are worth a name here.
type Signal uint

const (
	SIGTERM Signal = iota
	SIGKILL
	SIGCHLD
	SIGURG
	// SIGBUS is what a user-mode fault owes a thread when
	// vmm.VMM.Fault finds no region at all covering the faulting
	// address, the Go analogue of vmm.c's FAULT_SEND_SIGBUS path.
	SIGBUS
	// SIGSEGV is what a user-mode fault owes a thread when a region
	// exists but the access itself is invalid (a COW/migrate race left
	// in an unexpected state, or vm_region_update would otherwise
	// refuse the access), the Go analogue of VMM_ESIGSEGV.
	SIGSEGV
	sigCount
)

func (s Signal) String() string {
	switch s {
	case SIGTERM:
		return "SIGTERM"
	case SIGKILL:
		return "SIGKILL"
	case SIGCHLD:
		return "SIGCHLD"
	case SIGURG:
		return "SIGURG"
	case SIGBUS:
		return "SIGBUS"
	case SIGSEGV:
		return "SIGSEGV"
	default:
		return "unknown signal"
	}
}

// FaultSignal maps a vmm.FaultOutcome to the signal a user-mode fault
// owes the faulting thread, the Go analogue of cpu_do_exception's
// outcome switch (VMM_ESIGBUS/VMM_ESIGSEGV each resolving to their
// named signal before except_deliver_sig runs). Resolved and
// CheckUSpace carry no signal: the former means the access should
// simply be retried, the latter means the fault was never a user-space
// concern to begin with.
func FaultSignal(outcome vmm.FaultOutcome) (Signal, bool) {
	switch outcome {
	case vmm.SigBus:
		return SIGBUS, true
	case vmm.SigSegv:
		return SIGSEGV, true
	default:
		return 0, false
	}
}

// Action is what a task does when a pending signal is next noticed on
// one of its threads, the Go analogue of sig_mgr_s.sigactions' entries.
type Action int

const (
	ActionDefault Action = iota // SIG_DEFAULT: kill_sigaction's "stop the thread"
	ActionIgnore                // SIG_IGNORE
)

// threadState is the per-thread bookkeeping thread_info_s carries
// inline (sig_state, sig_mask, the signaled latch); kept keyed by
// *thread.Thread here instead, mirroring kernel/thread's own
// per-task-map pattern, since kernel/thread has no notion of signals.
type threadState struct {
	mu       sync.Mutex
	pending  uint32 // sig_state: one bit per Signal
	mask     uint32 // sig_mask
	signaled bool   // thread_isSignaled latch
}

// Manager is the Go analogue of sig_mgr_s plus the bits of thread_info_s
// signal.c touches, scoped across every task instead of living inline
// on task_s (see kernel/task's doc comment on why the thread/signal
// tables moved out of Task).
type Manager struct {
	mu       sync.Mutex
	actions  map[*task.Task]*[sigCount]Action
	handler  map[*task.Task]*thread.Thread // sig_mgr.handler override
	threads  map[*thread.Thread]*threadState
}

// NewManager builds an empty signal manager.
func NewManager() *Manager {
	return &Manager{
		actions: make(map[*task.Task]*[sigCount]Action),
		handler: make(map[*task.Task]*thread.Thread),
		threads: make(map[*thread.Thread]*threadState),
	}
}

// InitTask registers t with the default action table, the Go analogue
// of signal_manager_init: SIGCHLD and SIGURG start out ignored, every
// other signal defaults to ActionDefault.
func (m *Manager) InitTask(t *task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tbl [sigCount]Action
	tbl[SIGCHLD] = ActionIgnore
	tbl[SIGURG] = ActionIgnore
	m.actions[t] = &tbl
}

// InitThread registers th with an inherited mask, the Go analogue of
// signal_init copying the forking thread's sig_mask into the new one.
func (m *Manager) InitThread(th *thread.Thread, inheritMask uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[th] = &threadState{mask: inheritMask}
}

// SetAction changes t's action for sig, the Go analogue of writing
// sig_mgr.sigactions[sig] directly (ALMOS has no sigaction syscall
// wrapper in this file; callers set it straight from the struct).
func (m *Manager) SetAction(t *task.Task, sig Signal, a Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl, ok := m.actions[t]
	if !ok {
		return kernel.NewError("signal", kernel.EINVAL, "task was never registered with InitTask")
	}
	tbl[sig] = a
	return nil
}

// SetHandlerThread designates th as t's dedicated signal-handling
// thread, the Go analogue of setting sig_mgr.handler so signal_rise_one
// stops defaulting to the task's first thread.
func (m *Manager) SetHandlerThread(t *task.Task, th *thread.Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler[t] = th
}

func (m *Manager) state(th *thread.Thread) *threadState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.threads[th]
	if !ok {
		st = &threadState{}
		m.threads[th] = st
	}
	return st
}

// Rise marks sig pending against t's threads, the Go analogue of
// signal_rise: SIGKILL and SIGTERM reach every thread
// (signal_rise_all), every other signal reaches only the task's
// designated handler thread, falling back to threads[0] if none was
// set (signal_rise_one).
func (m *Manager) Rise(t *task.Task, threads []*thread.Thread, sig Signal) error {
	if len(threads) == 0 {
		return kernel.NewError("signal", kernel.ESRCH, "task has no threads to signal")
	}

	if sig == SIGTERM || sig == SIGKILL {
		for _, th := range threads {
			st := m.state(th)
			st.mu.Lock()
			st.pending |= 1 << sig
			st.mu.Unlock()
		}
		return nil
	}

	m.mu.Lock()
	target := m.handler[t]
	m.mu.Unlock()
	if target == nil {
		target = threads[0]
	}

	st := m.state(target)
	st.mu.Lock()
	st.pending |= 1 << sig
	st.mu.Unlock()
	return nil
}

// Notify reports the lowest-numbered pending signal th's mask admits,
// the Go analogue of signal_notify's scan. It returns ok == false if
// nothing is pending, if everything pending is masked, or if th is
// already mid-delivery of an earlier signal (the isSignaled latch) —
// the caller must call Acknowledge once it has finished handling a
// delivered signal before another one will be reported.
func (m *Manager) Notify(t *task.Task, th *thread.Thread) (sig Signal, action Action, ok bool) {
	st := m.state(th)

	st.mu.Lock()
	admitted := st.pending & st.mask
	if admitted == 0 || st.signaled {
		st.mu.Unlock()
		return 0, 0, false
	}

	var s Signal
	for s = 0; s < sigCount; s++ {
		if admitted&(1<<s) != 0 {
			break
		}
	}
	st.signaled = true
	st.pending &^= 1 << s
	st.mu.Unlock()

	m.mu.Lock()
	a := ActionDefault
	if tbl, ok := m.actions[t]; ok {
		a = tbl[s]
	}
	m.mu.Unlock()

	return s, a, true
}

// Acknowledge clears th's in-delivery latch, allowing Notify to report
// the next pending signal.
func (m *Manager) Acknowledge(th *thread.Thread) {
	st := m.state(th)
	st.mu.Lock()
	st.signaled = false
	st.mu.Unlock()
}
