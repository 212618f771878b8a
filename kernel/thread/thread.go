// Package thread is the execution unit that actually runs: a
// scheduler.Thread plus the task it belongs to, the slot it occupies in
// that task's thread table, and the completion a joiner waits on.
// Grounded on kern/thread_create.c (descriptor build-out),
// kern/thread_destroy.c (teardown and the "last thread kills the task"
// rule) and kern/sys_fork.c's do_fork (how a child thread is placed,
// registered with the scheduler and, if pinned, barred from migration).
package thread

import (
	"context"
	"sync"
	"sync/atomic"

	"almos/kernel"
	"almos/kernel/completion"
	"almos/kernel/sched"
	"almos/kernel/task"
)

// MaxThreadsPerTask bounds a task's thread table, the Go analogue of
// CONFIG_THREAD_MAX_NR.
const MaxThreadsPerTask = 32

// Thread is one schedulable unit of a task, the Go analogue of
// thread_s. *sched.Thread is embedded rather than duplicated so
// kernel/sched never has to know about tasks.
type Thread struct {
	*sched.Thread

	Task  *task.Task
	Order int // slot within the task's thread table, thread_s.info.order

	migrationDisabled int32 // atomic bool, thread_migration_disabled/enabled
	joinable          bool
	joined            *completion.Completion // signaled with the exit error on Exit
}

// Joinable reports whether a joiner should wait on this thread, the Go
// analogue of thread_isJoinable.
func (th *Thread) Joinable() bool { return th.joinable }

// MigrationDisabled reports whether DQDT may migrate this thread, the
// Go analogue of thread_sched_isActivated's migration half.
func (th *Thread) MigrationDisabled() bool {
	return atomic.LoadInt32(&th.migrationDisabled) != 0
}

// Join blocks until the thread has exited, returning the error it
// exited with (nil on a clean exit). Calling Join on a detached thread
// is a caller bug — the Go analogue of asserting wait_queue_isEmpty
// would never fire for one, because nothing ever exits it.
func (th *Thread) Join(ctx context.Context) error {
	return th.joined.Wait(ctx)
}

type taskThreads struct {
	mu      sync.Mutex
	slots   [MaxThreadsPerTask]*Thread
	count   int
	nextIdx int
}

// allocOrder finds the lowest free slot, the Go analogue of
// bitmap_ffs2(task->bitmap, ...) plus the next_order fast path.
func (tt *taskThreads) allocOrder() (int, error) {
	for i := 0; i < MaxThreadsPerTask; i++ {
		idx := (tt.nextIdx + i) % MaxThreadsPerTask
		if tt.slots[idx] == nil {
			return idx, nil
		}
	}
	return 0, kernel.NewError("thread", kernel.EAGAIN, "task thread table is full")
}

// Manager is the Go analogue of the per-task th_tbl/bitmap/threads_nr
// bookkeeping thread_create.c and thread_destroy.c maintain directly on
// task_s: kept here instead since kernel/task deliberately does not
// carry a thread table (see that package's doc comment).
type Manager struct {
	mu     sync.Mutex
	byTask map[*task.Task]*taskThreads
	nextID uint64
}

// NewManager builds an empty thread manager.
func NewManager() *Manager {
	return &Manager{byTask: make(map[*task.Task]*taskThreads)}
}

func (m *Manager) tableFor(t *task.Task) *taskThreads {
	m.mu.Lock()
	defer m.mu.Unlock()
	tt, ok := m.byTask[t]
	if !ok {
		tt = &taskThreads{}
		m.byTask[t] = tt
	}
	return tt
}

// Create builds a new thread for t, registers it with sc and returns
// it, the Go analogue of thread_create followed by sched_add_created.
// isDetached mirrors pthread_attr_t.isDetached.
func (m *Manager) Create(t *task.Task, sc *sched.Scheduler, kind sched.Kind, isDetached bool) (*Thread, error) {
	tt := m.tableFor(t)

	tt.mu.Lock()
	order, err := tt.allocOrder()
	if err != nil {
		tt.mu.Unlock()
		return nil, err
	}
	id := atomic.AddUint64(&m.nextID, 1)

	th := &Thread{
		Thread:   sched.NewThread(id, kind),
		Task:     t,
		Order:    order,
		joinable: !isDetached,
		joined:   completion.New(),
	}
	tt.slots[order] = th
	tt.count++
	if tt.nextIdx == order {
		tt.nextIdx = order + 1
	}
	tt.mu.Unlock()

	sc.AddCreated(th.Thread)
	return th, nil
}

// Dup builds a child thread replicating parent's kind and pinning, the
// Go analogue of do_fork's thread_dup + thread_migration_disabled/
// enabled + sched_register sequence. The caller has already duplicated
// the child's address space (task.Manager.Dup) before calling this.
func (m *Manager) Dup(parent *Thread, childTask *task.Task, sc *sched.Scheduler, pinned bool) (*Thread, error) {
	child, err := m.Create(childTask, sc, parent.Kind, !parent.joinable)
	if err != nil {
		return nil, err
	}
	if pinned {
		atomic.StoreInt32(&child.migrationDisabled, 1)
	}
	return child, nil
}

// Migrate moves th off from's run queue onto to, the Go analogue of
// thread_migrate: a pinned thread is refused outright, every region of
// the owning task is flagged for lazy page migration via VMM.MarkMigrate
// so each page moves on its own next touch rather than the whole
// address space copying eagerly, and the task's recorded placement
// follows the thread to its new CPU/cluster. c is signaled exactly
// once with the outcome, the Go analogue of th_migrate_info_t.isDone
// that the original's caller busy-polls sys_migrate's completion on.
func (m *Manager) Migrate(th *Thread, from, to *sched.Scheduler, c *completion.Completion) error {
	if th.MigrationDisabled() {
		err := kernel.NewError("thread", kernel.EPERM, "thread is pinned and cannot migrate")
		c.Signal(err)
		return err
	}

	from.Remove(th.Thread)

	if th.Task != nil {
		if th.Task.VMM != nil {
			for _, region := range th.Task.VMM.Regions() {
				if err := th.Task.VMM.MarkMigrate(region.Start); err != nil {
					c.Signal(err)
					return err
				}
			}
		}
		th.Task.Cluster = to.CPU.Cluster
		th.Task.CPU = to.CPU
	}

	to.Wakeup(th.Thread)
	c.Signal(nil)
	return nil
}

// Exit retires th: removes it from the scheduler, frees its table slot
// and signals any joiner with retErr. It reports whether th was the
// task's last thread, the Go analogue of thread_destroy's `if
// (isUserThread && count == 1) task_destroy(task)` — the caller (which
// holds the task.Manager) is responsible for actually destroying the
// task when this returns true, since kernel/thread does not import
// kernel/task's Manager.
func (m *Manager) Exit(th *Thread, sc *sched.Scheduler, retErr error) (lastThread bool) {
	sc.Exit(th.Thread)

	tt := m.tableFor(th.Task)
	tt.mu.Lock()
	tt.slots[th.Order] = nil
	tt.count--
	if th.Order < tt.nextIdx {
		tt.nextIdx = th.Order
	}
	remaining := tt.count
	tt.mu.Unlock()

	th.joined.Signal(retErr)
	return remaining == 0
}

// Threads returns t's live threads in table order, the Go analogue of
// ps_print_task's `list_foreach_forward(&task->th_root, ...)` walk.
func (m *Manager) Threads(t *task.Task) []*Thread {
	tt := m.tableFor(t)
	tt.mu.Lock()
	defer tt.mu.Unlock()
	out := make([]*Thread, 0, tt.count)
	for _, th := range tt.slots {
		if th != nil {
			out = append(out, th)
		}
	}
	return out
}

// Count reports how many live threads t currently has.
func (m *Manager) Count(t *task.Task) int {
	tt := m.tableFor(t)
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return tt.count
}
