// Package task models a process: an address space, a placement (cluster
// and bootstrap CPU) and a parent/child tree. Grounded on kern/task.h's
// task_s and kern/task.c's tasks_mgr singleton (pid allocation, default
// round-robin placement, task_create/task_dup/task_destroy). The
// thread table, signal manager and VFS file table task_s also carries
// are out of scope: this port has no vfs package and POSIX completeness
// is explicitly not a goal, so a Task tracks only what kernel/thread and
// kernel/dqdt actually need to place and fork work.
package task

import (
	"sync"
	"sync/atomic"

	"almos/kernel"
	"almos/kernel/cluster"
	"almos/kernel/dqdt"
	"almos/kernel/mem/vmm"
)

// State is the Go analogue of task_s.state (TASK_CREATE/TASK_READY/
// TASK_ZOMBIE); TASK_ZOMBIE is named Zombie here since nothing about it
// concerns Go's garbage collector.
type State int32

const (
	Create State = iota
	Ready
	Zombie
)

func (s State) String() string {
	switch s {
	case Create:
		return "create"
	case Ready:
		return "ready"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// MaxTasks bounds the pid table, the Go analogue of
// CONFIG_TASK_MAX_NR.
const MaxTasks = 4096

// MaxChildren bounds how many direct children a task may fork, the Go
// analogue of CONFIG_TASK_CHILDS_MAX_NR.
const MaxChildren = 256

// Task is one process: its address space plus the bookkeeping
// task_dup/task_destroy need. Unlike task_s, it carries no thread table
// directly — kernel/thread.Task owns the thread set, mirroring how this
// port keeps scheduling (kernel/sched) and process bookkeeping in
// separate packages connected by a Task pointer rather than one
// do-everything struct.
type Task struct {
	Pid uint32
	UID uint32
	GID uint32

	Cluster *cluster.Cluster
	CPU     *cluster.CPU
	VMM     *vmm.VMM

	state int32 // State, accessed atomically

	mu       sync.Mutex
	Parent   *Task
	children []*Task
	childsNr int32 // atomic, mirrors task_s.childs_nr
}

// State returns the task's current lifecycle state.
func (t *Task) State() State { return State(atomic.LoadInt32(&t.state)) }

// setState transitions the task's lifecycle state.
func (t *Task) setState(s State) { atomic.StoreInt32(&t.state, int32(s)) }

// Children returns the task's direct children in fork order.
func (t *Task) Children() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Task, len(t.children))
	copy(out, t.children)
	return out
}

// Manager is the Go analogue of the tasks_mgr singleton: pid allocation
// plus the placement round-robin sys_fork falls back to when DQDT can't
// place a task.
type Manager struct {
	mu        sync.Mutex
	table     [MaxTasks]*Task
	lastPid   uint32
	nextClstr uint32 // atomic, tasks_mgr.tm_next_clstr
	nextCPU   uint32 // atomic, tasks_mgr.tm_next_cpu

	placeTable *cluster.Table
	placeTree  *dqdt.Tree
	placeDepth int
}

// SetPlacement wires DQDT consultation into Dup's child placement, the
// Go analogue of do_fork trying dqdt_thread_placement before falling
// back to task_default_placement. Leaving this unset (the zero value)
// keeps Dup's legacy behavior of placing the child on the parent's own
// cluster/CPU, which this package's own unit tests rely on since they
// build bare Managers with no mesh at all.
func (m *Manager) SetPlacement(table *cluster.Table, tree *dqdt.Tree, maxDepth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeTable, m.placeTree, m.placeDepth = table, tree, maxDepth
}

// placeChild resolves where a forked task should run, the Go analogue
// of do_fork's placement sequence: try DQDT starting from the parent's
// own cluster, fall back to the round-robin default, and finally fall
// back to the parent's own placement if neither is wired or both
// refuse. The child's address space keeps whatever pool the caller
// built it against regardless of which cluster this picks — only
// scheduling placement moves, matching vmm.doMigrate's own assumption
// that a VMM's pool stays anchored to one cluster (see that function's
// doc comment).
func (m *Manager) placeChild(parent *Task) (*cluster.Cluster, *cluster.CPU) {
	m.mu.Lock()
	table, tree, maxDepth := m.placeTable, m.placeTree, m.placeDepth
	m.mu.Unlock()

	if tree != nil && parent.Cluster != nil {
		if leaf := tree.Leaf(parent.Cluster.CID); leaf != nil {
			if c, cpu, err := dqdt.PlaceThread(leaf, maxDepth); err == nil {
				return c, cpu
			}
		}
	}
	if table != nil {
		if c, cpu, err := m.DefaultPlacement(table); err == nil {
			return c, cpu
		}
	}
	return parent.Cluster, parent.CPU
}

// NewManager builds an empty task manager with pid 0 reserved, the Go
// analogue of task_manager_init leaving pid 0 for the kernel's own
// bootstrap task.
func NewManager() *Manager {
	m := &Manager{}
	m.table[0] = &Task{Pid: 0, state: int32(Zombie)} // placeholder, never looked up
	return m
}

// allocPid finds a free slot starting from lastPid and wrapping, the Go
// analogue of task_pid_alloc's linear probe. Caller holds m.mu.
func (m *Manager) allocPid() (uint32, error) {
	start := m.lastPid
	for i := uint32(1); i <= MaxTasks; i++ {
		pid := (start + i) % MaxTasks
		if pid == 0 {
			continue
		}
		if m.table[pid] == nil {
			m.lastPid = pid
			return pid, nil
		}
	}
	return 0, kernel.NewError("task", kernel.EAGAIN, "no free pid")
}

// DefaultPlacement picks a cluster/CPU by round robin across table, the
// Go analogue of task_default_placement: used when DQDT has no better
// answer (an empty mesh, or the caller wants deterministic spread for a
// test scenario).
func (m *Manager) DefaultPlacement(table *cluster.Table) (*cluster.Cluster, *cluster.CPU, error) {
	clusters := table.Clusters()
	if len(clusters) == 0 {
		return nil, nil, kernel.NewError("task", kernel.EINVAL, "empty cluster table")
	}
	cid := atomic.AddUint32(&m.nextClstr, 1) % uint32(len(clusters))
	c := clusters[cid]
	if len(c.CPUs) == 0 {
		return nil, nil, kernel.NewError("task", kernel.EINVAL, "cluster has no cpus")
	}
	lid := atomic.AddUint32(&m.nextCPU, 1) % uint32(len(c.CPUs))
	return c, c.CPUs[lid], nil
}

// Create allocates a pid and registers a fresh task on c/cpu, the Go
// analogue of task_create's pid/descriptor allocation (the thread-table
// page and fd_info allocations task_create also performs have no
// counterpart here: see the package doc).
func (m *Manager) Create(c *cluster.Cluster, cpu *cluster.CPU, addrSpace *vmm.VMM, uid, gid uint32) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pid, err := m.allocPid()
	if err != nil {
		return nil, err
	}

	t := &Task{
		Pid:     pid,
		UID:     uid,
		GID:     gid,
		Cluster: c,
		CPU:     cpu,
		VMM:     addrSpace,
		state:   int32(Create),
	}
	m.table[pid] = t
	return t, nil
}

// Activate transitions t out of Create once its first thread is ready
// to run, the Go analogue of task_create handing a freshly built task
// straight to sched_register in TASK_READY state.
func (m *Manager) Activate(t *Task) { t.setState(Ready) }

// Tasks returns every live task in pid order, the Go analogue of
// ps_func's `for pid in 0..CONFIG_TASK_MAX_NR: task_lookup(pid)` walk.
// Pid 0's reserved placeholder is never included.
func (m *Manager) Tasks() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Task, 0)
	for pid := uint32(1); pid < MaxTasks; pid++ {
		if t := m.table[pid]; t != nil {
			out = append(out, t)
		}
	}
	return out
}

// Lookup returns the task registered under pid, the Go analogue of
// task_lookup.
func (m *Manager) Lookup(pid uint32) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pid >= MaxTasks || m.table[pid] == nil {
		return nil, kernel.NewError("task", kernel.ESRCH, "no task with that pid")
	}
	return m.table[pid], nil
}

// Dup allocates a child task, placed via placeChild, and forks the
// parent's address space, the Go analogue of do_fork's
// dqdt_thread_placement + task_create + task_dup + vmm_dup sequence
// (fd_info/vfs_root/vfs_cwd/bin sharing task_dup also performs has no
// counterpart here: see the package doc). The caller is responsible
// for registering the returned task as one of
// parent's children via AddChild once its first thread is ready to run,
// mirroring sys_fork's order (task_dup happens before the child is
// linked into this_task->children).
func (m *Manager) Dup(parent *Task, childVMM *vmm.VMM) (*Task, error) {
	if n := atomic.AddInt32(&parent.childsNr, 1); n > MaxChildren {
		atomic.AddInt32(&parent.childsNr, -1)
		return nil, kernel.NewError("task", kernel.EAGAIN, "too many children")
	}

	c, cpu := m.placeChild(parent)
	child, err := m.Create(c, cpu, childVMM, parent.UID, parent.GID)
	if err != nil {
		atomic.AddInt32(&parent.childsNr, -1)
		return nil, err
	}

	if err := parent.VMM.Dup(childVMM); err != nil {
		m.release(child.Pid)
		atomic.AddInt32(&parent.childsNr, -1)
		return nil, err
	}

	child.Parent = parent
	child.setState(Ready)
	return child, nil
}

// AddChild links child into parent's child list, the Go analogue of
// `list_add(&this_task->children, &child_task->list)`.
func (m *Manager) AddChild(parent, child *Task) {
	parent.mu.Lock()
	defer parent.mu.Unlock()
	parent.children = append(parent.children, child)
}

// Destroy retires t, freeing its pid slot and, if t had a parent,
// removing it from that parent's child list and decrementing its
// child count. The Go analogue of task_destroy.
func (m *Manager) Destroy(t *Task) {
	t.setState(Zombie)

	if t.Parent != nil {
		atomic.AddInt32(&t.Parent.childsNr, -1)
		t.Parent.mu.Lock()
		for i, c := range t.Parent.children {
			if c == t {
				t.Parent.children = append(t.Parent.children[:i], t.Parent.children[i+1:]...)
				break
			}
		}
		t.Parent.mu.Unlock()
	}

	m.release(t.Pid)
}

// release frees t's pid slot without touching its parent linkage,
// used to unwind a partially-constructed child on a failed Dup.
func (m *Manager) release(pid uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table[pid] = nil
}
