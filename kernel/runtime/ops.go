package runtime

import (
	"context"

	"almos/kernel"
	"almos/kernel/completion"
	"almos/kernel/dqdt"
	"almos/kernel/mem"
	"almos/kernel/mem/pmm"
	"almos/kernel/mem/vmm"
	"almos/kernel/sched"
	"almos/kernel/signal"
	"almos/kernel/task"
	"almos/kernel/thread"
)

// ThreadInfo is one thread line of a ps report, the Go analogue of one
// iteration of ps_print_task's th_root walk.
type ThreadInfo struct {
	ID    uint64 `json:"id"`
	Order int    `json:"order"`
	Kind  string `json:"kind"`
	State string `json:"state"`
}

// ProcessInfo is one task's ps report, the Go analogue of
// ps_print_task's per-task printk line plus its thread lines.
type ProcessInfo struct {
	Pid      uint32       `json:"pid"`
	PPid     uint32       `json:"ppid"`
	State    string       `json:"state"`
	Children int          `json:"children"`
	Cluster  uint16       `json:"cluster"`
	CPU      uint         `json:"cpu"`
	Threads  []ThreadInfo `json:"threads"`
}

// Ps reports every live task, the Go analogue of ps_func's table walk.
func (r *Runtime) Ps() []ProcessInfo {
	tasks := r.Tasks.Tasks()
	out := make([]ProcessInfo, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, r.describe(t))
	}
	return out
}

func (r *Runtime) describe(t *task.Task) ProcessInfo {
	var ppid uint32
	if t.Parent != nil {
		ppid = t.Parent.Pid
	}

	info := ProcessInfo{
		Pid:      t.Pid,
		PPid:     ppid,
		State:    t.State().String(),
		Children: len(t.Children()),
	}
	if t.Cluster != nil {
		info.Cluster = t.Cluster.CID
	}
	if t.CPU != nil {
		info.CPU = t.CPU.GID
	}

	for _, th := range r.Threads.Threads(t) {
		info.Threads = append(info.Threads, ThreadInfo{
			ID:    th.Thread.ID,
			Order: th.Order,
			Kind:  th.Thread.Kind.String(),
			State: th.Thread.State().String(),
		})
	}
	return info
}

// Kill rises sig on pid's threads, the Go analogue of kill_func's
// task_lookup + signal_rise pair.
func (r *Runtime) Kill(pid uint32, sig signal.Signal) error {
	t, err := r.Tasks.Lookup(pid)
	if err != nil {
		return err
	}
	threads := r.Threads.Threads(t)
	return r.Signals.Rise(t, threads, sig)
}

// HandleFault resolves a page fault th took at vaddr against its
// owning task's address space, the Go analogue of
// vmm_fault_handler/cpu_do_exception's pairing: a SigBus/SigSegv
// outcome is turned into the matching signal and risen on th alone
// rather than the task's whole thread set, since only the faulting
// thread owes a delivery; a Resolved or CheckUSpace outcome sends
// nothing and just reports the error, if any, for the caller to retry
// or escalate.
func (r *Runtime) HandleFault(pid uint32, th *thread.Thread, vaddr mem.VPN, flags vmm.FaultFlags) error {
	t, err := r.Tasks.Lookup(pid)
	if err != nil {
		return err
	}

	outcome, faultErr := t.VMM.Fault(vaddr, flags)
	if sig, ok := signal.FaultSignal(outcome); ok {
		if sigErr := r.Signals.Rise(t, []*thread.Thread{th}, sig); sigErr != nil {
			return sigErr
		}
	}
	return faultErr
}

// Fork duplicates pid's task, the Go analogue of sys_fork: the child's
// address space and placement (task.Manager.Dup, DQDT-aware via the
// SetPlacement Boot wires in) come first, then its sole thread is
// forked onto whichever scheduler its placement landed on, and finally
// it is linked into the parent's child list and made runnable —
// mirroring do_fork's order of task_dup before `list_add(&this_task->
// children, ...)`. Only a single-threaded parent can be forked: POSIX's
// "only the calling thread survives in the child" semantics have no
// meaning for the other threads this port would otherwise have to
// silently drop.
func (r *Runtime) Fork(pid uint32) (*task.Task, error) {
	parent, err := r.Tasks.Lookup(pid)
	if err != nil {
		return nil, err
	}
	if parent.VMM == nil || parent.Cluster == nil {
		return nil, kernel.NewError("runtime", kernel.EINVAL, "task has no address space to fork")
	}
	parentThreads := r.Threads.Threads(parent)
	if len(parentThreads) != 1 {
		return nil, kernel.NewError("runtime", kernel.EINVAL, "only a single-threaded task can be forked")
	}

	r.mu.Lock()
	pool := r.pools[parent.Cluster.CID]
	r.mu.Unlock()

	childVMM := vmm.New(pmm.New(pool, pdeCount), pool, parent.Cluster.CID)
	child, err := r.Tasks.Dup(parent, childVMM)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	sc := r.schedulers[child.CPU.GID]
	r.mu.Unlock()
	if sc == nil {
		r.Tasks.Destroy(child)
		return nil, kernel.NewError("runtime", kernel.EINVAL, "placed child has no scheduler")
	}

	parentThread := parentThreads[0]
	if _, err := r.Threads.Dup(parentThread, child, sc, parentThread.MigrationDisabled()); err != nil {
		r.Tasks.Destroy(child)
		return nil, err
	}

	r.Signals.InitTask(child)
	r.Tasks.AddChild(parent, child)
	r.Tasks.Activate(child)
	child.CPU.AddRunnable(1)

	if sender, ok := r.events[parent.CPU.GID]; ok {
		if dest, ok := r.remotes[child.CPU.GID]; ok {
			sender.SendTo(dest, &sched.Event{Priority: sched.EvtIPI, Handler: func(*sched.Event) {}})
		}
	}
	return child, nil
}

// MigrateThread relocates pid's sole thread to a less-loaded cluster
// found by DQDT, the Go analogue of sys_migrate: the originator hands
// the move to thread.Manager.Migrate and blocks on its Completion the
// way the original busy-polls th_migrate_info_t.isDone.
func (r *Runtime) MigrateThread(ctx context.Context, pid uint32) error {
	t, err := r.Tasks.Lookup(pid)
	if err != nil {
		return err
	}
	if t.Cluster == nil {
		return kernel.NewError("runtime", kernel.EINVAL, "task has no placement to migrate from")
	}
	threads := r.Threads.Threads(t)
	if len(threads) != 1 {
		return kernel.NewError("runtime", kernel.EINVAL, "only a single-threaded task can be migrated")
	}
	th := threads[0]

	leaf := r.Tree.Leaf(t.Cluster.CID)
	if leaf == nil {
		return kernel.NewError("runtime", kernel.EINVAL, "task's cluster is not in the mesh")
	}
	_, dstCPU, err := dqdt.MigrateThread(leaf, onlineCPUCount(r.Table))
	if err != nil {
		return err
	}

	r.mu.Lock()
	from := r.schedulers[t.CPU.GID]
	to := r.schedulers[dstCPU.GID]
	sender := r.events[t.CPU.GID]
	dest := r.remotes[dstCPU.GID]
	r.mu.Unlock()
	if from == nil || to == nil {
		return kernel.NewError("runtime", kernel.EINVAL, "migration endpoint has no scheduler")
	}

	c := completion.New()
	if err := r.Threads.Migrate(th, from, to, c); err != nil {
		return err
	}
	if err := c.Wait(ctx); err != nil {
		return err
	}

	if sender != nil && dest != nil {
		sender.SendTo(dest, &sched.Event{Priority: sched.EvtIPI, Handler: func(*sched.Event) {}})
	}
	return nil
}

// Pwd reports the caller's working directory. No vfs package exists in
// this port (see task's package doc on why), so every task's
// cwd is the root — the Go analogue of pwd_func's len==0 branch, which
// is the only branch ever reached here.
func (r *Runtime) Pwd(uint32) (string, error) {
	return "/", nil
}

// DQDTNodeSummary is one node of a DQDT snapshot. Level is dqdt.Node's
// own bottom-up level (0 at the physical clusters); Depth is this
// snapshot's top-down distance from the root, the axis a printed tree
// actually indents by.
type DQDTNodeSummary struct {
	Level   int          `json:"level"`
	Depth   int          `json:"depth"`
	Index   int          `json:"index"`
	Cluster *uint16      `json:"cluster,omitempty"`
	Summary dqdt.Summary `json:"summary"`
}

// DQDTSnapshot walks the tree depth-first and returns every node's
// folded summary, the read-only counterpart to dqdt.c's internal tree
// walk — there is no dqdt_print in the source tree, so this shape is
// this port's own presentation of what Build/Fold already compute.
func (r *Runtime) DQDTSnapshot() []DQDTNodeSummary {
	var out []DQDTNodeSummary
	var walk func(n *dqdt.Node, depth int)
	walk = func(n *dqdt.Node, depth int) {
		if n == nil {
			return
		}
		s := DQDTNodeSummary{Level: n.Level, Depth: depth, Index: n.Index, Summary: n.Summary}
		if n.Home != nil {
			cid := n.Home.CID
			s.Cluster = &cid
		}
		out = append(out, s)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(r.Tree.Root, 0)
	return out
}

// ParseSignal maps a wire-level signal name to a Signal, the Go
// analogue of kill_func's atoi(argv[1]) plus its SIG_NR bounds check.
func ParseSignal(name string) (signal.Signal, error) {
	switch name {
	case "SIGTERM":
		return signal.SIGTERM, nil
	case "SIGKILL":
		return signal.SIGKILL, nil
	case "SIGCHLD":
		return signal.SIGCHLD, nil
	case "SIGURG":
		return signal.SIGURG, nil
	default:
		return 0, kernel.NewError("runtime", kernel.EINVAL, "unknown signal name")
	}
}
