// Package runtime assembles one booted instance of every kernel
// package — topology, DQDT tree, per-cluster memory pools, task and
// thread managers, signals, per-CPU event managers — behind the
// handful of operations almosctl's ps/kill/pwd/dqdt subcommands, its
// serve fork/migrate endpoints and /metrics scrape need. Grounded on kern_init.c's boot
// sequence (clusters_init → dqdt_init → per-cluster ppm/pmm setup →
// the bootstrap task) and sys_ps.c's table-walk for presenting the
// result.
package runtime

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"almos/kernel"
	"almos/kernel/alarm"
	"almos/kernel/bib"
	"almos/kernel/cluster"
	"almos/kernel/config"
	"almos/kernel/dqdt"
	"almos/kernel/klog"
	"almos/kernel/mem"
	"almos/kernel/mem/pmm"
	"almos/kernel/mem/ppm"
	"almos/kernel/mem/vmm"
	"almos/kernel/metrics"
	"almos/kernel/sched"
	"almos/kernel/signal"
	"almos/kernel/task"
	"almos/kernel/thread"
)

// pdeCount is the fixed page-directory fan-out every booted address
// space is built with, standing in for the arch-fixed value
// pmm_init reads off the TSAR MMU's PTD size.
const pdeCount = 64

// Runtime is one booted kernel instance.
type Runtime struct {
	Config config.Config

	Table *cluster.Table
	Tree  *dqdt.Tree

	Tasks   *task.Manager
	Threads *thread.Manager
	Signals *signal.Manager
	Alarms  *alarm.Manager

	mu         sync.Mutex
	pools      map[uint16]*ppm.PPM
	pmms       map[uint16]*pmm.PMM
	schedulers map[uint]*sched.Scheduler      // keyed by CPU.GID
	events     map[uint]*sched.Manager        // keyed by CPU.GID
	remotes    map[uint]*sched.RemoteListener // keyed by CPU.GID
}

// Boot builds a Runtime from a validated BootInfoBlock: the cluster
// mesh, a DQDT tree over it, one buddy pool and page table per
// cluster, a per-CPU scheduler, and a single pid-1 bootstrap task with
// one kernel thread — the Go analogue of kern_init's sequence up to
// the point it hands control to the idle loop.
func Boot(cfg config.Config, b *bib.BootInfoBlock) (*Runtime, error) {
	table, err := cluster.NewTable(b)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		Config:     cfg,
		Table:      table,
		Tasks:      task.NewManager(),
		Threads:    thread.NewManager(),
		Signals:    signal.NewManager(),
		Alarms:     alarm.NewManager(),
		pools:      make(map[uint16]*ppm.PPM),
		pmms:       make(map[uint16]*pmm.PMM),
		schedulers: make(map[uint]*sched.Scheduler),
		events:     make(map[uint]*sched.Manager),
		remotes:    make(map[uint]*sched.RemoteListener),
	}

	// Each cluster's pool/page-table/scheduler setup touches only that
	// cluster's own state, so clusters_init's per-cluster loop fans out
	// across an errgroup rather than running strictly in sequence; only
	// the final merge into the Runtime's shared maps needs r.mu.
	var g errgroup.Group
	for _, c := range table.Clusters() {
		c := c
		g.Go(func() error {
			totalPages := ramBankPages(c)
			pool := ppm.New(c.CID, totalPages, cfg.PPMMaxOrder)
			pt := pmm.New(pool, pdeCount)

			schedulers := make(map[uint]*sched.Scheduler, len(c.CPUs))
			events := make(map[uint]*sched.Manager, len(c.CPUs))
			remotes := make(map[uint]*sched.RemoteListener, len(c.CPUs))
			for _, cpu := range c.CPUs {
				idle := sched.NewThread(0, sched.IdleThread)
				schedulers[cpu.GID] = sched.NewScheduler(cpu, idle)

				local := &sched.Listener{}
				remote := sched.NewRemoteListener(cfg.RemoteEventRingSize, nil)
				mgr := sched.NewManager(local, remote, cfg.RemoteEventMaxTry)
				remote.SendIPI = mgr.Notify
				events[cpu.GID] = mgr
				remotes[cpu.GID] = remote
			}

			r.mu.Lock()
			r.pools[c.CID] = pool
			r.pmms[c.CID] = pt
			for gid, sc := range schedulers {
				r.schedulers[gid] = sc
			}
			for gid, mgr := range events {
				r.events[gid] = mgr
			}
			for gid, rl := range remotes {
				r.remotes[gid] = rl
			}
			r.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.Tree = dqdt.Build(table, cfg.PPMMaxOrder)
	r.Tasks.SetPlacement(table, r.Tree, r.Tree.Root.Level)
	r.Sample()

	if _, err := r.spawnInit(); err != nil {
		return nil, err
	}

	klog.Logger.Info().Int("clusters", table.Len()).Msg("runtime booted")
	return r, nil
}

// ramBankPages derives a cluster's buddy-pool size from its device 0
// (the RAM bank) BIB entry, the Go analogue of the size ppm_init reads
// out of the cluster's reserved memory descriptor.
func ramBankPages(c *cluster.Cluster) uint64 {
	for _, d := range c.Devices() {
		if d.ID == bib.RAMBankDeviceID && d.Size > 0 {
			return uint64(d.Size) / uint64(mem.PageSize)
		}
	}
	return 1 << 16
}

// onlineCPUCount counts every CPU across the mesh, the Go analogue of
// the online_cpu_nr global dqdt_thread_migrate uses to size its
// migration search's T threshold.
func onlineCPUCount(table *cluster.Table) int {
	n := 0
	for _, c := range table.Clusters() {
		n += len(c.CPUs)
	}
	return n
}

// spawnInit places and starts the bootstrap task, the Go analogue of
// kern_init creating the first user task on the bootstrap cluster's
// bootstrap CPU.
func (r *Runtime) spawnInit() (*task.Task, error) {
	clusters := r.Table.Clusters()
	if len(clusters) == 0 {
		return nil, kernel.NewError("runtime", kernel.EINVAL, "empty cluster table")
	}
	c := clusters[0]
	cpu := c.BSCPU
	if cpu == nil {
		return nil, kernel.NewError("runtime", kernel.EINVAL, "bootstrap cluster has no cpus")
	}

	addrSpace := vmm.New(r.pmms[c.CID], r.pools[c.CID], c.CID)
	t, err := r.Tasks.Create(c, cpu, addrSpace, 0, 0)
	if err != nil {
		return nil, err
	}
	r.Signals.InitTask(t)

	sc := r.schedulers[cpu.GID]
	th, err := r.Threads.Create(t, sc, sched.KernelThread, true)
	if err != nil {
		return nil, err
	}
	r.Signals.InitThread(th, 0)
	r.Tasks.Activate(t)
	cpu.AddRunnable(1)
	return t, nil
}

// Sample refreshes the DQDT tree from each cluster's current pool/CPU
// stats and copies the result into the Prometheus gauges, the Go
// analogue of one dqdt_update cycle plus a scrape-ready export.
func (r *Runtime) Sample() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.Table.Clusters() {
		pool := r.pools[c.CID]
		stats := dqdt.CollectLeafStats(c, pool)
		r.Tree.UpdateLeaf(c.CID, stats)
		metrics.ObservePPM(c, pool)
		for _, cpu := range c.CPUs {
			metrics.ObserveCPU(c, cpu)
			metrics.ObserveRunQueueDepth(c, cpu, cpu.Runnable())
		}
	}
	r.Tree.Fold()
	walkSummaries(r.Tree.Root, func(n *dqdt.Node) {
		metrics.ObserveDQDTNode(n.Level, n.Summary)
	})
}

func walkSummaries(n *dqdt.Node, fn func(*dqdt.Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		walkSummaries(c, fn)
	}
}
