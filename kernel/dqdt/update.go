package dqdt

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	kernelsync "almos/kernel/sync"
)

// updatePeriod mirrors DQDT_MGR_PERIOD: how often a cluster's DQDT
// summary is expected to refresh, and therefore how slowly an
// exhausted caller's token bucket refills.
const updatePeriod = 200 * time.Millisecond

// UpdateLeaf writes stats into the level-0 node for cid and folds the
// change up to the root, the Go analogue of dqdt_update: a cluster
// samples its own state, stores it at levels_tbl[0], then walks
// levels_tbl[1..] propagating the fold toward dqdt_root.
func (t *Tree) UpdateLeaf(cid uint16, stats LeafStats) {
	leaf := t.leaves[cid]
	if leaf == nil {
		return
	}

	leaf.Summary.FreePages = stats.FreePages
	leaf.Summary.Threads = stats.Threads
	leaf.Summary.Usage = stats.Usage
	copy(leaf.Summary.PerOrder, stats.PerOrder)

	for n := leaf.Parent; n != nil; n = n.Parent {
		foldInto(n)
	}
}

// foldInto recomputes n's summary from its children: M and T sum,
// pages_tbl sums elementwise, and U averages over present children —
// exactly dqdt_update's accumulation loop over logical->children[0..3].
func foldInto(n *Node) {
	var freePages uint64
	var threads, usage uint32
	var present uint32
	perOrder := make([]uint64, len(n.Summary.PerOrder))

	for _, child := range n.Children {
		if child == nil {
			continue
		}
		freePages += child.Summary.FreePages
		threads += child.Summary.Threads
		usage += child.Summary.Usage
		present++
		for i, v := range child.Summary.PerOrder {
			if i < len(perOrder) {
				perOrder[i] += v
			}
		}
	}

	n.Summary.FreePages = freePages
	n.Summary.Threads = threads
	n.Summary.PerOrder = perOrder
	if present > 0 {
		n.Summary.Usage = usage / present
	} else {
		n.Summary.Usage = 0
	}
}

// Fold recomputes every non-leaf summary bottom-up from scratch, useful
// after building a tree from leaf state directly (tests, a cold
// restart) rather than incrementally through UpdateLeaf.
func (t *Tree) Fold() {
	levels := map[int][]*Node{}
	var walk func(n *Node)
	walk = func(n *Node) {
		levels[n.Level] = append(levels[n.Level], n)
		for _, c := range n.Children {
			if c != nil {
				walk(c)
			}
		}
	}
	walk(t.Root)

	maxLevel := 0
	for lvl := range levels {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	for lvl := 1; lvl <= maxLevel; lvl++ {
		for _, n := range levels[lvl] {
			foldInto(n)
		}
	}
}

// UpdateGate paces how often concurrent callers trigger a fresh DQDT
// update versus riding the last one, the Go analogue of
// dqdt_wait_for_update/dqdt_update_done. The original hand-rolls a
// burst counter keyed by the last admitted pid; here each caller's
// admission budget is a real golang.org/x/time/rate.Limiter keyed by
// task id, reset whenever an update actually completes — the per-pid
// "ride the current burst" behavior without the original's manual
// counter arithmetic.
type UpdateGate struct {
	mu       sync.Mutex
	waiters  kernelsync.WaitQueue
	limiters map[uint64]*rate.Limiter
	burst    int
}

// NewUpdateGate builds a gate with the original's initial threshold
// (100 admissions before forcing a fresh update).
func NewUpdateGate() *UpdateGate {
	return &UpdateGate{limiters: make(map[uint64]*rate.Limiter), burst: 100}
}

func (g *UpdateGate) limiterLocked(tid uint64) *rate.Limiter {
	lim, ok := g.limiters[tid]
	if !ok {
		lim = rate.NewLimiter(rate.Every(updatePeriod), g.burst)
		g.limiters[tid] = lim
	}
	return lim
}

// Wait blocks the caller (identified by tid, e.g. a thread or task id)
// until it is this gate's turn to either perform an update itself or
// ride one just completed. A caller is admitted immediately while its
// token bucket still has budget; once exhausted it queues behind
// whichever caller is currently driving the update.
func (g *UpdateGate) Wait(tid uint64) {
	g.mu.Lock()
	lim := g.limiterLocked(tid)
	if lim.Allow() {
		g.mu.Unlock()
		return
	}
	w := g.waiters.Enqueue(true)
	g.mu.Unlock()
	w.Wait()
}

// Done wakes the oldest waiter and resets every task's budget, the Go
// analogue of dqdt_update_done: a tighter budget of 10 kicks in once
// usage climbs past 60%, since a hot tree needs updates to propagate
// faster than a mostly-idle one lets a single task hog the gate.
func (g *UpdateGate) Done(rootUsage uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.waiters.WakeOne()
	if rootUsage < 60 {
		g.burst = 100
	} else {
		g.burst = 10
	}
	g.limiters = make(map[uint64]*rate.Limiter)
}
