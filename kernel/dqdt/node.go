// Package dqdt is the Distributed Quaternary Decision Tree: a static
// quaternary tree over the cluster mesh whose nodes carry a bottom-up
// folded summary (free pages, runnable threads, CPU usage) and whose
// up/down traversal places a thread, a task or a memory request near
// where resources are actually free instead of broadcasting to every
// cluster. Grounded on kern/dqdt.c.
package dqdt

import (
	"almos/kernel/cluster"
	"almos/kernel/mem/ppm"
)

// Summary is the Go analogue of dqdt_summary_s: a node's folded view of
// the resources beneath it.
type Summary struct {
	FreePages uint64   // M: total free pages, or the leaf's own free_pages_nr
	Threads   uint32   // T: sum of runnable threads
	Usage     uint32   // U: average CPU busy percent, 0..100
	PerOrder  []uint64 // pages_tbl: free-block count at each buddy order
}

// Node is one level of the tree, the Go analogue of dqdt_cluster_s.
// Level 0 nodes are physical clusters (Home != nil); higher levels
// group up to 4 children into one logical node.
type Node struct {
	Level    int
	Index    int // this node's slot (0..3) within its parent
	Home     *cluster.Cluster // non-nil only at level 0
	Rep      *cluster.Cluster // representative cluster used for distance, any level
	Parent   *Node
	Children [4]*Node

	Summary Summary
}

// Tree is a built DQDT instance, the Go analogue of the dqdt_root
// global plus every cluster's levels_tbl.
type Tree struct {
	Root     *Node
	leaves   map[uint16]*Node // by cluster CID
	maxOrder uint
}

// Build constructs a tree over every cluster in table, the Go analogue
// of dqdt_init's static quad-tree carving: clusters are assigned to
// leaves in CID order and grouped four at a time going up until a
// single root remains. maxOrder bounds PerOrder's length (PPM_MAX_ORDER).
func Build(table *cluster.Table, maxOrder uint) *Tree {
	clusters := table.Clusters()
	t := &Tree{leaves: make(map[uint16]*Node, len(clusters)), maxOrder: maxOrder}

	level := make([]*Node, 0, len(clusters))
	for i, c := range clusters {
		n := &Node{Level: 0, Index: i % 4, Home: c, Rep: c, Summary: Summary{PerOrder: make([]uint64, maxOrder+1)}}
		level = append(level, n)
		t.leaves[c.CID] = n
	}

	if len(level) == 0 {
		t.Root = &Node{Level: 0, Summary: Summary{PerOrder: make([]uint64, maxOrder+1)}}
		return t
	}

	for lvl := 1; len(level) > 1; lvl++ {
		var next []*Node
		for i := 0; i < len(level); i += 4 {
			end := i + 4
			if end > len(level) {
				end = len(level)
			}
			group := level[i:end]
			parent := &Node{
				Level: lvl,
				Index: (i / 4) % 4,
				Rep:   group[0].Rep,
				Summary: Summary{PerOrder: make([]uint64, maxOrder+1)},
			}
			for j, child := range group {
				child.Parent = parent
				child.Index = j
				parent.Children[j] = child
			}
			next = append(next, parent)
		}
		level = next
	}
	t.Root = level[0]
	return t
}

// Leaf returns the level-0 node for a cluster id, or nil if unknown.
func (t *Tree) Leaf(cid uint16) *Node { return t.leaves[cid] }

// LeafStats is what a cluster reports into DQDT on each update cycle,
// the Go analogue of the fields dqdt_update reads straight off
// cluster_s/ppm_s before folding them into the level-0 summary.
type LeafStats struct {
	FreePages uint64
	PerOrder  []uint64 // indexed by buddy order
	Threads   uint32
	Usage     uint32 // average CPU busy percent across the cluster's online CPUs
}

// CollectLeafStats samples c's online CPUs and pool's free lists into a
// LeafStats, the Go analogue of dqdt_update's per-cluster sampling pass
// (the cpu_compute_stats loop plus the cluster->ppm.free_pages_nr/
// free_pages[i].pages_nr reads) that feeds the level-0 summary.
func CollectLeafStats(c *cluster.Cluster, pool *ppm.PPM) LeafStats {
	var usage, threads uint32
	for _, cpu := range c.CPUs {
		usage += uint32(cpu.BusyPercent())
		threads += uint32(cpu.Runnable())
	}
	if len(c.CPUs) > 0 {
		usage /= uint32(len(c.CPUs))
	}
	return LeafStats{
		FreePages: pool.FreePages(),
		PerOrder:  pool.FreeBlocksPerOrder(),
		Usage:     usage,
		Threads:   threads,
	}
}
