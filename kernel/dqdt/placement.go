package dqdt

import (
	"almos/kernel"
	"almos/kernel/cluster"
)

// ChildUsageSelect admits a child whose folded Usage is comfortably
// under capacity, the Go analogue of dqdt_placement_child_select.
func ChildUsageSelect(node *Node, attr *Attr, childIndex int) bool {
	return node.Children[childIndex].Summary.Usage < 100
}

// ClusterUsageSelect admits node itself for thread placement, the Go
// analogue of dqdt_placement_clstr_select.
func ClusterUsageSelect(node *Node, attr *Attr, _ int) bool {
	return node.Summary.Usage <= 90
}

// MigrateClusterSelect admits node itself for thread migration, the Go
// analogue of dqdt_migrate_clstr_select: a looser bound than placement
// since migration is trying to relieve a cluster that is already busy.
func MigrateClusterSelect(node *Node, attr *Attr, _ int) bool {
	return node.Summary.Usage < 100
}

// CPUFreeSelect picks the first CPU in node.Home with no runnable
// threads and modest busy history, the Go analogue of
// dqdt_cpu_free_select/dqdt_cpu_isSelectable.
func CPUFreeSelect(node *Node, attr *Attr, _ int) bool {
	c := node.Home
	if c == nil {
		return false
	}
	for _, cpu := range c.CPUs {
		if cpu.Runnable() == 0 && cpu.BusyPercent() <= 80 {
			attr.Cluster = c
			attr.CPU = cpu
			return true
		}
	}
	return false
}

// CPUMinUsageSelect picks node.Home's least-busy CPU, admitting it only
// if it clears both thresholds, the Go analogue of
// dqdt_cpu_min_usage_select.
func CPUMinUsageSelect(node *Node, attr *Attr, _ int) bool {
	c := node.Home
	if c == nil || len(c.CPUs) == 0 {
		return false
	}

	min := c.CPUs[0]
	for _, cpu := range c.CPUs[1:] {
		if cpu.BusyPercent() < min.BusyPercent() {
			min = cpu
		}
	}

	if uint32(min.BusyPercent()) <= attr.UThreshold && uint32(min.Runnable()) <= attr.TThreshold {
		attr.Cluster = c
		attr.CPU = min
		return true
	}
	return false
}

// PlaceThread finds a CPU to run a new thread on, starting from logical
// and climbing toward the root, the Go analogue of
// dqdt_thread_placement: a first pass demands near-idle CPUs, then a
// widening series of passes accepts busier and busier ones rather than
// failing outright.
func PlaceThread(logical *Node, maxDepth int) (*cluster.Cluster, *cluster.CPU, error) {
	attr := &Attr{Origin: logical, TThreshold: 2, UThreshold: 98, Distance: DistanceManhattan}

	err := UpTraversal(logical, attr, ChildUsageSelect, ClusterUsageSelect, CPUFreeSelect, maxDepth, logical.Index)
	if err == nil {
		return attr.Cluster, attr.CPU, nil
	}

	for threshold := uint32(10); threshold < 100; threshold += 20 {
		attr.UThreshold = threshold
		err = UpTraversal(logical, attr, ChildUsageSelect, ClusterUsageSelect, CPUMinUsageSelect, maxDepth, logical.Index)
		if err == nil {
			return attr.Cluster, attr.CPU, nil
		}
	}
	return nil, nil, kernel.NewError("dqdt", kernel.EAGAIN, "no cluster accepted the thread at any usage threshold")
}

// MigrateThread looks for a less-loaded home for an already-running
// thread, the Go analogue of dqdt_thread_migrate's banded search
// (20/40/60/80 usage thresholds, free-CPU select on the first and last
// bands, min-usage otherwise).
func MigrateThread(logical *Node, onlineCPUCount int) (*cluster.Cluster, *cluster.CPU, error) {
	attr := &Attr{Origin: logical, TThreshold: uint32(onlineCPUCount), Distance: DistanceManhattan}

	var err error
	for threshold := uint32(20); threshold < 100; threshold += 20 {
		attr.UThreshold = threshold
		request := CPUMinUsageSelect
		if threshold == 20 || threshold == 80 {
			request = CPUFreeSelect
		}
		err = UpTraversal(logical, attr, ChildUsageSelect, MigrateClusterSelect, request, 3, logical.Index)
		if err == nil {
			return attr.Cluster, attr.CPU, nil
		}
	}
	return nil, nil, err
}

// MemClusterSelect admits node itself for a memory request if it has a
// free block at attr.Order or above and enough total free pages, the Go
// analogue of dqdt_mem_clstr_select (folded summary) composed with
// dqdt_mem_select (leaf-level exact check against the live pool happens
// in the caller, via attr.Cluster once this returns true).
func MemClusterSelect(node *Node, attr *Attr, _ int) bool {
	return hasOrderAndRoom(node.Summary.PerOrder, attr.Order, node.Summary.FreePages, attr.MThreshold)
}

// MemChildSelect is MemClusterSelect applied to a specific child, the Go
// analogue of dqdt_mem_child_select.
func MemChildSelect(node *Node, attr *Attr, childIndex int) bool {
	child := node.Children[childIndex]
	return hasOrderAndRoom(child.Summary.PerOrder, attr.Order, child.Summary.FreePages, attr.MThreshold)
}

func hasOrderAndRoom(perOrder []uint64, order uint, freePages uint64, threshold uint64) bool {
	found := false
	for i := int(order); i < len(perOrder); i++ {
		if perOrder[i] != 0 {
			found = true
			break
		}
	}
	return found && freePages > threshold
}

// MemSelect is the leaf-level request function for a memory allocation
// request: it admits node.Home if its live pool still has the requested
// order/threshold once the traversal reaches it, the Go analogue of
// dqdt_mem_select.
func MemSelect(node *Node, attr *Attr, _ int) bool {
	if node.Home == nil {
		return false
	}
	if !hasOrderAndRoom(node.Summary.PerOrder, attr.Order, node.Summary.FreePages, attr.MThreshold) {
		return false
	}
	attr.Cluster = node.Home
	attr.CPU = nil
	return true
}

// RequestMemory finds a cluster with a free block of at least attr.Order
// and more than threshold total free pages, starting from logical and
// climbing toward the root, the Go analogue of dqdt_mem_request.
func RequestMemory(logical *Node, order uint, threshold uint64, maxDepth int) (*cluster.Cluster, error) {
	attr := &Attr{Origin: logical, Order: order, MThreshold: threshold, Distance: DistanceManhattan}
	if err := UpTraversal(logical, attr, MemChildSelect, MemClusterSelect, MemSelect, maxDepth, logical.Index); err != nil {
		return nil, err
	}
	return attr.Cluster, nil
}
