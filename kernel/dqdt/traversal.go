package dqdt

import (
	"sort"

	"almos/kernel"
	"almos/kernel/cluster"
)

// DistanceKind selects how Attr.Distance ranks sibling candidates
// during a down traversal, the Go analogue of DQDT_DIST_MANHATTAN/
// DQDT_DIST_RANDOM.
type DistanceKind int

const (
	// DistanceManhattan ranks children by |dx|+|dy| from Attr.Origin,
	// favoring placement close to the requester (thread/task placement).
	DistanceManhattan DistanceKind = iota
	// DistanceRandom ranks children in a pseudo-random order, used when
	// locality doesn't matter (a bare memory request).
	DistanceRandom
)

// Attr carries one placement request through a traversal, the Go
// analogue of dqdt_attr_s.
type Attr struct {
	Origin       *Node
	Distance     DistanceKind
	UThreshold   uint32 // max acceptable Usage
	TThreshold   uint32 // max acceptable Threads/runnable count
	MThreshold   uint64 // min acceptable FreePages (memory requests)
	Order        uint   // buddy order a memory request needs available
	Rand         func() uint32

	// Result, filled in by the request SelectFunc once it succeeds.
	Cluster *cluster.Cluster
	CPU     *cluster.CPU
}

// SelectFunc decides whether node (or, when childIndex >= 0, node's
// child at that index) satisfies a request, the Go analogue of
// DQDT_SELECT_HELPER. childIndex == -1 means "evaluate node itself".
type SelectFunc func(node *Node, attr *Attr, childIndex int) bool

// distance ranks b's desirability relative to Attr.Origin, the Go
// analogue of dqdt_distance.
func distance(a, b *Node, attr *Attr) uint {
	switch attr.Distance {
	case DistanceManhattan:
		if a.Rep == nil || b.Rep == nil {
			return 1
		}
		dx := int(a.Rep.X) - int(b.Rep.X)
		dy := int(a.Rep.Y) - int(b.Rep.Y)
		if dx < 0 {
			dx = -dx
		}
		if dy < 0 {
			dy = -dy
		}
		return uint(dx + dy)
	case DistanceRandom:
		if attr.Rand != nil {
			return uint(attr.Rand())
		}
		return 0
	default:
		return 1
	}
}

// DownTraversal walks from node toward a leaf, at each level picking
// the child select admits and ranking admitted children by distance to
// Attr.Origin (closest first), the Go analogue of
// dqdt_down_traversal. Admitted children are ranked by distance mod 101
// with sort.Slice over a small struct slice; sort.Slice is not stable,
// so the order of children at equal distance is not defined.
func DownTraversal(node *Node, attr *Attr, childSelect, request SelectFunc, skipIndex int) bool {
	if node.Level == 0 {
		return request(node, attr, -1)
	}

	type ranked struct {
		child int
		val   uint
	}
	var candidates []ranked
	for i, child := range node.Children {
		if child == nil || i == skipIndex {
			continue
		}
		if !childSelect(node, attr, i) {
			continue
		}
		d := distance(attr.Origin, child, attr) % 101
		candidates = append(candidates, ranked{child: i, val: d})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].val < candidates[j].val })

	for _, c := range candidates {
		if DownTraversal(node.Children[c.child], attr, childSelect, request, 5) {
			return true
		}
	}
	return false
}

// UpTraversal walks from node toward the root (bounded by limit levels
// up), at each level trying a down traversal rooted there before
// climbing further, the Go analogue of dqdt_up_traversal.
func UpTraversal(node *Node, attr *Attr, childSelect, clusterSelect, request SelectFunc, limit int, index int) error {
	if node == nil {
		return kernel.NewError("dqdt", kernel.EAGAIN, "reached the top of the tree without a parent")
	}
	if node.Level > limit {
		return kernel.NewError("dqdt", kernel.ERANGE, "traversal exceeded its level budget")
	}

	if clusterSelect(node, attr, -1) {
		if DownTraversal(node, attr, childSelect, request, index) {
			return nil
		}
	}

	if childrenCount(node) == 1 {
		return kernel.NewError("dqdt", kernel.EAGAIN, "climbing further gains nothing above a single-child node")
	}

	if node.Parent == nil {
		return kernel.NewError("dqdt", kernel.EAGAIN, "no placement found up to the root")
	}
	return UpTraversal(node.Parent, attr, childSelect, clusterSelect, request, limit, node.Index)
}

func childrenCount(n *Node) int {
	count := 0
	for _, c := range n.Children {
		if c != nil {
			count++
		}
	}
	return count
}
