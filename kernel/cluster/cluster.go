package cluster

import (
	"sort"

	"almos/kernel"
	"almos/kernel/bib"
)

// Cluster is one tile of the mesh: a fixed CPU set plus the coordinates
// DQDT distance-sorts children by. Mirrors kern/cluster.h's cluster_s
// stripped of everything (ppm, kcm, heap manager, sysfs) that a later
// package attaches by ClusterID instead of by embedding.
type Cluster struct {
	CID    uint16
	X, Y   uint16
	CPUs   []*CPU
	BSCPU  *CPU // bootstrap CPU, cluster_s.bscpu
	DevNr  int
	devBuf []bib.DeviceDesc
}

// Devices returns the cluster's device descriptors, as decoded from the
// BIB at boot.
func (c *Cluster) Devices() []bib.DeviceDesc { return c.devBuf }

// Table is the Go analogue of ALMOS's clusters_tbl global array:
// every cluster in the mesh, indexed by CID.
type Table struct {
	byCID map[uint16]*Cluster
	order []uint16 // CIDs in ascending order, for deterministic iteration
}

// NewTable builds a Table from a validated BootInfoBlock, the Go
// analogue of clusters_init() walking the BIB's cluster descriptors
// (kern/cluster.h's clusters_init/cluster_init).
func NewTable(b *bib.BootInfoBlock) (*Table, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	yMax := b.Header.YMax
	if yMax == 0 {
		yMax = 1
	}

	t := &Table{byCID: make(map[uint16]*Cluster, len(b.Clusters))}
	for _, cd := range b.Clusters {
		c := &Cluster{
			CID:    cd.CID,
			X:      cd.CID / yMax,
			Y:      cd.CID % yMax,
			DevNr:  int(cd.DevNr),
			devBuf: b.Devices[cd.CID],
		}
		c.CPUs = make([]*CPU, cd.CPUNr)
		for lid := uint(0); lid < uint(cd.CPUNr); lid++ {
			gid := lid + uint(cd.CID)*uint(cd.CPUNr)
			c.CPUs[lid] = NewCPU(c, lid, gid)
		}
		if len(c.CPUs) > 0 {
			c.BSCPU = c.CPUs[0]
		}
		t.byCID[cd.CID] = c
		t.order = append(t.order, cd.CID)
	}
	sort.Slice(t.order, func(i, j int) bool { return t.order[i] < t.order[j] })
	return t, nil
}

// Cluster looks up a cluster by id.
func (t *Table) Cluster(cid uint16) (*Cluster, error) {
	c, ok := t.byCID[cid]
	if !ok {
		return nil, kernel.NewError("cluster", kernel.EINVAL, "unknown cluster id")
	}
	return c, nil
}

// Clusters returns every cluster in ascending CID order.
func (t *Table) Clusters() []*Cluster {
	out := make([]*Cluster, 0, len(t.order))
	for _, cid := range t.order {
		out = append(out, t.byCID[cid])
	}
	return out
}

// Len reports how many clusters the mesh has.
func (t *Table) Len() int { return len(t.byCID) }
