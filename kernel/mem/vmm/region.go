// Package vmm is the per-task Virtual Memory Manager: an ordered list
// of regions plus the fault handler that turns a bad virtual address
// into a PMM entry. Grounded on mm/vm_region.c (region layout,
// sorted-list insertion/lookup by address) and mm/vmm.c (the fault
// dispatcher: COW / migrate / mapped / anonymous-demand-zero).
package vmm

import (
	"sort"

	"almos/kernel"
	"almos/kernel/mem"
	"almos/kernel/mem/mapper"
	"almos/kernel/mem/ppm"
	"almos/kernel/mem/pmm"
)

// Kind classifies a region's backing, the Go analogue of the
// vm_region_s flags that decide which vmm_do_* path a fault takes.
type Kind int

const (
	// KindAnon is a private anonymous region: faults are demand-zero
	// (vmm_do_aod).
	KindAnon Kind = iota
	// KindFile is backed by a Mapper (vmm_do_mapped).
	KindFile
	// KindSharedAnon is an anonymous region shared across tasks via its
	// own Mapper (vmm_do_shared_anon_mapping).
	KindSharedAnon
)

// Region is one VMA, the Go analogue of vm_region_s trimmed to the
// fields the fault handler and hole-finder actually need.
type Region struct {
	Start, End mem.VPN // [Start, End)
	Offset     uint64  // byte offset into the mapper this region starts at
	Prot       pmm.Attr
	Kind       Kind
	Mapper     *mapper.Mapper // non-nil for KindFile/KindSharedAnon
	File       any            // opaque backend handle, mirrors vm_file
}

func (r *Region) contains(vpn mem.VPN) bool { return vpn >= r.Start && vpn < r.End }

// VMM is one task's address space: its page table plus an ordered
// region list. The original additionally keeps a key-DB cache
// (vmm_keysdb_update) purely to speed up fault lookups; a sorted slice
// search is fast enough at this scale, so only the authoritative list
// is kept.
type VMM struct {
	PMM       *pmm.PMM
	Pool      *ppm.PPM
	ClusterID uint16
	regions   []*Region // kept sorted by Start
}

// New builds an empty address space over table, pulling anonymous-fault
// pages from pool.
func New(table *pmm.PMM, pool *ppm.PPM, clusterID uint16) *VMM {
	return &VMM{PMM: table, Pool: pool, ClusterID: clusterID}
}

// Mmap inserts a new region covering [start, end), the Go analogue of
// vm_region_init + vm_region_add. Overlap with an existing region is
// rejected, matching vm_region_add's hole-finding contract.
func (v *VMM) Mmap(start, end mem.VPN, prot pmm.Attr, kind Kind, m *mapper.Mapper, offset uint64) (*Region, error) {
	if end <= start {
		return nil, kernel.NewError("vmm", kernel.EINVAL, "empty or inverted region")
	}

	i := sort.Search(len(v.regions), func(i int) bool { return v.regions[i].Start >= start })
	if i > 0 && v.regions[i-1].End > start {
		return nil, kernel.NewError("vmm", kernel.EINVAL, "region overlaps a preceding region")
	}
	if i < len(v.regions) && v.regions[i].Start < end {
		return nil, kernel.NewError("vmm", kernel.EINVAL, "region overlaps a following region")
	}

	r := &Region{Start: start, End: end, Offset: offset, Prot: prot, Kind: kind, Mapper: m}
	v.regions = append(v.regions, nil)
	copy(v.regions[i+1:], v.regions[i:])
	v.regions[i] = r
	return r, nil
}

// Find returns the region containing vpn, the Go analogue of
// vm_region_find's sorted-list walk.
func (v *VMM) Find(vpn mem.VPN) *Region {
	i := sort.Search(len(v.regions), func(i int) bool { return v.regions[i].End > vpn })
	if i < len(v.regions) && v.regions[i].contains(vpn) {
		return v.regions[i]
	}
	return nil
}

// Munmap removes the region starting exactly at start, the Go analogue
// of vmm_do_munmap/vmm_munmap restricted to whole-region unmap (partial
// unmap/splitting is not exercised by any scenario this kernel models).
func (v *VMM) Munmap(start mem.VPN) error {
	for i, r := range v.regions {
		if r.Start == start {
			v.regions = append(v.regions[:i], v.regions[i+1:]...)
			return nil
		}
	}
	return kernel.NewError("vmm", kernel.EINVAL, "no region starts at that address")
}

// Regions returns every region in ascending address order.
func (v *VMM) Regions() []*Region {
	out := make([]*Region, len(v.regions))
	copy(out, v.regions)
	return out
}

// MarkMigrate flags every present page of the region covering vaddr
// with AttrMigrate, the Go analogue of vmm_madvise_migrate
// (CONFIG_AUTO_NEXT_TOUCH's "migrate all eligible regions" behavior
// narrowed to one region at a time). Nothing moves yet: the next fault
// on each flagged entry runs doMigrate instead of treating it as a
// spurious re-fault, so the page only actually copies once the thread
// touches it again.
func (v *VMM) MarkMigrate(vaddr mem.VPN) error {
	region := v.Find(vaddr)
	if region == nil {
		return kernel.NewError("vmm", kernel.EINVAL, "no region covers the given address")
	}
	for vpn := region.Start; vpn < region.End; vpn++ {
		info, err := v.PMM.GetPage(vpn)
		if err != nil {
			return err
		}
		if info.Attr&pmm.AttrPresent == 0 {
			continue
		}
		info.Attr |= pmm.AttrMigrate
		if err := v.PMM.SetPage(vpn, info); err != nil {
			return err
		}
	}
	return nil
}

// Dup replicates every region of v into the freshly built dst, the Go
// analogue of fork's region_dup path (vm_region.c's region list copy).
// File-backed and shared-anonymous regions are re-mapped against the
// same Mapper and their PDE range shared through PMM.RegionDup
// (pmm_region_dup's raw PDE-range share) — they were already safe to
// share before the fork. Private anonymous regions get page tables of
// their own in dst: every already-present page is write-protected and
// marked AttrCOW in both address spaces, with its
// physical page's reference count bumped so neither parent nor child
// frees it out from under the other; vmm.Fault's doCOW later gives
// whichever side writes first its own copy.
func (v *VMM) Dup(dst *VMM) error {
	for _, r := range v.regions {
		if _, err := dst.Mmap(r.Start, r.End, r.Prot, r.Kind, r.Mapper, r.Offset); err != nil {
			return err
		}
		if r.Kind != KindAnon {
			if err := v.PMM.RegionDup(dst.PMM, r.Start, r.End); err != nil {
				return err
			}
			continue
		}
		for vpn := r.Start; vpn < r.End; vpn++ {
			info, err := v.PMM.GetPage(vpn)
			if err != nil || info.Attr&pmm.AttrPresent == 0 {
				continue
			}
			info.Attr |= pmm.AttrCOW
			info.Attr &^= pmm.AttrWrite
			if err := v.PMM.SetPage(vpn, info); err != nil {
				return err
			}
			if err := dst.PMM.SetPage(vpn, info); err != nil {
				return err
			}
			v.Pool.Page(info.PPN).Get()
		}
	}
	return nil
}
