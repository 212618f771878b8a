// Package pmm is the per-task Page-Map Manager: the two-level page
// table (PDE -> PTD -> PTE) a VMM region fault handler installs entries
// into. Grounded on arch/tsar/pmm.c, the only page-table source the
// retrieval pack carries: a PDE either holds a huge-page leaf directly
// or PMM_PRESENT|PTD-pointer to a 512-entry PTE table, installed with a
// compare-and-swap so two concurrent faulters racing to instantiate the
// same PTD never double-allocate (pmm_set_page's cpu_atomic_cas loop).
package pmm

import (
	"sync"
	"sync/atomic"

	"almos/kernel"
	"almos/kernel/mem"
	"almos/kernel/mem/ppm"
)

// ptesPerPTD mirrors the "ppn >> 9" huge-page shift arch/tsar/pmm.c
// bakes in: one huge page (2^9 base pages) per PDE slot.
const ptesPerPTD = 1 << 9

// Attr is a page-table entry attribute bitset, the Go analogue of the
// PMM_* flags (PMM_PRESENT, PMM_HUGE, PMM_COW, ...).
type Attr uint32

const (
	AttrPresent Attr = 1 << iota
	AttrHuge
	AttrWrite
	AttrUser
	AttrExec
	AttrCOW
	AttrLocked
	AttrCached
	// AttrMigrate marks an entry whose page is present but pending a
	// DQDT-driven migration closer to the faulting CPU's cluster.
	AttrMigrate
)

// PageInfo is the Go analogue of pmm_page_info_t: an entry's attributes
// plus the physical page number it resolves to.
type PageInfo struct {
	Attr Attr
	PPN  uint64
}

// pde is one page-directory slot: either a huge leaf (table == nil) or a
// pointer to a second-level table.
type pde struct {
	huge  bool
	attr  Attr
	ppn   uint64
	table *ptd
}

// ptd is a second-level page table (a PTE array), backed by one ppm
// page so it can be released like any other frame.
type ptd struct {
	mu      sync.Mutex
	entries [ptesPerPTD]PageInfo
	backing *ppm.Page
}

// PMM is one task's page table: a fixed-size page directory plus the
// PPM it pulls PTD pages from.
type PMM struct {
	pages []atomic.Pointer[pde]
	pool  *ppm.PPM
}

// New builds an empty page table with pdeCount directory slots, backed
// by pool for PTD page allocation.
func New(pool *ppm.PPM, pdeCount int) *PMM {
	return &PMM{pages: make([]atomic.Pointer[pde], pdeCount), pool: pool}
}

func pdeIndex(vpn mem.VPN) int { return int(uint64(vpn) / ptesPerPTD) }
func pteIndex(vpn mem.VPN) int { return int(uint64(vpn) % ptesPerPTD) }

// SetPage installs a single entry at vpn, the Go analogue of
// pmm_set_page. A huge entry is installed directly in the PDE slot; a
// regular entry first ensures a PTD exists (allocating and CAS-
// installing one if this is the first fault in that 512-page span) then
// writes its PTE under the table's lock.
func (p *PMM) SetPage(vpn mem.VPN, info PageInfo) error {
	idx := pdeIndex(vpn)
	if idx >= len(p.pages) {
		return kernel.NewError("pmm", kernel.EINVAL, "virtual page number out of range")
	}

	if info.Attr&AttrHuge != 0 {
		p.pages[idx].Store(&pde{huge: true, attr: info.Attr, ppn: info.PPN})
		return nil
	}

	table, err := p.ensureTable(idx)
	if err != nil {
		return err
	}
	table.mu.Lock()
	table.entries[pteIndex(vpn)] = info
	table.mu.Unlock()
	return nil
}

// ensureTable returns the PTD for PDE slot idx, allocating and
// installing one via compare-and-swap if absent. A loser of the race
// frees its speculative allocation and adopts the winner's table —
// pmm_set_page's spurious_pgfault_cntr path.
func (p *PMM) ensureTable(idx int) (*ptd, error) {
	if cur := p.pages[idx].Load(); cur != nil {
		if cur.huge {
			return nil, kernel.NewError("pmm", kernel.EINVAL, "PDE already holds a huge leaf")
		}
		return cur.table, nil
	}

	page, err := p.pool.Allocate(0, ppm.AllocZero)
	if err != nil {
		return nil, err
	}
	fresh := &pde{table: &ptd{backing: page}}

	if p.pages[idx].CompareAndSwap(nil, fresh) {
		return fresh.table, nil
	}

	p.pool.Free(page)
	winner := p.pages[idx].Load()
	if winner == nil || winner.huge {
		return nil, kernel.NewError("pmm", kernel.EINVAL, "concurrent PDE install left an unexpected state")
	}
	return winner.table, nil
}

// GetPage reads the entry mapping vpn, the Go analogue of pmm_get_page.
// A zero PageInfo (Attr == 0) means unmapped.
func (p *PMM) GetPage(vpn mem.VPN) (PageInfo, error) {
	idx := pdeIndex(vpn)
	if idx >= len(p.pages) {
		return PageInfo{}, kernel.NewError("pmm", kernel.EINVAL, "virtual page number out of range")
	}

	cur := p.pages[idx].Load()
	if cur == nil {
		return PageInfo{}, nil
	}
	if cur.huge {
		return PageInfo{Attr: cur.attr, PPN: cur.ppn}, nil
	}

	cur.table.mu.Lock()
	info := cur.table.entries[pteIndex(vpn)]
	cur.table.mu.Unlock()
	return info, nil
}

// LockPage sets AttrLocked on the entry mapping vpn and returns its
// prior state, the Go analogue of pmm_lock_page's locked-bit CAS loop
// (collapsed to the table mutex here, since Go gives us one for free
// instead of a raw CAS over a shared cache line).
func (p *PMM) LockPage(vpn mem.VPN) (PageInfo, error) {
	idx := pdeIndex(vpn)
	if idx >= len(p.pages) {
		return PageInfo{}, kernel.NewError("pmm", kernel.EINVAL, "virtual page number out of range")
	}
	cur := p.pages[idx].Load()
	if cur == nil || cur.huge {
		return PageInfo{}, kernel.NewError("pmm", kernel.EINVAL, "cannot lock an absent or huge entry")
	}

	cur.table.mu.Lock()
	defer cur.table.mu.Unlock()
	i := pteIndex(vpn)
	prior := cur.table.entries[i]
	cur.table.entries[i].Attr |= AttrLocked
	return prior, nil
}

// UnlockPage clears AttrLocked on the entry mapping vpn.
func (p *PMM) UnlockPage(vpn mem.VPN) error {
	idx := pdeIndex(vpn)
	if idx >= len(p.pages) {
		return kernel.NewError("pmm", kernel.EINVAL, "virtual page number out of range")
	}
	cur := p.pages[idx].Load()
	if cur == nil || cur.huge {
		return kernel.NewError("pmm", kernel.EINVAL, "cannot unlock an absent or huge entry")
	}

	cur.table.mu.Lock()
	cur.table.entries[pteIndex(vpn)].Attr &^= AttrLocked
	cur.table.mu.Unlock()
	return nil
}

// RegionDup shares the PDE slots covering [start,limit) from src into
// dst, the Go analogue of pmm_region_dup's memcpy of the raw PDE range:
// parent and child share PTDs, so an entry either side later installs or
// changes in that range is seen by both.
func (p *PMM) RegionDup(dst *PMM, start, limit mem.VPN) error {
	if limit <= start {
		return nil
	}
	// limit is exclusive, so the last page it covers is limit-1; indexing
	// off limit directly would round a sub-2MB region down to an empty
	// slot range instead of the one PDE slot it actually occupies.
	from, to := pdeIndex(start), pdeIndex(limit-1)+1
	if to > len(p.pages) || to > len(dst.pages) {
		return kernel.NewError("pmm", kernel.EINVAL, "region exceeds page table bounds")
	}
	for i := from; i < to; i++ {
		dst.pages[i].Store(p.pages[i].Load())
	}
	return nil
}

// Release frees every page this table still maps, plus every PTD page
// itself, the Go analogue of pmm_release's walk over pgdir.
func (p *PMM) Release() {
	for i := range p.pages {
		cur := p.pages[i].Load()
		if cur == nil {
			continue
		}
		if cur.huge {
			if cur.attr&AttrPresent != 0 {
				p.pool.Free(p.pool.Page(cur.ppn))
			}
			p.pages[i].Store(nil)
			continue
		}
		cur.table.mu.Lock()
		for _, e := range cur.table.entries {
			if e.Attr&AttrPresent != 0 {
				p.pool.Free(p.pool.Page(e.PPN))
			}
		}
		cur.table.mu.Unlock()
		if cur.table.backing != nil {
			p.pool.Free(cur.table.backing)
		}
		p.pages[i].Store(nil)
	}
}
