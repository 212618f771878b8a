package ppm

import (
	"sync/atomic"

	"almos/kernel"
	"almos/kernel/mem"
	kernelsync "almos/kernel/sync"
)

// Request mirrors ppm_dqdt_req{threshold, order}: the descriptor a PPM
// hands DQDT when a local allocation fails and the caller allows
// remote placement.
type Request struct {
	Threshold int // minimum acceptable free_pages_nr at a candidate leaf
	Order     uint
}

// PPM is the per-cluster buddy allocator over a fixed, contiguous pool
// of page frames. The free lists are arrays of head PFNs
// per order, exactly pages_tbl[order] in the original.
type PPM struct {
	mu kernelsync.Spinlock

	cid      uint16
	maxOrder uint
	pages    []Page
	free     [][]uint64 // free[order] holds head PFNs of free blocks at that order

	freeCount atomic.Uint64
}

// New builds a PPM managing totalPages contiguous frames, entirely free
// at order maxOrder initially where possible (ppm_init carving the
// cluster's RAM window into the largest blocks it divides into).
func New(cid uint16, totalPages uint64, maxOrder uint) *PPM {
	p := &PPM{
		cid:      cid,
		maxOrder: maxOrder,
		pages:    make([]Page, totalPages),
		free:     make([][]uint64, maxOrder+1),
	}
	for i := range p.pages {
		p.pages[i].PFN = uint64(i)
		p.pages[i].HomeCluster = cid
	}

	pfn := uint64(0)
	for pfn < totalPages {
		order := maxOrder
		for order > 0 && (pfn+(1<<order) > totalPages || pfn%(1<<order) != 0) {
			order--
		}
		p.pages[pfn].Order = uint8(order)
		p.free[order] = append(p.free[order], pfn)
		pfn += 1 << order
	}
	p.freeCount.Store(totalPages)
	return p
}

// FreePages returns the number of free frames, the figure DQDT leaf
// summaries fold bottom-up as M.
func (p *PPM) FreePages() uint64 { return p.freeCount.Load() }

// ClusterID reports which cluster this allocator belongs to.
func (p *PPM) ClusterID() uint16 { return p.cid }

// FreeBlocksPerOrder returns, for each order 0..maxOrder, the count of
// free blocks currently on that order's free list — the Go analogue of
// ppm_s.free_pages[i].pages_nr, the per-order table DQDT folds into its
// leaf summary's pages_tbl.
func (p *PPM) FreeBlocksPerOrder() []uint64 {
	p.mu.Acquire()
	defer p.mu.Release()

	out := make([]uint64, len(p.free))
	for order, list := range p.free {
		out[order] = uint64(len(list))
	}
	return out
}

// Allocate reserves a 2^order contiguous block. AllocUrgent bypasses no
// logic here (there is no DQDT heuristic inside a single PPM to skip;
// the flag exists so callers can request it without this package caring
// which path invoked it). Every returned block has its head page's flags
// reset and its data zeroed whether or not AllocZero is set; AllocZero
// only forces a freshly allocated data buffer.
func (p *PPM) Allocate(order uint, flags AllocFlag) (*Page, error) {
	if order > p.maxOrder {
		return nil, kernel.NewError("ppm", kernel.EINVAL, "order exceeds PPM_MAX_ORDER")
	}

	p.mu.Acquire()
	defer p.mu.Release()

	pfn, ok := p.popFreeLocked(order)
	if !ok {
		return nil, kernel.NewError("ppm", kernel.ENOMEM, "no free block of requested order")
	}

	page := &p.pages[pfn]
	page.Order = uint8(order)
	page.flags.Store(0)
	size := mem.PageSize << order
	if flags&AllocZero != 0 || page.Data == nil {
		page.Data = make([]byte, size)
	} else {
		clear(page.Data)
	}
	page.refcount.Store(1)
	p.freeCount.Add(^(uint64(1<<order) - 1))
	return page, nil
}

// popFreeLocked removes and returns a free block of exactly order,
// splitting a larger block if no exact match exists. Caller holds p.mu.
func (p *PPM) popFreeLocked(order uint) (uint64, bool) {
	if len(p.free[order]) > 0 {
		n := len(p.free[order]) - 1
		pfn := p.free[order][n]
		p.free[order] = p.free[order][:n]
		return pfn, true
	}
	if order == p.maxOrder {
		return 0, false
	}
	parent, ok := p.popFreeLocked(order + 1)
	if !ok {
		return 0, false
	}
	buddy := parent ^ (1 << order)
	p.pages[buddy].Order = uint8(order)
	p.free[order] = append(p.free[order], buddy)
	return parent, true
}

// Free releases a block back to its free list, coalescing with its
// buddy (pfn XOR 1<<order) while the buddy is itself free and not
// already at the top order.
func (p *PPM) Free(page *Page) {
	p.mu.Acquire()
	defer p.mu.Release()

	pfn := page.PFN
	order := uint(page.Order)
	p.freeCount.Add(1 << order)

	for order < p.maxOrder {
		buddy := pfn ^ (1 << order)
		if buddy >= uint64(len(p.pages)) || !p.removeFreeLocked(order, buddy) {
			break
		}
		if buddy < pfn {
			pfn = buddy
		}
		order++
	}

	p.pages[pfn].Order = uint8(order)
	p.free[order] = append(p.free[order], pfn)
}

// removeFreeLocked removes pfn from free[order] if present.
func (p *PPM) removeFreeLocked(order uint, pfn uint64) bool {
	list := p.free[order]
	for i, v := range list {
		if v == pfn {
			list[i] = list[len(list)-1]
			p.free[order] = list[:len(list)-1]
			return true
		}
	}
	return false
}

// Page returns the descriptor for a given frame number, for callers
// (pmm, mapper) that only carry a PFN across a boundary.
func (p *PPM) Page(pfn uint64) *Page {
	return &p.pages[pfn]
}
