package vmm

import (
	"almos/kernel"
	"almos/kernel/mem"
	"almos/kernel/mem/ppm"
	"almos/kernel/mem/pmm"
)

// FaultFlags describes the access that triggered the fault, the Go
// analogue of the flags vmm_fault_handler receives from the trap
// vector.
type FaultFlags uint32

const (
	FaultWrite FaultFlags = 1 << iota
	FaultExec
	// FaultKernelMode marks a fault taken while the current thread was
	// already running in kernel mode, the Go analogue of
	// pmm_except_isInKernelMode(flags): a kernel-mode fault at an address
	// no region covers reports CheckUSpace instead of SigBus; a fault
	// inside a region is handled the same as in user mode.
	FaultKernelMode
)

// FaultOutcome is the typed result of a fault resolution attempt, the
// Go analogue of vmm.c's VMM_E* constants (VMM_ERESOLVED/VMM_ESIGBUS/
// VMM_ESIGSEGV/VMM_ECHECKUSPACE) that vmm_fault_handler's FAULT_END
// label dispatches on.
type FaultOutcome int

const (
	// Resolved means the fault was serviced and the faulting access can
	// simply be retried, the Go analogue of VMM_ERESOLVED.
	Resolved FaultOutcome = iota
	// SigBus means no region covers the faulting address, or the
	// region's Mapper failed to supply the page, the Go analogue of
	// VMM_ESIGBUS's FAULT_SEND_SIGBUS path.
	SigBus
	// SigSegv means a region covers the address but the fault could not
	// be resolved: the entry's attributes match none of Fault's branches,
	// or the COW, migrate or demand-zero path failed. The Go analogue of
	// VMM_ESIGSEGV. Fault does not check the access against Region.Prot,
	// so a write to a region mapped without AttrWrite is not reported as
	// SigSegv.
	SigSegv
	// CheckUSpace means the fault was taken in kernel mode and so can
	// never be resolved by the user-space fault path at all, the Go
	// analogue of VMM_ECHECKUSPACE.
	CheckUSpace
)

func (o FaultOutcome) String() string {
	switch o {
	case Resolved:
		return "resolved"
	case SigBus:
		return "sigbus"
	case SigSegv:
		return "sigsegv"
	case CheckUSpace:
		return "echeckuspace"
	default:
		return "unknown"
	}
}

// Fault resolves a page fault at vaddr, the Go analogue of
// vmm_fault_handler/vmm_default_pagefault: inspect the current PMM
// entry and dispatch to the COW, migrate, mapped or anonymous-demand-
// zero path, exactly the four-way branch vmm.c's dispatcher encodes.
// The returned FaultOutcome tells the caller what to do next: Resolved
// means retry the access, SigBus/SigSegv name the signal a user-mode
// caller owes the faulting thread, and CheckUSpace means the fault
// came from kernel mode and no signal should be sent at all.
func (v *VMM) Fault(vaddr mem.VPN, flags FaultFlags) (FaultOutcome, error) {
	region := v.Find(vaddr)
	if region == nil {
		if flags&FaultKernelMode != 0 {
			return CheckUSpace, kernel.NewError("vmm", kernel.EINVAL, "fault address is outside every mapped region")
		}
		return SigBus, kernel.NewError("vmm", kernel.EINVAL, "fault address is outside every mapped region")
	}

	info, err := v.PMM.GetPage(vaddr)
	if err != nil {
		return SigSegv, err
	}

	if info.Attr != 0 {
		switch {
		case info.Attr&pmm.AttrCOW != 0 && flags&FaultWrite != 0:
			if err := v.doCOW(region, info, vaddr); err != nil {
				return SigSegv, err
			}
			return Resolved, nil
		case info.Attr&pmm.AttrMigrate != 0:
			if err := v.doMigrate(region, info, vaddr); err != nil {
				return SigSegv, err
			}
			return Resolved, nil
		case info.Attr&pmm.AttrPresent != 0:
			// Spurious fault: another CPU's TLB shootover raced us here
			// after the entry was already made valid.
			return Resolved, nil
		default:
			return SigSegv, kernel.NewError("vmm", kernel.EPERM, "unexpected page attribute configuration")
		}
	}

	if region.Mapper != nil {
		if err := v.doMapped(region, vaddr); err != nil {
			return SigBus, err
		}
		return Resolved, nil
	}
	if err := v.doAOD(region, vaddr); err != nil {
		return SigSegv, err
	}
	return Resolved, nil
}

// doMapped services a fault in a file/shared-anon region by pulling
// the page through the region's Mapper, the Go analogue of
// vmm_do_mapped.
func (v *VMM) doMapped(region *Region, vaddr mem.VPN) error {
	index := (uint64(vaddr-region.Start) << mem.PageShift) + region.Offset
	page, err := region.Mapper.GetPage(index, 0, region.File)
	if err != nil {
		return err
	}

	page.Lock()
	defer page.Unlock()

	current, err := v.PMM.GetPage(vaddr)
	if err != nil {
		return err
	}
	if current.Attr != 0 {
		// Spurious: a concurrent faulter on the same vaddr already won.
		return nil
	}
	return v.PMM.SetPage(vaddr, pmm.PageInfo{Attr: region.Prot | pmm.AttrPresent, PPN: page.PFN})
}

// doAOD services a fault in an anonymous region with no backing page
// yet by allocating a fresh zeroed frame, the Go analogue of
// vmm_do_aod.
func (v *VMM) doAOD(region *Region, vaddr mem.VPN) error {
	page, err := v.Pool.Allocate(0, ppm.AllocZero)
	if err != nil {
		return err
	}

	if err := v.PMM.SetPage(vaddr, pmm.PageInfo{Attr: region.Prot | pmm.AttrPresent, PPN: page.PFN}); err != nil {
		v.Pool.Free(page)
		return err
	}
	return nil
}

// doCOW services a write fault on a copy-on-write entry, the Go
// analogue of vmm_do_cow: reuse the page in place if this thread is the
// sole owner and it already lives in the local cluster, otherwise copy
// its content into a fresh page before granting write access.
func (v *VMM) doCOW(region *Region, info pmm.PageInfo, vaddr mem.VPN) error {
	page := v.Pool.Page(info.PPN)
	page.Lock()
	defer page.Unlock()

	current, err := v.PMM.GetPage(vaddr)
	if err != nil {
		return err
	}
	if current.Attr&pmm.AttrCOW == 0 {
		return nil // spurious: another thread already resolved this fault
	}

	target := page
	soleOwner := page.MapperID == 0 && page.RefCount() == 1
	switch {
	case soleOwner && page.HomeCluster == v.ClusterID:
		// sole owner already in the local cluster: reuse in place.
	case soleOwner:
		// sole owner but in a remote cluster: still need a local copy,
		// the old page becomes garbage once the copy lands.
		fresh, err := v.Pool.Allocate(0, 0)
		if err != nil {
			return err
		}
		fresh.Copy(page)
		target = fresh
		defer v.Pool.Free(page)
	default:
		if page.MapperID == 0 {
			page.Put()
		}
		fresh, err := v.Pool.Allocate(0, 0)
		if err != nil {
			return err
		}
		fresh.Copy(page)
		target = fresh
	}

	attr := region.Prot | pmm.AttrPresent | pmm.AttrWrite
	attr &^= pmm.AttrCOW | pmm.AttrMigrate
	return v.PMM.SetPage(vaddr, pmm.PageInfo{Attr: attr, PPN: target.PFN})
}

// doMigrate services a fault on an entry marked AttrMigrate: a page
// whose ideal cluster is not the one it currently lives in, the Go
// analogue of vmm_do_migrate. Migration is only meaningful across
// clusters, so a same-cluster request is a no-op beyond clearing the
// migrate bit.
func (v *VMM) doMigrate(region *Region, info pmm.PageInfo, vaddr mem.VPN) error {
	page := v.Pool.Page(info.PPN)
	page.Lock()
	defer page.Unlock()

	current, err := v.PMM.GetPage(vaddr)
	if err != nil {
		return err
	}
	if current.PPN != info.PPN || current.Attr&pmm.AttrMigrate == 0 {
		return nil // spurious
	}

	newPPN := info.PPN
	if v.ClusterID != targetClusterOf(page) {
		fresh, err := v.Pool.Allocate(0, 0)
		if err != nil {
			return err
		}
		fresh.Copy(page)
		newPPN = fresh.PFN
	}

	attr := current.Attr | pmm.AttrPresent
	attr &^= pmm.AttrMigrate
	return v.PMM.SetPage(vaddr, pmm.PageInfo{Attr: attr, PPN: newPPN})
}

// targetClusterOf reports which cluster currently owns page. In this
// simulation a Pool is single-cluster, so the owning VMM's ClusterID is
// compared against the pool the page's PFN was allocated from; callers
// that never mix pools from different clusters always see a match,
// matching the original's intra-cluster fast path.
func targetClusterOf(page *ppm.Page) uint16 {
	return page.HomeCluster
}
