// Package ppm is the per-cluster Physical Page Manager: a buddy
// allocator over page frames plus the Page descriptor every other
// memory subsystem (pmm, mapper, vmm) references by pointer. Grounded
// on the buddy-system description this kernel's page manager follows, since the
// retrieval pack's original_source carries arch/tsar/pmm.c (the
// architecture-specific page-table half) but not the portable mm/ppm.c
// buddy implementation itself.
package ppm

// Flag is a Page state bit, the Go analogue of ALMOS's PG_* constants.
type Flag uint32

const (
	// FlagInit marks a page still being initialized; not yet safe to
	// hand out.
	FlagInit Flag = 1 << iota
	// FlagBuffer marks a page holding buffer-cache content.
	FlagBuffer
	// FlagDirty marks a page that differs from its backing store and
	// needs a writepage before reclaim.
	FlagDirty
	// FlagPinned marks a page that must never be migrated or reclaimed
	// (page tables, kernel structures).
	FlagPinned
	// FlagInload marks a ghost placeholder inserted into a Mapper while
	// its real content is being fetched; see kernel/mem/mapper.
	FlagInload
)

// AllocFlag controls how Allocate chooses among candidate free blocks.
type AllocFlag uint32

const (
	// AllocZero zero-fills the returned block.
	AllocZero AllocFlag = 1 << iota
	// AllocUrgent marks a kernel-internal allocation that must bypass
	// any DQDT-driven placement heuristic and take the first local fit.
	AllocUrgent
	// AllocRemoteOK marks a request whose caller accepts a page from a
	// remote cluster. Allocate does not read it: it never blocks, and
	// it reports ENOMEM whenever this pool has no free block of the
	// requested order, with or without this flag.
	AllocRemoteOK
)
