// Package mapper is the keyed page cache every file, anonymous region
// or device backs its pages through. Grounded on mm/mapper.c/h: pages
// live in an index-keyed table behind one lock, concurrent faulters on
// the same not-yet-loaded index serialize behind a ghost placeholder
// (PG_INLOAD) rather than each issuing their own readpage, and the
// ghost's wait queue is released once the real page lands.
package mapper

import (
	"sort"
	"sync"
	"sync/atomic"

	"almos/kernel"
	"almos/kernel/mem/ppm"
)

var nextID atomic.Uint64

// Ops are the backend callbacks a Mapper's owner supplies, the Go
// analogue of mapper_op_s. Every callback runs with the target page
// otherwise unreferenced by the Mapper's own lock (the caller has
// "exclusive access to the page", per mapper.h).
type Ops struct {
	ReadPage       func(page *ppm.Page, flags uint, data any) error
	WritePage      func(page *ppm.Page, flags uint, data any) error
	SyncPage       func(page *ppm.Page) error
	ReleasePage    func(page *ppm.Page) error
	SetPageDirty   func(page *ppm.Page) bool
	ClearPageDirty func(page *ppm.Page) bool
}

// defaultOps mirrors mapper_default_{read,write,release,sync,set_page_dirty,clear_page_dirty}_page:
// demand-zero pages with no real backend.
var defaultOps = &Ops{
	ReadPage:  func(*ppm.Page, uint, any) error { return nil },
	WritePage: func(*ppm.Page, uint, any) error { return nil },
	SyncPage:  func(*ppm.Page) error { return nil },
	ReleasePage: func(*ppm.Page) error {
		return nil
	},
	SetPageDirty: func(p *ppm.Page) bool {
		if p.HasFlag(ppm.FlagDirty) {
			return false
		}
		p.SetFlag(ppm.FlagDirty)
		return true
	},
	ClearPageDirty: func(p *ppm.Page) bool {
		if !p.HasFlag(ppm.FlagDirty) {
			return false
		}
		p.ClearFlag(ppm.FlagDirty)
		return true
	},
}

// Mapper is one index-keyed page cache (m_radix in the original,
// rendered as a plain map since this package doesn't need radix's
// prefix-compressed storage to get the same externally-visible
// semantics).
type Mapper struct {
	id   uint64
	mu   sync.Mutex
	pool *ppm.PPM
	ops  *Ops
	pages map[uint64]*ppm.Page

	refcount atomic.Int32
}

// New builds an empty Mapper backed by pool for demand-allocated pages.
// A nil ops defaults to the demand-zero, do-nothing backend.
func New(pool *ppm.PPM, ops *Ops) *Mapper {
	if ops == nil {
		ops = defaultOps
	}
	m := &Mapper{id: nextID.Add(1), pool: pool, ops: ops, pages: make(map[uint64]*ppm.Page)}
	m.refcount.Store(1)
	return m
}

// ID uniquely identifies this mapper across the kernel; ppm.Page's
// MapperID/Index fields reference pages back to their owning mapper by
// this value rather than a pointer, so ppm never needs to import
// mapper.
func (m *Mapper) ID() uint64 { return m.id }

// FindPage looks up a page by index without blocking or loading it,
// the Go analogue of mapper_find_page.
func (m *Mapper) FindPage(index uint64) *ppm.Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pages[index]
}

func (m *Mapper) sortedIndicesLocked() []uint64 {
	idx := make([]uint64, 0, len(m.pages))
	for k := range m.pages {
		idx = append(idx, k)
	}
	sort.Slice(idx, func(i, j int) bool { return idx[i] < idx[j] })
	return idx
}

// FindPages gang-looks-up up to nrPages pages with index >= start, the
// Go analogue of mapper_find_pages.
func (m *Mapper) FindPages(start, nrPages uint64) []*ppm.Page {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ppm.Page
	for _, idx := range m.sortedIndicesLocked() {
		if idx < start {
			continue
		}
		out = append(out, m.pages[idx])
		if uint64(len(out)) == nrPages {
			break
		}
	}
	return out
}

// FindPagesContig is FindPages restricted to a contiguous run of
// indices starting at start, the Go analogue of
// mapper_find_pages_contig.
func (m *Mapper) FindPagesContig(start, nrPages uint64) []*ppm.Page {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ppm.Page
	for i := uint64(0); i < nrPages; i++ {
		p, ok := m.pages[start+i]
		if !ok {
			break
		}
		out = append(out, p)
	}
	return out
}

// FindPagesByTag gang-looks-up up to nrPages pages with index >= start
// that carry every bit in tag, the Go analogue of
// mapper_find_pages_by_tag (writeback scans for PG_DIRTY this way).
func (m *Mapper) FindPagesByTag(start uint64, tag ppm.Flag, nrPages uint64) []*ppm.Page {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ppm.Page
	for _, idx := range m.sortedIndicesLocked() {
		if idx < start {
			continue
		}
		p := m.pages[idx]
		if !p.HasFlag(tag) {
			continue
		}
		out = append(out, p)
		if uint64(len(out)) == nrPages {
			break
		}
	}
	return out
}

// AddPage inserts an already-allocated page at index, the Go analogue
// of mapper_add_page.
func (m *Mapper) AddPage(page *ppm.Page, index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pages[index]; exists {
		return kernel.NewError("mapper", kernel.EINVAL, "index already occupied")
	}
	page.MapperID = m.id
	page.Index = index
	m.pages[index] = page
	return nil
}

// RemovePage evicts page from the cache and returns its frame to the
// backing PPM, the Go analogue of mapper_remove_page.
func (m *Mapper) RemovePage(page *ppm.Page) {
	m.mu.Lock()
	delete(m.pages, page.Index)
	m.mu.Unlock()

	page.ClearFlag(ppm.FlagDirty)
	page.MapperID = 0
	m.pool.Free(page)
}

// GetPage returns the page at index, loading it via Ops.ReadPage if
// absent and serializing concurrent loaders behind a PG_INLOAD ghost —
// the Go analogue of mapper_get_page's dummy-page dance: insert a ghost
// under the lock, drop the lock for the blocking readpage, then swap
// the ghost for the real page and release every waiter.
func (m *Mapper) GetPage(index uint64, flags uint, data any) (*ppm.Page, error) {
	for {
		m.mu.Lock()
		page, found := m.pages[index]
		if !found {
			ghost := &ppm.Page{MapperID: m.id, Index: index}
			ghost.SetFlag(ppm.FlagInload)
			ghost.Get()
			m.pages[index] = ghost
			m.mu.Unlock()

			real, err := m.pool.Allocate(0, ppm.AllocZero)
			if err == nil {
				real.SetFlag(ppm.FlagInload)
				real.MapperID = m.id
				real.Index = index
				err = m.ops.ReadPage(real, flags, data)
			}

			if err != nil {
				m.mu.Lock()
				delete(m.pages, index)
				m.mu.Unlock()
				ghost.Waiters.WakeAll()
				if real != nil {
					m.pool.Free(real)
				}
				return nil, kernel.NewError("mapper", kernel.EIO, "failed to load page")
			}

			m.mu.Lock()
			m.pages[index] = real
			m.mu.Unlock()
			real.ClearFlag(ppm.FlagInload)
			ghost.Waiters.WakeAll()
			return real, nil
		}

		if page.HasFlag(ppm.FlagInload) {
			w := page.Waiters.Enqueue(false)
			m.mu.Unlock()
			w.Wait()
			continue
		}

		m.mu.Unlock()
		return page, nil
	}
}

// SetPageDirty marks page dirty via the mapper's backend hook,
// reporting whether this call is what dirtied it.
func (m *Mapper) SetPageDirty(page *ppm.Page) bool { return m.ops.SetPageDirty(page) }

// ClearPageDirty clears page's dirty bit via the mapper's backend hook.
func (m *Mapper) ClearPageDirty(page *ppm.Page) bool { return m.ops.ClearPageDirty(page) }

// Destroy writes back (if doSync) and frees every page still cached,
// the Go analogue of mapper_destroy.
func (m *Mapper) Destroy(doSync bool) {
	if doSync {
		for _, page := range m.FindPagesByTag(0, ppm.FlagDirty, ^uint64(0)) {
			page.Lock()
			_ = m.ops.SyncPage(page)
			page.Unlock()
			m.RemovePage(page)
		}
	}

	m.mu.Lock()
	remaining := make([]*ppm.Page, 0, len(m.pages))
	for _, p := range m.pages {
		remaining = append(remaining, p)
	}
	m.mu.Unlock()

	for _, page := range remaining {
		if page.HasFlag(ppm.FlagDirty) {
			page.Lock()
			page.ClearFlag(ppm.FlagDirty)
			page.Unlock()
		}
		m.RemovePage(page)
	}
}
