package mapper

import (
	"sync"
	"testing"

	"almos/kernel/mem/ppm"
)

func TestGetPageLoadsOnceAndCaches(t *testing.T) {
	pool := ppm.New(0, 64, 4)
	loads := 0
	var mu sync.Mutex

	m := New(pool, &Ops{
		ReadPage: func(page *ppm.Page, flags uint, data any) error {
			mu.Lock()
			loads++
			mu.Unlock()
			return nil
		},
	})

	p1, err := m.GetPage(5, 0, nil)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	p2, err := m.GetPage(5, 0, nil)
	if err != nil {
		t.Fatalf("GetPage (cached): %v", err)
	}
	if p1 != p2 {
		t.Error("expected the second GetPage to return the cached page")
	}
	if loads != 1 {
		t.Errorf("expected exactly one ReadPage call, got %d", loads)
	}
}

func TestConcurrentGetPageSerializesOnGhost(t *testing.T) {
	pool := ppm.New(0, 64, 4)
	release := make(chan struct{})
	var loads atomicCounter

	m := New(pool, &Ops{
		ReadPage: func(page *ppm.Page, flags uint, data any) error {
			loads.add(1)
			<-release
			return nil
		},
	})

	const n = 8
	results := make(chan *ppm.Page, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := m.GetPage(1, 0, nil)
			if err != nil {
				t.Error(err)
				return
			}
			results <- p
		}()
	}

	close(release)
	wg.Wait()
	close(results)

	var first *ppm.Page
	for p := range results {
		if first == nil {
			first = p
		} else if p != first {
			t.Error("expected every concurrent GetPage to observe the same page")
		}
	}
	if loads.get() != 1 {
		t.Errorf("expected exactly one ReadPage despite %d concurrent callers, got %d", n, loads.get())
	}
}

func TestGetPageLoadFailureRemovesGhostAndWakesWaiters(t *testing.T) {
	pool := ppm.New(0, 64, 4)
	m := New(pool, &Ops{
		ReadPage: func(*ppm.Page, uint, any) error {
			return errBoom
		},
	})

	if _, err := m.GetPage(2, 0, nil); err == nil {
		t.Fatal("expected the load failure to propagate")
	}
	if m.FindPage(2) != nil {
		t.Error("expected the ghost to be removed after a failed load")
	}

	// A retry must be able to insert a fresh ghost, not deadlock behind
	// the failed one's leftover state.
	calls := 0
	m2 := New(pool, &Ops{
		ReadPage: func(*ppm.Page, uint, any) error {
			calls++
			if calls == 1 {
				return errBoom
			}
			return nil
		},
	})
	if _, err := m2.GetPage(2, 0, nil); err == nil {
		t.Fatal("expected the first load to fail")
	}
	if _, err := m2.GetPage(2, 0, nil); err != nil {
		t.Fatalf("expected the retry to succeed, got %v", err)
	}
}

func TestFindPagesContigStopsAtGap(t *testing.T) {
	pool := ppm.New(0, 64, 4)
	m := New(pool, nil)

	for _, idx := range []uint64{0, 1, 3} {
		p, err := pool.Allocate(0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if err := m.AddPage(p, idx); err != nil {
			t.Fatal(err)
		}
	}

	pages := m.FindPagesContig(0, 10)
	if len(pages) != 2 {
		t.Fatalf("expected a contiguous run of 2 pages before the gap at index 2, got %d", len(pages))
	}
}

func TestFindPagesByTagFiltersDirty(t *testing.T) {
	pool := ppm.New(0, 64, 4)
	m := New(pool, nil)

	for i := uint64(0); i < 3; i++ {
		p, _ := pool.Allocate(0, 0)
		if i == 1 {
			p.SetFlag(ppm.FlagDirty)
		}
		if err := m.AddPage(p, i); err != nil {
			t.Fatal(err)
		}
	}

	dirty := m.FindPagesByTag(0, ppm.FlagDirty, 10)
	if len(dirty) != 1 || dirty[0].Index != 1 {
		t.Fatalf("expected exactly the page at index 1 to be tagged dirty, got %+v", dirty)
	}
}

func TestDestroySyncsDirtyPagesThenFreesEverything(t *testing.T) {
	pool := ppm.New(0, 64, 4)
	synced := 0
	m := New(pool, &Ops{
		SyncPage: func(page *ppm.Page) error {
			synced++
			return nil
		},
	})

	clean, _ := pool.Allocate(0, 0)
	m.AddPage(clean, 0)
	dirty, _ := pool.Allocate(0, 0)
	dirty.SetFlag(ppm.FlagDirty)
	m.AddPage(dirty, 1)

	m.Destroy(true)

	if synced != 1 {
		t.Errorf("expected exactly one dirty page synced, got %d", synced)
	}
	if m.FindPage(0) != nil || m.FindPage(1) != nil {
		t.Error("expected Destroy to empty the mapper")
	}
}

// atomicCounter avoids importing sync/atomic just for one int in tests.
type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) add(d int) {
	c.mu.Lock()
	c.n += d
	c.mu.Unlock()
}

func (c *atomicCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
