package pmm

import (
	"testing"

	"almos/kernel/mem"
	"almos/kernel/mem/ppm"
)

func TestSetAndGetPageRoundTrip(t *testing.T) {
	pool := ppm.New(0, 64, 4)
	table := New(pool, 4096)

	vpn := mem.VPN(10)
	if err := table.SetPage(vpn, PageInfo{Attr: AttrPresent | AttrWrite, PPN: 7}); err != nil {
		t.Fatalf("SetPage: %v", err)
	}

	info, err := table.GetPage(vpn)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if info.PPN != 7 || info.Attr&AttrWrite == 0 {
		t.Errorf("expected PPN=7 AttrWrite set, got %+v", info)
	}

	unmapped, _ := table.GetPage(mem.VPN(999))
	if unmapped.Attr != 0 {
		t.Errorf("expected an unmapped entry to read as zero, got %+v", unmapped)
	}
}

func TestSetPageReusesSamePTDAcrossNeighboringVPNs(t *testing.T) {
	pool := ppm.New(0, 64, 4)
	table := New(pool, 4096)

	if err := table.SetPage(mem.VPN(0), PageInfo{Attr: AttrPresent, PPN: 1}); err != nil {
		t.Fatal(err)
	}
	if err := table.SetPage(mem.VPN(1), PageInfo{Attr: AttrPresent, PPN: 2}); err != nil {
		t.Fatal(err)
	}

	a, _ := table.GetPage(mem.VPN(0))
	b, _ := table.GetPage(mem.VPN(1))
	if a.PPN != 1 || b.PPN != 2 {
		t.Errorf("expected independent entries within one PTD, got %+v / %+v", a, b)
	}
}

func TestHugePageIsInstalledDirectlyInThePDE(t *testing.T) {
	pool := ppm.New(0, 64, 4)
	table := New(pool, 4096)

	if err := table.SetPage(mem.VPN(512), PageInfo{Attr: AttrPresent | AttrHuge, PPN: 3}); err != nil {
		t.Fatal(err)
	}
	info, err := table.GetPage(mem.VPN(512))
	if err != nil {
		t.Fatal(err)
	}
	if info.PPN != 3 || info.Attr&AttrHuge == 0 {
		t.Errorf("expected huge PPN=3, got %+v", info)
	}
}

func TestLockUnlockPageRoundTrip(t *testing.T) {
	pool := ppm.New(0, 64, 4)
	table := New(pool, 4096)
	vpn := mem.VPN(3)
	if err := table.SetPage(vpn, PageInfo{Attr: AttrPresent, PPN: 9}); err != nil {
		t.Fatal(err)
	}

	if _, err := table.LockPage(vpn); err != nil {
		t.Fatalf("LockPage: %v", err)
	}
	locked, _ := table.GetPage(vpn)
	if locked.Attr&AttrLocked == 0 {
		t.Error("expected AttrLocked to be set after LockPage")
	}

	if err := table.UnlockPage(vpn); err != nil {
		t.Fatalf("UnlockPage: %v", err)
	}
	unlocked, _ := table.GetPage(vpn)
	if unlocked.Attr&AttrLocked != 0 {
		t.Error("expected AttrLocked to be cleared after UnlockPage")
	}
}

func TestRegionDupSharesPDESlots(t *testing.T) {
	pool := ppm.New(0, 64, 4)
	parent := New(pool, 4096)
	child := New(pool, 4096)

	if err := parent.SetPage(mem.VPN(5), PageInfo{Attr: AttrPresent, PPN: 11}); err != nil {
		t.Fatal(err)
	}
	if err := parent.RegionDup(child, mem.VPN(0), mem.VPN(ptesPerPTD)); err != nil {
		t.Fatalf("RegionDup: %v", err)
	}

	info, err := child.GetPage(mem.VPN(5))
	if err != nil {
		t.Fatal(err)
	}
	if info.PPN != 11 {
		t.Errorf("expected the child to share the parent's mapping, got %+v", info)
	}
}

func TestRegionDupSharesASubTwoMegabyteRegion(t *testing.T) {
	pool := ppm.New(0, 64, 4)
	parent := New(pool, 4096)
	child := New(pool, 4096)

	page, err := pool.Allocate(0, ppm.AllocZero)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	page.Data[0] = 0x5a

	// A 3-page region is far under the 512-page (2MB) span one PDE slot
	// covers, so a ceiling computation that rounds the exclusive limit
	// down to the same PDE as start would copy nothing.
	if err := parent.SetPage(mem.VPN(1), PageInfo{Attr: AttrPresent | AttrWrite, PPN: page.PFN}); err != nil {
		t.Fatal(err)
	}
	if err := parent.RegionDup(child, mem.VPN(0), mem.VPN(3)); err != nil {
		t.Fatalf("RegionDup: %v", err)
	}

	info, err := child.GetPage(mem.VPN(1))
	if err != nil {
		t.Fatal(err)
	}
	if info.PPN != page.PFN {
		t.Fatalf("expected the child's PTE to share the parent's frame, got %+v", info)
	}
	if pool.Page(info.PPN).Data[0] != 0x5a {
		t.Fatalf("expected the shared frame's content to be visible through the child's entry, got %d", pool.Page(info.PPN).Data[0])
	}
}
