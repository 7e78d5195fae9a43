package vm

import (
	"testing"

	"defs"
	"mem"
)

func TestMapAnonDefersAllocation(t *testing.T) {
	phys := mem.NewPhysmem(4)
	pager := NewPager(4)
	as := NewAS(phys, pager)

	const va = 0x1000
	as.MapAnon(va, true)
	if as.Resident(va) {
		t.Fatal("demand-zero mapping should not be resident before first fault")
	}
	before := phys.Nfree()

	if err := as.Fault(va, false); err != 0 {
		t.Fatalf("Fault = %v, want success", err)
	}
	if !as.Resident(va) {
		t.Fatal("page should be resident after fault")
	}
	if phys.Nfree() != before-1 {
		t.Fatalf("Nfree = %d, want %d", phys.Nfree(), before-1)
	}
}

func TestFaultOnUnmappedAddressFails(t *testing.T) {
	phys := mem.NewPhysmem(4)
	pager := NewPager(4)
	as := NewAS(phys, pager)

	if err := as.Fault(0x9000, false); err != defs.EFAULT {
		t.Fatalf("err = %v, want EFAULT", err)
	}
}

func TestWriteToReadOnlyPageDenied(t *testing.T) {
	phys := mem.NewPhysmem(4)
	pager := NewPager(4)
	as := NewAS(phys, pager)

	as.MapAnon(0x2000, false)
	if err := as.Fault(0x2000, false); err != 0 {
		t.Fatalf("read fault failed: %v", err)
	}
	if err := as.Fault(0x2000, true); err != defs.EACCESS {
		t.Fatalf("write fault err = %v, want EACCESS", err)
	}
}

func TestEvictThenRefaultPreservesContent(t *testing.T) {
	phys := mem.NewPhysmem(1)
	pager := NewPager(4)
	as := NewAS(phys, pager)

	const va = 0x3000
	as.MapAnon(va, true)
	if err := as.Fault(va, true); err != 0 {
		t.Fatalf("fault = %v", err)
	}
	if !as.Dirty(va) {
		t.Fatal("page written to should be dirty")
	}

	if !pager.EvictOne() {
		t.Fatal("expected a page to be evicted")
	}
	if as.Resident(va) {
		t.Fatal("page should no longer be resident after eviction")
	}
	if phys.Nfree() != 1 {
		t.Fatalf("Nfree = %d, want 1 (frame reclaimed)", phys.Nfree())
	}

	if err := as.Fault(va, false); err != 0 {
		t.Fatalf("refault = %v, want success", err)
	}
	if !as.Resident(va) {
		t.Fatal("page should be resident again after refault")
	}
}

func TestEvictSkipsAccessedPageOnFirstPass(t *testing.T) {
	phys := mem.NewPhysmem(2)
	pager := NewPager(4)
	as := NewAS(phys, pager)

	as.MapAnon(0x4000, true)
	as.MapAnon(0x5000, true)
	as.Fault(0x4000, false)
	as.Fault(0x5000, false)

	// touch 0x4000 again so its accessed bit is freshly set; 0x5000's was
	// cleared by nothing yet, so either can be chosen on a fair first
	// pass, but exactly one must go and the tracked set must shrink to
	// account for it.
	as.Fault(0x4000, false)

	residentBefore := 0
	for _, va := range []uintptr{0x4000, 0x5000} {
		if as.Resident(va) {
			residentBefore++
		}
	}
	if residentBefore != 2 {
		t.Fatalf("expected both pages resident before eviction, got %d", residentBefore)
	}

	if !pager.EvictOne() {
		t.Fatal("expected a page to be evicted")
	}
	residentAfter := 0
	for _, va := range []uintptr{0x4000, 0x5000} {
		if as.Resident(va) {
			residentAfter++
		}
	}
	if residentAfter != 1 {
		t.Fatalf("expected exactly one page evicted, got %d resident", residentAfter)
	}
}

func TestEvictOneOnEmptyClockReportsFalse(t *testing.T) {
	phys := mem.NewPhysmem(2)
	pager := NewPager(4)
	if pager.EvictOne() {
		t.Fatal("expected no eviction with nothing tracked")
	}
	_ = phys
}

func TestUnmapFreesResidentFrame(t *testing.T) {
	phys := mem.NewPhysmem(1)
	pager := NewPager(2)
	as := NewAS(phys, pager)

	as.MapAnon(0x6000, true)
	as.Fault(0x6000, false)
	if phys.Nfree() != 0 {
		t.Fatalf("Nfree = %d, want 0", phys.Nfree())
	}
	as.Unmap(0x6000)
	if phys.Nfree() != 1 {
		t.Fatalf("Nfree = %d, want 1 after unmap", phys.Nfree())
	}
}

// TestPageFileRoundTrip reproduces spec.md 8's "Page-file round-trip"
// end-to-end scenario: with only 4 physical frames backing 8 pageable
// pages, every page keeps the index it was stamped with across eviction
// and refault, and the pager's page-in counter advances by at least one
// per evicted page.
func TestPageFileRoundTrip(t *testing.T) {
	const nframes = 4
	const npages = 8
	phys := mem.NewPhysmem(nframes)
	pager := NewPager(npages)
	as := NewAS(phys, pager)

	for i := 0; i < npages; i++ {
		va := uintptr(i) * uintptr(mem.PGSIZE)
		as.MapAnon(va, true)
		if err := as.Fault(va, true); err != 0 {
			t.Fatalf("fault page %d: %v", i, err)
		}
		if err := as.withUserPage(va, true, func(page []byte) {
			page[0] = uint8(i)
		}); err != 0 {
			t.Fatalf("stamp page %d: %v", i, err)
		}
	}

	readsBefore := pager.Reads()
	for i := 0; i < npages; i++ {
		va := uintptr(i) * uintptr(mem.PGSIZE)
		var got uint8
		if err := as.withUserPage(va, false, func(page []byte) {
			got = page[0]
		}); err != 0 {
			t.Fatalf("read back page %d: %v", i, err)
		}
		if got != uint8(i) {
			t.Fatalf("page %d: got index %d, want %d", i, got, i)
		}
	}
	if got := pager.Reads() - readsBefore; got < 4 {
		t.Fatalf("pager.Reads() advanced by %d, want at least 4", got)
	}
}

func TestUnmapFreesPageFileSlot(t *testing.T) {
	phys := mem.NewPhysmem(1)
	pager := NewPager(1)
	as := NewAS(phys, pager)

	as.MapAnon(0x7000, true)
	as.Fault(0x7000, true)
	pager.EvictOne()
	if pager.Free() != 0 {
		t.Fatalf("Free = %d, want 0 (slot in use)", pager.Free())
	}
	as.Unmap(0x7000)
	if pager.Free() != 1 {
		t.Fatalf("Free = %d, want 1 after unmap", pager.Free())
	}
}
