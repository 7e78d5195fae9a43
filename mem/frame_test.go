package mem

import "testing"

func TestAllocFreeRoundtrip(t *testing.T) {
	p := NewPhysmem(4)
	if p.Nfree() != 4 {
		t.Fatalf("Nfree = %d, want 4", p.Nfree())
	}
	pg, pa, ok := p.Refpg_new()
	if !ok {
		t.Fatal("alloc failed with free frames available")
	}
	pg[0] = 0x41
	if p.Dmap(pa)[0] != 0x41 {
		t.Fatal("Dmap does not alias the allocated frame")
	}
	if p.Refcnt(pa) != 1 {
		t.Fatalf("Refcnt = %d, want 1", p.Refcnt(pa))
	}
	p.Refup(pa)
	if p.Refcnt(pa) != 2 {
		t.Fatalf("Refcnt after Refup = %d, want 2", p.Refcnt(pa))
	}
	if p.Refdown(pa) {
		t.Fatal("Refdown reported free while still referenced")
	}
	if !p.Refdown(pa) {
		t.Fatal("Refdown did not free the frame at refcount 0")
	}
	if p.Nfree() != 4 {
		t.Fatalf("Nfree after free = %d, want 4", p.Nfree())
	}
}

func TestAllocExhaustion(t *testing.T) {
	p := NewPhysmem(1)
	if _, _, ok := p.Refpg_new(); !ok {
		t.Fatal("first alloc should succeed")
	}
	if _, _, ok := p.Refpg_new(); ok {
		t.Fatal("alloc should fail once the arena is exhausted")
	}
}

func TestRefpgNewZeroesPage(t *testing.T) {
	p := NewPhysmem(2)
	pg, pa, _ := p.Refpg_new_nozero()
	pg[0] = 0x1
	p.Refdown(pa)
	pg2, _, _ := p.Refpg_new()
	for _, w := range pg2 {
		if w != 0 {
			t.Fatal("Refpg_new must return a zeroed page")
		}
	}
}
