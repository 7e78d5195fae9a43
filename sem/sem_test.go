package sem

import (
	"sync"
	"testing"

	"defs"
)

func TestCreateByNameSharesSlot(t *testing.T) {
	tbl := NewTable()
	id1, err := tbl.Create("counter", 1, 1)
	if err != 0 {
		t.Fatalf("Create: %v", err)
	}
	id2, err := tbl.Create("counter", 99, 2)
	if err != 0 {
		t.Fatalf("second Create: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("Create reused the wrong slot: %d vs %d", id1, id2)
	}
	if n, _ := tbl.Count(id1); n != 1 {
		t.Fatalf("second Create must not reset count: got %d, want 1", n)
	}
}

func TestNonMemberRejected(t *testing.T) {
	tbl := NewTable()
	id, _ := tbl.Create("s", 1, 1)
	if err := tbl.P(id, 2); err != defs.EUNSPECIFIED {
		t.Fatalf("P from non-member = %v, want EUNSPECIFIED", err)
	}
	if err := tbl.V(id, 2); err != defs.EUNSPECIFIED {
		t.Fatalf("V from non-member = %v, want EUNSPECIFIED", err)
	}
	if err := tbl.Destroy(id, 2); err != defs.EUNSPECIFIED {
		t.Fatalf("Destroy from non-member = %v, want EUNSPECIFIED", err)
	}
}

func TestMutualExclusion(t *testing.T) {
	tbl := NewTable()
	id, _ := tbl.Create("mutex", 1, 1)
	tbl.Create("mutex", 1, 2)

	counter := 0
	var wg sync.WaitGroup
	work := func(tid defs.Tid_t) {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if err := tbl.P(id, tid); err != 0 {
				t.Errorf("P: %v", err)
				return
			}
			counter++
			if err := tbl.V(id, tid); err != 0 {
				t.Errorf("V: %v", err)
				return
			}
		}
	}
	wg.Add(2)
	go work(1)
	go work(2)
	wg.Wait()
	if counter != 2000 {
		t.Fatalf("counter = %d, want 2000", counter)
	}
}

func TestDestroyFreesSlotOnlyWhenEmpty(t *testing.T) {
	tbl := NewTable()
	id, _ := tbl.Create("shared", 0, 1)
	tbl.Create("shared", 0, 2)

	if err := tbl.Destroy(id, 1); err != 0 {
		t.Fatalf("Destroy (still a member left): %v", err)
	}
	if _, err := tbl.Count(id); err != 0 {
		t.Fatalf("slot should still be live: %v", err)
	}
	if err := tbl.Destroy(id, 2); err != 0 {
		t.Fatalf("final Destroy: %v", err)
	}
	if _, err := tbl.Count(id); err != defs.ENOTFOUND {
		t.Fatalf("slot should be freed after last member leaves: %v", err)
	}

	id2, err := tbl.Create("shared", 3, 1)
	if err != 0 {
		t.Fatalf("recreate after free: %v", err)
	}
	if n, _ := tbl.Count(id2); n != 3 {
		t.Fatalf("recreated count = %d, want 3", n)
	}
}

func TestPBlocksUntilV(t *testing.T) {
	tbl := NewTable()
	id, _ := tbl.Create("block", 0, 1)

	done := make(chan bool, 1)
	go func() {
		tbl.P(id, 1)
		done <- true
	}()

	select {
	case <-done:
		t.Fatal("P returned before V despite count == 0")
	default:
	}

	if err := tbl.V(id, 1); err != 0 {
		t.Fatalf("V: %v", err)
	}
	<-done
}

func TestMembershipsAndDestroyAll(t *testing.T) {
	tbl := NewTable()
	a, _ := tbl.Create("a", 1, 7)
	b, _ := tbl.Create("b", 1, 7)

	got := tbl.Memberships(7)
	if len(got) != 2 {
		t.Fatalf("Memberships = %v, want 2 entries", got)
	}

	tbl.DestroyAll(7)
	if _, err := tbl.Count(a); err != defs.ENOTFOUND {
		t.Fatalf("slot a should be freed after DestroyAll")
	}
	if _, err := tbl.Count(b); err != defs.ENOTFOUND {
		t.Fatalf("slot b should be freed after DestroyAll")
	}
}
