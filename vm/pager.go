package vm

import (
	"sync"
	"sync/atomic"

	"defs"
	"mem"
)

// Algorithm selects the victim-selection policy EvictOne applies,
// matching spec 4.2's select_paging_algorithm syscall.
type Algorithm int

const (
	// WSClockAlg gives every page a second chance (accessed bit cleared
	// and skipped), then evicts the first remaining candidate in
	// clock-hand order; pages carry no age stamp, so the choice among
	// unaccessed pages is by hand position, not by age. The default.
	WSClockAlg Algorithm = iota
	// FirstFitAlg evicts the first resident, unlocked page the sweep
	// finds, ignoring the accessed bit entirely, matching spec 4.2's
	// "Default: first-fit over frames (choose any non-locked,
	// non-kernel frame)."
	FirstFitAlg
)

// Pager owns the page file: a fixed number of page-sized slots on a
// simulated backing store, a bitmap tracking which are in use, and a
// WS-Clock sweep over every resident page known to the system, grounded
// on paging.c's Find_Space_On_Paging_File/Free_Space_On_Paging_File and
// its Page_Cleaner daemon.
type Pager struct {
	mu    sync.Mutex
	slots []mem.Bytepg_t
	used  []bool
	alg   Algorithm

	// clock is the circular reference list the sweep advances over;
	// hand indexes the next candidate to examine.
	clock []clockEntry
	hand  int

	// reads/writes count completed page-file I/O operations, the
	// "paging file reads" counter spec.md 8's scenario 3 asks a test to
	// observe incrementing by at least 4. Unlike stats.Counter_t (gated
	// behind the compile-time-false stats.Stats switch, meant for
	// optional diagnostics), these must always count: they back a
	// directly testable property, not an optional trace.
	reads  int64
	writes int64
}

/// NewPager allocates a page file able to hold nslots pages, defaulting to
/// the WS-Clock algorithm (paging.c's boot-time default).
func NewPager(nslots int) *Pager {
	return &Pager{
		slots: make([]mem.Bytepg_t, nslots),
		used:  make([]bool, nslots),
	}
}

/// SetAlgorithm switches the victim-selection policy EvictOne applies.
func (p *Pager) SetAlgorithm(a Algorithm) {
	p.mu.Lock()
	p.alg = a
	p.mu.Unlock()
}

/// Algorithm reports the currently selected victim-selection policy.
func (p *Pager) Algorithm() Algorithm {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alg
}

// findFreeSlot scans the bitmap for an unused slot, mirroring the
// original's linear bitmap search.
func (p *Pager) findFreeSlot() (int, bool) {
	for i, u := range p.used {
		if !u {
			return i, true
		}
	}
	return 0, false
}

/// Read copies slot's contents into dst, the page-in half of a fault.
func (p *Pager) Read(slot int, dst *mem.Bytepg_t) defs.Err_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < 0 || slot >= len(p.slots) || !p.used[slot] {
		return defs.EINVAL
	}
	*dst = p.slots[slot]
	atomic.AddInt64(&p.reads, 1)
	return 0
}

// write copies src into a newly reserved slot and returns its index, the
// page-out half of an eviction.
func (p *Pager) write(src *mem.Bytepg_t) (int, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.findFreeSlot()
	if !ok {
		return 0, defs.ENOSPC
	}
	p.used[slot] = true
	p.slots[slot] = *src
	atomic.AddInt64(&p.writes, 1)
	return slot, 0
}

/// FreeSlot releases slot back to the free bitmap, matching
/// Free_Space_On_Paging_File.
func (p *Pager) FreeSlot(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot >= 0 && slot < len(p.used) {
		p.used[slot] = false
	}
}

// track registers e as a sweep candidate once its page has been faulted
// in; an (as, va) pair already on the clock is not added again. Entries go
// stale when their page is evicted or unmapped, so the sweep below checks
// residency before acting on any of them.
func (p *Pager) track(e clockEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.clock {
		if existing.as == e.as && existing.va == e.va {
			return
		}
	}
	p.clock = append(p.clock, e)
}

func (p *Pager) untrackLocked(i int) {
	p.clock = append(p.clock[:i], p.clock[i+1:]...)
	if p.hand > i {
		p.hand--
	}
}

/// EvictOne sweeps the clock hand looking for a page to reclaim: a
/// resident, unaccessed page is pushed out to the page file and its frame
/// freed. Pages with their accessed bit set are given a second chance (the
/// bit is cleared and the sweep moves on), matching the classic
/// clock/second-chance algorithm GeekOS calls WS-Clock. A full revolution
/// only clears every accessed bit if every tracked page happened to be
/// touched recently; the classic algorithm's progress guarantee requires a
/// second revolution in that case, now that no page has its second chance
/// left — EvictOne makes that second pass itself rather than reporting no
/// victim when one plainly exists. It reports whether a page was evicted.
func (p *Pager) EvictOne() bool {
	p.mu.Lock()
	n := len(p.clock)
	alg := p.alg
	if n == 0 {
		p.mu.Unlock()
		return false
	}
	order := make([]clockEntry, n)
	idxs := make([]int, n)
	for i := 0; i < n; i++ {
		idx := (p.hand + i) % n
		order[i] = p.clock[idx]
		idxs[i] = idx
	}
	p.mu.Unlock()

	done := make([]bool, n)
	sweep := func(honorAccessed bool) bool {
		for i, e := range order {
			if done[i] {
				continue
			}
			accessed, resident := e.as.accessed(e.va)
			if !resident {
				done[i] = true
				p.mu.Lock()
				p.untrackLocked(idxs[i])
				p.mu.Unlock()
				continue
			}
			// FirstFitAlg takes the first resident candidate regardless
			// of its accessed bit, matching spec 4.2's first-fit
			// description; WSClockAlg gives an accessed page a second
			// chance on its first pass instead.
			if honorAccessed && accessed && alg == WSClockAlg {
				continue
			}
			slot, err := p.write(&mem.Bytepg_t{})
			if err != 0 {
				continue
			}
			if e.as.evict(e.va, slot, func(live *mem.Bytepg_t) {
				p.mu.Lock()
				p.slots[slot] = *live
				p.mu.Unlock()
			}) {
				p.mu.Lock()
				p.hand = (idxs[i] + 1) % len(p.clock)
				p.mu.Unlock()
				return true
			}
			p.FreeSlot(slot)
			done[i] = true
		}
		return false
	}

	if sweep(true) {
		return true
	}
	if alg == WSClockAlg && sweep(false) {
		return true
	}
	p.mu.Lock()
	p.hand = (p.hand + n) % n
	p.mu.Unlock()
	return false
}

/// Reads reports the number of completed page-file slot reads (page-ins)
/// since this pager was created.
func (p *Pager) Reads() int64 {
	return atomic.LoadInt64(&p.reads)
}

/// Writes reports the number of completed page-file slot writes
/// (page-outs) since this pager was created.
func (p *Pager) Writes() int64 {
	return atomic.LoadInt64(&p.writes)
}

/// Free reports the number of unused page-file slots.
func (p *Pager) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, u := range p.used {
		if !u {
			n++
		}
	}
	return n
}
