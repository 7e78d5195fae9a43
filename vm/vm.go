// Package vm implements demand-paged virtual memory: an address space
// backed by physical frames (mem.Physmem_t) and, when those run out, a
// page file. Grounded on the teacher's Vm_t for the address-space shape
// and on original_source/src/geekos/paging.c for the fault handler, the
// WS-Clock cleaner, and the page-file bitmap. Real x86 page tables, CR3
// loads, and TLB shootdown are replaced with an explicit per-address-space
// map, since this spec covers neither a boot sequence nor multiple
// processors.
package vm

import (
	"sync"

	"defs"
	"mem"
	"oommsg"
)

/// pte is one simulated page-table entry.
type pte struct {
	frame    mem.Pa_t
	present  bool
	writable bool
	accessed bool
	dirty    bool
	// onDisk is true while the page's only copy lives in the page file.
	onDisk bool
	slot   int
	// locked is set while a copy_to_user/copy_from_user transfer (see
	// Userbuf_t) is touching this page's frame directly; a locked page
	// is resident but may not be chosen as a clock-sweep victim, the
	// simulated analogue of spec 4.2's "mark LOCKED and not-PAGEABLE
	// for the duration of the memcpy".
	locked bool
}

/// AS is one address space: a page table mapping virtual page numbers to
/// physical frames or page-file slots.
type AS struct {
	mu    sync.Mutex
	phys  *mem.Physmem_t
	pager *Pager
	pmap  map[uintptr]*pte
}

/// NewAS creates an address space backed by phys and paged out to pager.
func NewAS(phys *mem.Physmem_t, pager *Pager) *AS {
	return &AS{phys: phys, pager: pager, pmap: make(map[uintptr]*pte)}
}

func pageOf(va uintptr) uintptr {
	return va &^ uintptr(mem.PGOFFSET)
}

/// MapAnon establishes a demand-zero anonymous mapping at va: no frame is
/// allocated until the first access faults it in, matching Vmadd_anon.
func (as *AS) MapAnon(va uintptr, writable bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.pmap[pageOf(va)] = &pte{writable: writable}
}

/// Resident reports whether va currently has a physical frame mapped in,
/// for tests that assert demand paging actually deferred allocation.
func (as *AS) Resident(va uintptr) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	p, ok := as.pmap[pageOf(va)]
	return ok && p.present
}

/// Dirty reports whether the page at va has been written to since it was
/// last faulted in. Eviction writes every page out regardless of this bit.
func (as *AS) Dirty(va uintptr) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	p, ok := as.pmap[pageOf(va)]
	return ok && p.dirty
}

// accessed reports and clears a resident page's reference bit, the
// primitive the clock sweep uses in place of a hardware-maintained A bit.
func (as *AS) accessed(va uintptr) (wasAccessed bool, resident bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	p, ok := as.pmap[va]
	if !ok || !p.present {
		return false, false
	}
	wasAccessed = p.accessed
	p.accessed = false
	return wasAccessed, true
}

/// Fault services a page fault at va. It is the simulated analogue of
/// GeekOS's page-fault trap handler: allocate-on-first-touch for a fresh
/// anonymous page, or pull the page back in from the page file.
//
// The page-file read happens without as.mu held (paging.c re-enables
// interrupts during the disk read), so a concurrent Pager sweep can steal
// the frame out from under an in-flight fault. Fault re-checks the PTE
// after the read completes and, if the page was serviced or re-evicted in
// the meantime, discards its work and retries rather than install stale
// state — this is the re-entrancy contract spec.md calls out explicitly.
func (as *AS) Fault(va uintptr, write bool) defs.Err_t {
	for {
		as.mu.Lock()
		p, ok := as.pmap[pageOf(va)]
		if !ok {
			as.mu.Unlock()
			return defs.EFAULT
		}
		if p.present {
			if write && !p.writable {
				as.mu.Unlock()
				return defs.EACCESS
			}
			p.accessed = true
			if write {
				p.dirty = true
			}
			as.mu.Unlock()
			return 0
		}
		onDisk, slot := p.onDisk, p.slot
		as.mu.Unlock()

		pg, pa, ok := as.phys.Refpg_new_nozero()
		if !ok {
			if !as.tryReclaim() {
				return defs.ENOMEM
			}
			continue
		}

		if onDisk {
			if err := as.pager.Read(slot, mem.Pg2bytes(pg)); err != 0 {
				as.phys.Refdown(pa)
				return err
			}
		} else {
			*mem.Pg2bytes(pg) = mem.Bytepg_t{}
		}

		as.mu.Lock()
		cur, stillMapped := as.pmap[pageOf(va)]
		if !stillMapped || cur.present || (cur.onDisk && cur.slot != slot) {
			// raced with another fault or a fresh eviction; drop our
			// frame and retry against current state.
			as.mu.Unlock()
			as.phys.Refdown(pa)
			continue
		}
		cur.frame = pa
		cur.present = true
		cur.accessed = true
		cur.onDisk = false
		if write {
			if !cur.writable {
				as.mu.Unlock()
				as.phys.Refdown(pa)
				return defs.EACCESS
			}
			cur.dirty = true
		}
		as.mu.Unlock()
		if onDisk {
			as.pager.FreeSlot(slot)
		}
		as.pager.track(clockEntry{as: as, va: pageOf(va)})
		return 0
	}
}

// tryReclaim asks the pager to evict one page system-wide to make room,
// notifying the OOM channel first the way a demand-paging kernel signals
// memory pressure before giving up.
func (as *AS) tryReclaim() bool {
	resume := make(chan bool, 1)
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: 1, Resume: resume}:
		<-resume
	default:
	}
	return as.pager.EvictOne()
}

/// Unmap removes va's mapping, freeing its frame or page-file slot.
func (as *AS) Unmap(va uintptr) {
	as.mu.Lock()
	defer as.mu.Unlock()
	p, ok := as.pmap[pageOf(va)]
	if !ok {
		return
	}
	if p.present {
		as.phys.Refdown(p.frame)
	} else if p.onDisk {
		as.pager.FreeSlot(p.slot)
	}
	delete(as.pmap, pageOf(va))
}

// evict is called by the pager's clock sweep to push a resident page out
// to the page file, freeing its frame. It returns false if the page was
// already non-resident (lost the race with a fault or another evict).
func (as *AS) evict(va uintptr, slot int, writeBack func(*mem.Bytepg_t)) bool {
	as.mu.Lock()
	p, ok := as.pmap[va]
	if !ok || !p.present || p.locked {
		as.mu.Unlock()
		return false
	}
	pa := p.frame
	as.mu.Unlock()

	// Fault frees a page's slot when it reads the page back in, so the
	// frame is always the only copy: write it out whether dirty or not.
	writeBack(as.phys.Dmap(pa))

	as.mu.Lock()
	defer as.mu.Unlock()
	p, ok = as.pmap[va]
	if !ok || !p.present || p.frame != pa || p.locked {
		// the page was already refaulted back in, or pinned for a
		// user copy, before we finished writing it back; leave it
		// resident, nothing to evict.
		return false
	}
	p.present = false
	p.onDisk = true
	p.slot = slot
	p.dirty = false
	as.phys.Refdown(pa)
	return true
}

/// clockEntry links a page back to its owning address space and virtual
/// address, so the pager's WS-Clock sweep can find and evict it.
type clockEntry struct {
	as *AS
	va uintptr
}

// withUserPage faults in va (allocating or reading it back from the page
// file as needed), locks its frame against the clock sweep, hands the
// page bytes from va's offset to the end of the page to fn, and unlocks
// the frame again. This is the simulated equivalent of spec 4.2's "mark
// it LOCKED and not-PAGEABLE for the duration of the memcpy, then restore
// flags" — Userbuf_t calls it once per page crossed by a transfer.
func (as *AS) withUserPage(va uintptr, write bool, fn func(page []byte)) defs.Err_t {
	if err := as.Fault(va, write); err != 0 {
		return err
	}

	as.mu.Lock()
	p, ok := as.pmap[pageOf(va)]
	if !ok || !p.present {
		as.mu.Unlock()
		return defs.EFAULT
	}
	pa := p.frame
	p.locked = true
	as.mu.Unlock()

	off := int(va & uintptr(mem.PGOFFSET))
	fn(as.phys.Dmap(pa)[off:])

	as.mu.Lock()
	if cur, ok := as.pmap[pageOf(va)]; ok && cur.frame == pa {
		cur.locked = false
	}
	as.mu.Unlock()
	return 0
}
