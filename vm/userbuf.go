package vm

import (
	"defs"
	"fdops"
	"mem"
)

var _ fdops.Userio_i = (*Userbuf_t)(nil)
var _ fdops.Userio_i = (*Fakeubuf_t)(nil)

/// Userbuf_t implements fdops.Userio_i over a range of virtual addresses
/// in one address space: the copy_to_user/copy_from_user primitive every
/// syscall that moves data across the user/kernel boundary goes through,
/// grounded on the teacher's Userbuf_t. Real code never dereferences a
/// user pointer directly; it always goes through here, one page at a
/// time, so a bad pointer fails with EFAULT instead of wedging the
/// kernel.
type Userbuf_t struct {
	as  *AS
	va  uintptr
	len int
	off int
}

/// Ub_init (re)binds ub to [userva, userva+len) in as, discarding any
/// prior binding. Kept as a separate initializer rather than folded into
/// a constructor so a single Userbuf_t can be reused across syscalls
/// without an allocation each time, matching the teacher's Ub_init.
func (ub *Userbuf_t) Ub_init(as *AS, userva uintptr, len int) {
	ub.as = as
	ub.va = userva
	ub.len = len
	ub.off = 0
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// tx walks buf page by page against ub's remaining range, locking each
// frame for the duration of its slice's copy. write selects the
// direction: true copies buf into user memory, false copies user memory
// into buf.
func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	if ub.as == nil {
		return 0, defs.EINVAL
	}
	did := 0
	for len(buf) != 0 && ub.off != ub.len {
		va := ub.va + uintptr(ub.off)
		pgoff := int(va & uintptr(mem.PGOFFSET))
		n := min3(len(buf), mem.PGSIZE-pgoff, ub.len-ub.off)

		err := ub.as.withUserPage(va, write, func(page []uint8) {
			page = page[:n]
			if write {
				copy(page, buf[:n])
			} else {
				copy(buf[:n], page)
			}
		})
		if err != 0 {
			return did, err
		}

		buf = buf[n:]
		ub.off += n
		did += n
	}
	return did, 0
}

/// Uioread copies from the user range into dst (a copy_from_user), the
/// direction a write(2)-style syscall uses to pull the caller's data in.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	return ub.tx(dst, false)
}

/// Uiowrite copies src into the user range (a copy_to_user), the
/// direction a read(2)-style syscall uses to hand data back to the
/// caller.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	return ub.tx(src, true)
}

/// Remain reports how many bytes of the bound range have not yet been
/// transferred.
func (ub *Userbuf_t) Remain() int {
	return ub.len - ub.off
}

/// Totalsz reports the full size of the bound range, regardless of how
/// much of it has been consumed.
func (ub *Userbuf_t) Totalsz() int {
	return ub.len
}

/// Fakeubuf_t implements fdops.Userio_i directly over a kernel-resident
/// byte slice, with no address space or page faults involved. Used by
/// callers (the syscall2 tests among them) that need to hand
/// fdops.Fdops_i a buffer without staging a real user mapping first,
/// matching the teacher's Fakeubuf_t.
type Fakeubuf_t struct {
	buf []uint8
	off int
}

/// Fake_init binds fb to buf, starting at offset 0.
func (fb *Fakeubuf_t) Fake_init(buf []uint8) {
	fb.buf = buf
	fb.off = 0
}

/// Uioread copies from fb's backing buffer into dst.
func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, fb.buf[fb.off:])
	fb.off += n
	return n, 0
}

/// Uiowrite copies src into fb's backing buffer.
func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(fb.buf[fb.off:], src)
	fb.off += n
	return n, 0
}

/// Remain reports how many bytes of the backing buffer remain unconsumed.
func (fb *Fakeubuf_t) Remain() int {
	return len(fb.buf) - fb.off
}

/// Totalsz reports the full size of the backing buffer.
func (fb *Fakeubuf_t) Totalsz() int {
	return len(fb.buf)
}
