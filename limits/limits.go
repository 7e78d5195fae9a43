package limits

import "unsafe"
import "sync/atomic"

/// Lhits counts limit hits.
var Lhits int

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

/// Syslimit_t tracks the system-wide resource ceilings this kernel
/// enforces. Unlike the teacher's version (which also tracked sockets,
/// ARP entries, and routing table size for a networked multiprocessor
/// system), this only carries ceilings the scheduler, VM, GOSFS, and IPC
/// subsystems actually consult.
type Syslimit_t struct {
	// max simultaneously runnable kernel threads
	Threads int
	// max open files across the whole system
	OpenFiles Sysatomic_t
	// max GOSFS inodes (GOSFS_NUM_INODES in the on-disk format)
	Inodes int
	// max physical page frames backing the VM subsystem
	Frames int
	// max page-file slots (bounds swappable VM)
	PagefileSlots int
	// max simultaneously open pipes
	Pipes Sysatomic_t
	// max simultaneously open message queues
	Mqueues Sysatomic_t
	// max simultaneously open semaphores
	Semaphores Sysatomic_t
	// max open files for a single process (NUM_FILE_DESCRIPTORS analogue)
	ProcFiles int
	// max ACL entries per inode
	ACLEntries int
	// cached buffer-cache blocks
	Blocks int
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Threads:       1024,
		OpenFiles:     4096,
		Inodes:        1024,
		Frames:        1 << 16,
		PagefileSlots: 1 << 14,
		Pipes:         256,
		Mqueues:       256,
		Semaphores:    256,
		ProcFiles:     10,
		ACLEntries:    4,
		Blocks:        100000,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount.
/// It returns true on success.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
