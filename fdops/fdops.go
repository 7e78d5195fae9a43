// Package fdops defines the interfaces an open file description implements
// so that pipes and GOSFS regular files and directories can all be reached
// through a single dispatch point, fd.Fd_t.Fops, the way it is used in the
// teacher. Message queues and semaphores are reached by numeric id through
// their own tables instead.
package fdops

import "defs"

/// Userio_i abstracts a source or destination for syscall data transfer.
/// vm.Userbuf_t, vm.Fakeubuf_t, and test fakes all implement it.
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

/// Ready_t is a bitmask of readiness conditions used by Poll.
type Ready_t uint

const (
	R_READ  Ready_t = 1 << 0
	R_WRITE Ready_t = 1 << 1
	R_ERROR Ready_t = 1 << 2
)

/// Pollmsg_t describes what a caller is waiting for when it polls a
/// descriptor.
type Pollmsg_t struct {
	Events Ready_t
}

/// Fdops_i is implemented by every concrete open-file-description type:
/// GOSFS regular files and directories, and pipe ends.
type Fdops_i interface {
	Close() defs.Err_t
	Reopen() defs.Err_t
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
	Fstat(st Statable) defs.Err_t
	Lseek(off, whence int) (int, defs.Err_t)
	Poll(pm Pollmsg_t) (Ready_t, defs.Err_t)
}

/// Statable is satisfied by stat.Stat_t; declared here to avoid an import
/// cycle between fdops and stat.
type Statable interface {
	Wdev(uint)
	Wino(uint)
	Wmode(uint)
	Wsize(uint)
	Wrdev(uint)
}
