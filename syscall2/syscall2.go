// Package syscall2 implements the kernel's system-call dispatch table,
// grounded on original_source/src/geekos/syscall.c's g_syscallTable and the
// 43-entry numbering in original_source/include/geekos/syscall.h. The
// package is named syscall2 rather than syscall purely to avoid shadowing
// the standard library package given this module's flat by-name import
// convention; it plays the same role g_syscallTable plays in the original:
// one numbered slot per handler, each handler touching exactly the
// subsystem its name says it does.
//
// Every handler returns a plain int: non-negative is success (sometimes a
// meaningful value such as a new fd, a semaphore id, or a byte count,
// sometimes just 0), negative is one of defs.Err_t's codes, matching
// spec.md 4.9. Handlers that also need to hand data back to the caller
// (create_pipe's two new fds, read_entry's decoded record) do so through
// the same *Args the caller supplied, the same register-passing role
// state->ebx/ecx/edx/esi play in the original's Interrupt_State.
package syscall2

import (
	"fmt"

	"defs"
	"fd"
	"fdops"
	"gosfs"
	"kernel"
	"pipe"
	"sched"
	"stat"
	"ustr"
	"vfs"
	"vm"
)

// Syscall numbers, stable and in original_source/include/geekos/syscall.h's
// order (spec.md 6 lists the same 43 calls in the same order).
const (
	SYS_NULL = iota
	SYS_EXIT
	SYS_PRINTSTRING
	SYS_GETKEY
	SYS_SETATTR
	SYS_GETCURSOR
	SYS_PUTCURSOR
	SYS_SPAWN
	SYS_WAIT
	SYS_GETPID
	SYS_SETSCHEDULINGPOLICY
	SYS_GETTIMEOFDAY
	SYS_CREATESEMAPHORE
	SYS_P
	SYS_V
	SYS_DESTROYSEMAPHORE
	SYS_PRINTPROCESSLIST
	SYS_PRINTSYSINFO
	SYS_SELECTPAGINGALGORITHM
	SYS_MOUNT
	SYS_OPEN
	SYS_OPENDIRECTORY
	SYS_CLOSE
	SYS_DELETE
	SYS_READ
	SYS_READENTRY
	SYS_WRITE
	SYS_STAT
	SYS_FSTAT
	SYS_SEEK
	SYS_CREATEDIR
	SYS_SYNC
	SYS_FORMAT
	SYS_CREATEPIPE
	SYS_MQCREATE
	SYS_MQDESTROY
	SYS_MQSEND
	SYS_MQRECEIVE
	SYS_SBRK
	SYS_SETACL
	SYS_SETSETUID
	SYS_SETEFFECTIVEUID
	SYS_GETUID
	numSyscalls
)

// Args bundles every syscall's arguments and out-parameters in one value,
// playing the role the five general-purpose registers (ebx..edi) play in
// the original's Interrupt_State. A given handler reads only the fields
// its own syscall number documents; the rest sit unused, the same way a
// handler in the original never looks past the registers it needs.
type Args struct {
	Path    ustr.Ustr   // open/open_directory/delete/stat/create_dir/set_acl/set_setuid's path
	Name    string      // create_semaphore/mq_create's name, mount/format's device name
	FSType  string      // mount/format's filesystem type ("gosfs" is the only one implemented)
	Prefix  byte        // mount's VFS namespace prefix byte
	Str     string      // print_string's payload
	Uid     defs.Uid_t  // set_acl's target uid, set_effective_uid's uid
	Fd      int         // close/read/write/stat(via fstat)/seek/mq's target descriptor or id
	Fd2     int         // create_pipe's second descriptor (out)
	N       int         // format's total block count, sbrk's increment
	Off     int         // seek's offset
	Whence  int         // seek's whence
	Policy  sched.Policy
	Quantum int
	Alg     vm.Algorithm
	Initial int // create_semaphore's initial count
	Mode    vfs.Perm
	Perm    vfs.Perm
	Flag    bool // set_setuid's flag
	Code    int  // exit's exit code
	Buf     fdops.Userio_i
	St      *stat.Stat_t
}

// Handler is one syscall table entry.
type Handler func(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int

var table [numSyscalls]Handler

func init() {
	table[SYS_NULL] = sysNull
	table[SYS_EXIT] = sysExit
	table[SYS_PRINTSTRING] = sysUnsupported
	table[SYS_GETKEY] = sysUnsupported
	table[SYS_SETATTR] = sysUnsupported
	table[SYS_GETCURSOR] = sysUnsupported
	table[SYS_PUTCURSOR] = sysUnsupported
	table[SYS_SPAWN] = sysUnsupported
	table[SYS_WAIT] = sysUnsupported
	table[SYS_GETPID] = sysGetPid
	table[SYS_SETSCHEDULINGPOLICY] = sysSetSchedulingPolicy
	table[SYS_GETTIMEOFDAY] = sysGetTimeOfDay
	table[SYS_CREATESEMAPHORE] = sysCreateSemaphore
	table[SYS_P] = sysP
	table[SYS_V] = sysV
	table[SYS_DESTROYSEMAPHORE] = sysDestroySemaphore
	table[SYS_PRINTPROCESSLIST] = sysPrintProcessList
	table[SYS_PRINTSYSINFO] = sysPrintSysInfo
	table[SYS_SELECTPAGINGALGORITHM] = sysSelectPagingAlgorithm
	table[SYS_MOUNT] = sysMount
	table[SYS_OPEN] = sysOpen
	table[SYS_OPENDIRECTORY] = sysOpenDirectory
	table[SYS_CLOSE] = sysClose
	table[SYS_DELETE] = sysDelete
	table[SYS_READ] = sysRead
	table[SYS_READENTRY] = sysRead
	table[SYS_WRITE] = sysWrite
	table[SYS_STAT] = sysStat
	table[SYS_FSTAT] = sysFstat
	table[SYS_SEEK] = sysSeek
	table[SYS_CREATEDIR] = sysCreateDir
	table[SYS_SYNC] = sysSync
	table[SYS_FORMAT] = sysFormat
	table[SYS_CREATEPIPE] = sysCreatePipe
	table[SYS_MQCREATE] = sysMQCreate
	table[SYS_MQDESTROY] = sysMQDestroy
	table[SYS_MQSEND] = sysMQSend
	table[SYS_MQRECEIVE] = sysMQReceive
	table[SYS_SBRK] = sysSbrk
	table[SYS_SETACL] = sysSetACL
	table[SYS_SETSETUID] = sysSetSetuid
	table[SYS_SETEFFECTIVEUID] = sysSetEffectiveUid
	table[SYS_GETUID] = sysGetUid
}

// Dispatch looks up sysno's handler and invokes it, returning EINVAL for an
// out-of-range number the way the original's Syscall trap handler rejects
// an index past g_numSyscalls.
func Dispatch(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, sysno int, a *Args) int {
	if sysno < 0 || sysno >= numSyscalls || table[sysno] == nil {
		return int(defs.EINVAL)
	}
	return table[sysno](k, pid, tid, a)
}

// sysUnsupported answers the console- and process-spawn-facing calls this
// simulated kernel never implements: there is no console/keyboard driver
// and no ELF loader in this codebase (spec.md scopes process creation and
// console I/O out; cmd/chentry was dropped for the same reason), so these
// slots stay wired to a handler rather than left nil, matching how
// fdops.Fdops_i implementations answer an operation they don't support.
func sysUnsupported(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	return int(defs.EUNSUPPORTED)
}

func sysNull(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	return 0
}

func sysExit(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	k.ExitThread(tid, a.Code)
	return a.Code
}

func sysGetPid(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	return int(pid)
}

func sysSetSchedulingPolicy(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	return int(k.Sched.SwitchPolicy(a.Policy, a.Quantum))
}

func sysGetTimeOfDay(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	return int(k.Now())
}

func sysCreateSemaphore(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	id, err := k.Sems.Create(a.Name, a.Initial, tid)
	if err != 0 {
		return int(err)
	}
	return id
}

func sysP(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	return int(k.Sems.P(a.Fd, tid))
}

func sysV(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	return int(k.Sems.V(a.Fd, tid))
}

func sysDestroySemaphore(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	return int(k.Sems.Destroy(a.Fd, tid))
}

func sysPrintProcessList(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	fmt.Print(k.PrintProcessList())
	return 0
}

func sysPrintSysInfo(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	fmt.Print(k.PrintSysInfo(a.N))
	return 0
}

func sysSelectPagingAlgorithm(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	k.Pager.SetAlgorithm(a.Alg)
	return 0
}

// sysMount looks device up in the kernel's registered device table, mounts
// a.FSType onto it ("gosfs" is the only filesystem this kernel speaks,
// matching spec.md's scope), and installs it in the VFS namespace under
// a.Prefix, matching Sys_Mount's devname/prefix/fstype triple.
func sysMount(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	if a.FSType != "gosfs" {
		return int(defs.ENOFILESYS)
	}
	dev, ok := k.LookupDevice(a.Name)
	if !ok {
		return int(defs.ENODEV)
	}
	fs, err := gosfs.Mount(dev.Disk, k.Blockmem(), 64, 4)
	if err != 0 {
		return int(err)
	}
	return int(k.VFS.Mount(a.Prefix, fs))
}

// sysFormat writes a fresh gosfs image of a.N blocks to the named device,
// matching Sys_Format's devname/fstype pair with the block count carried
// as an explicit argument rather than read off disk geometry, since this
// simulated kernel's Disk_i exposes no such geometry query.
func sysFormat(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	if a.FSType != "gosfs" {
		return int(defs.ENOFILESYS)
	}
	dev, ok := k.LookupDevice(a.Name)
	if !ok {
		return int(defs.ENODEV)
	}
	return int(gosfs.Format(dev.Disk, k.Blockmem(), a.N))
}

func proc(k *kernel.Kernel_t, pid defs.Pid_t) (*kernel.Proc_t, defs.Err_t) {
	p, ok := k.Proc(pid)
	if !ok {
		return nil, defs.ENOTFOUND
	}
	return p, 0
}

func installFd(p *kernel.Proc_t, f fdops.Fdops_i, mode vfs.Perm) (int, defs.Err_t) {
	perms := 0
	if mode&vfs.PermRead != 0 {
		perms |= fd.FD_READ
	}
	if mode&vfs.PermWrite != 0 {
		perms |= fd.FD_WRITE
	}
	return p.AddFile(&fd.Fd_t{Fops: f, Perms: perms})
}

func sysOpen(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	f, err := k.VFS.Open(a.Path, a.Mode, p.Euid)
	if err != 0 {
		return int(err)
	}
	fdnum, err := installFd(p, f, a.Mode)
	if err != 0 {
		f.Close()
		return int(err)
	}
	return fdnum
}

func sysOpenDirectory(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	f, err := k.VFS.OpenDirectory(a.Path, p.Euid)
	if err != 0 {
		return int(err)
	}
	fdnum, err := installFd(p, f, vfs.PermRead)
	if err != 0 {
		f.Close()
		return int(err)
	}
	return fdnum
}

func sysClose(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	return int(p.CloseFile(a.Fd))
}

func sysDelete(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	return int(k.VFS.Delete(a.Path, p.Euid))
}

// sysRead serves both read(fd, buf, n) and read_entry(fd, entry*): a
// directory descriptor's Read already returns the next snapshotted
// GOSFS_Directory-shaped record (gosfs.Dir.Read), so the two syscalls
// share one dispatch body just as they share fdops.Fdops_i.Read.
func sysRead(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	f, err := p.GetFile(a.Fd)
	if err != 0 {
		return int(err)
	}
	n, err := f.Fops.Read(a.Buf)
	if err != 0 {
		return int(err)
	}
	return n
}

func sysWrite(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	f, err := p.GetFile(a.Fd)
	if err != 0 {
		return int(err)
	}
	n, err := f.Fops.Write(a.Buf)
	if err != 0 {
		return int(err)
	}
	return n
}

func sysStat(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	return int(k.VFS.Stat(a.Path, p.Euid, a.St))
}

func sysFstat(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	f, err := p.GetFile(a.Fd)
	if err != 0 {
		return int(err)
	}
	return int(f.Fops.Fstat(a.St))
}

func sysSeek(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	f, err := p.GetFile(a.Fd)
	if err != 0 {
		return int(err)
	}
	newoff, err := f.Fops.Lseek(a.Off, a.Whence)
	if err != 0 {
		return int(err)
	}
	return newoff
}

func sysCreateDir(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	return int(k.VFS.CreateDirectory(a.Path))
}

func sysSync(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	return int(k.VFS.Sync())
}

func sysCreatePipe(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, perr := proc(k, pid)
	if perr != 0 {
		return int(perr)
	}
	rd, wr, err := pipe.New()
	if err != 0 {
		return int(err)
	}
	rdnum, err := installFd(p, rd, vfs.PermRead)
	if err != 0 {
		rd.Close()
		wr.Close()
		return int(err)
	}
	wrnum, err := installFd(p, wr, vfs.PermWrite)
	if err != 0 {
		p.CloseFile(rdnum)
		wr.Close()
		return int(err)
	}
	a.Fd = rdnum
	a.Fd2 = wrnum
	return 0
}

func sysMQCreate(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	id, err := k.MQs.Create(a.Name, a.N)
	if err != 0 {
		return int(err)
	}
	return id
}

func sysMQDestroy(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	return int(k.MQs.Destroy(a.Fd))
}

func sysMQSend(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	payload := make([]byte, a.N)
	n, err := a.Buf.Uioread(payload)
	if err != 0 {
		return int(err)
	}
	return int(k.MQs.Send(a.Fd, payload[:n]))
}

func sysMQReceive(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	msg, err := k.MQs.Receive(a.Fd)
	if err != 0 {
		return int(err)
	}
	n, err := a.Buf.Uiowrite(msg)
	if err != 0 {
		return int(err)
	}
	return n
}

func sysSbrk(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	return p.Sbrk(a.N)
}

func sysSetACL(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	return int(k.VFS.SetACL(a.Path, p.Euid, a.Uid, a.Perm))
}

func sysSetSetuid(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	return int(k.VFS.SetSetuid(a.Path, p.Euid, a.Flag))
}

// sysSetEffectiveUid matches Sys_SetEffectiveUid: once a process's euid has
// moved away from root, it may never change again except to reaffirm the
// same value. A process is root from birth (kernel.NewProc's euid), so
// this only ever blocks a uid change after the process has already
// dropped privilege.
func sysSetEffectiveUid(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	if p.Euid != defs.RootUid && p.Euid != a.Uid {
		return int(defs.EACCESS)
	}
	p.Euid = a.Uid
	return 0
}

func sysGetUid(k *kernel.Kernel_t, pid defs.Pid_t, tid defs.Tid_t, a *Args) int {
	p, err := proc(k, pid)
	if err != 0 {
		return int(err)
	}
	return int(p.Euid)
}
