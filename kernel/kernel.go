// Package kernel wires every core subsystem (scheduler, virtual memory,
// VFS/GOSFS, pipes, message queues, semaphores) into one instance, the
// way a booted GeekOS wires its various global tables together in
// main()/Init(). Unlike the teacher, where these are ambient package-level
// globals, Kernel_t bundles them explicitly so tests can build independent
// instances (spec.md 9's "process-wide state with explicit init/teardown
// lifecycles"). The package is also the home for the diagnostic
// formatters (print_sys_info/print_process_list) and for Panicf, the
// kernel-panic path for the invariant-violation class of error in
// spec.md 7.
package kernel

import (
	"fmt"
	"sync"

	"bufcache"
	"caller"
	"defs"
	"fd"
	"limits"
	"mem"
	"mq"
	"sched"
	"sem"
	"stats"
	"thread"
	"tinfo"
	"vfs"
	"vm"
)

// Proc_t is a process: an address space, an open-file table of bounded
// size, and the set of threads sharing it, grounded on spec 3's "User
// context" data model (N open-file slots, effective uid, reference
// count).
type Proc_t struct {
	mu      sync.Mutex
	Pid     defs.Pid_t
	Euid    defs.Uid_t
	AS      *vm.AS
	Files   []*fd.Fd_t
	Cwd     *fd.Cwd_t
	Threads []defs.Tid_t
	Refs    int
	// HeapSize mirrors UserContext->size, the byte offset sbrk(2) grows:
	// bookkeeping only, since this simulated kernel never actually backs
	// the grown range with anonymous pages until it is faulted in.
	HeapSize int
}

// newProc allocates a process with an empty file table sized to
// limits.Syslimit.ProcFiles (N ~= 10 per spec 3).
func newProc(pid defs.Pid_t, euid defs.Uid_t, as *vm.AS) *Proc_t {
	return &Proc_t{
		Pid:   pid,
		Euid:  euid,
		AS:    as,
		Files: make([]*fd.Fd_t, limits.Syslimit.ProcFiles),
		Refs:  1,
	}
}

// AddFile installs f in the first free slot, matching spec 6's fixed-size
// open-file array; EMFILE if the table is full.
func (p *Proc_t) AddFile(f *fd.Fd_t) (int, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.Files {
		if cur == nil {
			p.Files[i] = f
			return i, 0
		}
	}
	return 0, defs.EMFILE
}

// GetFile returns the descriptor installed at fdnum, or ENOTFOUND if the
// slot is empty or out of range.
func (p *Proc_t) GetFile(fdnum int) (*fd.Fd_t, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fdnum < 0 || fdnum >= len(p.Files) || p.Files[fdnum] == nil {
		return nil, defs.ENOTFOUND
	}
	return p.Files[fdnum], 0
}

// CloseFile closes and clears the descriptor at fdnum.
func (p *Proc_t) CloseFile(fdnum int) defs.Err_t {
	p.mu.Lock()
	if fdnum < 0 || fdnum >= len(p.Files) || p.Files[fdnum] == nil {
		p.mu.Unlock()
		return defs.ENOTFOUND
	}
	f := p.Files[fdnum]
	p.Files[fdnum] = nil
	p.mu.Unlock()
	return f.Fops.Close()
}

// Sbrk grows (or shrinks, given a negative incr) the process's heap-size
// bookkeeping by incr and returns the size that was in effect beforehand,
// matching Sys_SBrk's "return the old break, then grow the recorded size."
func (p *Proc_t) Sbrk(incr int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.HeapSize
	p.HeapSize += incr
	return old
}

// Kernel_t bundles one complete, independent instance of every core
// subsystem spec.md names. Construct a fresh Kernel_t per test case or
// per simulated boot, rather than relying on ambient package state.
type Kernel_t struct {
	mu       sync.Mutex
	Sched    *sched.Sched
	Phys     *mem.Physmem_t
	Pager    *vm.Pager
	VFS      *vfs.Table
	MQs      *mq.Table
	Sems     *sem.Table
	// Devices names the block devices available to mount(2)/format(2),
	// standing in for GeekOS's single statically-probed IDE/ramdisk
	// device; tests and cmd/mkfs register one under a name of their
	// choosing before mount/format can see it.
	Devices map[string]*Device
	Threads map[defs.Tid_t]*thread.Thread
	Procs   map[defs.Pid_t]*Proc_t
	Notes   tinfo.Threadinfo_t
	nextTid  defs.Tid_t
	nextPid  defs.Pid_t
	idleTid  defs.Tid_t
	distinct caller.Distinct_caller_t

	// Switches counts scheduler dispatches, the context-switch counter
	// referenced in spec 10.1.
	Switches stats.Counter_t
	// ticks mirrors g_numTicks, the monotonic timer-interrupt count
	// get_time_of_day reports; this simulated kernel has no real timer
	// interrupt, so callers advance it explicitly via Tick.
	ticks uint64
}

// New constructs a kernel instance: nframes physical frames, pageSlots
// page-file slots, and a fresh scheduler/VFS/MQ/semaphore table, matching
// the boot-time wiring original_source's main.c performs for the
// scheduler, physical memory, and mount table globals.
func New(nframes, pageSlots int) *Kernel_t {
	k := &Kernel_t{
		Sched:   sched.New(),
		Phys:    mem.NewPhysmem(nframes),
		VFS:     vfs.NewTable(),
		MQs:     mq.NewTable(),
		Sems:    sem.NewTable(),
		Devices: make(map[string]*Device),
		Threads: make(map[defs.Tid_t]*thread.Thread),
		Procs:   make(map[defs.Pid_t]*Proc_t),
		idleTid: defs.TidNone,
	}
	k.Pager = vm.NewPager(pageSlots)
	k.Notes.Init()
	k.distinct.Enabled = true
	return k
}

// NewProc allocates a fresh process with its own address space, backed by
// this kernel's physical-frame pool and pager.
func (k *Kernel_t) NewProc(euid defs.Uid_t) *Proc_t {
	k.mu.Lock()
	k.nextPid++
	pid := k.nextPid
	k.mu.Unlock()

	as := vm.NewAS(k.Phys, k.Pager)
	p := newProc(pid, euid, as)

	k.mu.Lock()
	k.Procs[pid] = p
	k.mu.Unlock()
	return p
}

// NewThread allocates a thread owned by pid at the given priority,
// registers it with the scheduler at MLF/RR level 0 (a fresh thread
// always starts at the top, per spec 4.1), and fails with ENOMEM
// once limits.Syslimit.Threads simultaneously-known threads already
// exist.
func (k *Kernel_t) NewThread(pid defs.Pid_t, prio int) (*thread.Thread, defs.Err_t) {
	k.mu.Lock()
	if len(k.Threads) >= limits.Syslimit.Threads {
		k.mu.Unlock()
		return nil, defs.ENOMEM
	}
	k.nextTid++
	tid := k.nextTid
	k.mu.Unlock()

	t := thread.New(tid, pid, prio)

	k.mu.Lock()
	k.Threads[tid] = t
	k.Notes.Notes[tid] = &t.Note
	if proc, ok := k.Procs[pid]; ok {
		proc.mu.Lock()
		proc.Threads = append(proc.Threads, tid)
		proc.mu.Unlock()
	}
	k.mu.Unlock()

	k.Sched.AddThread(tid)
	return t, 0
}

// Device is a named block device: its Disk_i plus the block count format(2)
// needs to lay out a filesystem, standing in for the geometry GeekOS reads
// off the IDE controller at probe time.
type Device struct {
	Disk   bufcache.Disk_i
	Blocks int
}

// RegisterDevice names disk so mount(2)/format(2) can find it, matching
// how GeekOS's boot sequence probes one IDE device and exposes it under a
// fixed name.
func (k *Kernel_t) RegisterDevice(name string, disk bufcache.Disk_i, blocks int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Devices[name] = &Device{Disk: disk, Blocks: blocks}
}

// LookupDevice returns the named device, if registered.
func (k *Kernel_t) LookupDevice(name string) (*Device, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	d, ok := k.Devices[name]
	return d, ok
}

// Blockmem returns the Blockmem_i adapter over this kernel's physical
// frame pool, the allocator every mounted filesystem's buffer cache draws
// pages from.
func (k *Kernel_t) Blockmem() bufcache.Blockmem_i {
	return &bufcache.Memblocks{Phys: k.Phys}
}

// Proc looks up a process by pid.
func (k *Kernel_t) Proc(pid defs.Pid_t) (*Proc_t, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.Procs[pid]
	return p, ok
}

// Tick advances the simulated timer-interrupt count and returns the new
// value, matching g_numTicks.
func (k *Kernel_t) Tick() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ticks++
	return k.ticks
}

// Now reports the simulated timer-interrupt count without advancing it,
// the value get_time_of_day returns.
func (k *Kernel_t) Now() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ticks
}

// SetIdle designates tid as the scheduler's idle thread, matching spec
// 4.1's "the idle thread always lives at level 3."
func (k *Kernel_t) SetIdle(tid defs.Tid_t) {
	k.mu.Lock()
	k.idleTid = tid
	k.mu.Unlock()
	k.Sched.SetIdle(tid)
}

// Dispatch removes and returns the next runnable thread id, bumping the
// context-switch counter, matching spec 4.1's get_next_runnable; it
// panics if the scheduler has nothing runnable, which cannot happen while
// the idle thread is registered (spec 4.1's "asserts a choice exists").
func (k *Kernel_t) Dispatch() defs.Tid_t {
	tid, ok := k.Sched.Next()
	if !ok {
		k.Panicf("scheduler: no runnable thread (idle thread missing?)")
	}
	k.Switches.Inc()
	return tid
}

// ExitThread tears a thread down: every semaphore membership it holds is
// released (sem.Table.DestroyAll), it is dropped from every run queue,
// and its state transitions to Dead so WaitUntilDead-based joins unblock.
// Matches spec 5's "Blocking operations are cancelled only by thread
// termination, which unlinks the thread from any wait queue it holds."
func (k *Kernel_t) ExitThread(tid defs.Tid_t, exitcode int) {
	k.Sems.DestroyAll(tid)
	k.Sched.Remove(tid)

	k.mu.Lock()
	t, ok := k.Threads[tid]
	k.mu.Unlock()
	if !ok {
		return
	}
	t.Note.Alive = false
	t.SetState(thread.Dead)
}

// Panicf dumps a deduplicated stack trace (via caller.Distinct_caller_t,
// so a repeatedly-hit invariant violation doesn't flood output) and then
// panics, the "Assertion (kernel panic)" class of spec 7: these indicate
// programmer error in the scheduler or VM, never a bad user input.
func (k *Kernel_t) Panicf(format string, args ...interface{}) {
	if novel, trace := k.distinct.Distinct(); novel {
		fmt.Printf("%s", trace)
	}
	panic(fmt.Sprintf(format, args...))
}

// DumpSchedulerInfo formats the run-queue level and accounted CPU time of
// every known thread, matching Dump_Scheduler_Info's console table.
func (k *Kernel_t) DumpSchedulerInfo() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	s := fmt.Sprintf("tid\tpid\tlevel\tstate\tuser_ns\tsys_ns\n")
	for tid, t := range k.Threads {
		s += fmt.Sprintf("%d\t%d\t%d\t%d\t%d\t%d\n",
			tid, t.Pid, k.Sched.Level(tid), t.GetState(), t.Accnt.Userns, t.Accnt.Sysns)
	}
	return s
}

// DumpPagingInfo formats the free-frame and free-page-file-slot counts,
// matching Dump_Paging_Info.
func (k *Kernel_t) DumpPagingInfo() string {
	return fmt.Sprintf("frames free: %d\npage-file slots free: %d\npage-file reads: %d\npage-file writes: %d\n",
		k.Phys.Nfree(), k.Pager.Free(), k.Pager.Reads(), k.Pager.Writes())
}

// PrintProcessList formats every known process and the thread ids that
// share its address space, matching print_process_list's console report.
func (k *Kernel_t) PrintProcessList() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	s := "pid\teuid\tthreads\n"
	for pid, p := range k.Procs {
		p.mu.Lock()
		s += fmt.Sprintf("%d\t%d\t%v\n", pid, p.Euid, p.Threads)
		p.mu.Unlock()
	}
	return s
}

// PrintSysInfo formats a combined scheduler/paging/process diagnostic
// dump, matching print_sys_info's flags-selected sections; this
// implementation always reports every section, since the simulated
// kernel has no console-only subset to suppress.
func (k *Kernel_t) PrintSysInfo(flags int) string {
	return k.DumpSchedulerInfo() + k.DumpPagingInfo() + k.PrintProcessList()
}
