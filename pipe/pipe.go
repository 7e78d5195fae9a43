// Package pipe implements the anonymous pipe: a fixed-capacity circular
// byte buffer shared between a read end and a write end, grounded on
// original_source/src/geekos/pipefs.c's struct Pipe and its
// Pipe_Read/Pipe_Write/Pipe_Close/Pipe_Clone operations.
package pipe

import (
	"sync"

	"defs"
	"fdops"
	"limits"
)

// bufSize matches PIPE_BUF_SIZE: every pipe gets a fixed 4096-byte buffer.
const bufSize = 4096

// pipe is the shared state behind a read/write pair of Ends, mirroring
// struct Pipe. rd and wr advance modulo size; one slot is always left
// empty so rd==wr unambiguously means empty rather than full.
//
// Blocking is a sync.Cond pair bound to mu rather than thread.WaitQueue:
// WaitQueue's own mutex is separate from a resource's mutex, so releasing
// the resource lock and then calling WaitQueue.Wait leaves a gap where a
// concurrent wakeup can be sent before the waiter has registered and is
// lost for good. A Cond bound to the same lock used to check the
// condition closes that gap, which is the property Wake_Up_One/Wait need
// here (GeekOS's version gets this for free from a single-processor,
// interrupts-disabled critical section, a guarantee goroutines don't
// share).
type pipe struct {
	mu         sync.Mutex
	rdCond     *sync.Cond
	wrCond     *sync.Cond
	data       []byte
	size       int
	references int
	rd, wr     int
}

// used returns the number of unread bytes currently buffered.
func (p *pipe) used() int {
	return ((p.wr - p.rd) % p.size + p.size) % p.size
}

var _ fdops.Fdops_i = (*End)(nil)

// End is one file descriptor's view onto a pipe: either its read end or
// its write end, matching the distinct s_readPipeFileOps/
// s_writePipeFileOps tables the original installs on the two File objects
// Create_Pipe returns.
type End struct {
	p    *pipe
	read bool
}

// New allocates a fresh pipe and returns its read and write ends with
// references set to 2, matching Create_Pipe. Fails with ENOMEM once
// limits.Syslimit.Pipes simultaneously open pipes already exist.
func New() (*End, *End, defs.Err_t) {
	if !limits.Syslimit.Pipes.Take() {
		return nil, nil, defs.ENOMEM
	}
	p := &pipe{
		data:       make([]byte, bufSize),
		size:       bufSize,
		references: 2,
	}
	p.rdCond = sync.NewCond(&p.mu)
	p.wrCond = sync.NewCond(&p.mu)
	return &End{p: p, read: true}, &End{p: p, read: false}, 0
}

// Close decrements the reference count and, while a partner end remains,
// wakes both queues so a blocked reader or writer observes the new
// reference count and can re-evaluate EOF, matching Pipe_Close.
func (e *End) Close() defs.Err_t {
	p := e.p
	p.mu.Lock()
	p.references--
	if p.references > 0 {
		p.rdCond.Broadcast()
		p.wrCond.Broadcast()
	}
	freed := p.references == 0
	p.mu.Unlock()
	if freed {
		limits.Syslimit.Pipes.Give()
	}
	return 0
}

// Reopen increments the pipe's reference count, matching Pipe_Clone; the
// duplicate file descriptor wrapping this same End is built one layer up
// by fd.Copyfd.
func (e *End) Reopen() defs.Err_t {
	p := e.p
	p.mu.Lock()
	p.references++
	p.mu.Unlock()
	return 0
}

// Read blocks while the pipe is empty and the writer end is still open,
// returns 0 (EOF) once the writer has closed and nothing remains
// buffered, and otherwise copies up to min(numBytes, available) and
// wakes one blocked writer, matching Pipe_Read.
func (e *End) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if !e.read {
		return 0, defs.EINVAL
	}
	p := e.p
	p.mu.Lock()
	for p.used() == 0 && p.references > 1 {
		p.rdCond.Wait()
	}

	if p.references == 1 && p.used() == 0 {
		p.mu.Unlock()
		return 0, 0
	}

	avail := p.used()
	numBytes := dst.Remain()
	if numBytes > avail {
		numBytes = avail
	}

	buf := make([]byte, numBytes)
	if p.rd+numBytes > p.size {
		ofs := p.size - p.rd
		copy(buf[:ofs], p.data[p.rd:])
		copy(buf[ofs:], p.data[:numBytes-ofs])
	} else {
		copy(buf, p.data[p.rd:p.rd+numBytes])
	}
	p.rd = (p.rd + numBytes) % p.size
	p.wrCond.Signal()
	p.mu.Unlock()

	return dst.Uiowrite(buf)
}

// Write returns 0 immediately once the reader end has closed, blocks
// while the buffer is full, otherwise copies up to
// min(numBytes, freeSpace-1) and wakes one blocked reader, matching
// Pipe_Write.
func (e *End) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if e.read {
		return 0, defs.EINVAL
	}
	p := e.p
	p.mu.Lock()
	if p.references <= 1 {
		p.mu.Unlock()
		return 0, 0
	}

	for p.used() == p.size-1 {
		p.wrCond.Wait()
	}

	avail := p.size - 1 - p.used()
	numBytes := src.Remain()
	if numBytes > avail {
		numBytes = avail
	}

	buf := make([]byte, numBytes)
	if _, err := src.Uioread(buf); err != 0 {
		p.mu.Unlock()
		return 0, err
	}
	if p.wr+numBytes > p.size {
		ofs := p.size - p.wr
		copy(p.data[p.wr:], buf[:ofs])
		copy(p.data[:numBytes-ofs], buf[ofs:])
	} else {
		copy(p.data[p.wr:p.wr+numBytes], buf)
	}
	p.wr = (p.wr + numBytes) % p.size
	p.rdCond.Signal()
	p.mu.Unlock()

	return numBytes, 0
}

func (e *End) Fstat(st fdops.Statable) defs.Err_t {
	return defs.EUNSUPPORTED
}

func (e *End) Lseek(off, whence int) (int, defs.Err_t) {
	return 0, defs.EINVAL
}

func (e *End) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	p := e.p
	p.mu.Lock()
	defer p.mu.Unlock()
	var r fdops.Ready_t
	if e.read && (p.used() > 0 || p.references == 1) {
		r |= fdops.R_READ
	}
	if !e.read && (p.used() < p.size-1 || p.references == 1) {
		r |= fdops.R_WRITE
	}
	return r, 0
}
