// Package thread models a kernel thread: the unit the scheduler picks
// among and the unit that blocks on a wait queue. Grounded on GeekOS's
// kthread (original_source/src/geekos/scheduler.c) for the state machine
// and on the teacher's accnt.Accnt_t/tinfo.Tnote_t for per-thread
// bookkeeping.
package thread

import (
	"sync"

	"accnt"
	"defs"
	"tinfo"
)

/// State_t enumerates the lifecycle states of a kernel thread.
type State_t int

const (
	Runnable State_t = iota
	Running
	Blocked
	Dead
)

/// Thread is one schedulable kernel thread. Prio exists because GeekOS
/// carries a priority field on every thread, but the round-robin policy
/// never consults it (see sched.Sched.enqueueLocked's doc comment) — this is a
/// known, preserved quirk, not an oversight.
type Thread struct {
	mu    sync.Mutex
	Id    defs.Tid_t
	Pid   defs.Pid_t
	Prio  int
	State State_t
	Accnt accnt.Accnt_t
	Note  tinfo.Tnote_t

	// Cond signals State transitions for anyone blocked on this thread's
	// own lifecycle (e.g. a join or the scheduler's wakeup path).
	cond *sync.Cond
}

/// New creates a runnable thread with the given id, owning process id, and
/// starting priority.
func New(id defs.Tid_t, pid defs.Pid_t, prio int) *Thread {
	t := &Thread{Id: id, Pid: pid, Prio: prio, State: Runnable}
	t.cond = sync.NewCond(&t.mu)
	t.Note.Alive = true
	return t
}

/// SetState transitions the thread to s and wakes anyone waiting on its
/// lifecycle.
func (t *Thread) SetState(s State_t) {
	t.mu.Lock()
	t.State = s
	t.cond.Broadcast()
	t.mu.Unlock()
}

/// GetState returns the thread's current state.
func (t *Thread) GetState() State_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State
}

/// WaitUntilDead blocks the calling goroutine until the thread reaches the
/// Dead state.
func (t *Thread) WaitUntilDead() {
	t.mu.Lock()
	for t.State != Dead {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

/// WaitQueue is a FIFO of blocked threads, grounded on GeekOS's
/// Thread_Queue: threads park here via Wait and are released one at a
/// time (Signal) or all at once (Broadcast) by whoever owns the resource
/// they are waiting for.
type WaitQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	waiting []defs.Tid_t
}

/// NewWaitQueue constructs an empty wait queue.
func NewWaitQueue() *WaitQueue {
	wq := &WaitQueue{}
	wq.cond = sync.NewCond(&wq.mu)
	return wq
}

/// Wait parks the calling goroutine on the queue until Signal or
/// Broadcast wakes it, re-acquiring no external lock (callers coordinate
/// their own resource state separately, the way GeekOS threads release a
/// spinlock across a wait).
func (wq *WaitQueue) Wait(id defs.Tid_t) {
	wq.mu.Lock()
	wq.waiting = append(wq.waiting, id)
	for contains(wq.waiting, id) {
		wq.cond.Wait()
	}
	wq.mu.Unlock()
}

func contains(s []defs.Tid_t, id defs.Tid_t) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

/// Signal wakes the longest-waiting thread on the queue, if any, and
/// reports its id.
func (wq *WaitQueue) Signal() (defs.Tid_t, bool) {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	if len(wq.waiting) == 0 {
		return defs.TidNone, false
	}
	id := wq.waiting[0]
	wq.waiting = wq.waiting[1:]
	wq.cond.Broadcast()
	return id, true
}

/// Broadcast wakes every thread currently waiting on the queue.
func (wq *WaitQueue) Broadcast() {
	wq.mu.Lock()
	wq.waiting = nil
	wq.cond.Broadcast()
	wq.mu.Unlock()
}

/// Len reports how many threads are currently parked.
func (wq *WaitQueue) Len() int {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return len(wq.waiting)
}
