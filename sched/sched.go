// Package sched implements the kernel's run-queue policy: round robin and
// a 4-level multilevel feedback queue, grounded on
// original_source/src/geekos/scheduler.c. Because this spec targets a
// single simulated processor (no multiprocessor support), Sched answers
// exactly one question for its caller: which single thread id may hold
// the CPU next. Acting on the answer is left to the caller
// (kernel.Kernel_t.Dispatch takes the id and counts the switch), which
// keeps this policy logic unit-testable without goroutines at all.
package sched

import (
	"sync"

	"defs"
)

/// Policy selects between round robin and multilevel feedback scheduling,
/// mirroring GeekOS's Switch2SchedulingPolicy.
type Policy int

const (
	RR Policy = iota
	MLF
)

/// NumQueues is the number of priority levels under MLF
/// (original_source calls this MAX_QUEUE_LEVEL).
const NumQueues = 4

/// Sched holds one instance's complete run-queue state.
type Sched struct {
	mu      sync.Mutex
	policy  Policy
	quantum int
	queues  [NumQueues][]defs.Tid_t
	level   map[defs.Tid_t]int
	idle    defs.Tid_t
	hasIdle bool
}

/// New returns a scheduler defaulting to round robin with a quantum of 1
/// (GeekOS's default policy and quantum at boot).
func New() *Sched {
	return &Sched{
		policy:  RR,
		quantum: 1,
		level:   make(map[defs.Tid_t]int),
	}
}

/// SwitchPolicy changes the active policy and quantum, re-enqueueing every
/// queued thread at level 0 the way Switch2SchedulingPolicy resets all run
/// queues.
/// A non-positive quantum is rejected, matching the original's validation.
func (s *Sched) SwitchPolicy(p Policy, quantum int) defs.Err_t {
	if p != RR && p != MLF {
		return defs.EUNSUPPORTED
	}
	if quantum <= 0 {
		return defs.EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []defs.Tid_t
	for lvl := range s.queues {
		all = append(all, s.queues[lvl]...)
		s.queues[lvl] = nil
	}
	s.policy = p
	s.quantum = quantum
	s.level = make(map[defs.Tid_t]int)

	for _, id := range all {
		s.enqueueLocked(id, 0)
	}
	return 0
}

/// Quantum returns the currently configured timeslice length.
func (s *Sched) Quantum() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quantum
}

/// SetIdle designates id as the idle thread: under MLF it always sits at
/// the lowest-priority queue and is never promoted by MakeRunnable,
/// matching the original's placement of the idle thread permanently at
/// MAX_QUEUE_LEVEL-1.
func (s *Sched) SetIdle(id defs.Tid_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasIdle = true
	s.idle = id
	s.removeFromQueuesLocked(id)
	s.queues[NumQueues-1] = append(s.queues[NumQueues-1], id)
	s.level[id] = NumQueues - 1
}

// enqueueLocked adds id to the run queue appropriate for the active
// policy. Under RR every thread lands in queue 0 regardless of level —
// this reproduces Move_All_Threads_To_Wait_Queue(0), which folds every
// thread into a single FIFO and ignores priority entirely. It is a known
// priority-inversion risk in the original scheduler, preserved here
// rather than fixed.
func (s *Sched) enqueueLocked(id defs.Tid_t, level int) {
	if s.hasIdle && id == s.idle {
		s.queues[NumQueues-1] = append(s.queues[NumQueues-1], id)
		s.level[id] = NumQueues - 1
		return
	}
	if s.policy == RR {
		s.queues[0] = append(s.queues[0], id)
		s.level[id] = 0
		return
	}
	if level < 0 {
		level = 0
	}
	if level >= NumQueues {
		level = NumQueues - 1
	}
	s.queues[level] = append(s.queues[level], id)
	s.level[id] = level
}

func (s *Sched) removeFromQueuesLocked(id defs.Tid_t) {
	for lvl := range s.queues {
		q := s.queues[lvl]
		for i, v := range q {
			if v == id {
				s.queues[lvl] = append(q[:i], q[i+1:]...)
				return
			}
		}
	}
}

/// AddThread makes a newly created thread runnable at the top queue (or,
/// if it was designated idle via SetIdle first, at the bottom one).
func (s *Sched) AddThread(id defs.Tid_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(id, 0)
}

/// MakeRunnable wakes a blocked thread. Under MLF, a waking thread is
/// promoted by one level, never below 0 (GeekOS rewards threads that just
/// finished waiting for I/O, but only by a single step per wake, exactly
/// like Make_Runnable's "if currentReadyQueue>0: currentReadyQueue--");
/// under RR it simply rejoins the single queue.
func (s *Sched) MakeRunnable(id defs.Tid_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(id, s.level[id]-1)
}

/// QuantumExpired is called when a running thread's timeslice runs out
/// while it is still runnable (as opposed to blocking on a wait queue).
/// Under MLF the thread is demoted one level (capped at the bottom
/// queue); under RR it simply rejoins the tail of the single queue.
func (s *Sched) QuantumExpired(id defs.Tid_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.level[id]
	s.enqueueLocked(id, cur+1)
}

/// Next pops the next thread id to run, scanning queues from the highest
/// priority level down, FIFO within a level. It returns false if nothing
/// is runnable.
func (s *Sched) Next() (defs.Tid_t, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for lvl := range s.queues {
		q := s.queues[lvl]
		if len(q) == 0 {
			continue
		}
		id := q[0]
		s.queues[lvl] = q[1:]
		return id, true
	}
	return defs.TidNone, false
}

/// Remove drops id from every run queue, e.g. because the thread exited.
func (s *Sched) Remove(id defs.Tid_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFromQueuesLocked(id)
	delete(s.level, id)
}

/// Level reports the MLF queue a thread currently occupies (0 under RR).
func (s *Sched) Level(id defs.Tid_t) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level[id]
}
