// Package sem implements named counting semaphores with per-thread
// membership, per spec.md 4.8. No dedicated original_source/ file exists
// for this subsystem (only scheduler.c/paging.c/mqueue.c/pipefs.c/gosfs.c
// were retrieved) so it is grounded on the wait-queue design mq and pipe
// already share plus spec.md 4.8's description: a fixed-size table of
// slots, P/V/Destroy restricted to a slot's registered members.
package sem

import (
	"sync"

	"defs"
	"limits"
)

// slot is one semaphore's state. A thread "joins" a slot by creating or
// looking it up by name, and only joined threads may P/V/destroy it —
// spec 4.8's "Using a semaphore for which the caller is not a member
// returns a generic error."
type slot struct {
	mu      sync.Mutex
	cond    *sync.Cond
	inUse   bool
	name    string
	count   int
	members map[defs.Tid_t]bool
}

// Table is the system-wide fixed-size semaphore table.
type Table struct {
	mu     sync.Mutex
	byName map[string]int
	slots  []*slot
}

// NewTable allocates a table sized to limits.Syslimit.Semaphores, matching
// the teacher's fixed-size kernel tables (GeekOS's own g_semaphores array).
func NewTable() *Table {
	n := limits.Syslimit.Semaphores
	t := &Table{
		byName: make(map[string]int),
		slots:  make([]*slot, n),
	}
	for i := range t.slots {
		s := &slot{}
		s.cond = sync.NewCond(&s.mu)
		t.slots[i] = s
	}
	return t
}

// Create returns the id of the named semaphore, creating it with the
// given initial count and claiming a free slot if it does not already
// exist. An existing semaphore's registered-users count is incremented
// instead of its count being reset, matching spec 4.8's "Create-by-name
// reuses an existing slot (incrementing registered-users) or claims a
// free one." The calling thread is recorded as a member either way.
func (t *Table) Create(name string, initial int, tid defs.Tid_t) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byName[name]; ok {
		s := t.slots[id]
		s.mu.Lock()
		if s.members == nil {
			s.members = make(map[defs.Tid_t]bool)
		}
		s.members[tid] = true
		s.mu.Unlock()
		return id, 0
	}

	for id, s := range t.slots {
		s.mu.Lock()
		if !s.inUse {
			s.inUse = true
			s.name = name
			s.count = initial
			s.members = map[defs.Tid_t]bool{tid: true}
			s.mu.Unlock()
			t.byName[name] = id
			return id, 0
		}
		s.mu.Unlock()
	}
	return 0, defs.ENOMEM
}

func (t *Table) lookup(id int) (*slot, defs.Err_t) {
	if id < 0 || id >= len(t.slots) {
		return nil, defs.ENOTFOUND
	}
	s := t.slots[id]
	s.mu.Lock()
	inUse := s.inUse
	s.mu.Unlock()
	if !inUse {
		return nil, defs.ENOTFOUND
	}
	return s, 0
}

// isMember reports whether tid has joined s. Caller must hold s.mu.
func isMember(s *slot, tid defs.Tid_t) bool {
	return s.members != nil && s.members[tid]
}

// P decrements the semaphore, blocking while the count would go negative,
// matching spec 4.8's "P blocks while count < 0; decrements."
func (t *Table) P(id int, tid defs.Tid_t) defs.Err_t {
	s, err := t.lookup(id)
	if err != 0 {
		return err
	}
	s.mu.Lock()
	if !isMember(s, tid) {
		s.mu.Unlock()
		return defs.EUNSPECIFIED
	}
	for s.count <= 0 {
		s.cond.Wait()
		if !s.inUse {
			s.mu.Unlock()
			return defs.ENOTFOUND
		}
	}
	s.count--
	s.mu.Unlock()
	return 0
}

// V increments the semaphore and wakes one waiter if the count was at or
// below zero, matching spec 4.8's "V increments and wakes one waiter if
// count <= 0."
func (t *Table) V(id int, tid defs.Tid_t) defs.Err_t {
	s, err := t.lookup(id)
	if err != 0 {
		return err
	}
	s.mu.Lock()
	if !isMember(s, tid) {
		s.mu.Unlock()
		return defs.EUNSPECIFIED
	}
	s.count++
	if s.count <= 1 {
		s.cond.Signal()
	}
	s.mu.Unlock()
	return 0
}

// Destroy removes tid's membership from the named semaphore. If no
// members remain, the slot is freed and its wait queue cleared, matching
// spec 4.8's "Destroy removes the current thread's membership and, if no
// members remain, frees the slot and clears its wait queue."
func (t *Table) Destroy(id int, tid defs.Tid_t) defs.Err_t {
	s, err := t.lookup(id)
	if err != 0 {
		return err
	}
	s.mu.Lock()
	if !isMember(s, tid) {
		s.mu.Unlock()
		return defs.EUNSPECIFIED
	}
	delete(s.members, tid)
	if len(s.members) == 0 {
		name := s.name
		s.inUse = false
		s.name = ""
		s.count = 0
		s.members = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		t.mu.Lock()
		delete(t.byName, name)
		t.mu.Unlock()
		return 0
	}
	s.mu.Unlock()
	return 0
}

// DestroyAll drops every membership tid holds, the cleanup a thread's
// exit path runs so a dead thread never keeps a semaphore's
// registered-users count pinned. It matches DestroySemaphore's use at
// thread-exit time in original_source/include/geekos/syscall.h.
func (t *Table) DestroyAll(tid defs.Tid_t) {
	t.mu.Lock()
	ids := make([]int, 0, len(t.slots))
	for id, s := range t.slots {
		s.mu.Lock()
		if s.inUse && isMember(s, tid) {
			ids = append(ids, id)
		}
		s.mu.Unlock()
	}
	t.mu.Unlock()
	for _, id := range ids {
		t.Destroy(id, tid)
	}
}

// Memberships reports every semaphore id tid currently belongs to, used
// by kernel diagnostics and by thread-exit teardown.
func (t *Table) Memberships(tid defs.Tid_t) []int {
	var out []int
	for id, s := range t.slots {
		s.mu.Lock()
		if s.inUse && isMember(s, tid) {
			out = append(out, id)
		}
		s.mu.Unlock()
	}
	return out
}

// Count returns a semaphore's current count, for diagnostics/tests; it
// does not require membership.
func (t *Table) Count(id int) (int, defs.Err_t) {
	s, err := t.lookup(id)
	if err != 0 {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, 0
}
