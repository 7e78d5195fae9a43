// Package mq implements named message queues, grounded on
// original_source/src/geekos/mqueue.c's Msg_Queue/MQ_Create/MQ_Destroy/
// MQ_Send/MQ_Receive.
package mq

import (
	"sync"

	"defs"
	"hashtable"
	"limits"
)

// messageMaxSize matches MESSAGE_MAX_SIZE: messages carry opaque byte
// payloads up to this size.
const messageMaxSize = 2 * 4096

// queue is one named message queue's state. Blocking uses a sync.Cond
// pair bound to mu, the same pattern pipe uses and for the same reason:
// a wait queue with its own separate mutex leaves a gap between
// unlocking the resource and registering as a waiter where a concurrent
// wakeup can be sent and lost.
type queue struct {
	mu       sync.Mutex
	rdCond   *sync.Cond
	wrCond   *sync.Cond
	name     string
	id       int
	maxmsg   int
	curmsgs  int
	users    int
	messages [][]byte
}

// Table is the system-wide set of open message queues, keyed by both
// name and id the way mqueue.c's single s_messageQueueList is scanned
// both ways.
type Table struct {
	mu     sync.Mutex
	byName *hashtable.Hashtable_t
	byID   map[int]*queue
	nextID int
}

// NewTable allocates an empty message queue table.
func NewTable() *Table {
	return &Table{
		byName: hashtable.MkHash(64),
		byID:   make(map[int]*queue),
	}
}

// Create returns the id of the named queue, creating it with capacity
// maxmsg if it does not already exist. An existing queue's user count is
// incremented instead of its capacity being changed, matching MQ_Create.
func (t *Table) Create(name string, maxmsg int) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.byName.Get(name); ok {
		q := v.(*queue)
		q.mu.Lock()
		q.users++
		q.mu.Unlock()
		return q.id, 0
	}

	if !limits.Syslimit.Mqueues.Take() {
		return 0, defs.ENOMEM
	}

	t.nextID++
	q := &queue{
		name:   name,
		id:     t.nextID,
		maxmsg: maxmsg,
		users:  1,
	}
	q.rdCond = sync.NewCond(&q.mu)
	q.wrCond = sync.NewCond(&q.mu)
	t.byName.Set(name, q)
	t.byID[q.id] = q
	return q.id, 0
}

// Destroy decrements the named queue's user count. The last user frees
// the queue, but only when it is empty; otherwise the queue stays
// registered (still reachable by id and name) and EBUSY is returned,
// matching MQ_Destroy precisely, quirk included: a queue left non-empty
// at its last Destroy call is never retried automatically and simply
// stays around with zero users.
func (t *Table) Destroy(id int) defs.Err_t {
	t.mu.Lock()
	q, ok := t.byID[id]
	t.mu.Unlock()
	if !ok {
		return defs.ENOTFOUND
	}

	q.mu.Lock()
	q.users--
	if q.users > 0 {
		q.mu.Unlock()
		return 0
	}
	if len(q.messages) > 0 {
		q.mu.Unlock()
		return defs.EBUSY
	}
	q.mu.Unlock()

	t.mu.Lock()
	delete(t.byID, id)
	t.byName.Del(q.name)
	t.mu.Unlock()
	limits.Syslimit.Mqueues.Give()
	return 0
}

// Send copies payload into queue id, blocking while the
// queue already holds maxmsg messages, then wakes one blocked receiver,
// matching MQ_Send.
func (t *Table) Send(id int, payload []byte) defs.Err_t {
	if len(payload) > messageMaxSize {
		return defs.EMAXSIZE
	}

	t.mu.Lock()
	q, ok := t.byID[id]
	t.mu.Unlock()
	if !ok {
		return defs.ENOTFOUND
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	q.mu.Lock()
	for q.curmsgs >= q.maxmsg {
		q.wrCond.Wait()
	}
	q.curmsgs++
	q.messages = append(q.messages, buf)
	q.rdCond.Signal()
	q.mu.Unlock()
	return 0
}

// Receive blocks while the named queue is empty, then returns the
// oldest enqueued payload and wakes one blocked sender, matching
// MQ_Receive.
func (t *Table) Receive(id int) ([]byte, defs.Err_t) {
	t.mu.Lock()
	q, ok := t.byID[id]
	t.mu.Unlock()
	if !ok {
		return nil, defs.ENOTFOUND
	}

	q.mu.Lock()
	for q.curmsgs == 0 {
		q.rdCond.Wait()
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	q.curmsgs--
	q.wrCond.Signal()
	q.mu.Unlock()
	return msg, 0
}
