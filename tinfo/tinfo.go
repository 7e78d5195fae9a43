// Package tinfo tracks per-thread state that the scheduler and the wait-
// queue machinery consult when deciding whether a thread may be killed or
// is doomed to die. The teacher keeps this in implicit per-goroutine
// storage reached through a patched runtime's Gptr/Setgptr hooks; stock Go
// has no such hook, so the current thread's note travels explicitly
// through a context.Context value instead — the idiomatic Go replacement
// for thread-local storage.
package tinfo

import (
	"context"
	"sync"

	"defs"
)

/// Tnote_t stores per-thread state consulted by the scheduler and by code
/// waiting to tear a thread down.
type Tnote_t struct {
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

/// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

/// Threadinfo_t tracks all thread notes for one kernel instance.
type Threadinfo_t struct {
	sync.Mutex
	Notes map[defs.Tid_t]*Tnote_t
}

/// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

type ctxkey struct{}

/// WithCurrent returns a context carrying p as the current thread note.
func WithCurrent(ctx context.Context, p *Tnote_t) context.Context {
	if p == nil {
		panic("nil thread note")
	}
	return context.WithValue(ctx, ctxkey{}, p)
}

/// Current returns the thread note carried by ctx. It panics if none was
/// installed, matching the teacher's invariant that every running kernel
/// thread has a note.
func Current(ctx context.Context) *Tnote_t {
	p, ok := ctx.Value(ctxkey{}).(*Tnote_t)
	if !ok {
		panic("no thread note in context")
	}
	return p
}
