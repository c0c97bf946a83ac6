// Package thread tracks per-thread kernel state: liveness, kill
// requests, and the condition variable a killer waits on for
// acknowledgement (spec §4.6). It is grounded on the teacher's
// tinfo.Tnote_t/Threadinfo_t, with one deliberate departure: the teacher
// stashes the "current" Tnote_t in a per-goroutine field added by a
// custom Go runtime patch (runtime.Gptr/Setgptr), which stock Go has no
// equivalent for. This kernel instead threads a *Thread_t explicitly
// through every call that needs it — the executor (spec §4.5) installs
// it in the context.Context it hands to a task's goroutine, which is
// the idiomatic Go substitute for thread-local storage.
package thread

import (
	"context"
	"sync"

	"rvkernel/defs"
)

// Thread_t is one schedulable thread's kill/liveness state.
type Thread_t struct {
	Tid   defs.Tid_t
	State any // opaque scheduler bookkeeping (spec §4.5's task record)

	mu       sync.Mutex
	alive    bool
	killed   bool
	isdoomed bool

	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

// NewThread allocates a live Thread_t for tid.
func NewThread(tid defs.Tid_t) *Thread_t {
	t := &Thread_t{Tid: tid, alive: true}
	t.Killnaps.Killch = make(chan bool, 1)
	t.Killnaps.Cond = sync.NewCond(&t.mu)
	return t
}

// Alive reports whether the thread has not yet exited.
func (t *Thread_t) Alive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive
}

// SetAlive updates the thread's liveness, waking anyone waiting on
// Killnaps.Cond for a state transition (e.g. wait4 polling for exit).
func (t *Thread_t) SetAlive(v bool) {
	t.mu.Lock()
	t.alive = v
	t.Killnaps.Cond.Broadcast()
	t.mu.Unlock()
}

// Killed reports whether a signal has requested this thread die.
func (t *Thread_t) Killed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed
}

// Doomed reports whether the thread is marked for unconditional death
// (SIGKILL, or a fatal trap) — unlike Killed, a doomed thread cannot
// have the kill request rescinded.
func (t *Thread_t) Doomed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isdoomed
}

// Kill marks the thread killed, and doomed if doom is set, then signals
// Killch so a blocked syscall wakes with EINTR.
func (t *Thread_t) Kill(doom bool) {
	t.mu.Lock()
	t.killed = true
	if doom {
		t.isdoomed = true
	}
	t.mu.Unlock()
	select {
	case t.Killnaps.Killch <- true:
	default:
	}
}

type ctxKey struct{}

// WithThread returns a context carrying t as the current thread, for the
// executor to install before running a task's goroutine body.
func WithThread(ctx context.Context, t *Thread_t) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// Current returns the Thread_t installed in ctx. It panics if none was
// installed, mirroring the teacher's Current() panicking on a nil
// per-goroutine pointer — every kernel task body is expected to run
// under a context the executor populated.
func Current(ctx context.Context) *Thread_t {
	t, ok := ctx.Value(ctxKey{}).(*Thread_t)
	if !ok || t == nil {
		panic("thread.Current called outside a scheduled task")
	}
	return t
}

// Threadinfo_t is the process-wide registry of live threads, keyed by
// tid, used by wait4/signal delivery to find a target thread (spec
// §4.6).
type Threadinfo_t struct {
	sync.Mutex
	Notes map[defs.Tid_t]*Thread_t
}

// NewThreadinfo allocates an empty registry.
func NewThreadinfo() *Threadinfo_t {
	return &Threadinfo_t{Notes: make(map[defs.Tid_t]*Thread_t)}
}

// Add registers t under its tid.
func (ti *Threadinfo_t) Add(t *Thread_t) {
	ti.Lock()
	defer ti.Unlock()
	ti.Notes[t.Tid] = t
}

// Remove unregisters tid.
func (ti *Threadinfo_t) Remove(tid defs.Tid_t) {
	ti.Lock()
	defer ti.Unlock()
	delete(ti.Notes, tid)
}

// Get looks up the Thread_t for tid.
func (ti *Threadinfo_t) Get(tid defs.Tid_t) (*Thread_t, bool) {
	ti.Lock()
	defer ti.Unlock()
	t, ok := ti.Notes[tid]
	return t, ok
}

// Len returns the number of registered threads.
func (ti *Threadinfo_t) Len() int {
	ti.Lock()
	defer ti.Unlock()
	return len(ti.Notes)
}
