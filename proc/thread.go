package proc

import (
	"sync"

	"rvkernel/defs"
	"rvkernel/executor"
	"rvkernel/thread"
	"rvkernel/trap"
)

// ThreadStatus mirrors spec §3's Thread status enum (Ready/Running/
// Blocking/Terminated), tracked per-thread so wait4/signal delivery can
// inspect it without reaching into the executor's task bookkeeping.
type ThreadStatus int

const (
	ThreadReady ThreadStatus = iota
	ThreadRunning
	ThreadBlocking
	ThreadTerminated
)

// Thread is one schedulable thread of a Process: the thread package's
// kill/liveness bookkeeping (spec §4.6's base thread note), plus the
// trap context the per-thread run loop dispatches against and the
// blocked/pending signal masks delivery consults. It is an extension of
// thread.Thread_t, not a replacement — the tid/kill/alive machinery stays
// in thread.Thread_t exactly as the executor expects it (thread.Current,
// WithThread), and this type adds the process-model fields spec §4.6
// names that thread.Thread_t never carried.
type Thread struct {
	*thread.Thread_t
	Trap *trap.Context
	Proc *Process

	mu         sync.Mutex
	status     ThreadStatus
	exitCode   int8
	sigMask    SignalSet
	sigPending SignalSet
}

func newThread(tid defs.Tid_t, p *Process, tc *trap.Context) *Thread {
	return &Thread{Thread_t: thread.NewThread(tid), Trap: tc, Proc: p}
}

// Status returns the thread's current scheduling status.
func (t *Thread) Status() ThreadStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetStatus updates the thread's scheduling status.
func (t *Thread) SetStatus(s ThreadStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// BlockingSetter adapts SetStatus to executor.BlockingFuture's
// setStatus callback, the inversion executor.go's own doc comment
// anticipates ("package proc installs a callback pair... without this
// package depending on proc").
func (t *Thread) BlockingSetter() func(executor.BlockingStatus) {
	return func(bs executor.BlockingStatus) {
		switch bs {
		case executor.StatusBlocking:
			t.SetStatus(ThreadBlocking)
		case executor.StatusRunning:
			t.SetStatus(ThreadRunning)
		case executor.StatusReady:
			t.SetStatus(ThreadReady)
		case executor.StatusTerminated:
			t.SetStatus(ThreadTerminated)
		}
	}
}

// ExitCode returns the value SetExitCode recorded.
func (t *Thread) ExitCode() int8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// SetExitCode records the thread's exit status, read back by Wait4.
func (t *Thread) SetExitCode(code int8) {
	t.mu.Lock()
	t.exitCode = code
	t.mu.Unlock()
}

// Mask returns the thread's currently blocked-signal mask.
func (t *Thread) Mask() SignalSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sigMask
}

// SetMask installs m as the blocked-signal mask and returns the
// previous mask, the shape rt_sigprocmask needs to implement SIG_BLOCK/
// SIG_UNBLOCK/SIG_SETMASK against its old-set output parameter.
func (t *Thread) SetMask(m SignalSet) SignalSet {
	t.mu.Lock()
	old := t.sigMask
	t.sigMask = m
	t.mu.Unlock()
	return old
}

func (t *Thread) maskHas(sig int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sigMask.Has(sig)
}

// pend marks sig pending against this thread and wakes it if it is
// parked in a blocking syscall (spec §4.6: signal delivery interrupts a
// blocked thread the way thread.Thread_t.Kill already wakes Killch
// waiters).
func (t *Thread) pend(sig int) {
	t.mu.Lock()
	t.sigPending = t.sigPending.Add(sig)
	t.mu.Unlock()
	t.Kill(false)
}

// TakePending removes and returns the lowest-numbered pending, unblocked
// signal, for the run loop to deliver at the next syscall-return/trap
// boundary (spec §4.4's "synchronous signal-driven cancellation").
func (t *Thread) TakePending() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sig := 1; sig <= NSIG; sig++ {
		if t.sigPending.Has(sig) && !t.sigMask.Has(sig) {
			t.sigPending = t.sigPending.Del(sig)
			return sig, true
		}
	}
	return 0, false
}
