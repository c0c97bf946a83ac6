// Package executor implements the async task executor and timer wheel
// (spec §4.5): a single process-wide bounded MPMC ready queue, a
// cooperative poll loop run by each idle hart, yield_now, and a timer
// min-heap. The teacher never wrote an executor (biscuit schedules real
// goroutines via the Go runtime's own scheduler, one per kernel thread,
// and never needed a hand-rolled one) so this package has no teacher
// file to adapt; it is authored fresh against spec §4.5/§5 and grounded
// on the shape of `golang.org/x/sync/errgroup` (already in the teacher's
// go.mod, promoted from indirect to direct here per SPEC_FULL.md §3) for
// the secondary-hart bring-up/join pattern `kernel.System.Run` uses.
//
// A Task here is a goroutine paused on a private resume channel between
// poll steps, which is the idiomatic Go substitute for a hand-rolled
// Future/Waker pair: the goroutine's own stack is the continuation, and
// parking on a channel receive is the suspension point spec §5 calls a
// ".await boundary". The ready queue schedules *handoffs* between an
// idle hart and a parked task goroutine, not raw function pointers.
package executor

import (
	"container/heap"
	"fmt"
	"sync"
)

// TaskID names one spawned task for logging/debugging.
type TaskID uint64

// Yielder is the capability a running task body uses to suspend itself
// back to the executor — the per-task analogue of a Rust Future's Waker.
// It must not be retained past the task function's return.
type Yielder struct {
	t *task
}

// YieldNow suspends the calling task for exactly one round trip through
// the ready queue (spec §8: "yield_now() always resolves after exactly
// one intervening re-enqueue").
func (y *Yielder) YieldNow() {
	y.t.ex.reenqueue(y.t)
	y.t.paused <- true
	<-y.t.resume
}

// Dying reports whether the owning thread has been asked to exit, so a
// long-running task body can check it at yield points instead of
// spinning forever (spec §5's cancellation-at-user-return-boundary
// discipline, generalized to any cooperative loop).
func (y *Yielder) Dying() bool { return y.t.killed() }

type task struct {
	id      TaskID
	ex      *Executor
	resume  chan struct{} // hart -> task: proceed one poll step
	paused  chan bool     // task -> hart: true = yielded (still alive), false = done
	result  any
	mu      sync.Mutex
	killreq bool
}

func (t *task) killed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killreq
}

// JoinHandle lets a spawner wait for a task's completion and retrieve
// whatever value its body returned, mirroring the teacher's use of a
// result channel wherever it forks off background work.
type JoinHandle struct {
	done   chan struct{}
	result any
}

// Wait blocks until the task finishes and returns its result.
func (j *JoinHandle) Wait() any {
	<-j.done
	return j.result
}

// Executor owns the bounded ready queue every hart drains. Enqueue
// failure (the queue is at the configured task-limit capacity) is a
// fatal condition per spec §4.5 — it panics rather than silently
// dropping a runnable task.
type Executor struct {
	ready chan *task
}

// New allocates an executor whose ready queue can hold at most cap
// pending handoffs — this is the kernel's process-wide task limit (spec
// §3: "Ready task... capacity = task limit").
func New(cap int) *Executor {
	return &Executor{ready: make(chan *task, cap)}
}

func (ex *Executor) reenqueue(t *task) {
	select {
	case ex.ready <- t:
	default:
		panic(fmt.Sprintf("executor: ready queue full (task limit exceeded) enqueuing task %d", t.id))
	}
}

var nextID TaskID
var idMu sync.Mutex

func allocID() TaskID {
	idMu.Lock()
	defer idMu.Unlock()
	nextID++
	return nextID
}

// Spawn starts f as a new task and returns a handle to await its result.
// f receives the Yielder it must use for every suspension point.
func (ex *Executor) Spawn(f func(y *Yielder) any) *JoinHandle {
	t := &task{id: allocID(), ex: ex, resume: make(chan struct{}), paused: make(chan bool)}
	jh := &JoinHandle{done: make(chan struct{})}
	go func() {
		<-t.resume
		y := &Yielder{t: t}
		jh.result = f(y)
		close(jh.done)
		t.paused <- false
	}()
	ex.reenqueue(t)
	return jh
}

// kill requests that the owning task observe Dying() as true; it does
// not forcibly unwind the goroutine (spec §5: "in-flight futures are not
// preemptively cancelled; they resume, observe the exited status, and
// exit").
func (t *task) kill() {
	t.mu.Lock()
	t.killreq = true
	t.mu.Unlock()
}

// RunUntilIdle runs one hart's poll loop: pop a ready task, hand it one
// poll step (wake it, wait for it to yield or finish), and repeat. It
// returns once the ready queue is empty and shouldShutdown reports true;
// otherwise, on an empty queue, it blocks on the next enqueue the same
// way spec §4.5 describes an SBI retentive hart-suspend waiting for an
// interrupt — here that interrupt is simply "another goroutine enqueued
// a task".
func (ex *Executor) RunUntilIdle(shouldShutdown func() bool) {
	for {
		select {
		case t := <-ex.ready:
			t.resume <- struct{}{}
			<-t.paused
		default:
			if shouldShutdown() {
				return
			}
			t := <-ex.ready
			t.resume <- struct{}{}
			<-t.paused
		}
	}
}

// Timer is one pending deadline, firing Wake when it expires (spec §3).
type Timer struct {
	DeadlineMs int64
	Wake       func()
	index      int
}

type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].DeadlineMs < h[j].DeadlineMs }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { t := x.(*Timer); t.index = len(*h); *h = append(*h, t) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// TimerWheel is the global min-heap of (deadline, waker) pairs described
// in spec §3/§4.5.
type TimerWheel struct {
	mu sync.Mutex
	h  timerHeap
}

// NewTimerWheel allocates an empty timer wheel.
func NewTimerWheel() *TimerWheel { return &TimerWheel{} }

// Arm inserts a timer that fires wake once nowMs reaches deadlineMs.
func (tw *TimerWheel) Arm(deadlineMs int64, wake func()) *Timer {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	t := &Timer{DeadlineMs: deadlineMs, Wake: wake}
	heap.Push(&tw.h, t)
	return t
}

// CheckTimer pops and fires every timer whose deadline has passed,
// called once per tick from the timer-interrupt path (spec §4.4).
func (tw *TimerWheel) CheckTimer(nowMs int64) {
	var fired []*Timer
	tw.mu.Lock()
	for tw.h.Len() > 0 && tw.h[0].DeadlineMs <= nowMs {
		fired = append(fired, heap.Pop(&tw.h).(*Timer))
	}
	tw.mu.Unlock()
	for _, t := range fired {
		t.Wake()
	}
}

// Sleep suspends the calling task until a tw.CheckTimer call with a time
// at or past deadlineMs fires its timer,
// implementing spec §4.5's sleep(dur) future: on first call it arms a
// timer on tw whose waker re-enqueues the task, then yields; the timer
// fires exactly once and the task resumes on the hart that dequeues it
// next (spec §5: "a task resumes on whichever hart next dequeues it").
func Sleep(y *Yielder, tw *TimerWheel, deadlineMs int64) {
	tw.Arm(deadlineMs, func() { y.t.ex.reenqueue(y.t) })
	y.t.paused <- true
	<-y.t.resume
}

// BlockingStatus mirrors spec §3's Thread status enum; package proc
// installs a callback pair so BlockingFuture can flip a thread's status
// around a blocking poll without this package depending on proc.
type BlockingStatus int

const (
	StatusReady BlockingStatus = iota
	StatusRunning
	StatusBlocking
	StatusTerminated
)

// BlockingFuture runs body (a function that itself may Yield on y any
// number of times) with setStatus(StatusBlocking) in effect for its
// duration, restoring StatusRunning when it returns — the behavior spec
// §4.5 assigns to `BlockingFuture`. If y.Dying() becomes true while body
// is running, BlockingFuture does not interrupt body; body is expected
// to check Dying() at its own yield points (synchronous signal-driven
// cancellation, spec §4.5).
func BlockingFuture[T any](y *Yielder, setStatus func(BlockingStatus), body func() T) T {
	setStatus(StatusBlocking)
	defer setStatus(StatusRunning)
	return body()
}
