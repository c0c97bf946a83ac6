// Package syscall is the trap-return dispatch layer: it reads a
// trapped thread's a7/a0..a5 registers, routes to the matching
// sysXxx implementation, and writes the result back into the trap
// context before resuming the thread's goroutine body. original_source
// keeps this as one mod.rs match arm per syscall id (spec §4.4/§6); this
// port keeps that one-big-switch shape but splits the arms across
// fs.go/process.go/memory.go/signal.go/time.go/misc.go by spec group,
// the way a single file would get unwieldy fast under gofmt's no-line-
// limit policy.
//
// Package trap's doc comment names this package's RunThread as the
// place "the user-return assembly restore becomes a plain field
// mutation followed by the per-thread loop resuming the task's goroutine
// body" — this file is that loop.
package syscall

import (
	"sync"
	"unsafe"

	"rvkernel/defs"
	"rvkernel/executor"
	"rvkernel/klog"
	"rvkernel/proc"
	"rvkernel/trap"
	"rvkernel/vfs"
)

// Dispatcher holds the kernel-wide state every syscall implementation
// needs: the process table, the mount table path resolution crosses,
// the timer wheel nanosleep/ppoll arm against, and the wall-clock seam
// the time group reads.
type Dispatcher struct {
	Mgr    *proc.Manager
	Mounts *vfs.MountTable
	Timer  *executor.TimerWheel
	Ex     *executor.Executor
	Now    func() int64
}

// New builds a Dispatcher over an already-booted process table, mount
// table and executor (spec §4.5's "goroutine per Thread" scheduler,
// which clone/fork must spawn a new thread loop onto).
func New(mgr *proc.Manager, mounts *vfs.MountTable, timer *executor.TimerWheel, ex *executor.Executor, now func() int64) *Dispatcher {
	return &Dispatcher{Mgr: mgr, Mounts: mounts, Timer: timer, Ex: ex, Now: now}
}

// SpawnThread starts t's RunThread loop on d's executor, the entry point
// both the boot sequence (for init's main thread) and fork/clone (for a
// new child's main thread) share.
func (d *Dispatcher) SpawnThread(p *proc.Process, t *proc.Thread) *executor.JoinHandle {
	return d.Ex.Spawn(func(y *executor.Yielder) any {
		return RunThread(y, d, p, t)
	})
}

// ctxReplaced is a sentinel a sysXxx function returns when it has
// already fully overwritten the thread's trap context itself (execve's
// fresh entry context, rt_sigreturn's restored pre-signal context) —
// RunThread must skip the normal a0-write/sepc-advance in that case.
// It is never copied into a user-visible return register; like
// defs.Break it is internal control flow only.
const ctxReplaced defs.Err_t = 2

// sigFrames remembers, per thread, the trap context captured the moment
// a signal handler was dispatched, so sysRtSigreturn can restore exactly
// the interrupted state. proc.Thread carries no slot for this because
// delivery is this package's concern, not the process model's (trap.go's
// own doc comment draws that same line between "mechanism" and "per-
// thread loop").
type sigFrame struct {
	ctx     *trap.Context
	oldMask proc.SignalSet
}

var (
	sigFramesMu sync.Mutex
	sigFrames   = map[*proc.Thread]sigFrame{}
)

func stashSigFrame(t *proc.Thread, f sigFrame) {
	sigFramesMu.Lock()
	sigFrames[t] = f
	sigFramesMu.Unlock()
}

func takeSigFrame(t *proc.Thread) (sigFrame, bool) {
	sigFramesMu.Lock()
	defer sigFramesMu.Unlock()
	f, ok := sigFrames[t]
	if ok {
		delete(sigFrames, t)
	}
	return f, ok
}

// deliverSignal installs a handler's entry context in place of tc,
// stashing tc and the pre-handler mask for sysRtSigreturn, when t has a
// pending signal with a real (non-default, non-ignored) handler
// installed. A default fatal/ignore disposition never reaches here —
// Process.Signal already resolved those without queuing (spec §4.6).
func deliverSignal(p *proc.Process, t *proc.Thread) {
	sig, ok := t.TakePending()
	if !ok {
		return
	}
	act := p.SigAction(sig)
	if act.Handler == proc.SigDfl || act.Handler == proc.SigIgn {
		return
	}
	saved := t.Trap.Clone()
	oldMask := t.SetMask(t.Mask() | act.Mask | proc.SignalSet(0).Add(sig))
	stashSigFrame(t, sigFrame{ctx: saved, oldMask: oldMask})

	nc := t.Trap.Clone()
	nc.SetA0(uint64(sig))
	nc.SetRa(act.Restorer)
	nc.Sepc = act.Handler
	nc.SetSp(t.Trap.Sp())
	t.Trap = nc
}

// RunThread drives one thread's trap-handle/resume loop until it exits,
// the goroutine body executor.Spawn starts for every thread (spec §4.5's
// "goroutine per Thread"). It returns the thread's exit code.
func RunThread(y *executor.Yielder, d *Dispatcher, p *proc.Process, t *proc.Thread) any {
	for {
		if t.Killed() {
			return t.ExitCode()
		}
		deliverSignal(p, t)

		id, args := t.Trap.SyscallArgs()
		ret, err := d.dispatch(y, p, t, id, args)

		if err == defs.Break {
			return t.ExitCode()
		}
		if err == ctxReplaced {
			continue
		}
		if err != 0 && !(id == idWait4 && err == -defs.EAGAIN) {
			klog.Debugf("syscall: pid=%d tid=%d id=%d -> err=%v\n", p.Pid, t.Tid, id, err)
		}
		if err != 0 {
			t.Trap.SetA0(uint64(err))
		} else {
			t.Trap.SetA0(ret)
		}
		t.Trap.Sepc += 4
	}
}

// dispatch routes one syscall id to its implementation. Unknown ids kill
// the calling thread rather than panicking the kernel, matching
// original_source's own unmatched-arm behavior (spec §7's "partially
// implemented paths" sentinel applied to the id space itself).
func (d *Dispatcher) dispatch(y *executor.Yielder, p *proc.Process, t *proc.Thread, id uint64, args [6]uint64) (uint64, defs.Err_t) {
	switch id {
	case idRead, idWrite, idReadv, idWritev, idOpenat, idClose, idPipe2, idDup, idDup3,
		idLseek, idNewfstatat, idNewfstat, idGetdents64, idMkdirat, idUnlinkat, idFcntl64,
		idIoctl, idGetcwd, idChdir, idMount, idUmount, idPpoll, idSendfile64, idFaccessat,
		idUtimensat, idStatfs64, idRenameat2:
		return d.dispatchFs(y, p, t, id, args)

	case idExit, idExitGroup, idClone, idExecve, idWait4, idGetpid, idGetppid, idGettid,
		idSetTidAddress, idSetpgid, idGetpgid, idSetpriority:
		return d.dispatchProcess(y, p, t, id, args)

	case idBrk, idMmap, idMunmap:
		return d.dispatchMemory(p, id, args)

	case idRtSigaction, idRtSigprocmask, idRtSigreturn, idKill:
		return d.dispatchSignal(p, t, id, args)

	case idClockGettime, idGetTimeOfDay, idNanosleep, idTimes:
		return d.dispatchTime(y, p, id, args)

	case idUname, idSyslog, idSchedYield, idSysinfo,
		idGetuid, idGeteuid, idGetgid, idGetegid:
		return d.dispatchMisc(y, p, id, args)

	default:
		klog.Errorf("syscall: pid=%d tid=%d unknown id=%d, killing\n", p.Pid, t.Tid, id)
		p.ExitGroup(-10)
		return 0, defs.Break
	}
}

// toBytes views *v as a byte slice in place, the same unsafe.Pointer
// reinterpretation stat.Stat_t.Bytes uses to marshal a fixed-layout
// struct for a K2user copy.
func toBytes[T any](v *T) []byte {
	sz := int(unsafe.Sizeof(*v))
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), sz)
}

// fromBytes unmarshals a fixed-layout struct out of b, truncating or
// zero-padding to the struct's size so a short User2k copy can't read
// past b's end.
func fromBytes[T any](b []byte) T {
	var v T
	sz := int(unsafe.Sizeof(v))
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&v)), sz)
	n := len(b)
	if n > sz {
		n = sz
	}
	copy(dst, b[:n])
	return v
}

// userStr copies a NUL-terminated string out of p's address space.
func userStr(p *proc.Process, uva uint64, max int) (string, defs.Err_t) {
	b, err := p.AS.Userstr(uintptr(uva), max)
	if err != 0 {
		return "", err
	}
	return string(b), 0
}

// copyOut marshals v and writes it into p's address space at uva, or
// does nothing (success) when uva is 0 — the common "caller passed a
// NULL output pointer" shortcut several syscalls allow.
func copyOut[T any](p *proc.Process, uva uint64, v *T) defs.Err_t {
	if uva == 0 {
		return 0
	}
	return p.AS.K2user(toBytes(v), uintptr(uva))
}

// copyIn reads sizeof(T) bytes out of p's address space at uva into a T.
func copyIn[T any](p *proc.Process, uva uint64) (T, defs.Err_t) {
	var zero T
	if uva == 0 {
		return zero, -defs.EFAULT
	}
	sz := int(unsafe.Sizeof(zero))
	buf := make([]byte, sz)
	if err := p.AS.User2k(buf, uintptr(uva)); err != 0 {
		return zero, err
	}
	return fromBytes[T](buf), 0
}

// resolveStart picks the resolution starting point for an *at syscall's
// dirfd argument: AT_FDCWD resolves relative to p's cwd, otherwise dirfd
// must name an already-open directory fd (spec §6's openat/mkdirat/
// unlinkat/faccessat/utimensat/newfstatat family).
func resolveStart(p *proc.Process, dirfd int32) (*vfs.Dentry, defs.Err_t) {
	if dirfd == defs.AT_FDCWD {
		return p.CwdDentry(), 0
	}
	f, err := p.GetFd(int(dirfd))
	if err != 0 {
		return nil, err
	}
	di, ok := f.Fops.Pathi()
	if !ok {
		return nil, -defs.ENOTDIR
	}
	d, ok := di.(*vfs.Dentry)
	if !ok {
		return nil, -defs.ENOTDIR
	}
	return d, 0
}
