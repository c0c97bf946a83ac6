// Process syscall group (spec §6), grounded on original_source's
// crates/kernel/src/syscall/process.rs shape and thread/mod.rs's
// documented "gettid always returns tid, never pid" simplification,
// reworked around this port's one-goroutine-per-Thread executor (spec
// §4.5) in place of the original's async task future.
package syscall

import (
	"rvkernel/defs"
	"rvkernel/executor"
	"rvkernel/proc"
)

// Process-level clone flag bits original_source's defines::misc::
// CloneFlags enumerates; only CLONE_VM matters here, since it is the
// one bit distinguishing a true shared-address-space thread (which this
// port's Process model, one address space per process, cannot support)
// from a fork-like clone.
const cloneVM = 1 << 8

func (d *Dispatcher) dispatchProcess(y *executor.Yielder, p *proc.Process, t *proc.Thread, id uint64, args [6]uint64) (uint64, defs.Err_t) {
	switch id {
	case idExit:
		p.ExitThread(t, int8(args[0]))
		return 0, defs.Break
	case idExitGroup:
		p.ExitGroup(int8(args[0]))
		return 0, defs.Break
	case idClone:
		return d.sysClone(p, t, args[0], args[1])
	case idExecve:
		return d.sysExecve(p, t, args[0], args[1], args[2])
	case idWait4:
		return d.sysWait4(y, p, args)
	case idGetpid:
		return uint64(p.Pid), 0
	case idGetppid:
		return uint64(p.ParentPid()), 0
	case idGettid:
		return uint64(t.Tid), 0
	case idSetTidAddress:
		// Always succeeds, returning the caller's tid — this port tracks
		// no clear_child_tid pointer since nothing futex-waits on it.
		return uint64(t.Tid), 0
	case idSetpgid, idGetpgid, idSetpriority:
		// No process-group/priority model exists (spec Non-goals: no job
		// control); report success/0 the way original_source's own
		// sys_getpgid stub does rather than fail a common libc startup call.
		return 0, 0
	default:
		return 0, defs.Unsupported
	}
}

// sysClone implements the fork-like subset of clone(2): a plain fork
// when CLONE_VM is absent, Unsupported when it is set (spec Open
// Questions: no shared-address-space threading).
func (d *Dispatcher) sysClone(p *proc.Process, t *proc.Thread, flags, stack uint64) (uint64, defs.Err_t) {
	if flags&cloneVM != 0 {
		return 0, defs.Unsupported
	}
	child, childThread, err := p.Fork(t)
	if err != 0 {
		return 0, err
	}
	if stack != 0 {
		childThread.Trap.SetSp(stack)
	}
	d.SpawnThread(child, childThread)
	return uint64(child.Pid), 0
}

// sysExecve replaces t's trap context with the new image's entry point,
// returning ctxReplaced so RunThread skips the normal a0/sepc epilogue
// (execve never "returns" into the old program on success).
func (d *Dispatcher) sysExecve(p *proc.Process, t *proc.Thread, pathVa, argvVa, envpVa uint64) (uint64, defs.Err_t) {
	path, err := userStr(p, pathVa, 4096)
	if err != 0 {
		return 0, err
	}
	argv, aerr := readStringArray(p, argvVa)
	if aerr != 0 {
		return 0, aerr
	}
	envp, eerr := readStringArray(p, envpVa)
	if eerr != 0 {
		return 0, eerr
	}
	nc, xerr := p.Exec(path, argv, envp)
	if xerr != 0 {
		return 0, xerr
	}
	t.Trap = nc
	return 0, ctxReplaced
}

// readStringArray copies a NULL-terminated argv/envp-style pointer
// array out of user memory, materializing each pointed-to C string
// (spec §6's execve argument-passing contract). A zero array pointer
// yields an empty slice rather than an error, matching execve(2)'s
// "argv/envp may be NULL" latitude some libcs rely on.
func readStringArray(p *proc.Process, uva uint64) ([]string, defs.Err_t) {
	var out []string
	if uva == 0 {
		return out, 0
	}
	for i := 0; ; i++ {
		ptr, err := p.AS.Userreadn(uintptr(uva)+uintptr(i*8), 8)
		if err != 0 {
			return nil, err
		}
		if ptr == 0 {
			return out, 0
		}
		s, serr := userStr(p, uint64(ptr), 4096)
		if serr != 0 {
			return nil, serr
		}
		out = append(out, s)
	}
}

// sysWait4 copies wait4's rusage output (if requested) before returning
// the reaped pid, matching Process.Wait4's own (pid, status, rusage,
// err) shape onto the syscall ABI's (pid, *status, options, *rusage).
func (d *Dispatcher) sysWait4(y *executor.Yielder, p *proc.Process, args [6]uint64) (uint64, defs.Err_t) {
	pid, status, rusage, err := p.Wait4(y, defs.Pid_t(int32(args[0])), int(args[2]))
	if err != 0 {
		return 0, err
	}
	if args[1] != 0 {
		if werr := copyOut(p, args[1], &status); werr != 0 {
			return 0, werr
		}
	}
	if args[3] != 0 && rusage != nil {
		if werr := p.AS.K2user(rusage, uintptr(args[3])); werr != 0 {
			return 0, werr
		}
	}
	return uint64(pid), 0
}
