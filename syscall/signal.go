// Signals syscall group (spec §4.6/§6), grounded on original_source's
// crates/kernel/src/signal/mod.rs for the rt_sigprocmask how-values and
// proc/signal.go (this port's own table) for the rest.
package syscall

import (
	"rvkernel/defs"
	"rvkernel/proc"
)

// rt_sigprocmask's how argument (spec §6), Linux's numbering.
const (
	sigBlock   = 0
	sigUnblock = 1
	sigSetmask = 2
)

func (d *Dispatcher) dispatchSignal(p *proc.Process, t *proc.Thread, id uint64, args [6]uint64) (uint64, defs.Err_t) {
	switch id {
	case idRtSigaction:
		return sysRtSigaction(p, int(int32(args[0])), args[1], args[2])
	case idRtSigprocmask:
		return sysRtSigprocmask(p, t, int(args[0]), args[1], args[2])
	case idRtSigreturn:
		return sysRtSigreturn(t)
	case idKill:
		return d.sysKill(int(int32(args[0])), int(args[1]))
	default:
		return 0, defs.Unsupported
	}
}

func sysRtSigaction(p *proc.Process, sig int, actVa, oldactVa uint64) (uint64, defs.Err_t) {
	if sig < 1 || sig > proc.NSIG {
		return 0, -defs.EINVAL
	}
	if actVa == 0 {
		if oldactVa != 0 {
			old := p.SigAction(sig)
			if err := copyOut(p, oldactVa, &old); err != 0 {
				return 0, err
			}
		}
		return 0, 0
	}
	act, err := copyIn[proc.SigAction](p, actVa)
	if err != 0 {
		return 0, err
	}
	old := p.SetSigAction(sig, act)
	if oldactVa != 0 {
		if cerr := copyOut(p, oldactVa, &old); cerr != 0 {
			return 0, cerr
		}
	}
	return 0, 0
}

// sysRtSigprocmask implements SIG_BLOCK/SIG_UNBLOCK/SIG_SETMASK against
// the calling thread's mask (spec §6), writing the pre-call mask to
// oldsetVa first so a SETMASK call can still report what it replaced.
func sysRtSigprocmask(p *proc.Process, t *proc.Thread, how int, setVa, oldsetVa uint64) (uint64, defs.Err_t) {
	old := t.Mask()
	if oldsetVa != 0 {
		if err := copyOut(p, oldsetVa, &old); err != 0 {
			return 0, err
		}
	}
	if setVa == 0 {
		return 0, 0
	}
	set, err := copyIn[proc.SignalSet](p, setVa)
	if err != 0 {
		return 0, err
	}
	switch how {
	case sigBlock:
		t.SetMask(old | set)
	case sigUnblock:
		t.SetMask(old &^ set)
	case sigSetmask:
		t.SetMask(set)
	default:
		return 0, -defs.EINVAL
	}
	return 0, 0
}

func sysRtSigreturn(t *proc.Thread) (uint64, defs.Err_t) {
	f, ok := takeSigFrame(t)
	if !ok {
		return 0, -defs.EINVAL
	}
	t.SetMask(f.oldMask)
	t.Trap = f.ctx
	return 0, ctxReplaced
}

func (d *Dispatcher) sysKill(pid, sig int) (uint64, defs.Err_t) {
	target, ok := d.Mgr.Get(defs.Pid_t(pid))
	if !ok {
		return 0, -defs.ESRCH
	}
	return 0, target.Signal(sig)
}
