// Misc syscall group (spec §6), grounded on original_source's
// crates/kernel/src/syscall/misc.rs: uname reports a fixed UtsName,
// syslog always reports success without touching a real ring buffer,
// sysinfo reports only uptime with the rest left zeroed, and the
// getuid/geteuid/getgid/getegid family is stubbed to 0 the way a
// single-user kernel with no credential model needs (spec Non-goals:
// no users/permissions).
package syscall

import (
	"rvkernel/defs"
	"rvkernel/executor"
	"rvkernel/proc"
)

// utsName mirrors struct utsname's wire layout.
type utsName struct {
	Sysname    [65]byte
	Nodename   [65]byte
	Release    [65]byte
	Version    [65]byte
	Machine    [65]byte
	Domainname [65]byte
}

func defaultUtsName() utsName {
	var u utsName
	copy(u.Sysname[:], "rvkernel")
	copy(u.Nodename[:], "rvkernel")
	copy(u.Release[:], "1.0.0")
	copy(u.Version[:], "1.0.0")
	copy(u.Machine[:], "riscv64")
	return u
}

// sysinfoStruct mirrors struct sysinfo's wire layout (Linux's
// <sys/sysinfo.h>), with only Uptime populated — the rest of the fields
// original_source's own SysInfo::default() leaves zeroed too.
type sysinfoStruct struct {
	Uptime    int64
	Loads     [3]uint64
	Totalram  uint64
	Freeram   uint64
	Sharedram uint64
	Bufferram uint64
	Totalswap uint64
	Freeswap  uint64
	Procs     uint16
	Pad       uint16
	Totalhigh uint64
	Freehigh  uint64
	MemUnit   uint32
}

func (d *Dispatcher) dispatchMisc(y *executor.Yielder, p *proc.Process, id uint64, args [6]uint64) (uint64, defs.Err_t) {
	switch id {
	case idUname:
		u := defaultUtsName()
		return 0, copyOut(p, args[0], &u)
	case idSyslog:
		return 0, 0
	case idSchedYield:
		y.YieldNow()
		return 0, 0
	case idSysinfo:
		info := sysinfoStruct{Uptime: d.Now() / 1_000_000_000}
		return 0, copyOut(p, args[0], &info)
	case idGetuid, idGeteuid, idGetgid, idGetegid:
		return 0, 0
	default:
		return 0, defs.Unsupported
	}
}
