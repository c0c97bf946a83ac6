// Package fdops defines the file-descriptor operation contract every
// open-file backend (regular file, directory, pipe, device, socket-like
// object) implements, so fd.Fd_t can hold any of them behind one
// interface. The teacher's own fdops package was never populated beyond
// its go.mod in the retrieval pack; this interface is authored fresh,
// shaped by the syscalls spec §6 lists and by how the teacher's fd.go
// calls Fops.Reopen()/Fops.Close().
package fdops

import (
	"rvkernel/defs"
	"rvkernel/executor"
	"rvkernel/stat"
	"rvkernel/vm"
)

// Fdops_i is implemented by every kind of open file. Read/Write take a
// Userbuf_i so the same implementation serves a real user-space
// scatter/gather request and an in-kernel "fake" buffer (procfs
// synthesis, pipe splice) identically.
type Fdops_i interface {
	Read(ub Userbuf_i) (int, defs.Err_t)
	Write(ub Userbuf_i) (int, defs.Err_t)
	Fstat(st *stat.Stat_t) defs.Err_t
	Lseek(off, whence int) (int, defs.Err_t)
	Close() defs.Err_t
	Reopen() defs.Err_t
	Pathi() (any, bool) // underlying VFS inode, if this fd is backed by one
}

// Userbuf_i is satisfied by vm.Userbuf_t, vm.Useriovec_t, and
// vm.Fakeubuf_t, letting Fdops_i implementations stay oblivious to
// whether the far end of a copy is real user memory or a kernel buffer.
type Userbuf_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

var (
	_ Userbuf_i = (*vm.Userbuf_t)(nil)
	_ Userbuf_i = (*vm.Useriovec_t)(nil)
	_ Userbuf_i = (*vm.Fakeubuf_t)(nil)
)

// YielderReader is implemented by a backend (a pipe end, the console
// tty) whose read can genuinely suspend a task rather than reporting
// EAGAIN on the generic Read(ub) path. The syscall dispatcher checks
// for this before falling back to the non-blocking Userbuf_i path,
// the same special-casing devfs.Tty's Ioctl doc comment already
// establishes for struct-copying ioctl opcodes.
type YielderReader interface {
	ReadY(y *executor.Yielder, buf []byte) (int, defs.Err_t)
}

// YielderWriter is YielderReader's write-side counterpart.
type YielderWriter interface {
	WriteY(y *executor.Yielder, buf []byte) (int, defs.Err_t)
}
