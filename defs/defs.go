// Package defs holds the small cross-cutting types shared by every
// kernel subsystem: the errno-like error type, thread/process ids, and
// the device and open-flag numbering used by the VFS and syscall layers.
package defs

import "golang.org/x/sys/unix"

// Err_t is an errno-like error value. The named errno values below hold
// the positive errno number; callers return their negation (-EINVAL),
// the small negative value user space receives in a0.
type Err_t int

// Error implements the error interface so Err_t can be used with errors.Is.
func (e Err_t) Error() string {
	if e == 0 {
		return "success"
	}
	if e == Break {
		return "internal: break"
	}
	if e == Unsupported {
		return "unsupported"
	}
	return unix.Errno(-e).Error()
}

// Errno mirrors a golang.org/x/sys/unix errno as a positive Err_t; a
// syscall negates it (-defs.EINVAL) to form the value user space sees.
func Errno(e unix.Errno) Err_t {
	return Err_t(e)
}

// Standard errno values (positive), sourced from golang.org/x/sys/unix so
// the numeric encoding matches what statically linked user binaries expect.
var (
	EINVAL       = Errno(unix.EINVAL)
	EFAULT       = Errno(unix.EFAULT)
	EACCES       = Errno(unix.EACCES)
	EPERM        = Errno(unix.EPERM)
	EBADF        = Errno(unix.EBADF)
	ENOTDIR      = Errno(unix.ENOTDIR)
	EISDIR       = Errno(unix.EISDIR)
	EEXIST       = Errno(unix.EEXIST)
	ENOENT       = Errno(unix.ENOENT)
	ENAMETOOLONG = Errno(unix.ENAMETOOLONG)
	ERANGE       = Errno(unix.ERANGE)
	ENOMEM       = Errno(unix.ENOMEM)
	EMFILE       = Errno(unix.EMFILE)
	ENOSPC       = Errno(unix.ENOSPC)
	EAGAIN       = Errno(unix.EAGAIN)
	EINTR        = Errno(unix.EINTR)
	ECHILD       = Errno(unix.ECHILD)
	ENXIO        = Errno(unix.ENXIO)
	EIO          = Errno(unix.EIO)
	ENOSYS       = Errno(unix.ENOSYS)
	ESRCH        = Errno(unix.ESRCH)
	ENOTEMPTY    = Errno(unix.ENOTEMPTY)
	EXDEV        = Errno(unix.EXDEV)
	ENOTTY       = Errno(unix.ENOTTY)
	EPIPE        = Errno(unix.EPIPE)
	ESPIPE       = Errno(unix.ESPIPE)
)

// Unsupported is returned by partially implemented syscall paths. It is
// surfaced to user space as -ENOSYS.
const Unsupported Err_t = -Err_t(unix.ENOSYS)

// Break is internal control flow: it signals the per-thread run loop
// that the thread should stop executing. It is never copied into a trap
// context's return register.
const Break Err_t = 1

// Pid_t and Tid_t name process and thread identifiers. They are
// disjoint allocation spaces (see proc.PidAlloc / proc.TidAlloc).
type Pid_t int
type Tid_t int

// Open-file flags, as passed to openat(2). Values match Linux's
// generic (non-arch-specific) encoding so that statically linked libc
// binaries built against that ABI need no translation.
const (
	O_RDONLY   = 0x0
	O_WRONLY   = 0x1
	O_RDWR     = 0x2
	O_CREAT    = 0x40
	O_EXCL     = 0x80
	O_TRUNC    = 0x200
	O_APPEND   = 0x400
	O_NONBLOCK = 0x800
	O_DIRECTORY = 0x10000
	O_CLOEXEC  = 0x80000
)

// Inode mode bits (file type), matching S_IFMT encoding.
const (
	S_IFREG  = 0o100000
	S_IFDIR  = 0o040000
	S_IFLNK  = 0o120000
	S_IFSOCK = 0o140000
	S_IFIFO  = 0o010000
	S_IFBLK  = 0o060000
	S_IFCHR  = 0o020000
)

// mmap protection and flag bits.
const (
	PROT_NONE  = 0x0
	PROT_READ  = 0x1
	PROT_WRITE = 0x2
	PROT_EXEC  = 0x4

	MAP_SHARED    = 0x1
	MAP_PRIVATE   = 0x2
	MAP_FIXED     = 0x10
	MAP_ANON      = 0x20
)

// wait4 options.
const WNOHANG = 0x1

// AT_FDCWD is the sentinel directory fd meaning "resolve relative to cwd".
const AT_FDCWD = -100
