// Package devfs instantiates tmpfs.Dir pre-populated with the special
// files spec §4.7 names: a TTY backed by circbuf's event-driven input
// queue, plus /dev/null, /dev/zero and the supplemented /dev/rtc (spec
// SPEC_FULL.md §4, grounded on original_source's
// crates/kernel/src/fs/devfs/rtc.rs). ioctl opcodes and the Termios/
// Winsize layouts are ported from original_source's
// crates/kernel/src/fs/devfs/tty.rs, which itself mirrors Linux's
// <asm-generic/ioctls.h> numbering (spec §6's "statically linked libc
// binaries" ABI compatibility goal) — kept as local constants rather
// than golang.org/x/sys/unix's TCGETS et al. because those vary by the
// host GOOS this kernel happens to be cross-built from, whereas the
// user ABI this kernel itself serves is fixed.
package devfs

import (
	"sync"

	"rvkernel/circbuf"
	"rvkernel/defs"
	"rvkernel/executor"
	"rvkernel/fdops"
	"rvkernel/tmpfs"
	"rvkernel/vfs"
)

// ioctl opcodes, matching original_source's defines::ioctl module.
const (
	TCGETS     = 0x5401
	TCGETA     = 0x5405
	TCSETS     = 0x5402
	TCSETSW    = 0x5403
	TCSETSF    = 0x5404
	TCSBRK     = 0x5409
	TIOCGPGRP  = 0x540F
	TIOCSPGRP  = 0x5410
	TIOCGWINSZ = 0x5413
	TIOCSWINSZ = 0x5414
)

// Termios mirrors struct termios's wire layout (spec §4.7's "ioctl
// covers termios get/set").
type Termios struct {
	Iflag, Oflag, Cflag, Lflag uint32
	Line                       byte
	Cc                         [19]byte
}

// defaultTermios matches original_source's TtyInodeInner defaults byte
// for byte, so a libc that inspects the initial terminal mode (canonical
// input, echo on, the usual C-x control characters) sees familiar values.
func defaultTermios() Termios {
	return Termios{
		Iflag: 0o66402,
		Oflag: 0o5,
		Cflag: 0o2277,
		Lflag: 0o105073,
		Cc: [19]byte{
			3, 28, 127, 21, 4, 0, 1, 0, 17, 19, 26, 255, 18, 15, 23, 22,
		},
	}
}

// Winsize mirrors struct winsize.
type Winsize struct {
	Row, Col, Xpixel, Ypixel uint16
}

// UART is the external console collaborator (spec §1): Put writes one
// byte synchronously; the driver below it pushes inbound bytes into the
// TTY's circbuf on interrupt and wakes any registered waiter (spec §6).
type UART interface {
	Put(b byte)
	Name() string
}

// Tty is the console device inode. Reads await bytes pushed into inq by
// the UART interrupt handler (Push), registering a waker when the queue
// is empty instead of busy-polling — the event-driven contract spec §6
// requires.
type Tty struct {
	meta vfs.Meta
	uart UART

	mu       sync.Mutex
	inq      *circbuf.Circbuf_t
	waiter   func()
	fgPgid   int
	winSize  Winsize
	termios  Termios
}

var (
	_ vfs.BytesOps       = (*Tty)(nil)
	_ fdops.YielderReader = (*Tty)(nil)
)

// NewTty wraps uart as /dev/console (and /dev/tty, spec §4.7).
func NewTty(uart UART) *Tty {
	return &Tty{
		meta:    vfs.Meta{Ino: vfs.AllocIno(), Mode: defs.S_IFCHR | 0o620, Rdev: defs.Mkdev(defs.DEV_CONSOLE, 0)},
		uart:    uart,
		inq:     circbuf.MkCircbuf(128),
		fgPgid:  1,
		winSize: Winsize{Row: 67, Col: 120},
		termios: defaultTermios(),
	}
}

func (t *Tty) Meta() *vfs.Meta { return &t.meta }

// Push is called from the UART interrupt path to enqueue one received
// byte (spec §6: "on interrupt, one byte is pushed into a bounded queue
// (128 bytes; overflow silently drops); any waker registered... is taken
// and invoked").
func (t *Tty) Push(b byte) {
	t.mu.Lock()
	t.inq.PutByte(b)
	w := t.waiter
	t.waiter = nil
	t.mu.Unlock()
	if w != nil {
		w()
	}
}

// ReadAt drains up to len(buf) queued input bytes without blocking: on an
// empty queue it returns EAGAIN (the blocking path is ReadY).
func (t *Tty) ReadAt(buf []byte, off int64) (int, defs.Err_t) { return t.Read(nil, buf) }

// Read is the async-aware entry point the fd layer calls with the task's
// Yielder so a read with an empty queue suspends instead of spinning.
func (t *Tty) Read(y *executor.Yielder, buf []byte) (int, defs.Err_t) {
	for {
		t.mu.Lock()
		if !t.inq.Empty() {
			n := t.inq.Read(buf)
			t.mu.Unlock()
			return n, 0
		}
		if y == nil {
			t.mu.Unlock()
			return 0, -defs.EAGAIN
		}
		ready := make(chan struct{}, 1)
		t.waiter = func() { select { case ready <- struct{}{}: default: } }
		t.mu.Unlock()
		y.YieldNow()
		select {
		case <-ready:
		default:
		}
	}
}

// ReadY satisfies fdops.YielderReader so the syscall dispatcher can
// block a reading task on console input without going through the
// non-blocking ReadAt/BytesOps path.
func (t *Tty) ReadY(y *executor.Yielder, buf []byte) (int, defs.Err_t) { return t.Read(y, buf) }

// WriteAt forwards UTF-8 bytes to the UART synchronously, byte by byte
// (spec §6: "Output is synchronous byte-by-byte").
func (t *Tty) WriteAt(buf []byte, off int64) (int, defs.Err_t) {
	for _, b := range buf {
		t.uart.Put(b)
	}
	return len(buf), 0
}

// Ioctl implements the pgid-sized requests directly; the struct-copying
// requests (TCGETS/TCSETS*/TIOCGWINSZ/TIOCSWINSZ) need to move a typed
// struct across the user-pointer boundary, which this generic (int,
// Err_t) signature can't express — the syscall dispatcher recognizes
// those opcodes against a *Tty fd and calls TermiosSnapshot/SetTermios/
// WinsizeSnapshot/SetWinsize instead, writing the result through
// vm.AddressSpace_t.K2user itself (spec §4.7).
func (t *Tty) Ioctl(cmd int, arg uintptr) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch cmd {
	case TCSBRK:
		return 0, 0
	case TIOCGPGRP:
		return t.fgPgid, 0
	case TIOCSPGRP:
		t.fgPgid = int(arg)
		return 0, 0
	case TCGETS, TCGETA, TCSETS, TCSETSW, TCSETSF, TIOCGWINSZ, TIOCSWINSZ:
		return 0, -defs.EINVAL
	default:
		return 0, -defs.ENOTTY
	}
}

// Termios/Winsize snapshot accessors used by the syscall layer to copy
// the struct into user memory — Ioctl's generic (int, Err_t) signature
// can't carry a typed pointer across the fdops.Fdops_i boundary, so the
// syscall dispatcher calls these directly when it recognizes a Tty fd.
func (t *Tty) TermiosSnapshot() Termios {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.termios
}
func (t *Tty) WinsizeSnapshot() Winsize {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.winSize
}
func (t *Tty) SetTermios(tm Termios) {
	t.mu.Lock()
	t.termios = tm
	t.mu.Unlock()
}
func (t *Tty) SetWinsize(ws Winsize) {
	t.mu.Lock()
	t.winSize = ws
	t.mu.Unlock()
}

// Null is /dev/null: reads return EOF, writes are discarded, accepted.
type Null struct{ meta vfs.Meta }

var _ vfs.BytesOps = (*Null)(nil)

func NewNull() *Null {
	return &Null{meta: vfs.Meta{Ino: vfs.AllocIno(), Mode: defs.S_IFCHR | 0o666, Rdev: defs.Mkdev(defs.DEV_NULL, 0)}}
}
func (n *Null) Meta() *vfs.Meta                                   { return &n.meta }
func (n *Null) ReadAt(buf []byte, off int64) (int, defs.Err_t)    { return 0, 0 }
func (n *Null) WriteAt(buf []byte, off int64) (int, defs.Err_t)   { return len(buf), 0 }
func (n *Null) Ioctl(cmd int, arg uintptr) (int, defs.Err_t)      { return 0, -defs.ENOTTY }

// Zero is /dev/zero: reads fill the buffer with zero bytes, writes are
// discarded.
type Zero struct{ meta vfs.Meta }

var _ vfs.BytesOps = (*Zero)(nil)

func NewZero() *Zero {
	return &Zero{meta: vfs.Meta{Ino: vfs.AllocIno(), Mode: defs.S_IFCHR | 0o666, Rdev: defs.Mkdev(defs.DEV_ZERO, 0)}}
}
func (z *Zero) Meta() *vfs.Meta { return &z.meta }
func (z *Zero) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), 0
}
func (z *Zero) WriteAt(buf []byte, off int64) (int, defs.Err_t) { return len(buf), 0 }
func (z *Zero) Ioctl(cmd int, arg uintptr) (int, defs.Err_t)    { return 0, -defs.ENOTTY }

// Rtc is /dev/rtc, returning the wall-clock time as a little-endian unix
// timestamp on every read — the supplemented feature ported from
// original_source's crates/kernel/src/fs/devfs/rtc.rs (SPEC_FULL.md §4).
type Rtc struct {
	meta vfs.Meta
	now  func() int64
}

var _ vfs.BytesOps = (*Rtc)(nil)

// NewRtc wraps now, the kernel's wall-clock source.
func NewRtc(now func() int64) *Rtc {
	return &Rtc{meta: vfs.Meta{Ino: vfs.AllocIno(), Mode: defs.S_IFCHR | 0o444, Rdev: defs.Mkdev(defs.DEV_RTC, 0)}, now: now}
}
func (r *Rtc) Meta() *vfs.Meta { return &r.meta }
func (r *Rtc) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	if off != 0 {
		return 0, 0
	}
	ts := uint64(r.now())
	n := 0
	for n < 8 && n < len(buf) {
		buf[n] = byte(ts >> (8 * uint(n)))
		n++
	}
	return n, 0
}
func (r *Rtc) WriteAt(buf []byte, off int64) (int, defs.Err_t) { return 0, -defs.EPERM }
func (r *Rtc) Ioctl(cmd int, arg uintptr) (int, defs.Err_t)    { return 0, -defs.ENOTTY }

// Build assembles a devfs root directory pre-populated with console,
// null, zero and rtc device nodes (spec §4.7: "devfs/procfs are tmpfs
// instances pre-populated with specific byte inodes").
func Build(uart UART, now func() int64) (*tmpfs.Dir, *Tty) {
	root := tmpfs.NewDir(0o755)
	tty := NewTty(uart)
	mkspecial(root, "console", tty)
	mkspecial(root, "tty", tty)
	mkspecial(root, "null", NewNull())
	mkspecial(root, "zero", NewZero())
	mkspecial(root, "rtc", NewRtc(now))
	return root, tty
}

// mkspecial installs a pre-built device inode directly into root's child
// map, bypassing Dir.Mknod (which only knows how to allocate a fresh
// tmpfs.Device, not take a caller-supplied driver instance).
func mkspecial(root *tmpfs.Dir, name string, inode vfs.Inode) {
	root.Install(name, inode)
}
