package proc

import (
	"sync"

	"rvkernel/circbuf"
	"rvkernel/defs"
	"rvkernel/executor"
	"rvkernel/fdops"
	"rvkernel/limits"
	"rvkernel/stat"
)

// pipeCapacity matches original_source's default pipe buffer size.
const pipeCapacity = 4096

// Pipe is the shared ring buffer backing one pipe2(2) pair, grounded on
// circbuf's own doc comment committing it to "the pipe byte stream"
// (spec §8 scenario 4). A blocked Read/Write waits on a registered
// waker the same way devfs.Tty's event-driven input queue does, rather
// than busy-polling.
type Pipe struct {
	mu       sync.Mutex
	buf      *circbuf.Circbuf_t
	readers  int
	writers  int
	rwaiter  func()
	wwaiter  func()
}

// NewPipe allocates a pipe's shared buffer, consulting
// limits.Syslimit.Pipes (spec §7's resource-exhaustion class).
func NewPipe() (*Pipe, defs.Err_t) {
	if !limits.Syslimit.Pipes.Take() {
		return nil, -defs.EMFILE
	}
	return &Pipe{buf: circbuf.MkCircbuf(pipeCapacity), readers: 1, writers: 1}, 0
}

func (p *Pipe) wakeReader() {
	if p.rwaiter != nil {
		w := p.rwaiter
		p.rwaiter = nil
		w()
	}
}
func (p *Pipe) wakeWriter() {
	if p.wwaiter != nil {
		w := p.wwaiter
		p.wwaiter = nil
		w()
	}
}

// Read drains up to len(buf) bytes, blocking on y until data arrives or
// every write end has closed (EOF, a zero-length read with no error).
// A nil y makes an empty pipe return EAGAIN instead of blocking, the
// same non-blocking convention devfs.Tty.Read uses.
func (p *Pipe) Read(y *executor.Yielder, buf []byte) (int, defs.Err_t) {
	for {
		p.mu.Lock()
		if !p.buf.Empty() {
			n := p.buf.Read(buf)
			p.wakeWriter()
			p.mu.Unlock()
			return n, 0
		}
		if p.writers == 0 {
			p.mu.Unlock()
			return 0, 0
		}
		if y == nil {
			p.mu.Unlock()
			return 0, -defs.EAGAIN
		}
		ready := make(chan struct{}, 1)
		p.rwaiter = func() { select { case ready <- struct{}{}: default: } }
		p.mu.Unlock()
		y.YieldNow()
		select {
		case <-ready:
		default:
		}
	}
}

// Write appends up to len(buf) bytes, blocking on y while the buffer is
// full. Writing with no reader left fails EPIPE (spec §8's broken-pipe
// scenario), mirroring write(2)'s contract (SIGPIPE delivery is left to
// the caller, which holds the writing thread/process).
func (p *Pipe) Write(y *executor.Yielder, buf []byte) (int, defs.Err_t) {
	done := 0
	for done < len(buf) {
		p.mu.Lock()
		if p.readers == 0 {
			p.mu.Unlock()
			return done, -defs.EPIPE
		}
		if !p.buf.Full() {
			n := p.buf.Write(buf[done:])
			done += n
			p.wakeReader()
			p.mu.Unlock()
			continue
		}
		if y == nil {
			p.mu.Unlock()
			if done > 0 {
				return done, 0
			}
			return 0, -defs.EAGAIN
		}
		ready := make(chan struct{}, 1)
		p.wwaiter = func() { select { case ready <- struct{}{}: default: } }
		p.mu.Unlock()
		y.YieldNow()
		select {
		case <-ready:
		default:
		}
	}
	return done, 0
}

func (p *Pipe) closeEnd(writable bool) {
	p.mu.Lock()
	if writable {
		p.writers--
		if p.writers == 0 {
			p.wakeReader()
		}
	} else {
		p.readers--
		if p.readers == 0 {
			p.wakeWriter()
		}
	}
	last := p.readers == 0 && p.writers == 0
	p.mu.Unlock()
	if last {
		limits.Syslimit.Pipes.Give()
	}
}

// pipeEnd is the open-file-table entry for one end of a Pipe,
// implementing fdops.Fdops_i the way vfs.RegularFile does for a
// backend-less byte stream.
type pipeEnd struct {
	pipe     *Pipe
	writable bool
}

var (
	_ fdops.Fdops_i       = (*pipeEnd)(nil)
	_ fdops.YielderReader = (*pipeEnd)(nil)
	_ fdops.YielderWriter = (*pipeEnd)(nil)
)

// NewPipeEnds builds the read/write fd pair pipe2(2) returns.
func NewPipeEnds() (*pipeEnd, *pipeEnd, defs.Err_t) {
	p, err := NewPipe()
	if err != 0 {
		return nil, nil, err
	}
	return &pipeEnd{pipe: p, writable: false}, &pipeEnd{pipe: p, writable: true}, 0
}

func (e *pipeEnd) Read(ub fdops.Userbuf_i) (int, defs.Err_t) {
	if e.writable {
		return 0, -defs.EBADF
	}
	buf := make([]byte, ub.Remain())
	n, err := e.pipe.Read(nil, buf)
	if err != 0 {
		return 0, err
	}
	return ub.Uiowrite(buf[:n])
}

func (e *pipeEnd) Write(ub fdops.Userbuf_i) (int, defs.Err_t) {
	if !e.writable {
		return 0, -defs.EBADF
	}
	buf := make([]byte, ub.Remain())
	n, rerr := ub.Uioread(buf)
	if rerr != 0 && n == 0 {
		return 0, rerr
	}
	return e.pipe.Write(nil, buf[:n])
}

// ReadY and WriteY let the syscall dispatcher block the calling task on
// a pipe end directly, satisfying fdops.YielderReader/YielderWriter.
// The generic Read/Write above stay non-blocking (nil Yielder) since
// fdops.Fdops_i itself carries no Yielder.
func (e *pipeEnd) ReadY(y *executor.Yielder, buf []byte) (int, defs.Err_t) {
	if e.writable {
		return 0, -defs.EBADF
	}
	return e.pipe.Read(y, buf)
}

func (e *pipeEnd) WriteY(y *executor.Yielder, buf []byte) (int, defs.Err_t) {
	if !e.writable {
		return 0, -defs.EBADF
	}
	return e.pipe.Write(y, buf)
}

func (e *pipeEnd) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.S_IFIFO | 0o600)
	return 0
}
func (e *pipeEnd) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (e *pipeEnd) Close() defs.Err_t {
	e.pipe.closeEnd(e.writable)
	return 0
}
func (e *pipeEnd) Reopen() defs.Err_t {
	e.pipe.mu.Lock()
	if e.writable {
		e.pipe.writers++
	} else {
		e.pipe.readers++
	}
	e.pipe.mu.Unlock()
	return 0
}
func (e *pipeEnd) Pathi() (any, bool) { return nil, false }
