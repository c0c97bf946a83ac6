package vm

import "rvkernel/defs"

// Userbuf_t assists reading and writing a contiguous run of user memory
// one access at a time, so a partial copy can resume after an error —
// grounded on the teacher's Userbuf_t/_tx loop, updated to the simpler
// eager-frame Userdmap8_inner above (no page fault can occur mid-copy).
//
// A Userbuf_t must not be retained across a point where the owning
// goroutine can be preempted and its address space torn down by
// another hart (spec §4.4's "must not be held across a goroutine-yield
// point" discipline) — callers keep one on the stack for the duration of
// a single syscall's copy, never longer.
type Userbuf_t struct {
	as     *AddressSpace_t
	userva uintptr
	len    int
	off    int
}

// MkUserbuf initializes a Userbuf_t over [uva, uva+ln) in as.
func (as *AddressSpace_t) MkUserbuf(uva uintptr, ln int) *Userbuf_t {
	if ln < 0 {
		panic("negative length")
	}
	return &Userbuf_t{as: as, userva: uva, len: ln}
}

// Remain returns the number of unread/unwritten bytes left in the buffer.
func (ub *Userbuf_t) Remain() int { return ub.len - ub.off }

// Totalsz reports the total size of the buffer in bytes.
func (ub *Userbuf_t) Totalsz() int { return ub.len }

func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ub.as.Lock()
	defer ub.as.Unlock()
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		va := ub.userva + uintptr(ub.off)
		backing, err := ub.as.Userdmap8_inner(va, write)
		if err != 0 {
			return ret, err
		}
		n := len(backing)
		if left := ub.len - ub.off; n > left {
			n = left
		}
		if n > len(buf) {
			n = len(buf)
		}
		var c int
		if write {
			c = copy(backing[:n], buf)
		} else {
			c = copy(buf, backing[:n])
		}
		buf = buf[c:]
		ub.off += c
		ret += c
	}
	return ret, 0
}

// Uioread copies from user memory into dst.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) { return ub.tx(dst, false) }

// Uiowrite copies src into user memory.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) { return ub.tx(src, true) }

type iove_t struct {
	uva uintptr
	sz  int
}

// Useriovec_t represents a scatter/gather list of user buffers, as
// decoded from a userland struct iovec array (readv/writev, spec §6).
type Useriovec_t struct {
	as   *AddressSpace_t
	iovs []iove_t
	tsz  int
}

// IovInit reads niovs {base, len} pairs from user memory starting at
// iovarr and builds the scatter/gather list.
func (as *AddressSpace_t) IovInit(iovarr uintptr, niovs int) (*Useriovec_t, defs.Err_t) {
	if niovs > 10 {
		return nil, -defs.EINVAL
	}
	iov := &Useriovec_t{as: as, iovs: make([]iove_t, niovs)}
	const elemsz = uintptr(16)
	for i := range iov.iovs {
		va := iovarr + uintptr(i)*elemsz
		base, err := as.Userreadn(va, 8)
		if err != 0 {
			return nil, err
		}
		sz, err := as.Userreadn(va+8, 8)
		if err != 0 {
			return nil, err
		}
		if sz < 0 {
			return nil, -defs.EINVAL
		}
		iov.iovs[i] = iove_t{uva: uintptr(base), sz: sz}
		iov.tsz += sz
	}
	return iov, 0
}

// Remain returns the number of bytes remaining across all iovecs.
func (iov *Useriovec_t) Remain() int {
	r := 0
	for _, e := range iov.iovs {
		r += e.sz
	}
	return r
}

// Totalsz returns the total number of bytes described by the iovec array.
func (iov *Useriovec_t) Totalsz() int { return iov.tsz }

func (iov *Useriovec_t) tx(buf []uint8, touser bool) (int, defs.Err_t) {
	did := 0
	for len(buf) > 0 && len(iov.iovs) > 0 {
		cur := &iov.iovs[0]
		ub := iov.as.MkUserbuf(cur.uva, cur.sz)
		var c int
		var err defs.Err_t
		if touser {
			c, err = ub.Uiowrite(buf)
		} else {
			c, err = ub.Uioread(buf)
		}
		cur.uva += uintptr(c)
		cur.sz -= c
		if cur.sz == 0 {
			iov.iovs = iov.iovs[1:]
		}
		buf = buf[c:]
		did += c
		if err != 0 {
			return did, err
		}
	}
	return did, 0
}

// Uioread reads into dst from the set of user buffers.
func (iov *Useriovec_t) Uioread(dst []uint8) (int, defs.Err_t) { return iov.tx(dst, false) }

// Uiowrite writes src to the set of user buffers.
func (iov *Useriovec_t) Uiowrite(src []uint8) (int, defs.Err_t) { return iov.tx(src, true) }

// Fakeubuf_t implements the same read/write interface as Userbuf_t but
// operates on a plain kernel byte slice, so code that copies to "the
// user buffer" can be reused verbatim when the destination is actually a
// kernel buffer (pipe splice, procfs file synthesis).
type Fakeubuf_t struct {
	buf []uint8
	len int
}

// MkFakeubuf wraps buf for use through the Userbuf_t-shaped interface.
func MkFakeubuf(buf []uint8) *Fakeubuf_t {
	return &Fakeubuf_t{buf: buf, len: len(buf)}
}

// Remain returns the number of bytes left in the fake buffer.
func (fb *Fakeubuf_t) Remain() int { return len(fb.buf) }

// Totalsz returns the total length of the fake buffer.
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) tx(buf []uint8, tofbuf bool) (int, defs.Err_t) {
	var c int
	if tofbuf {
		c = copy(fb.buf, buf)
	} else {
		c = copy(buf, fb.buf)
	}
	fb.buf = fb.buf[c:]
	return c, 0
}

// Uioread copies from the fake buffer into dst.
func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t) { return fb.tx(dst, false) }

// Uiowrite copies src into the fake buffer.
func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) { return fb.tx(src, true) }
