package vfs

import (
	"sync"

	"rvkernel/defs"
	"rvkernel/fdops"
	"rvkernel/stat"
)

// RegularFile is the open-file-table entry for a byte-addressable inode
// (regular file, device, symlink target read), implementing fdops.Fdops_i.
// Reads/writes against a PagedOps inode go through its page cache per
// spec §4.7; a plain BytesOps inode (e.g. a device with no cache, spec
// §3's "a Bytes instance may additionally expose...") is read/written
// directly.
type RegularFile struct {
	mu     sync.Mutex
	Dentry *Dentry
	off    int64
	Flags  int
}

var _ fdops.Fdops_i = (*RegularFile)(nil)

// OpenRegular wraps d (whose inode must implement BytesOps) into a fresh
// open-file-table entry positioned at offset 0, or at EOF if flags
// carries O_APPEND.
func OpenRegular(d *Dentry, flags int) (*RegularFile, defs.Err_t) {
	b, ok := d.Inode.(BytesOps)
	if !ok {
		return nil, -defs.EISDIR
	}
	f := &RegularFile{Dentry: d, Flags: flags}
	if flags&defs.O_APPEND != 0 {
		f.off = b.Meta().Size()
	}
	return f, 0
}

const pageBits = 12
const pageSize = 1 << pageBits

// pagedReadAt decomposes [off, off+len(dst)) into page-aligned segments
// and copies through the page cache, populating any Invalid page from
// the backend first — spec §4.7's read algorithm.
func pagedReadAt(p PagedOps, dst []byte, off int64) (int, defs.Err_t) {
	size := p.Meta().Size()
	if off >= size {
		return 0, 0
	}
	if off+int64(len(dst)) > size {
		dst = dst[:size-off]
	}
	cache := p.PageCache()
	done := 0
	for done < len(dst) {
		cur := off + int64(done)
		pgidx := int(cur >> pageBits)
		pgoff := int(cur) & (pageSize - 1)
		pg, err := cache.Get(pgidx)
		if err != nil {
			return done, -defs.EIO
		}
		n := copy(dst[done:], pg.Frame.Bytes()[pgoff:])
		done += n
	}
	return done, 0
}

// pagedWriteAt mirrors pagedReadAt for writes: a page that does not span
// the whole write and lies within the current file length is first
// populated from the backend (so a partial-page write doesn't clobber
// neighboring bytes), then marked Dirty.
func pagedWriteAt(p PagedOps, src []byte, off int64) (int, defs.Err_t) {
	cache := p.PageCache()
	done := 0
	for done < len(src) {
		cur := off + int64(done)
		pgidx := int(cur >> pageBits)
		pgoff := int(cur) & (pageSize - 1)
		pg, err := cache.Get(pgidx)
		if err != nil {
			return done, -defs.EIO
		}
		n := copy(pg.Frame.Bytes()[pgoff:], src[done:])
		cache.MarkDirty(pgidx)
		done += n
	}
	p.Meta().Grow(off + int64(done))
	return done, 0
}

func (f *RegularFile) Read(ub fdops.Userbuf_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.Dentry.Inode.(BytesOps)
	buf := make([]byte, ub.Remain())
	var n int
	var err defs.Err_t
	if p, ok := b.(PagedOps); ok {
		n, err = pagedReadAt(p, buf, f.off)
	} else {
		n, err = b.ReadAt(buf, f.off)
	}
	if err != 0 {
		return 0, err
	}
	wrote, werr := ub.Uiowrite(buf[:n])
	if werr != 0 {
		return wrote, werr
	}
	f.off += int64(wrote)
	b.Meta().Touch(nowStub(), 0, 0)
	return wrote, 0
}

func (f *RegularFile) Write(ub fdops.Userbuf_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.Dentry.Inode.(BytesOps)
	if f.Flags&defs.O_APPEND != 0 {
		f.off = b.Meta().Size()
	}
	buf := make([]byte, ub.Remain())
	n, rerr := ub.Uioread(buf)
	if rerr != 0 && n == 0 {
		return 0, rerr
	}
	var written int
	var err defs.Err_t
	if p, ok := b.(PagedOps); ok {
		written, err = pagedWriteAt(p, buf[:n], f.off)
	} else {
		written, err = b.WriteAt(buf[:n], f.off)
		if err == 0 {
			b.Meta().Grow(f.off + int64(written))
		}
	}
	if err != 0 {
		return written, err
	}
	f.off += int64(written)
	b.Meta().Touch(0, nowStub(), nowStub())
	return written, 0
}

func (f *RegularFile) Fstat(st *stat.Stat_t) defs.Err_t {
	f.Dentry.Inode.Meta().ToStat(st, 1)
	return 0
}

// Lseek repositions the file offset. Seeking before 0 fails (spec §8).
func (f *RegularFile) Lseek(off, whence int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = f.off
	case 2:
		base = f.Dentry.Inode.Meta().Size()
	default:
		return 0, -defs.EINVAL
	}
	n := base + int64(off)
	if n < 0 {
		return 0, -defs.EINVAL
	}
	f.off = n
	return int(n), 0
}

func (f *RegularFile) Close() defs.Err_t  { return 0 }
func (f *RegularFile) Reopen() defs.Err_t { return 0 }
func (f *RegularFile) Pathi() (any, bool) { return f.Dentry, true }

// nowStub stands in for a wall-clock read at the firmware/RTC boundary;
// kept as a single seam (rather than calling time.Now() all over this
// package) so devfs's /dev/rtc and this file agree on one clock source
// once wired at boot.
var nowStub = func() int64 { return 0 }

// SetClock installs the wall-clock function every timestamp-touching
// path in this package uses. cmd/kernel's boot sequence calls this once
// with a real clock; tests leave the zero-stub in place so results stay
// deterministic.
func SetClock(f func() int64) { nowStub = f }

// DirHandle is the open-file-table entry for a directory fd, serving
// getdents64 (spec §6) by snapshotting ReadDir() once per open.
type DirHandle struct {
	mu      sync.Mutex
	Dentry  *Dentry
	off     int
	entries []Dirent
	loaded  bool
}

var _ fdops.Fdops_i = (*DirHandle)(nil)

// OpenDir wraps d (whose inode must implement DirOps) into a directory
// file-descriptor entry.
func OpenDir(d *Dentry) (*DirHandle, defs.Err_t) {
	if _, ok := d.Inode.(DirOps); !ok {
		return nil, -defs.ENOTDIR
	}
	return &DirHandle{Dentry: d}, 0
}

func (dh *DirHandle) ensureLoaded() defs.Err_t {
	if dh.loaded {
		return 0
	}
	ents, err := dh.Dentry.Inode.(DirOps).ReadDir()
	if err != 0 {
		return err
	}
	dh.entries = ents
	dh.loaded = true
	return 0
}

// Getdents returns up to max entries starting at the handle's internal
// cursor, advancing it.
func (dh *DirHandle) Getdents(max int) ([]Dirent, defs.Err_t) {
	dh.mu.Lock()
	defer dh.mu.Unlock()
	if err := dh.ensureLoaded(); err != 0 {
		return nil, err
	}
	if dh.off >= len(dh.entries) {
		return nil, 0
	}
	end := dh.off + max
	if end > len(dh.entries) {
		end = len(dh.entries)
	}
	out := dh.entries[dh.off:end]
	dh.off = end
	return out, 0
}

func (dh *DirHandle) Read(ub fdops.Userbuf_i) (int, defs.Err_t) { return 0, -defs.EISDIR }
func (dh *DirHandle) Write(ub fdops.Userbuf_i) (int, defs.Err_t) {
	return 0, -defs.EISDIR
}
func (dh *DirHandle) Fstat(st *stat.Stat_t) defs.Err_t {
	dh.Dentry.Inode.Meta().ToStat(st, 2)
	return 0
}
func (dh *DirHandle) Lseek(off, whence int) (int, defs.Err_t) {
	if off == 0 && whence == 0 {
		dh.mu.Lock()
		dh.off = 0
		dh.mu.Unlock()
		return 0, 0
	}
	return 0, -defs.EINVAL
}
func (dh *DirHandle) Close() defs.Err_t  { return 0 }
func (dh *DirHandle) Reopen() defs.Err_t { return 0 }
func (dh *DirHandle) Pathi() (any, bool) { return dh.Dentry, true }
