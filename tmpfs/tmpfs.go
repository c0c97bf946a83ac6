// Package tmpfs implements an in-memory filesystem: directories backed
// by a plain name->inode map and regular files backed by a page cache
// with no disk behind it (spec §4.7). devfs and procfs are tmpfs
// instances pre-populated with specific byte inodes (spec §4.7), so this
// package's Dir/File types are exported for them to embed directly.
//
// The teacher never wrote a tmpfs (biscuit only ever had an AHCI-backed
// disk filesystem); this is authored fresh against spec §3/§4.7, reusing
// this repo's own vfs.DirOps/vfs.BytesOps contract and pagecache.Cache.
package tmpfs

import (
	"sync"

	"rvkernel/defs"
	"rvkernel/pagecache"
	"rvkernel/vfs"
)

// Dir is an in-memory directory inode. Its child map is the sole source
// of truth for what the directory contains — there is no backing store
// to reconcile against, so on a dentry-cache miss Lookup simply
// consults this same map (the two stay in lockstep: every Mkdir/Mknod/
// Unlink here is always paired by the caller with the matching
// vfs.Dentry.InsertChild/RemoveChild call).
type Dir struct {
	meta vfs.Meta
	mu   sync.Mutex
	kids map[string]vfs.Inode
}

var _ vfs.DirOps = (*Dir)(nil)

// NewDir allocates an empty tmpfs directory inode with the given mode
// (S_IFDIR implied).
func NewDir(mode uint32) *Dir {
	return &Dir{
		meta: vfs.Meta{Ino: vfs.AllocIno(), Mode: defs.S_IFDIR | mode},
		kids: make(map[string]vfs.Inode),
	}
}

func (d *Dir) Meta() *vfs.Meta { return &d.meta }

func (d *Dir) Lookup(name string) (vfs.Inode, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.kids[name]; ok {
		return n, 0
	}
	return nil, -defs.ENOENT
}

func (d *Dir) Mkdir(name string, mode uint32) (vfs.Inode, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.kids[name]; exists {
		return nil, -defs.EEXIST
	}
	nd := NewDir(mode)
	d.kids[name] = nd
	return nd, 0
}

// Mknod creates a child inode. rdev != 0 marks it a device special file
// (S_IFCHR/S_IFBLK expected in mode); otherwise it is a regular file
// backed by a fresh page cache.
func (d *Dir) Mknod(name string, mode uint32, rdev uint64) (vfs.Inode, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.kids[name]; exists {
		return nil, -defs.EEXIST
	}
	var n vfs.Inode
	if rdev != 0 {
		n = &Device{meta: vfs.Meta{Ino: vfs.AllocIno(), Mode: mode, Rdev: rdev}}
	} else {
		n = NewFile(mode)
	}
	d.kids[name] = n
	return n, 0
}

// Install registers a caller-constructed inode under name, bypassing
// Mkdir/Mknod's own inode allocation — used by devfs/procfs to seed a
// tmpfs directory with driver-backed inodes (TTY, rtc, a /proc file)
// that tmpfs itself knows nothing about constructing (spec §4.7:
// "devfs/procfs are tmpfs instances pre-populated with specific byte
// inodes").
func (d *Dir) Install(name string, inode vfs.Inode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kids[name] = inode
}

func (d *Dir) Unlink(name string) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, exists := d.kids[name]
	if !exists {
		return -defs.ENOENT
	}
	if sub, ok := n.(*Dir); ok {
		sub.mu.Lock()
		empty := len(sub.kids) == 0
		sub.mu.Unlock()
		if !empty {
			return -defs.ENOTEMPTY
		}
	}
	delete(d.kids, name)
	return 0
}

func (d *Dir) ReadDir() ([]vfs.Dirent, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ents := make([]vfs.Dirent, 0, len(d.kids))
	for name, n := range d.kids {
		ents = append(ents, vfs.Dirent{Name: name, Ino: n.Meta().Ino, Type: direntType(n)})
	}
	return ents, 0
}

func direntType(n vfs.Inode) uint8 {
	switch v := n.(type) {
	case *Dir:
		return vfs.DT_DIR
	case *Device:
		if v.meta.Mode&defs.S_IFBLK == defs.S_IFBLK {
			return vfs.DT_BLK
		}
		return vfs.DT_CHR
	default:
		return vfs.DT_REG
	}
}

// DiskSpace reports unlimited free space: tmpfs is bounded only by the
// host's RAM/frame allocator, not by a fixed-size disk (spec §4.7).
func (d *Dir) DiskSpace() int64 { return -1 }

// File is an in-memory regular file: a page cache with no ReadBack/
// WriteBack. Pages start Synced and writes mark them Dirty, but with no
// disk behind the cache nothing is ever written back — the cache page
// itself is the only copy.
type File struct {
	meta  vfs.Meta
	cache *pagecache.Cache
}

var _ vfs.PagedOps = (*File)(nil)

// NewFile allocates an empty regular tmpfs file.
func NewFile(mode uint32) *File {
	return &File{
		meta:  vfs.Meta{Ino: vfs.AllocIno(), Mode: defs.S_IFREG | mode},
		cache: pagecache.New(),
	}
}

func (f *File) Meta() *vfs.Meta             { return &f.meta }
func (f *File) PageCache() *pagecache.Cache { return f.cache }

// ReadAt/WriteAt exist to satisfy vfs.BytesOps for callers that bypass
// the page cache (none do for tmpfs; vfs.RegularFile always prefers
// PagedOps when present), implemented directly against the cache pages
// for completeness.
func (f *File) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	size := f.meta.Size()
	if off >= size {
		return 0, 0
	}
	if off+int64(len(buf)) > size {
		buf = buf[:size-off]
	}
	done := 0
	for done < len(buf) {
		cur := off + int64(done)
		pgidx := int(cur >> 12)
		pgoff := int(cur) & 0xfff
		pg, err := f.cache.Get(pgidx)
		if err != nil {
			return done, -defs.EIO
		}
		done += copy(buf[done:], pg.Frame.Bytes()[pgoff:])
	}
	return done, 0
}

func (f *File) WriteAt(buf []byte, off int64) (int, defs.Err_t) {
	done := 0
	for done < len(buf) {
		cur := off + int64(done)
		pgidx := int(cur >> 12)
		pgoff := int(cur) & 0xfff
		pg, err := f.cache.Get(pgidx)
		if err != nil {
			return done, -defs.EIO
		}
		done += copy(pg.Frame.Bytes()[pgoff:], buf[done:])
		f.cache.MarkDirty(pgidx)
	}
	f.meta.Grow(off + int64(done))
	return done, 0
}

func (f *File) Ioctl(cmd int, arg uintptr) (int, defs.Err_t) { return 0, -defs.ENOTTY }

// Device is a placeholder byte-inode record for a device special file
// created via mknod; devfs installs the real behavior (e.g. the TTY's
// Read/Write/Ioctl) by constructing its own BytesOps type instead of
// this one — Device exists so plain mknod() of a char/block special
// inode (spec §6 mknod-by-rdev path) has somewhere to live even when no
// driver is registered for that rdev.
type Device struct {
	meta vfs.Meta
}

var _ vfs.BytesOps = (*Device)(nil)

func (d *Device) Meta() *vfs.Meta { return &d.meta }
func (d *Device) ReadAt(buf []byte, off int64) (int, defs.Err_t)  { return 0, -defs.ENXIO }
func (d *Device) WriteAt(buf []byte, off int64) (int, defs.Err_t) { return 0, -defs.ENXIO }
func (d *Device) Ioctl(cmd int, arg uintptr) (int, defs.Err_t)    { return 0, -defs.ENXIO }
