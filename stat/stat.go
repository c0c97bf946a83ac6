// Package stat mirrors the fields a statically linked libc expects back
// from fstat/fstatat/newfstatat (spec §6), in the order a struct stat
// occupies them so Bytes can be copied directly into user memory.
package stat

import "unsafe"

/// Stat_t mirrors a file's stat information.
type Stat_t struct {
	_dev     uint64
	_ino     uint64
	_mode    uint32
	_nlink   uint32
	_uid     uint32
	_gid     uint32
	_rdev    uint64
	_pad1    uint64
	_size    int64
	_blksize int64
	_blocks  int64
	_atime   int64
	_atimens uint64
	_mtime   int64
	_mtimens uint64
	_ctime   int64
	_ctimens uint64
	_unused  [2]uint32
}

/// Wdev stores the device ID.
func (st *Stat_t) Wdev(v uint64) { st._dev = v }

/// Wino stores the inode number.
func (st *Stat_t) Wino(v uint64) { st._ino = v }

/// Wmode records the file mode (type bits | permission bits).
func (st *Stat_t) Wmode(v uint32) { st._mode = v }

/// Wnlink records the hard-link count.
func (st *Stat_t) Wnlink(v uint32) { st._nlink = v }

/// Wsize records the file size in bytes.
func (st *Stat_t) Wsize(v int64) { st._size = v }

/// Wrdev stores the rdev field for device special files.
func (st *Stat_t) Wrdev(v uint64) { st._rdev = v }

/// Wblksize records the preferred I/O block size.
func (st *Stat_t) Wblksize(v int64) { st._blksize = v }

/// Wblocks records the number of 512-byte blocks allocated.
func (st *Stat_t) Wblocks(v int64) { st._blocks = v }

/// Wtimes records atime/mtime/ctime as Unix seconds.
func (st *Stat_t) Wtimes(atime, mtime, ctime int64) {
	st._atime = atime
	st._mtime = mtime
	st._ctime = ctime
}

/// Mode returns the stored mode value.
func (st *Stat_t) Mode() uint32 { return st._mode }

/// Size returns the stored size.
func (st *Stat_t) Size() int64 { return st._size }

/// Rdev returns the stored rdev.
func (st *Stat_t) Rdev() uint64 { return st._rdev }

/// Rino returns the stored inode number.
func (st *Stat_t) Rino() uint64 { return st._ino }

/// Bytes exposes the raw bytes of the structure for copying into user
/// memory via the safe user-pointer access path (spec §4.4).
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(Stat_t{})
	sl := (*[sz]uint8)(unsafe.Pointer(st))
	return sl[:]
}
