package fat32

import (
	"sync"
	"time"

	"rvkernel/blockdev"
	"rvkernel/defs"
	"rvkernel/pagecache"
	"rvkernel/vfs"
)

// FS is a mounted FAT32 volume: the parsed BPB, the in-memory FAT, and
// the block device it all sits on top of.
type FS struct {
	dev  blockdev.Device
	bpb  *BPB
	fat  *Table
	now  func() int64
}

// Mount parses dev's boot sector and FAT region, returning both the FS
// handle and the root directory dentry ready to pass to vfs.NewRoot.
func Mount(dev blockdev.Device, now func() int64) (*FS, *Dir, error) {
	boot := make([]byte, blockdev.SectorSize)
	if err := blockdev.ReadSector(dev, 0, boot); err != nil {
		return nil, nil, err
	}
	bpb, err := ParseBPB(boot)
	if err != nil {
		return nil, nil, err
	}
	fat, err := LoadTable(dev, bpb)
	if err != nil {
		return nil, nil, err
	}
	fs := &FS{dev: dev, bpb: bpb, fat: fat, now: now}
	root := newDir(fs, bpb.RootCluster, 0)
	return fs, root, nil
}

func (fs *FS) clock() int64 {
	if fs.now != nil {
		return fs.now()
	}
	return 0
}

// readCluster reads one whole cluster into dst (len(dst) ==
// BytesPerCluster).
func (fs *FS) readCluster(cluster uint32, dst []byte) error {
	start, end := fs.fat.ClusterSectors(cluster)
	secSize := blockdev.SectorSize
	for s := start; s < end; s++ {
		if err := blockdev.ReadSector(fs.dev, int(s), dst[int(s-start)*secSize:int(s-start+1)*secSize]); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) writeCluster(cluster uint32, src []byte) error {
	start, end := fs.fat.ClusterSectors(cluster)
	secSize := blockdev.SectorSize
	for s := start; s < end; s++ {
		if err := blockdev.WriteSector(fs.dev, int(s), src[int(s-start)*secSize:int(s-start+1)*secSize]); err != nil {
			return err
		}
	}
	return nil
}

// readAt reads len(dst) bytes starting at byte offset off within the
// file/directory whose data lives in chain, following original_source's
// whole-cluster sector walk.
func (fs *FS) readAt(chain []uint32, off int64, dst []byte) error {
	clusterSize := fs.bpb.BytesPerCluster()
	buf := make([]byte, clusterSize)
	done := 0
	for done < len(dst) {
		cur := off + int64(done)
		idx := int(cur) / clusterSize
		inCluster := int(cur) % clusterSize
		if idx >= len(chain) {
			break
		}
		if err := fs.readCluster(chain[idx], buf); err != nil {
			return err
		}
		n := copy(dst[done:], buf[inCluster:])
		done += n
	}
	return nil
}

func (fs *FS) writeAt(chain []uint32, off int64, src []byte) error {
	clusterSize := fs.bpb.BytesPerCluster()
	buf := make([]byte, clusterSize)
	done := 0
	for done < len(src) {
		cur := off + int64(done)
		idx := int(cur) / clusterSize
		inCluster := int(cur) % clusterSize
		if idx >= len(chain) {
			break
		}
		if err := fs.readCluster(chain[idx], buf); err != nil {
			return err
		}
		n := copy(buf[inCluster:], src[done:])
		if err := fs.writeCluster(chain[idx], buf); err != nil {
			return err
		}
		done += n
	}
	return nil
}

// Dir is a FAT32 directory inode: its children live in raw cluster
// bytes that ParseDirBlock decodes lazily on first Lookup/ReadDir, then
// caches until the directory is mutated (spec §4.7's dentry cache is
// the path-level counterpart; this is the on-disk-entries-level cache
// beneath it).
type Dir struct {
	meta         vfs.Meta
	fs           *FS
	firstCluster uint32

	mu      sync.Mutex
	loaded  bool
	ents    []Entry
	chain   []uint32
}

var _ vfs.DirOps = (*Dir)(nil)

func newDir(fs *FS, firstCluster uint32, size int64) *Dir {
	return &Dir{
		fs:           fs,
		firstCluster: firstCluster,
		meta:         vfs.Meta{Ino: vfs.AllocIno(), Mode: defs.S_IFDIR | 0o755, DataLen: size},
	}
}

func (d *Dir) Meta() *vfs.Meta { return &d.meta }

func (d *Dir) ensureLoaded() defs.Err_t {
	if d.loaded {
		return 0
	}
	d.chain = d.fs.fat.ClusterChain(d.firstCluster)
	raw := make([]byte, len(d.chain)*d.fs.bpb.BytesPerCluster())
	if err := d.fs.readAt(d.chain, 0, raw); err != nil {
		return -defs.EIO
	}
	ents, err := ParseDirBlock(raw)
	if err != nil {
		return -defs.EIO
	}
	d.ents = ents
	d.loaded = true
	return 0
}

func (d *Dir) Lookup(name string) (vfs.Inode, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(); err != 0 {
		return nil, err
	}
	for i := range d.ents {
		e := d.ents[i]
		if e.Name() == name {
			if e.IsDir() {
				return newDir(d.fs, e.FirstCluster, int64(e.FileSize)), 0
			}
			return d.fileFor(e), 0
		}
	}
	return nil, -defs.ENOENT
}

// fileFor builds the File inode for a decoded entry, wiring its
// updateEntry hook so that WriteAt's cluster-chain growth and final
// size are patched back into e's standard slot on disk.
func (d *Dir) fileFor(e Entry) *File {
	f := newFile(d.fs, e.FirstCluster, int64(e.FileSize))
	f.updateEntry = func(firstCluster, size uint32) defs.Err_t {
		return d.patchEntry(e, firstCluster, size)
	}
	return f
}

// patchEntry overwrites e's standard 32-byte slot with a new first
// cluster and file size, the on-disk counterpart of growing a file
// whose directory entry was decoded before the write.
func (d *Dir) patchEntry(e Entry, firstCluster, size uint32) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(); err != 0 {
		return err
	}
	off := int64(e.RunStart + (e.RunSlots-1)*dirEntrySize)
	slot := make([]byte, dirEntrySize)
	if err := d.fs.readAt(d.chain, off, slot); err != nil {
		return -defs.EIO
	}
	slot[20], slot[21] = byte(firstCluster>>16), byte(firstCluster>>24)
	slot[26], slot[27] = byte(firstCluster), byte(firstCluster>>8)
	slot[28] = byte(size)
	slot[29] = byte(size >> 8)
	slot[30] = byte(size >> 16)
	slot[31] = byte(size >> 24)
	if err := d.fs.writeAt(d.chain, off, slot); err != nil {
		return -defs.EIO
	}
	d.loaded = false
	return 0
}

func (d *Dir) shortNameTaken(shortName string) bool {
	for _, e := range d.ents {
		if e.ShortName == shortName {
			return true
		}
	}
	return false
}

func (d *Dir) nameTaken(name string) bool {
	for _, e := range d.ents {
		if e.Name() == name {
			return true
		}
	}
	return false
}

// appendEntry writes new directory slots for name into the directory's
// cluster chain, growing the chain by one cluster if the current one is
// full. This is the mkdirent write path (SPEC_FULL.md §4).
func (d *Dir) appendEntry(name string, attr Attr, firstCluster uint32, size uint32) defs.Err_t {
	if err := d.ensureLoaded(); err != 0 {
		return err
	}
	short := GenerateShortName(name, d.shortNameTaken)
	slots := BuildEntries(name, short, attr, firstCluster, size, time.Unix(d.fs.clock(), 0).UTC())

	clusterSize := d.fs.bpb.BytesPerCluster()
	if len(d.chain) == 0 {
		return -defs.ENOSPC
	}
	lastCluster := d.chain[len(d.chain)-1]
	buf := make([]byte, clusterSize)
	if err := d.fs.readCluster(lastCluster, buf); err != nil {
		return -defs.EIO
	}
	writeOff := 0
	for writeOff+dirEntrySize <= len(buf) && buf[writeOff] != 0x00 {
		writeOff += dirEntrySize
	}
	needed := len(slots) * dirEntrySize
	if writeOff+needed > len(buf) {
		nc, ok := d.fs.fat.AllocCluster(lastCluster)
		if !ok {
			return -defs.ENOSPC
		}
		d.chain = append(d.chain, nc)
		lastCluster = nc
		writeOff = 0
		buf = make([]byte, clusterSize)
	}
	for _, slot := range slots {
		copy(buf[writeOff:], slot)
		writeOff += dirEntrySize
	}
	if err := d.fs.writeCluster(lastCluster, buf); err != nil {
		return -defs.EIO
	}
	d.loaded = false
	return 0
}

func (d *Dir) Mkdir(name string, mode uint32) (vfs.Inode, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(); err != 0 {
		return nil, err
	}
	if d.nameTaken(name) {
		return nil, -defs.EEXIST
	}
	cluster, ok := d.fs.fat.AllocCluster(0)
	if !ok {
		return nil, -defs.ENOSPC
	}
	if err := d.appendEntry(name, AttrDir, cluster, 0); err != 0 {
		return nil, err
	}
	return newDir(d.fs, cluster, 0), 0
}

func (d *Dir) Mknod(name string, mode uint32, rdev uint64) (vfs.Inode, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(); err != 0 {
		return nil, err
	}
	if d.nameTaken(name) {
		return nil, -defs.EEXIST
	}
	if err := d.appendEntry(name, AttrArchive, 0, 0); err != 0 {
		return nil, err
	}
	if err := d.ensureLoaded(); err != 0 {
		return nil, err
	}
	for _, e := range d.ents {
		if e.Name() == name {
			return d.fileFor(e), 0
		}
	}
	return nil, -defs.EIO
}

// Unlink marks every slot of the matching entry's run (its LFN chain
// plus the standard entry) with the FAT32 "deleted" tombstone byte
// 0xE5, the standard's convention for freeing a slot without
// compacting the directory.
func (d *Dir) Unlink(name string) defs.Err_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(); err != 0 {
		return err
	}
	for i := range d.ents {
		if d.ents[i].Name() != name {
			continue
		}
		if err := d.tombstone(&d.ents[i]); err != 0 {
			return err
		}
		d.loaded = false
		return 0
	}
	return -defs.ENOENT
}

// tombstone overwrites e's run with 0xE5 markers in place, byte offset
// RunStart..RunStart+RunSlots*dirEntrySize within the directory's
// cluster-chain byte stream.
func (d *Dir) tombstone(e *Entry) defs.Err_t {
	runBytes := e.RunSlots * dirEntrySize
	buf := make([]byte, runBytes)
	if err := d.fs.readAt(d.chain, int64(e.RunStart), buf); err != nil {
		return -defs.EIO
	}
	for s := 0; s < e.RunSlots; s++ {
		buf[s*dirEntrySize] = 0xE5
	}
	if err := d.fs.writeAt(d.chain, int64(e.RunStart), buf); err != nil {
		return -defs.EIO
	}
	return 0
}

func (d *Dir) ReadDir() ([]vfs.Dirent, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(); err != 0 {
		return nil, err
	}
	out := make([]vfs.Dirent, 0, len(d.ents))
	for _, e := range d.ents {
		typ := uint8(vfs.DT_REG)
		if e.IsDir() {
			typ = vfs.DT_DIR
		}
		out = append(out, vfs.Dirent{Name: e.Name(), Ino: uint64(e.FirstCluster), Type: typ})
	}
	return out, 0
}

func (d *Dir) DiskSpace() int64 { return int64(d.fs.fat.dataClusters) * int64(d.fs.bpb.BytesPerCluster()) }

// File is a FAT32 regular-file inode, backed by a page cache whose
// ReadBack/WriteBack translate a page index into cluster-chain reads
// and writes (spec §4.7's general page-cache-population algorithm
// applied to this backend).
type File struct {
	meta         vfs.Meta
	fs           *FS
	firstCluster uint32
	cache        *pagecache.Cache

	// updateEntry, when set, patches this file's directory entry with a
	// new first cluster and size; nil for a file not yet reachable
	// through a Dir (there is none currently, but WriteAt guards anyway).
	updateEntry func(firstCluster, size uint32) defs.Err_t

	mu    sync.Mutex
	chain []uint32
}

var _ vfs.PagedOps = (*File)(nil)

const pageSize = 4096

func newFile(fs *FS, firstCluster uint32, size int64) *File {
	f := &File{
		fs:           fs,
		firstCluster: firstCluster,
		meta:         vfs.Meta{Ino: vfs.AllocIno(), Mode: defs.S_IFREG | 0o644, DataLen: size},
	}
	f.cache = pagecache.New()
	f.cache.ReadBack = f.readBack
	f.cache.WriteBack = f.writeBack
	return f
}

func (f *File) ensureChain() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chain == nil && f.firstCluster != 0 {
		f.chain = f.fs.fat.ClusterChain(f.firstCluster)
	}
	return f.chain
}

func (f *File) readBack(pgidx int, dst []byte) error {
	return f.fs.readAt(f.ensureChain(), int64(pgidx)*pageSize, dst)
}

func (f *File) writeBack(pgidx int, src []byte) error {
	return f.fs.writeAt(f.ensureChain(), int64(pgidx)*pageSize, src)
}

func (f *File) Meta() *vfs.Meta             { return &f.meta }
func (f *File) PageCache() *pagecache.Cache { return f.cache }

func (f *File) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	size := f.meta.Size()
	if off >= size {
		return 0, 0
	}
	if off+int64(len(buf)) > size {
		buf = buf[:size-off]
	}
	if err := f.fs.readAt(f.ensureChain(), off, buf); err != nil {
		return 0, -defs.EIO
	}
	return len(buf), 0
}

func (f *File) WriteAt(buf []byte, off int64) (int, defs.Err_t) {
	chain := f.ensureChain()
	needed := int((off+int64(len(buf))+int64(f.fs.bpb.BytesPerCluster())-1) / int64(f.fs.bpb.BytesPerCluster()))
	for len(chain) < needed {
		prev := uint32(0)
		if len(chain) > 0 {
			prev = chain[len(chain)-1]
		}
		nc, ok := f.fs.fat.AllocCluster(prev)
		if !ok {
			return 0, -defs.ENOSPC
		}
		if f.firstCluster == 0 {
			f.firstCluster = nc
		}
		chain = append(chain, nc)
	}
	f.mu.Lock()
	f.chain = chain
	f.mu.Unlock()
	if err := f.fs.writeAt(chain, off, buf); err != nil {
		return 0, -defs.EIO
	}
	f.meta.Grow(off + int64(len(buf)))
	if f.updateEntry != nil {
		if err := f.updateEntry(f.firstCluster, uint32(f.meta.Size())); err != 0 {
			return 0, err
		}
	}
	return len(buf), 0
}

func (f *File) Ioctl(cmd int, arg uintptr) (int, defs.Err_t) { return 0, -defs.ENOTTY }
