package blockdev

import "os"

// FileDisk is a Device backed by a regular host file, the disk image
// cmd/kernel mounts as the root FAT32 volume when run outside of a test
// (spec §1's "drives a block device" collaborator, given a concrete
// backing store the in-memory MemDisk never needed).
type FileDisk struct {
	f        *os.File
	nsectors int
}

// OpenFileDisk opens path and reports its size in whole sectors. The
// file must already hold a sector-aligned FAT32 image; FileDisk does
// not format one.
func OpenFileDisk(path string) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileDisk{f: f, nsectors: int(info.Size() / SectorSize)}, nil
}

// Close releases the underlying file handle.
func (d *FileDisk) Close() error { return d.f.Close() }

// Capacity reports the disk size in sectors.
func (d *FileDisk) Capacity() int { return d.nsectors }

// Start services req synchronously against the backing file before
// returning, same calling convention as MemDisk.
func (d *FileDisk) Start(req *Request) bool {
	if req.LBA < 0 || req.LBA >= d.nsectors {
		return false
	}
	off := int64(req.LBA) * SectorSize
	var err error
	switch req.Cmd {
	case CmdRead:
		_, err = d.f.ReadAt(req.Buf, off)
	case CmdWrite:
		_, err = d.f.WriteAt(req.Buf, off)
	case CmdFlush:
		err = d.f.Sync()
	}
	req.AckCh <- err
	return true
}
