// Package fat32 implements the on-disk format spec §6 requires to be
// byte-exact with the standard: BIOS parameter block parsing, the file
// allocation table and its free-cluster hint, cluster-chain traversal,
// and 8.3/long-filename directory entries (spec §4.7). Grounded on
// original_source's crates/kernel/src/fs/fat32/{bpb,fat,dir_entry}.rs;
// the teacher never had a FAT32 layer (biscuit's only on-disk format
// was its own ahci-backed inode format), so the algorithms here follow
// original_source directly, reworked into this repo's vfs.DirOps/
// PagedOps/pagecache idiom rather than the Rust futures/RwLock one.
package fat32

import (
	"encoding/binary"
	"errors"

	"rvkernel/blockdev"
)

// ErrBadBPB is returned when the boot sector fails the FAT32 sanity
// checks spec §6 names: "Check via total_sector_count >= 65525".
var ErrBadBPB = errors.New("fat32: not a valid FAT32 boot sector")

// BPB is the subset of the BIOS parameter block this kernel consumes,
// laid out exactly as spec §6 describes (little-endian fields read
// directly off sector 0).
type BPB struct {
	SystemID           [8]byte
	SectorSize         uint16
	SectorsPerCluster  uint8
	ReservedSectors    uint16
	FATCount           uint8
	TotalSectorCount   uint32
	FAT32Length        uint32
	RootCluster        uint32
	InfoSector         uint16
	BackupBoot         uint16
}

// ParseBPB reads the 512-byte boot sector, matching original_source's
// BiosParameterBlock::new field-by-field layout (offsets fixed by the
// FAT32 standard, jump code at 0..3 skipped).
func ParseBPB(sector []byte) (*BPB, error) {
	if len(sector) != blockdev.SectorSize {
		return nil, ErrBadBPB
	}
	b := &BPB{}
	copy(b.SystemID[:], sector[3:11])
	b.SectorSize = binary.LittleEndian.Uint16(sector[11:13])
	b.SectorsPerCluster = sector[13]
	b.ReservedSectors = binary.LittleEndian.Uint16(sector[14:16])
	b.FATCount = sector[16]
	// root_entry_count(17:19), sector_count16(19:21), media(21),
	// fat_length16(22:24), sector_per_track(24:26), head_count(26:28),
	// hidden_sector_count(28:32) are ignored (must be zero for FAT32).
	b.TotalSectorCount = binary.LittleEndian.Uint32(sector[32:36])
	b.FAT32Length = binary.LittleEndian.Uint32(sector[36:40])
	// ext_flags(40:42), version(42:44) ignored.
	b.RootCluster = binary.LittleEndian.Uint32(sector[44:48])
	b.InfoSector = binary.LittleEndian.Uint16(sector[48:50])
	b.BackupBoot = binary.LittleEndian.Uint16(sector[50:52])

	if b.TotalSectorCount < 65525 {
		return nil, ErrBadBPB
	}
	return b, nil
}

// BytesPerCluster is the cluster size in bytes.
func (b *BPB) BytesPerCluster() int {
	return int(b.SectorsPerCluster) * int(b.SectorSize)
}
