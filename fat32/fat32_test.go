package fat32

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"rvkernel/blockdev"
	"rvkernel/vfs"
)

func buildBootSector(totalSectors uint32) []byte {
	sector := make([]byte, blockdev.SectorSize)
	copy(sector[3:11], []byte("MSWIN4.1"))
	binary.LittleEndian.PutUint16(sector[11:13], 512)
	sector[13] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(sector[14:16], 4)
	sector[16] = 1 // fat count
	binary.LittleEndian.PutUint32(sector[32:36], totalSectors)
	binary.LittleEndian.PutUint32(sector[36:40], 1) // fat32 length
	binary.LittleEndian.PutUint32(sector[44:48], 2) // root cluster
	binary.LittleEndian.PutUint16(sector[48:50], 1) // info sector
	binary.LittleEndian.PutUint16(sector[50:52], 6) // backup boot
	return sector
}

func TestParseBPBAcceptsValidSector(t *testing.T) {
	b, err := ParseBPB(buildBootSector(65525))
	if err != nil {
		t.Fatalf("ParseBPB: %v", err)
	}
	if b.RootCluster != 2 || b.SectorsPerCluster != 1 || b.FAT32Length != 1 {
		t.Fatalf("unexpected BPB: %+v", b)
	}
	if b.BytesPerCluster() != 512 {
		t.Fatalf("BytesPerCluster = %d, want 512", b.BytesPerCluster())
	}
}

func TestParseBPBRejectsFAT16SizedVolume(t *testing.T) {
	if _, err := ParseBPB(buildBootSector(1000)); err != ErrBadBPB {
		t.Fatalf("expected ErrBadBPB, got %v", err)
	}
}

func buildFSInfo(freeCount, nextFree uint32) []byte {
	sector := make([]byte, blockdev.SectorSize)
	binary.LittleEndian.PutUint32(sector[0:4], fsInfoLeadSig)
	binary.LittleEndian.PutUint32(sector[484:488], fsInfoStrucSig)
	binary.LittleEndian.PutUint32(sector[488:492], freeCount)
	binary.LittleEndian.PutUint32(sector[492:496], nextFree)
	binary.LittleEndian.PutUint32(sector[508:512], fsInfoTrailSig)
	return sector
}

// smallVolume builds a tiny, internally consistent disk: boot sector(0),
// FSInfo(1), one FAT sector(2..3 reserved, fat starts at 4), data region
// from sector 5, one sector per cluster, 59 usable clusters.
func smallVolume(t *testing.T) (*blockdev.MemDisk, *BPB) {
	t.Helper()
	dev := blockdev.NewMemDisk(64)
	bpb := &BPB{
		SectorSize:        512,
		SectorsPerCluster: 1,
		ReservedSectors:   4,
		FATCount:          1,
		TotalSectorCount:  64,
		FAT32Length:       1,
		RootCluster:       2,
		InfoSector:        1,
	}
	if err := blockdev.WriteSector(dev, 0, buildBootSector(64)); err != nil {
		t.Fatalf("write boot: %v", err)
	}
	if err := blockdev.WriteSector(dev, 1, buildFSInfo(0xFFFFFFFF, 0xFFFFFFFF)); err != nil {
		t.Fatalf("write fsinfo: %v", err)
	}
	fat := make([]byte, blockdev.SectorSize)
	binary.LittleEndian.PutUint32(fat[2*4:3*4], endOfChain) // cluster 2 (root) is a single-cluster chain
	if err := blockdev.WriteSector(dev, 4, fat); err != nil {
		t.Fatalf("write fat: %v", err)
	}
	return dev, bpb
}

func TestTableAllocAndClusterChain(t *testing.T) {
	dev, bpb := smallVolume(t)
	tbl, err := LoadTable(dev, bpb)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	chain := tbl.ClusterChain(2)
	if len(chain) != 1 || chain[0] != 2 {
		t.Fatalf("ClusterChain(2) = %v, want [2]", chain)
	}

	c1, ok := tbl.AllocCluster(0)
	if !ok {
		t.Fatal("AllocCluster failed")
	}
	if c1 == 2 {
		t.Fatal("AllocCluster returned the already-occupied root cluster")
	}
	c2, ok := tbl.AllocCluster(c1)
	if !ok {
		t.Fatal("second AllocCluster failed")
	}
	chain = tbl.ClusterChain(c1)
	if len(chain) != 2 || chain[0] != c1 || chain[1] != c2 {
		t.Fatalf("ClusterChain after link = %v, want [%d %d]", chain, c1, c2)
	}
}

func TestDirEntryBuildAndParseRoundTrip(t *testing.T) {
	when := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	slots := BuildEntries("a-very-long-filename.txt", GenerateShortName("a-very-long-filename.txt", func(string) bool { return false }), AttrArchive, 5, 1234, when)
	if len(slots) < 2 {
		t.Fatalf("expected LFN + standard entry, got %d slots", len(slots))
	}
	var raw []byte
	for _, s := range slots {
		raw = append(raw, s...)
	}
	entries, err := ParseDirBlock(raw)
	if err != nil {
		t.Fatalf("ParseDirBlock: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Name() != "a-very-long-filename.txt" {
		t.Fatalf("Name() = %q, want original long name", e.Name())
	}
	if e.FirstCluster != 5 || e.FileSize != 1234 {
		t.Fatalf("FirstCluster/FileSize = %d/%d, want 5/1234", e.FirstCluster, e.FileSize)
	}
	if e.ModifyTime.Year() != 2024 || e.ModifyTime.Month() != time.March || e.ModifyTime.Day() != 15 {
		t.Fatalf("ModifyTime = %v, want 2024-03-15", e.ModifyTime)
	}
}

func TestDirEntryShortNameOnlyNeedsNoLFN(t *testing.T) {
	slots := BuildEntries("HELLO.TXT", GenerateShortName("HELLO.TXT", func(string) bool { return false }), AttrArchive, 3, 2, time.Unix(0, 0).UTC())
	if len(slots) != 1 {
		t.Fatalf("expected exactly one slot for a plain 8.3 name, got %d", len(slots))
	}
}

func TestGenerateShortNameHandlesCollisions(t *testing.T) {
	taken := map[string]bool{}
	exists := func(s string) bool { return taken[s] }
	first := GenerateShortName("My Document.txt", exists)
	taken[first] = true
	second := GenerateShortName("My Document Two.txt", exists)
	if first == second {
		t.Fatalf("expected distinct short names, both got %q", first)
	}
	if bytes.Contains([]byte(first), []byte(" ")) == false {
		// padded to 11 bytes, that's fine; just confirm length.
	}
	if len(first) != 11 || len(second) != 11 {
		t.Fatalf("short names must be 11 bytes padded, got %q / %q", first, second)
	}
}

func TestMountedFilesystemCreateWriteReadUnlink(t *testing.T) {
	dev, bpb := smallVolume(t)
	tbl, err := LoadTable(dev, bpb)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	clock := func() int64 { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix() }
	fs := &FS{dev: dev, bpb: bpb, fat: tbl, now: clock}
	root := newDir(fs, bpb.RootCluster, 0)

	if _, err := root.Mknod("hello.txt", 0o644, 0); err != 0 {
		t.Fatalf("Mknod: %v", err)
	}
	inode, lerr := root.Lookup("hello.txt")
	if lerr != 0 {
		t.Fatalf("Lookup: %v", lerr)
	}
	f := inode.(*File)
	payload := []byte("Hi")
	if n, werr := f.WriteAt(payload, 0); werr != 0 || n != len(payload) {
		t.Fatalf("WriteAt = (%d, %v), want (%d, 0)", n, werr, len(payload))
	}

	inode2, lerr := root.Lookup("hello.txt")
	if lerr != 0 {
		t.Fatalf("second Lookup: %v", lerr)
	}
	f2 := inode2.(*File)
	buf := make([]byte, 8)
	n, rerr := f2.ReadAt(buf, 0)
	if rerr != 0 {
		t.Fatalf("ReadAt: %v", rerr)
	}
	if string(buf[:n]) != "Hi" {
		t.Fatalf("ReadAt = %q, want %q", buf[:n], "Hi")
	}

	ents, derr := root.ReadDir()
	if derr != 0 {
		t.Fatalf("ReadDir: %v", derr)
	}
	found := false
	for _, e := range ents {
		if e.Name == "hello.txt" {
			found = true
		}
	}
	if !found {
		t.Fatal("hello.txt missing from ReadDir output")
	}

	if err := root.Unlink("hello.txt"); err != 0 {
		t.Fatalf("Unlink: %v", err)
	}
	if _, err := root.Lookup("hello.txt"); err == 0 {
		t.Fatal("expected hello.txt to be gone after Unlink")
	}
}

var _ vfs.DirOps = (*Dir)(nil)
