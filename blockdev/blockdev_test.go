package blockdev

import (
	"bytes"
	"testing"
)

func TestReadWriteSectorRoundtrip(t *testing.T) {
	d := NewMemDisk(16)
	in := bytes.Repeat([]byte{0xab}, SectorSize)
	if err := WriteSector(d, 3, in); err != nil {
		t.Fatalf("WriteSector: %v", err)
	}
	out := make([]byte, SectorSize)
	if err := ReadSector(d, 3, out); err != nil {
		t.Fatalf("ReadSector: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatal("read back different bytes than written")
	}
}

func TestOutOfRangeRejected(t *testing.T) {
	d := NewMemDisk(4)
	buf := make([]byte, SectorSize)
	if err := ReadSector(d, 100, buf); err == nil {
		t.Fatal("expected error reading out-of-range sector")
	}
}
