package proc

import (
	"encoding/binary"
	"testing"
)

// buildMinimalELF hand-assembles a tiny ET_EXEC RISC-V binary: a 64-byte
// ELF64 header, one PT_LOAD program header, then code — enough for
// debug/elf.NewFile to parse and for LoadELF's PT_LOAD walk to exercise,
// mirroring how fat32_test.go hand-builds raw boot-sector bytes rather
// than depending on a second-party encoder.
func buildMinimalELF(entry uint64, code []byte) []byte {
	const ehsize = 64
	const phsize = 56
	buf := make([]byte, ehsize+phsize+len(code))

	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(buf[16:18], 2)   // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 243) // e_machine = EM_RISCV
	binary.LittleEndian.PutUint32(buf[20:24], 1)   // e_version
	binary.LittleEndian.PutUint64(buf[24:32], entry)
	binary.LittleEndian.PutUint64(buf[32:40], ehsize) // e_phoff
	binary.LittleEndian.PutUint16(buf[52:54], ehsize)
	binary.LittleEndian.PutUint16(buf[54:56], phsize)
	binary.LittleEndian.PutUint16(buf[56:58], 1) // e_phnum

	ph := buf[ehsize : ehsize+phsize]
	binary.LittleEndian.PutUint32(ph[0:4], 1)   // p_type = PT_LOAD
	binary.LittleEndian.PutUint32(ph[4:8], 0x5) // p_flags = R|X
	binary.LittleEndian.PutUint64(ph[8:16], ehsize+phsize)
	binary.LittleEndian.PutUint64(ph[16:24], entry)
	binary.LittleEndian.PutUint64(ph[24:32], entry)
	binary.LittleEndian.PutUint64(ph[32:40], uint64(len(code)))
	binary.LittleEndian.PutUint64(ph[40:48], uint64(len(code)))
	binary.LittleEndian.PutUint64(ph[48:56], 0x1000)

	copy(buf[ehsize+phsize:], code)
	return buf
}

func TestLoadELFParsesSingleLoadSegment(t *testing.T) {
	code := []byte{0x13, 0x00, 0x00, 0x00} // nop
	raw := buildMinimalELF(0x10000, code)
	img, err := LoadELF(raw)
	if err != 0 {
		t.Fatalf("LoadELF: %v", err)
	}
	if img.Entry != 0x10000 {
		t.Fatalf("Entry = %#x, want 0x10000", img.Entry)
	}
	if len(img.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(img.Segments))
	}
	seg := img.Segments[0]
	if seg.Start != 0x10000 {
		t.Fatalf("segment Start = %#x, want 0x10000", seg.Start)
	}
	if seg.Npages != 1 {
		t.Fatalf("segment Npages = %d, want 1", seg.Npages)
	}
}

func TestLoadELFRejectsTruncatedInput(t *testing.T) {
	if _, err := LoadELF([]byte{0x7f, 'E', 'L', 'F'}); err == 0 {
		t.Fatal("expected LoadELF to reject a truncated header")
	}
}
