package trap

import (
	"testing"

	"rvkernel/defs"
	"rvkernel/mem"
	"rvkernel/vm"
)

func TestAppInitContextSetsPcAndSp(t *testing.T) {
	c := AppInitContext(0x1000, 0x7fff0000)
	if c.Sepc != 0x1000 {
		t.Fatalf("Sepc = %#x, want 0x1000", c.Sepc)
	}
	if c.Sp() != 0x7fff0000 {
		t.Fatalf("Sp() = %#x, want 0x7fff0000", c.Sp())
	}
	if c.Fs() != FSClean {
		t.Fatalf("Fs() = %v, want FSClean", c.Fs())
	}
}

func TestSyscallArgsMatchesFixedOffsets(t *testing.T) {
	c := &Context{}
	c.UserRegs[regA7] = 64 // write
	for i := 0; i < 6; i++ {
		c.UserRegs[regA0+i] = uint64(i + 1)
	}
	id, args := c.SyscallArgs()
	if id != 64 {
		t.Fatalf("id = %d, want 64", id)
	}
	for i := 0; i < 6; i++ {
		if args[i] != uint64(i+1) {
			t.Fatalf("args[%d] = %d, want %d", i, args[i], i+1)
		}
	}
}

func TestCloneOverwritesA0Independently(t *testing.T) {
	c := AppInitContext(0x1000, 0x2000)
	c.SetA0(42)
	child := c.Clone()
	child.SetA0(0)
	if c.A0() != 42 {
		t.Fatalf("parent A0 mutated by child clone: %d", c.A0())
	}
	if child.A0() != 0 {
		t.Fatalf("child A0 = %d, want 0", child.A0())
	}
}

func TestCheckSpanRejectsAboveLowAddressEnd(t *testing.T) {
	mem.Phys_init(0, 64)
	as := vm.EmptyUser()
	if err := CheckSpan(as, LowAddressEnd-4, 8, false); err != -defs.EFAULT {
		t.Fatalf("CheckSpan across LowAddressEnd = %v, want EFAULT", err)
	}
}

func TestCheckSpanRejectsUnmappedVa(t *testing.T) {
	mem.Phys_init(0, 64)
	as := vm.EmptyUser()
	if err := CheckSpan(as, 0x1000, 8, false); err != -defs.EFAULT {
		t.Fatalf("CheckSpan over unmapped va = %v, want EFAULT", err)
	}
}

func TestNewGuardRoundTripsThroughMappedPage(t *testing.T) {
	mem.Phys_init(0, 64)
	as := vm.EmptyUser()
	if _, err := as.TryMap(0x1000, 1, vm.PTE_R|vm.PTE_W, vm.AreaHeap); err != 0 {
		t.Fatalf("TryMap: %v", err)
	}
	g, err := NewGuard(as, 0x1000, 4, true)
	if err != 0 {
		t.Fatalf("NewGuard: %v", err)
	}
	if n, werr := g.Uiowrite([]byte("ab")); werr != 0 || n != 2 {
		t.Fatalf("Uiowrite = (%d, %v)", n, werr)
	}
	g2, err := NewGuard(as, 0x1000, 2, false)
	if err != 0 {
		t.Fatalf("NewGuard read: %v", err)
	}
	buf := make([]byte, 2)
	if n, rerr := g2.Uioread(buf); rerr != 0 || n != 2 || string(buf) != "ab" {
		t.Fatalf("Uioread = (%d, %q, %v)", n, buf, rerr)
	}
}
