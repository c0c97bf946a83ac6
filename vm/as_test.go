package vm

import (
	"testing"

	"rvkernel/defs"
)

func TestTryMapRefusesOverlap(t *testing.T) {
	resetPhysmem(t, 64)
	as := EmptyUser()
	if _, err := as.TryMap(0x10000, 2, PTE_R|PTE_W, AreaHeap); err != 0 {
		t.Fatalf("first TryMap failed: %v", err)
	}
	_, err := as.TryMap(0x11000, 1, PTE_R, AreaHeap)
	if err != -defs.EINVAL {
		t.Fatalf("overlapping TryMap returned %v, want EINVAL", err)
	}
}

func TestAreaBackedByZeroedFrames(t *testing.T) {
	resetPhysmem(t, 64)
	as := EmptyUser()
	area, err := as.TryMap(0x20000, 1, PTE_R|PTE_W, AreaHeap)
	if err != 0 {
		t.Fatalf("TryMap failed: %v", err)
	}
	for _, b := range area.Frames[0].Bytes() {
		if b != 0 {
			t.Fatal("freshly mapped area not zeroed")
		}
	}
}

func TestK2userUser2kRoundtrip(t *testing.T) {
	resetPhysmem(t, 64)
	as := EmptyUser()
	if _, err := as.TryMap(0x30000, 1, PTE_R|PTE_W, AreaHeap); err != 0 {
		t.Fatalf("TryMap failed: %v", err)
	}
	src := []byte("hello, kernel")
	if err := as.K2user(src, 0x30000); err != 0 {
		t.Fatalf("K2user failed: %v", err)
	}
	dst := make([]byte, len(src))
	if err := as.User2k(dst, 0x30000); err != 0 {
		t.Fatalf("User2k failed: %v", err)
	}
	if string(dst) != string(src) {
		t.Fatalf("roundtrip got %q, want %q", dst, src)
	}
}

func TestUserdmap8FaultsOutsideArea(t *testing.T) {
	resetPhysmem(t, 64)
	as := EmptyUser()
	_, err := as.Userdmap8_inner(0xdeadb000, false)
	if err != -defs.EFAULT {
		t.Fatalf("access to unmapped va returned %v, want EFAULT", err)
	}
}

func TestWriteToReadOnlyAreaFaults(t *testing.T) {
	resetPhysmem(t, 64)
	as := EmptyUser()
	if _, err := as.TryMap(0x40000, 1, PTE_R, AreaHeap); err != 0 {
		t.Fatalf("TryMap failed: %v", err)
	}
	err := as.Userwriten(0x40000, 4, 0x1234)
	if err != -defs.EFAULT {
		t.Fatalf("write to read-only area returned %v, want EFAULT", err)
	}
}

func TestForkDeepCopiesPages(t *testing.T) {
	resetPhysmem(t, 64)
	parent := EmptyUser()
	if _, err := parent.TryMap(0x50000, 1, PTE_R|PTE_W, AreaHeap); err != 0 {
		t.Fatalf("TryMap failed: %v", err)
	}
	parent.K2user([]byte("parent"), 0x50000)

	child := FromOther(parent)
	child.K2user([]byte("CHILD!"), 0x50000)

	pbuf := make([]byte, 6)
	parent.User2k(pbuf, 0x50000)
	if string(pbuf) != "parent" {
		t.Fatalf("parent page mutated by child write: %q", pbuf)
	}

	cbuf := make([]byte, 6)
	child.User2k(cbuf, 0x50000)
	if string(cbuf) != "CHILD!" {
		t.Fatalf("child page = %q, want CHILD!", cbuf)
	}
}

func TestInitStackReturnsTopAligned(t *testing.T) {
	resetPhysmem(t, 64)
	as := EmptyUser()
	top := uintptr(0x7fffff000)
	sp, err := as.InitStack(top, 4)
	if err != 0 {
		t.Fatalf("InitStack failed: %v", err)
	}
	if sp != top {
		t.Fatalf("InitStack returned %v, want %v", sp, top)
	}
	if _, _, ok := as.Pt.Translate(PageOf(top - 1)); !ok {
		t.Fatal("stack page below top not mapped")
	}
}
