package vm

import (
	"testing"

	"rvkernel/mem"
)

func resetPhysmem(t *testing.T, pages int) {
	t.Helper()
	mem.Phys_init(4096, pages)
}

func TestMapTranslateUnmap(t *testing.T) {
	resetPhysmem(t, 64)
	pt := NewPageTable()
	f := mem.Physmem.Alloc()
	va := uintptr(0x1000 * 7)
	pt.Map(va, f.Pa(), PTE_R|PTE_W)

	pa, flags, ok := pt.Translate(va)
	if !ok || pa != f.Pa() {
		t.Fatalf("Translate = (%v, %v), want (%v, true)", pa, ok, f.Pa())
	}
	if flags&PTE_R == 0 || flags&PTE_W == 0 {
		t.Fatalf("flags missing R/W: %v", flags)
	}

	pt.Unmap(va)
	if _, _, ok := pt.Translate(va); ok {
		t.Fatal("translate succeeded after unmap")
	}
}

func TestMapPanicsOnDoubleMap(t *testing.T) {
	resetPhysmem(t, 64)
	pt := NewPageTable()
	f1 := mem.Physmem.Alloc()
	f2 := mem.Physmem.Alloc()
	va := uintptr(0x2000)
	pt.Map(va, f1.Pa(), PTE_R)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic mapping an already-mapped va")
		}
	}()
	pt.Map(va, f2.Pa(), PTE_R)
}

func TestDistinctVirtualPagesDistinctPhysical(t *testing.T) {
	resetPhysmem(t, 64)
	pt := NewPageTable()
	var vas []uintptr
	pas := map[mem.Pa_t]bool{}
	for i := 0; i < 20; i++ {
		va := uintptr(i * PGSIZE)
		f := mem.Physmem.Alloc()
		pt.Map(va, f.Pa(), PTE_R|PTE_W)
		vas = append(vas, va)
		if pas[f.Pa()] {
			t.Fatalf("frame %v reused", f.Pa())
		}
		pas[f.Pa()] = true
	}
	for _, va := range vas {
		if _, _, ok := pt.Translate(va); !ok {
			t.Fatalf("va %v not mapped", va)
		}
	}
}
