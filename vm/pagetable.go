// Package vm implements the RISC-V Sv39 page table, per-process address
// space, and the safe user-pointer access path (spec §4.2, §4.3, §4.4).
// It is grounded on the teacher's vm/as.go (Vm_t, Userdmap8_inner,
// Page_insert, Sys_pgfault) and vm/userbuf.go (Userbuf_t, Useriovec_t,
// Fakeubuf_t), reworked from biscuit's x86 4-level/refcounted-page model
// to Sv39's 3-level format over uniquely owned mem.Frame handles.
package vm

import "rvkernel/mem"

// Sv39 PTE flag bits (spec §4.2). COW is a real hardware-ignored bit
// (bit 8, in the reserved-for-software range) reserved for a
// copy-on-write scheme this kernel does not implement: fork always
// deep-copies, so COW is defined but never set.
type Pte uint64

const (
	PTE_V Pte = 1 << 0 // valid
	PTE_R Pte = 1 << 1 // readable
	PTE_W Pte = 1 << 2 // writable
	PTE_X Pte = 1 << 3 // executable
	PTE_U Pte = 1 << 4 // user-accessible
	PTE_G Pte = 1 << 5 // global
	PTE_A Pte = 1 << 6 // accessed
	PTE_D Pte = 1 << 7 // dirty
	PTE_COW Pte = 1 << 8 // software bit 0: copy-on-write (reserved, unused)

	pteFlagMask Pte = (1 << 10) - 1
	pteTop      = 1 << 9 // entries per page-table level
)

const (
	PGSHIFT = mem.PGSHIFT
	PGSIZE  = mem.PGSIZE
)

func vpn(va uintptr, level int) uintptr {
	return (va >> (uintptr(PGSHIFT) + uintptr(9*level))) & 0x1ff
}

// PageOf rounds va down to its containing page boundary.
func PageOf(va uintptr) uintptr {
	return va &^ uintptr(PGSIZE-1)
}

// PageTable is one Sv39 root: a 3-level radix tree of 512-entry pages,
// each leaf PTE mapping exactly one 4KiB physical frame. Unlike the
// teacher's Pmap_t (plain [512]Pa_t slice addressed through a direct
// map), each table level here is an explicit *mem.Frame so ownership of
// every page-table page is tracked the same way as data pages.
type PageTable struct {
	root   *mem.Frame
	levels map[mem.Pa_t]*mem.Frame // pa of a table page -> its owning Frame
}

// NewPageTable allocates an empty root table.
func NewPageTable() *PageTable {
	root := mem.Physmem.Alloc()
	pt := &PageTable{root: root, levels: make(map[mem.Pa_t]*mem.Frame)}
	pt.levels[root.Pa()] = root
	return pt
}

func ptesOf(f *mem.Frame) []Pte {
	b := f.Bytes()
	ptes := make([]Pte, pteTop)
	for i := range ptes {
		ptes[i] = Pte(b[i*8]) | Pte(b[i*8+1])<<8 | Pte(b[i*8+2])<<16 | Pte(b[i*8+3])<<24 |
			Pte(b[i*8+4])<<32 | Pte(b[i*8+5])<<40 | Pte(b[i*8+6])<<48 | Pte(b[i*8+7])<<56
	}
	return ptes
}

func writePte(f *mem.Frame, idx int, pte Pte) {
	b := f.Bytes()
	for i := 0; i < 8; i++ {
		b[idx*8+i] = byte(pte >> (8 * uint(i)))
	}
}

func readPte(f *mem.Frame, idx int) Pte {
	b := f.Bytes()
	var pte Pte
	for i := 0; i < 8; i++ {
		pte |= Pte(b[idx*8+i]) << (8 * uint(i))
	}
	return pte
}

// walk descends the table for va, allocating intermediate levels when
// create is true. It returns the table page holding the leaf PTE and the
// leaf index, or ok=false if the walk cannot proceed (no entry and
// create is false).
func (pt *PageTable) walk(va uintptr, create bool) (*mem.Frame, int, bool) {
	cur := pt.root
	for level := 2; level > 0; level-- {
		idx := int(vpn(va, level))
		pte := readPte(cur, idx)
		if pte&PTE_V == 0 {
			if !create {
				return nil, 0, false
			}
			next := mem.Physmem.Alloc()
			pt.levels[next.Pa()] = next
			writePte(cur, idx, Pte(next.Pa())&^pteFlagMask|PTE_V)
			cur = next
			continue
		}
		child, ok := pt.levels[pteAddr(pte)]
		if !ok {
			panic("page table inconsistency: missing intermediate level frame")
		}
		cur = child
	}
	return cur, int(vpn(va, 0)), true
}

// pteAddr extracts the physical address a PTE points at, masking off the
// software/hardware flag bits.
func pteAddr(pte Pte) mem.Pa_t {
	return mem.Pa_t(pte &^ pteFlagMask)
}

// Map installs a leaf mapping from va to the physical page backing frame
// f with the given flags (V is added automatically). va must be page
// aligned. Map panics if a present mapping already occupies va — callers
// must Unmap first, matching the teacher's "replacing kernel page"/"pte
// not empty" invariants in Page_insert.
func (pt *PageTable) Map(va uintptr, pa mem.Pa_t, flags Pte) {
	if va&uintptr(PGSIZE-1) != 0 {
		panic("unaligned va")
	}
	table, idx, _ := pt.walk(va, true)
	if readPte(table, idx)&PTE_V != 0 {
		panic("pte not empty")
	}
	writePte(table, idx, Pte(pa)&^pteFlagMask|flags|PTE_V)
}

// Remap overwrites an existing mapping's target frame and flags, used by
// handle_memory_exception/stack growth and mapping replacement.
func (pt *PageTable) Remap(va uintptr, pa mem.Pa_t, flags Pte) {
	table, idx, ok := pt.walk(va, false)
	if !ok {
		panic("remap of unmapped va")
	}
	writePte(table, idx, Pte(pa)&^pteFlagMask|flags|PTE_V)
}

// Unmap clears the leaf mapping at va. It is a no-op if nothing was
// mapped there.
func (pt *PageTable) Unmap(va uintptr) {
	table, idx, ok := pt.walk(va, false)
	if !ok {
		return
	}
	writePte(table, idx, 0)
}

// Translate returns the physical address and flags for va, or ok=false
// if unmapped.
func (pt *PageTable) Translate(va uintptr) (mem.Pa_t, Pte, bool) {
	table, idx, ok := pt.walk(va, false)
	if !ok {
		return 0, 0, false
	}
	pte := readPte(table, idx)
	if pte&PTE_V == 0 {
		return 0, 0, false
	}
	return pteAddr(pte), pte & pteFlagMask, true
}

// Root returns the physical address of the table's root page, the value
// a real Sv39 implementation would load into satp on Activate.
func (pt *PageTable) Root() mem.Pa_t {
	return pt.root.Pa()
}

// FreeAll releases every page-table page owned by pt (not the leaf data
// frames those entries point to — callers release those via the
// address-space area list). Intended for address-space teardown.
func (pt *PageTable) FreeAll() {
	for _, f := range pt.levels {
		f.Free()
	}
	pt.levels = nil
}
