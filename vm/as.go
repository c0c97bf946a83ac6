package vm

import (
	"sync"

	"rvkernel/defs"
	"rvkernel/mem"
	"rvkernel/util"
)

// AreaKind distinguishes the purpose of a VmArea, mirroring spec §4.3's
// "Framed VM areas (Stack, Elf kinds)".
type AreaKind int

const (
	AreaElf AreaKind = iota
	AreaStack
	AreaHeap
	AreaMmap
)

// VmArea is a contiguous, page-granular region of an address space
// backed by uniquely owned physical frames — grounded on the teacher's
// Vminfo_t/Vmregion_t, but frames are committed eagerly at area-creation
// time rather than lazily through Sys_pgfault, since this kernel never
// implements copy-on-write (spec Open Questions: fork always deep-
// copies) and so has no reason to defer the copy.
type VmArea struct {
	Kind   AreaKind
	Start  uintptr
	Npages int
	Perms  Pte // PTE_R|PTE_W|PTE_X subset, PTE_U implied
	Frames []*mem.Frame
}

func (a *VmArea) end() uintptr { return a.Start + uintptr(a.Npages*PGSIZE) }
func (a *VmArea) contains(va uintptr) bool {
	return va >= a.Start && va < a.end()
}

// AddressSpace_t represents one process's address space: a page table
// plus the list of VmAreas mapped into it. The mutex protects Areas and
// Pt from concurrent page-fault/map/unmap/fork operations, the same
// discipline as the teacher's Vm_t.Lock_pmap.
type AddressSpace_t struct {
	sync.Mutex
	Pt    *PageTable
	Areas []*VmArea
}

// NewKernel creates the address space shared by kernel-mode execution
// (identity-ish mappings installed by the boot sequence; this type holds
// no areas of its own since kernel text/data are mapped once at boot and
// never torn down).
func NewKernel() *AddressSpace_t {
	return &AddressSpace_t{Pt: NewPageTable()}
}

// EmptyUser creates a fresh, entirely unmapped user address space.
func EmptyUser() *AddressSpace_t {
	return &AddressSpace_t{Pt: NewPageTable()}
}

func (as *AddressSpace_t) lookup(va uintptr) (*VmArea, bool) {
	for _, a := range as.Areas {
		if a.contains(va) {
			return a, true
		}
	}
	return nil, false
}

func (as *AddressSpace_t) overlaps(start uintptr, npages int) bool {
	end := start + uintptr(npages*PGSIZE)
	for _, a := range as.Areas {
		if start < a.end() && end > a.Start {
			return true
		}
	}
	return false
}

// TryMap installs a new area of npages pages at start with perms,
// backing every page with a freshly allocated zeroed frame. It refuses
// (EINVAL) if the requested range overlaps an existing mapping — this
// kernel never implements MAP_FIXED replacement semantics (spec Open
// Questions).
func (as *AddressSpace_t) TryMap(start uintptr, npages int, perms Pte, kind AreaKind) (*VmArea, defs.Err_t) {
	if start&uintptr(PGSIZE-1) != 0 || npages <= 0 {
		return nil, -defs.EINVAL
	}
	as.Lock()
	defer as.Unlock()
	if as.overlaps(start, npages) {
		return nil, -defs.EINVAL
	}
	area := &VmArea{Kind: kind, Start: start, Npages: npages, Perms: perms}
	area.Frames = make([]*mem.Frame, npages)
	for i := 0; i < npages; i++ {
		f := mem.Physmem.Alloc()
		area.Frames[i] = f
		as.Pt.Map(start+uintptr(i*PGSIZE), f.Pa(), perms|PTE_U)
	}
	as.Areas = append(as.Areas, area)
	return area, 0
}

// Unmap tears down the area starting at start, releasing its frames back
// to the allocator and flushing its page-table entries.
func (as *AddressSpace_t) Unmap(start uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	for i, a := range as.Areas {
		if a.Start == start {
			for j, f := range a.Frames {
				as.Pt.Unmap(start + uintptr(j*PGSIZE))
				f.Free()
			}
			as.Areas = append(as.Areas[:i], as.Areas[i+1:]...)
			return 0
		}
	}
	return -defs.EINVAL
}

// LoadElfSections maps npages pages at start, copying data into the
// first len(data) bytes — the ELF loader's segment-mapping primitive
// (spec §4.3). Remaining bytes (bss) stay zero courtesy of mem.Frame's
// zero-on-alloc guarantee.
func (as *AddressSpace_t) LoadElfSections(start uintptr, npages int, perms Pte, data []byte) defs.Err_t {
	area, err := as.TryMap(start, npages, perms, AreaElf)
	if err != 0 {
		return err
	}
	off := 0
	for _, f := range area.Frames {
		if off >= len(data) {
			break
		}
		n := copy(f.Bytes(), data[off:])
		off += n
	}
	return 0
}

// InitStack maps an npages-page user stack ending at top (exclusive) and
// returns the initial stack pointer — top, page aligned down, which is
// where the teacher's runtime/bootstrap conventionally places argv/envp
// before entering the user program (spec §4.3 init_stack).
func (as *AddressSpace_t) InitStack(top uintptr, npages int) (uintptr, defs.Err_t) {
	start := PageOf(top) - uintptr(npages*PGSIZE)
	_, err := as.TryMap(start, npages, PTE_R|PTE_W, AreaStack)
	if err != 0 {
		return 0, err
	}
	return PageOf(top), 0
}

// HandleMemoryException resolves a hardware page-fault trap for
// address fa with access flags ecode (spec §4.4's fault-translation
// responsibility). Since COW is never installed, the only legitimate
// fault this kernel recognizes is a guard-page/unmapped access, which is
// always an error — matching Sys_pgfault's "isguard" short-circuit in
// the teacher, minus the COW resolution branch this kernel does not
// need.
func (as *AddressSpace_t) HandleMemoryException(fa uintptr, write bool) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	area, ok := as.lookup(fa)
	if !ok {
		return -defs.EFAULT
	}
	if write && area.Perms&PTE_W == 0 {
		return -defs.EFAULT
	}
	return 0
}

// RecycleUserPages releases every area's frames and the page-table pages
// backing them — spec §4.3's teardown step run when a process exits or
// execs over its old image. It is grounded on the teacher's Uvmfree.
func (as *AddressSpace_t) RecycleUserPages() {
	as.Lock()
	defer as.Unlock()
	for _, a := range as.Areas {
		for i, f := range a.Frames {
			as.Pt.Unmap(a.Start + uintptr(i*PGSIZE))
			f.Free()
		}
	}
	as.Areas = nil
}

// FromOther deep-copies src into a brand-new address space: every
// frame's bytes are duplicated into a fresh frame, and every area is
// reconstructed with the same permissions. This is the kernel's only
// fork path (spec Open Questions decided fork never shares pages via
// COW).
func FromOther(src *AddressSpace_t) *AddressSpace_t {
	src.Lock()
	defer src.Unlock()
	dst := &AddressSpace_t{Pt: NewPageTable()}
	for _, a := range src.Areas {
		na := &VmArea{Kind: a.Kind, Start: a.Start, Npages: a.Npages, Perms: a.Perms}
		na.Frames = make([]*mem.Frame, a.Npages)
		for i, f := range a.Frames {
			nf := mem.Physmem.Alloc()
			copy(nf.Bytes(), f.Bytes())
			na.Frames[i] = nf
			dst.Pt.Map(a.Start+uintptr(i*PGSIZE), nf.Pa(), a.Perms|PTE_U)
		}
		dst.Areas = append(dst.Areas, na)
	}
	return dst
}

// Activate returns the physical address of the table root a hart would
// load into satp to switch to this address space. The actual CSR write
// lives at the firmware/hart boundary this kernel treats as an external
// collaborator (spec §1), so this method only resolves the value.
func (as *AddressSpace_t) Activate() mem.Pa_t {
	return as.Pt.Root()
}

// Userdmap8_inner resolves the user virtual address va to the backing
// byte slice for a single access, used by every user<->kernel copy
// helper below. It is the direct analogue of the teacher's
// Vm_t.Userdmap8_inner, simplified because there is no page fault to
// resolve lazily: any address within a mapped area is already backed by
// a frame.
func (as *AddressSpace_t) Userdmap8_inner(va uintptr, write bool) ([]uint8, defs.Err_t) {
	area, ok := as.lookup(va)
	if !ok {
		return nil, -defs.EFAULT
	}
	if write && area.Perms&PTE_W == 0 {
		return nil, -defs.EFAULT
	}
	pgidx := int((va - area.Start) / uintptr(PGSIZE))
	voff := int(va) & (PGSIZE - 1)
	return area.Frames[pgidx].Bytes()[voff:], 0
}

// Userreadn reads n (<=8) bytes from user address va as a little-endian
// integer.
func (as *AddressSpace_t) Userreadn(va uintptr, n int) (int, defs.Err_t) {
	if n > 8 {
		panic("large n")
	}
	as.Lock()
	defer as.Unlock()
	var ret int
	for i := 0; i < n; {
		src, err := as.Userdmap8_inner(va+uintptr(i), false)
		if err != 0 {
			return 0, err
		}
		l := util.Min(n-i, len(src))
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
		i += l
	}
	return ret, 0
}

// Userwriten writes the low n bytes of val to user address va.
func (as *AddressSpace_t) Userwriten(va uintptr, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock()
	defer as.Unlock()
	for i := 0; i < n; {
		dst, err := as.Userdmap8_inner(va+uintptr(i), true)
		if err != 0 {
			return err
		}
		l := util.Min(n-i, len(dst))
		util.Writen(dst, l, 0, val>>(8*uint(i)))
		i += l
	}
	return 0
}

// K2user copies src into user memory starting at uva.
func (as *AddressSpace_t) K2user(src []uint8, uva uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	cnt := 0
	for cnt != len(src) {
		dst, err := as.Userdmap8_inner(uva+uintptr(cnt), true)
		if err != 0 {
			return err
		}
		n := copy(dst, src[cnt:])
		if n == 0 {
			return -defs.EFAULT
		}
		cnt += n
	}
	return 0
}

// User2k copies len(dst) bytes from user memory at uva into dst.
func (as *AddressSpace_t) User2k(dst []uint8, uva uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	cnt := 0
	for cnt != len(dst) {
		src, err := as.Userdmap8_inner(uva+uintptr(cnt), false)
		if err != 0 {
			return err
		}
		n := copy(dst[cnt:], src)
		if n == 0 {
			return -defs.EFAULT
		}
		cnt += n
	}
	return 0
}

// Userstr copies a NUL-terminated string from user memory, refusing
// strings longer than lenmax with ENAMETOOLONG.
func (as *AddressSpace_t) Userstr(uva uintptr, lenmax int) ([]byte, defs.Err_t) {
	as.Lock()
	defer as.Unlock()
	var s []byte
	i := uintptr(0)
	for {
		chunk, err := as.Userdmap8_inner(uva+i, false)
		if err != 0 {
			return nil, err
		}
		for j, c := range chunk {
			if c == 0 {
				return append(s, chunk[:j]...), 0
			}
		}
		s = append(s, chunk...)
		i += uintptr(len(chunk))
		if len(s) >= lenmax {
			return nil, -defs.ENAMETOOLONG
		}
	}
}
