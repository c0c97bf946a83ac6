// Package mem implements the physical-frame allocator (spec §4.1): a
// buddy allocator over a simulated RAM arena that hands out page-aligned,
// zeroed frames with unique ownership. Physical memory is modeled as one
// large byte arena indexed by physical page number (PPN) — the in-process
// analogue of the teacher's direct map (Physmem_t.Dmap in the original
// biscuit kernel), since this repo has no custom Go runtime patch giving
// it a literal physical-to-virtual mapping or refcounted page table roots.
package mem

import (
	"fmt"
	"runtime"
	"sync"

	"rvkernel/oommsg"
)

// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

// PGMASK masks the page number bits of an address.
const PGMASK Pa_t = ^PGOFFSET

// Pa_t represents a physical address (byte offset into the simulated RAM
// arena owned by Physmem).
type Pa_t uintptr

// Ppn returns the physical page number for a physical address.
func (p Pa_t) Ppn() int { return int(p >> PGSHIFT) }

// PageOf returns the base physical address of the page containing p.
func (p Pa_t) PageOf() Pa_t { return p & PGMASK }

// maxOrder covers up to 2^maxOrder pages (4KiB..2GiB) per buddy allocation.
const maxOrder = 19

// Physmem_t is the global owner of simulated physical RAM, backed by a
// buddy allocator. Frames are handed out zeroed and must be released via
// Frame.Free or ContiguousFrames.Free exactly once (spec §3: "Frame ...
// exactly one owner exists").
type Physmem_t struct {
	sync.Mutex
	arena   []byte // simulated RAM, PGSIZE-aligned, len == totalPages*PGSIZE
	basePPN int    // PPN of arena[0], i.e. the page frame following ekernel
	free    [maxOrder + 1][]int
}

// Physmem is the global frame allocator instance, mirroring the teacher's
// single process-wide Physmem singleton.
var Physmem = &Physmem_t{}

// Phys_init seeds the allocator with totalPages page frames starting at
// physical page number basePPN (conceptually "the frame index of
// ekernel", spec §4.1). It must be called exactly once before any other
// frame allocator entry point.
func Phys_init(basePPN, totalPages int) *Physmem_t {
	phys := Physmem
	phys.Lock()
	defer phys.Unlock()
	phys.arena = make([]byte, totalPages*PGSIZE)
	phys.basePPN = basePPN
	for i := range phys.free {
		phys.free[i] = nil
	}
	idx := 0
	remaining := totalPages
	for remaining > 0 {
		order := maxOrder
		for order > 0 && (1<<uint(order) > remaining || idx%(1<<uint(order)) != 0) {
			order--
		}
		phys.free[order] = append(phys.free[order], idx)
		idx += 1 << uint(order)
		remaining -= 1 << uint(order)
	}
	fmt.Printf("mem: reserved %d pages (%dMB) at ppn base %#x\n",
		totalPages, totalPages*PGSIZE>>20, basePPN)
	return phys
}

func order4n(n int) int {
	order := 0
	for (1 << uint(order)) < n {
		order++
	}
	return order
}

// allocOrder removes and returns a free block index of exactly the given
// order, splitting a larger block if necessary. It returns -1 on OOM.
// Callers must hold phys.Mutex.
func (phys *Physmem_t) allocOrder(order int) int {
	if order > maxOrder {
		return -1
	}
	if n := len(phys.free[order]); n > 0 {
		idx := phys.free[order][n-1]
		phys.free[order] = phys.free[order][:n-1]
		return idx
	}
	parent := phys.allocOrder(order + 1)
	if parent == -1 {
		return -1
	}
	buddy := parent + (1 << uint(order))
	phys.free[order] = append(phys.free[order], buddy)
	return parent
}

// freeOrder returns block idx of the given order, merging with its buddy
// while possible. Callers must hold phys.Mutex.
func (phys *Physmem_t) freeOrder(idx, order int) {
	for order < maxOrder {
		buddy := idx ^ (1 << uint(order))
		merged := false
		list := phys.free[order]
		for i, b := range list {
			if b == buddy {
				phys.free[order] = append(list[:i], list[i+1:]...)
				if buddy < idx {
					idx = buddy
				}
				order++
				merged = true
				break
			}
		}
		if !merged {
			break
		}
	}
	phys.free[order] = append(phys.free[order], idx)
}

func (phys *Physmem_t) zero(idx, npages int) {
	off := idx * PGSIZE
	sl := phys.arena[off : off+npages*PGSIZE]
	for i := range sl {
		sl[i] = 0
	}
}

func (phys *Physmem_t) bytesAt(idx, npages int) []byte {
	off := idx * PGSIZE
	return phys.arena[off : off+npages*PGSIZE]
}

// Frame is a uniquely owned handle to one physical page. Its content is
// guaranteed zeroed at allocation time. A Frame must be released with
// Free exactly once; a finalizer panics loudly if one is garbage
// collected while still outstanding, since a silent leak would violate
// the single-owner invariant spec §8 requires be testable.
type Frame struct {
	pa    Pa_t
	freed bool
}

// Pa returns the frame's physical address.
func (f *Frame) Pa() Pa_t { return f.pa }

// Bytes exposes the page contents for reading or writing.
func (f *Frame) Bytes() []byte {
	if f.freed {
		panic("use after free of a Frame")
	}
	idx := f.pa.Ppn() - Physmem.basePPN
	return Physmem.bytesAt(idx, 1)
}

// Free returns the frame to the allocator. The backing page is not
// rezeroed until the next Alloc, matching the teacher's lazy-zero-on-
// allocation discipline.
func (f *Frame) Free() {
	if f.freed {
		panic("double free of a Frame")
	}
	f.freed = true
	phys := Physmem
	phys.Lock()
	idx := f.pa.Ppn() - phys.basePPN
	phys.freeOrder(idx, 0)
	phys.Unlock()
	runtime.SetFinalizer(f, nil)
}

// ContiguousFrames owns n consecutive physical pages with the same
// uniqueness guarantee as Frame (spec §4.1 alloc_contiguous, used for
// DMA-visible buffers such as the block device's request/response ring).
type ContiguousFrames struct {
	pa    Pa_t
	n     int
	order int
	freed bool
}

// Pa returns the base physical address of the region.
func (c *ContiguousFrames) Pa() Pa_t { return c.pa }

// Len returns the number of pages in the region.
func (c *ContiguousFrames) Len() int { return c.n }

// Bytes exposes the whole region's contents.
func (c *ContiguousFrames) Bytes() []byte {
	if c.freed {
		panic("use after free of ContiguousFrames")
	}
	idx := c.pa.Ppn() - Physmem.basePPN
	return Physmem.bytesAt(idx, 1<<uint(c.order))
}

// Free returns the region to the allocator.
func (c *ContiguousFrames) Free() {
	if c.freed {
		panic("double free of ContiguousFrames")
	}
	c.freed = true
	phys := Physmem
	phys.Lock()
	idx := c.pa.Ppn() - phys.basePPN
	phys.freeOrder(idx, c.order)
	phys.Unlock()
	runtime.SetFinalizer(c, nil)
}

func finalizeFrame(f *Frame) {
	if !f.freed {
		panic("Frame garbage collected without being freed: leaked physical page")
	}
}

// Alloc hands out one zeroed, page-aligned frame, panicking on
// exhaustion. Use AllocNoBlock on a path that must degrade gracefully
// (spec §7: the executor's blocking-future path, not an interrupt
// handler, is the only place frame exhaustion may legitimately wait).
func (phys *Physmem_t) Alloc() *Frame {
	f, ok := phys.AllocNoBlock()
	if !ok {
		panic("out of physical memory")
	}
	return f
}

// AllocNoBlock is the fallible frame allocation entry point (spec §4.1,
// §7): it never blocks and reports false instead of panicking on
// exhaustion, notifying oommsg.OomCh's listener rather than stalling the
// caller.
func (phys *Physmem_t) AllocNoBlock() (*Frame, bool) {
	phys.Lock()
	idx := phys.allocOrder(0)
	if idx == -1 {
		phys.Unlock()
		select {
		case oommsg.OomCh <- oommsg.Oommsg_t{Need: 1, Resume: make(chan bool, 1)}:
		default:
		}
		return nil, false
	}
	phys.zero(idx, 1)
	phys.Unlock()
	f := &Frame{pa: Pa_t(idx+phys.basePPN) << PGSHIFT}
	runtime.SetFinalizer(f, finalizeFrame)
	return f, true
}

// AllocContiguous hands out n consecutive zeroed frames, or panics if the
// allocator cannot satisfy the request.
func (phys *Physmem_t) AllocContiguous(n int) *ContiguousFrames {
	c, ok := phys.AllocContiguousNoBlock(n)
	if !ok {
		panic("out of physical memory for contiguous allocation")
	}
	return c
}

// AllocContiguousNoBlock is the fallible counterpart of AllocContiguous.
func (phys *Physmem_t) AllocContiguousNoBlock(n int) (*ContiguousFrames, bool) {
	if n <= 0 {
		panic("bad contiguous frame count")
	}
	order := order4n(n)
	phys.Lock()
	idx := phys.allocOrder(order)
	if idx == -1 {
		phys.Unlock()
		return nil, false
	}
	phys.zero(idx, 1<<uint(order))
	phys.Unlock()
	c := &ContiguousFrames{pa: Pa_t(idx+phys.basePPN) << PGSHIFT, n: n, order: order}
	runtime.SetFinalizer(c, func(c *ContiguousFrames) {
		if !c.freed {
			panic("ContiguousFrames garbage collected without being freed")
		}
	})
	return c, true
}

// FreePages reports the number of pages currently available, for the
// procfs meminfo file (spec §4.7).
func (phys *Physmem_t) FreePages() int {
	phys.Lock()
	defer phys.Unlock()
	n := 0
	for order, list := range phys.free {
		n += len(list) << uint(order)
	}
	return n
}

// TotalPages reports the total number of page frames under management.
func (phys *Physmem_t) TotalPages() int {
	return len(phys.arena) / PGSIZE
}

// BytesAt returns a byte slice view starting at physical address pa, the
// simulated equivalent of the teacher's Physmem.Dmap direct map.
func (phys *Physmem_t) BytesAt(pa Pa_t) []byte {
	idx := pa.Ppn() - phys.basePPN
	off := idx*PGSIZE + int(pa&PGOFFSET)
	return phys.arena[off:]
}
