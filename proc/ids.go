package proc

import "sync"

// idAllocator hands out small, recycled non-negative integer ids. It is
// grounded on original_source's RecycleAllocator (crates/kernel/src/
// process/manager.rs): a free list is drained before the high-water mark
// is advanced, so pid/tid reuse stays bounded instead of climbing
// forever.
type idAllocator struct {
	mu   sync.Mutex
	next int
	free []int
}

func newIDAllocator(start int) *idAllocator {
	return &idAllocator{next: start}
}

func (a *idAllocator) alloc() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		return id
	}
	id := a.next
	a.next++
	return id
}

func (a *idAllocator) recycle(id int) {
	a.mu.Lock()
	a.free = append(a.free, id)
	a.mu.Unlock()
}

// pidAlloc is the single process-wide pid space, starting at 1 (pid 0 is
// never handed out, matching original_source).
var pidAlloc = newIDAllocator(1)

// PidAlloc allocates the next free pid. Named to match defs.go's own
// forward reference ("see proc.PidAlloc / proc.TidAlloc").
func PidAlloc() int { return pidAlloc.alloc() }

// PidFree returns pid to the free list once its Process has been reaped.
func PidFree(pid int) { pidAlloc.recycle(pid) }

// TidAlloc allocates the next free tid within p's own tid space (tids
// are scoped per-process, not global, matching original_source's
// per-process Tid_t counter).
func TidAlloc(p *Process) int { return p.tids.alloc() }

// TidFree returns tid to p's free list once the thread has been reaped.
func TidFree(p *Process, tid int) { p.tids.recycle(tid) }
