// Package proc implements the process/thread model (spec §4.6): process
// creation from an ELF image, fork/exec/wait4, thread exit-and-reap, the
// per-process fd table and signal-disposition table, and POSIX-like
// signal delivery. The teacher's own biscuit/src/proc/ directory never
// grew past its go.mod stub in the retrieval pack, so this package has
// no teacher file to adapt; it is grounded on original_source's
// crates/kernel/src/process/{mod,manager}.rs, thread/mod.rs and
// signal/mod.rs, reshaped around this port's goroutine-per-thread
// executor (spec §4.5) and the existing fd/fd.go, vm/as.go, accnt/accnt.go
// and limits/limits.go types rather than re-deriving them.
//
// This package never imports rvkernel/syscall: the per-thread trap-
// dispatch loop that drives a Thread's Trap context lives in that
// package instead, which imports proc one-directionally — the same
// callback-inversion discipline executor.go's own doc comment describes
// for BlockingFuture/BlockingStatus.
package proc

import (
	"sync"

	"rvkernel/accnt"
	"rvkernel/defs"
	"rvkernel/executor"
	"rvkernel/fd"
	"rvkernel/fdops"
	"rvkernel/limits"
	"rvkernel/trap"
	"rvkernel/ustr"
	"rvkernel/vfs"
	"rvkernel/vm"
)

// User stack placement: UserStackPages pages ending at UserStackTop, one
// page below the ceiling trap.CheckSpan enforces (LowAddressEnd). The
// page between UserStackTop and LowAddressEnd stays unmapped; no guard
// page is reserved below the stack's lowest page.
const (
	UserStackTop   = trap.LowAddressEnd - 0x1000
	UserStackPages = 8
)

// procState is a process's coarse lifecycle state (spec §3's Process
// status: Normal | Exited | Zombie collapsed to "alive" vs "zombie",
// since nothing in this port distinguishes a reaped Exited process from
// a Zombie one — both wait for a parent's wait4).
type procState int

const (
	StateNormal procState = iota
	StateZombie
)

// Process is one process's kernel-visible state (spec §4.6's data
// model): pid, lifecycle state, parent/children tree, cwd, address
// space, fd table, signal-disposition table, tid allocator and live
// thread set, and accounted CPU time.
type Process struct {
	Pid  defs.Pid_t
	mgr  *Manager
	Root *vfs.Dentry

	mu       sync.Mutex
	state    procState
	exitCode int8
	parent   *Process
	children []*Process
	waiters  []func() // woken when one of this process's children becomes a zombie

	Cwd *fd.Cwd_t
	AS  *vm.AddressSpace_t

	fdmu sync.Mutex
	fds  map[int]*fd.Fd_t

	sigmu       sync.Mutex
	sigHandlers [NSIG + 1]SigAction

	tids    *idAllocator
	threads map[defs.Tid_t]*Thread

	Accnt accnt.Accnt_t

	brk       uintptr
	heapPages int
	mmapNext  uintptr
}

// HeapBase and MmapBase carve the low address space (spec §6's linker
// map) into fixed regions: the brk-managed heap grows up from HeapBase,
// anonymous mmap allocations grow up from MmapBase.
const (
	HeapBase = 0x10_0000_0000
	MmapBase = 0x20_0000_0000
)

// Manager is the process-wide pid table and live-process-count limiter
// (spec §4.6, limits.Syslimit.Sysprocs).
type Manager struct {
	mu    sync.Mutex
	procs map[defs.Pid_t]*Process
}

// NewManager allocates an empty process table.
func NewManager() *Manager {
	return &Manager{procs: make(map[defs.Pid_t]*Process)}
}

func (m *Manager) tryAdd(p *Process) defs.Err_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.procs) >= limits.Syslimit.Sysprocs {
		return -defs.EAGAIN
	}
	m.procs[p.Pid] = p
	return 0
}

func (m *Manager) remove(pid defs.Pid_t) {
	m.mu.Lock()
	delete(m.procs, pid)
	m.mu.Unlock()
}

// Get looks up a live process by pid.
func (m *Manager) Get(pid defs.Pid_t) (*Process, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[pid]
	return p, ok
}

// InitProc returns pid 1, the process every orphan is reparented to.
// kernel.Boot is expected to have registered it before any fork runs.
func (m *Manager) InitProc() *Process {
	p, ok := m.Get(1)
	if !ok {
		panic("initproc missing from process table")
	}
	return p
}

func (m *Manager) initProcOrNil() *Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.procs[1]
}

func newProcess(mgr *Manager, root *vfs.Dentry) *Process {
	return &Process{
		mgr:     mgr,
		Root:    root,
		fds:     make(map[int]*fd.Fd_t),
		tids:    newIDAllocator(0),
		threads: make(map[defs.Tid_t]*Thread),
	}
}

// FromPath loads the executable at path (resolved against root) into a
// freshly created process with one main thread (tid 0), the kernel boot
// sequence's entry point for spawning init (spec §2/§4.3).
func FromPath(mgr *Manager, root *vfs.Dentry, path string, argv []string) (*Process, *Thread, defs.Err_t) {
	d, err := vfs.Resolve(root, root, ustr.Ustr(path))
	if err != 0 {
		return nil, nil, err
	}
	img, entry, loadErr := loadImage(d)
	if loadErr != 0 {
		return nil, nil, loadErr
	}

	as := vm.EmptyUser()
	for _, seg := range img.Segments {
		if e := as.LoadElfSections(seg.Start, seg.Npages, seg.Perms, seg.Data); e != 0 {
			return nil, nil, e
		}
	}
	if len(argv) == 0 {
		argv = []string{path}
	}
	sp, e := buildStack(as, argv, nil)
	if e != 0 {
		return nil, nil, e
	}

	p := newProcess(mgr, root)
	p.AS = as
	p.Pid = defs.Pid_t(PidAlloc())
	rootDir, derr := vfs.OpenDir(root)
	if derr != 0 {
		PidFree(int(p.Pid))
		return nil, nil, derr
	}
	p.Cwd = fd.MkRootCwd(&fd.Fd_t{Fops: rootDir, Perms: fd.FD_READ})

	if err := mgr.tryAdd(p); err != 0 {
		PidFree(int(p.Pid))
		return nil, nil, err
	}

	tid := defs.Tid_t(TidAlloc(p))
	th := newThread(tid, p, trap.AppInitContext(uint64(entry), uint64(sp)))
	p.threads[tid] = th
	return p, th, 0
}

func loadImage(d *vfs.Dentry) (*Image, uintptr, defs.Err_t) {
	b, ok := d.Inode.(vfs.BytesOps)
	if !ok {
		return nil, 0, -defs.EACCES
	}
	data := make([]byte, b.Meta().Size())
	if _, rerr := b.ReadAt(data, 0); rerr != 0 {
		return nil, 0, rerr
	}
	img, perr := LoadELF(data)
	if perr != 0 {
		return nil, 0, perr
	}
	return img, img.Entry, 0
}

func buildStack(as *vm.AddressSpace_t, argv, envp []string) (uintptr, defs.Err_t) {
	top, err := as.InitStack(UserStackTop, UserStackPages)
	if err != 0 {
		return 0, err
	}
	return pushInitStack(as, top, argv, envp)
}

// CwdDentry resolves the process's current working directory back to a
// Dentry by way of its open directory fd (spec §4.7's path resolution
// needs a starting Dentry, not just the fd.Cwd_t's cached path string).
func (p *Process) CwdDentry() *vfs.Dentry {
	if p.Cwd != nil && p.Cwd.Fd != nil {
		if di, ok := p.Cwd.Fd.Fops.Pathi(); ok {
			if d, ok2 := di.(*vfs.Dentry); ok2 {
				return d
			}
		}
	}
	return p.Root
}

// Fork creates a child process: a deep-copied address space (spec Open
// Questions: no COW), a duplicated fd table and signal-disposition
// table, and one thread whose trap context is the parent thread's, with
// a0 zeroed for the child's return value (spec §4.6).
func (p *Process) Fork(parent *Thread) (*Process, *Thread, defs.Err_t) {
	p.mu.Lock()
	alive := p.state == StateNormal
	p.mu.Unlock()
	if !alive {
		return nil, nil, -defs.ESRCH
	}

	childAS := vm.FromOther(p.AS)
	child := newProcess(p.mgr, p.Root)
	child.Pid = defs.Pid_t(PidAlloc())
	child.AS = childAS
	child.parent = p

	childCwdFd, cerr := fd.Copyfd(p.Cwd.Fd)
	if cerr != 0 {
		childAS.RecycleUserPages()
		PidFree(int(child.Pid))
		return nil, nil, cerr
	}
	child.Cwd = &fd.Cwd_t{Fd: childCwdFd, Path: append(ustr.Ustr{}, p.Cwd.Path...)}

	if err := p.mgr.tryAdd(child); err != 0 {
		fd.Close_panic(childCwdFd)
		childAS.RecycleUserPages()
		PidFree(int(child.Pid))
		return nil, nil, err
	}

	p.fdmu.Lock()
	for fdn, f := range p.fds {
		if !limits.Syslimit.Openfiles.Take() {
			continue
		}
		nf, derr := fd.Copyfd(f)
		if derr != 0 {
			limits.Syslimit.Openfiles.Give()
			continue
		}
		child.fds[fdn] = nf
	}
	p.fdmu.Unlock()

	p.sigmu.Lock()
	child.sigHandlers = p.sigHandlers
	p.sigmu.Unlock()

	childTid := defs.Tid_t(TidAlloc(child))
	childTrap := parent.Trap.Clone()
	childTrap.SetA0(0)
	childThread := newThread(childTid, child, childTrap)
	childThread.sigMask = parent.Mask()
	child.threads[childTid] = childThread

	p.mu.Lock()
	p.children = append(p.children, child)
	p.mu.Unlock()

	return child, childThread, 0
}

// Exec replaces p's address space and main trap context in place with
// path's image (spec §4.6). O_CLOEXEC fds are closed first; signal
// dispositions other than SIG_IGN reset to SIG_DFL, matching POSIX
// exec(3).
func (p *Process) Exec(path string, argv, envp []string) (*trap.Context, defs.Err_t) {
	start := p.CwdDentry()
	d, err := vfs.Resolve(p.Root, start, ustr.Ustr(path))
	if err != 0 {
		return nil, err
	}
	img, entry, loadErr := loadImage(d)
	if loadErr != 0 {
		return nil, loadErr
	}
	newAS := vm.EmptyUser()
	for _, seg := range img.Segments {
		if e := newAS.LoadElfSections(seg.Start, seg.Npages, seg.Perms, seg.Data); e != 0 {
			return nil, e
		}
	}
	if len(argv) == 0 {
		argv = []string{path}
	}
	sp, e := buildStack(newAS, argv, envp)
	if e != 0 {
		return nil, e
	}

	p.fdmu.Lock()
	for fdn, f := range p.fds {
		if f.Perms&fd.FD_CLOEXEC != 0 {
			fd.Close_panic(f)
			limits.Syslimit.Openfiles.Give()
			delete(p.fds, fdn)
		}
	}
	p.fdmu.Unlock()

	p.mu.Lock()
	oldAS := p.AS
	p.AS = newAS
	p.mu.Unlock()
	oldAS.RecycleUserPages()

	p.sigmu.Lock()
	for i := range p.sigHandlers {
		if p.sigHandlers[i].Handler != SigIgn {
			p.sigHandlers[i] = SigAction{}
		}
	}
	p.sigmu.Unlock()

	return trap.AppInitContext(uint64(entry), uint64(sp)), 0
}

// ExitThread retires one of p's threads; once the last thread is gone
// the process itself transitions to Zombie (spec §4.6: "when the last
// thread exits, the process... becomes a zombie awaiting reap").
func (p *Process) ExitThread(t *Thread, code int8) {
	t.SetExitCode(code)
	t.SetAlive(false)
	p.mu.Lock()
	delete(p.threads, t.Tid)
	remaining := len(p.threads)
	p.mu.Unlock()
	TidFree(p, int(t.Tid))
	if remaining == 0 {
		p.exitProcess(code)
	}
}

// exitProcess tears down p's address space, reparents its children to
// init, and wakes a parent blocked in Wait4 — shared by a normal
// last-thread exit and a fatal signal (spec §4.6).
func (p *Process) exitProcess(code int8) {
	p.mu.Lock()
	if p.state == StateZombie {
		p.mu.Unlock()
		return
	}
	p.state = StateZombie
	p.exitCode = code
	for _, t := range p.threads {
		t.Kill(true)
		t.SetAlive(false)
	}
	p.threads = make(map[defs.Tid_t]*Thread)
	kids := p.children
	p.children = nil
	parent := p.parent
	p.mu.Unlock()

	if p.AS != nil {
		p.AS.RecycleUserPages()
	}

	init := p.mgr.initProcOrNil()
	for _, c := range kids {
		c.mu.Lock()
		c.parent = init
		c.mu.Unlock()
		if init != nil {
			init.mu.Lock()
			init.children = append(init.children, c)
			init.mu.Unlock()
		}
	}

	if parent != nil {
		parent.mu.Lock()
		ws := parent.waiters
		parent.waiters = nil
		parent.mu.Unlock()
		for _, w := range ws {
			w()
		}
		parent.Signal(SIGCHLD)
	}
}

// ExitGroup tears the whole process down immediately with code,
// regardless of how many threads remain alive — exit_group(2)'s
// contract, as opposed to ExitThread's single-thread bookkeeping.
func (p *Process) ExitGroup(code int8) {
	p.mu.Lock()
	threads := make([]*Thread, 0, len(p.threads))
	for _, t := range p.threads {
		threads = append(threads, t)
	}
	p.mu.Unlock()
	for _, t := range threads {
		t.SetExitCode(code)
		t.SetAlive(false)
	}
	p.exitProcess(code)
}

func encodeWaitStatus(code int8) int32 {
	if code < 0 {
		return int32(-code) & 0x7f
	}
	return (int32(code) & 0xff) << 8
}

// Wait4 implements wait4(2)'s core loop: reap a zombie child matching
// pid (-1 for any), or park on y until one appears, returning the
// reaped child's pid, an encoded wait status, and its rusage bytes
// (spec §4.6/§6). A nil y makes this call non-blocking regardless of
// options, for callers (tests, WNOHANG fast paths) with no task context.
func (p *Process) Wait4(y *executor.Yielder, pid defs.Pid_t, options int) (defs.Pid_t, int32, []byte, defs.Err_t) {
	for {
		p.mu.Lock()
		idx := -1
		for i, c := range p.children {
			c.mu.Lock()
			match := pid == -1 || c.Pid == pid
			isZombie := c.state == StateZombie
			c.mu.Unlock()
			if match && isZombie {
				idx = i
				break
			}
		}
		if idx >= 0 {
			child := p.children[idx]
			p.children = append(p.children[:idx], p.children[idx+1:]...)
			p.mu.Unlock()

			child.mu.Lock()
			code := child.exitCode
			child.mu.Unlock()
			ru := child.Accnt.Fetch()
			p.Accnt.Add(&child.Accnt)
			p.mgr.remove(child.Pid)
			PidFree(int(child.Pid))
			return child.Pid, encodeWaitStatus(code), ru, 0
		}

		anyMatch := false
		for _, c := range p.children {
			if pid == -1 || c.Pid == pid {
				anyMatch = true
				break
			}
		}
		if !anyMatch {
			p.mu.Unlock()
			return 0, 0, nil, -defs.ECHILD
		}
		if options&defs.WNOHANG != 0 {
			p.mu.Unlock()
			return 0, 0, nil, 0
		}
		if y == nil {
			p.mu.Unlock()
			return 0, 0, nil, -defs.EAGAIN
		}
		ready := make(chan struct{}, 1)
		p.waiters = append(p.waiters, func() {
			select {
			case ready <- struct{}{}:
			default:
			}
		})
		p.mu.Unlock()
		y.YieldNow()
		select {
		case <-ready:
		default:
		}
	}
}

// State returns the process's lifecycle state and, once zombie, its
// exit code.
func (p *Process) State() (procState, int8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.exitCode
}

// ParentPid returns p's parent's pid, or 0 if p is init or already
// reparented to a gone init (getppid(2)'s contract).
func (p *Process) ParentPid() defs.Pid_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parent == nil {
		return 0
	}
	return p.parent.Pid
}

// Thread looks up one of p's live threads by tid.
func (p *Process) Thread(tid defs.Tid_t) (*Thread, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.threads[tid]
	return t, ok
}

// AllocFd installs fops as a new open-file-table entry at the lowest
// free descriptor number, consulting limits.Syslimit.Openfiles (spec
// §4.6/§7's resource-exhaustion class).
func (p *Process) AllocFd(fops fdops.Fdops_i, perms int) (int, defs.Err_t) {
	if !limits.Syslimit.Openfiles.Take() {
		return -1, -defs.EMFILE
	}
	p.fdmu.Lock()
	defer p.fdmu.Unlock()
	n := 0
	for {
		if _, used := p.fds[n]; !used {
			break
		}
		n++
	}
	p.fds[n] = &fd.Fd_t{Fops: fops, Perms: perms}
	return n, 0
}

// GetFd looks up an open descriptor by number.
func (p *Process) GetFd(n int) (*fd.Fd_t, defs.Err_t) {
	p.fdmu.Lock()
	defer p.fdmu.Unlock()
	f, ok := p.fds[n]
	if !ok {
		return nil, -defs.EBADF
	}
	return f, 0
}

// CloseFd closes and releases descriptor n, giving its slot back to
// limits.Syslimit.Openfiles.
func (p *Process) CloseFd(n int) defs.Err_t {
	p.fdmu.Lock()
	f, ok := p.fds[n]
	if !ok {
		p.fdmu.Unlock()
		return -defs.EBADF
	}
	delete(p.fds, n)
	p.fdmu.Unlock()
	err := f.Fops.Close()
	limits.Syslimit.Openfiles.Give()
	return err
}

// DupFdTo installs a duplicate of descriptor oldn at newn, closing
// whatever newn previously held first — dup2/dup3's "atomic" target-slot
// semantics (spec §6), which the bare fds map can't express from outside
// this package. Only a newn that wasn't already open counts against
// limits.Syslimit.Openfiles; replacing an existing slot is a wash.
func (p *Process) DupFdTo(oldn, newn int) defs.Err_t {
	p.fdmu.Lock()
	old, ok := p.fds[oldn]
	if !ok {
		p.fdmu.Unlock()
		return -defs.EBADF
	}
	if oldn == newn {
		p.fdmu.Unlock()
		return 0
	}
	prev, had := p.fds[newn]
	if !had && !limits.Syslimit.Openfiles.Take() {
		p.fdmu.Unlock()
		return -defs.EMFILE
	}
	dup, err := fd.Copyfd(old)
	if err != 0 {
		p.fdmu.Unlock()
		if !had {
			limits.Syslimit.Openfiles.Give()
		}
		return err
	}
	p.fds[newn] = dup
	p.fdmu.Unlock()
	if had {
		fd.Close_panic(prev)
	}
	return 0
}

// SigAction returns p's current disposition for sig.
func (p *Process) SigAction(sig int) SigAction {
	p.sigmu.Lock()
	defer p.sigmu.Unlock()
	return p.sigHandlers[sig]
}

// SetSigAction installs act as p's disposition for sig and returns the
// previous one, the shape rt_sigaction's oldact output parameter needs.
func (p *Process) SetSigAction(sig int, act SigAction) SigAction {
	p.sigmu.Lock()
	defer p.sigmu.Unlock()
	old := p.sigHandlers[sig]
	p.sigHandlers[sig] = act
	return old
}

// Signal delivers sig to p: SIG_IGN drops it, a fatal default or
// SIGKILL terminates the process outright, otherwise it is queued
// pending against a thread that does not currently block it (spec
// §4.6).
func (p *Process) Signal(sig int) defs.Err_t {
	if sig < 1 || sig > NSIG {
		return -defs.EINVAL
	}
	act := p.SigAction(sig)
	if sig != SIGKILL && act.Handler == SigIgn {
		return 0
	}
	if sig == SIGKILL || (act.Handler == SigDfl && defaultFatal(sig)) {
		p.exitProcess(int8(-sig))
		return 0
	}
	p.mu.Lock()
	var target *Thread
	for _, t := range p.threads {
		if !t.maskHas(sig) {
			target = t
			break
		}
	}
	if target == nil {
		for _, t := range p.threads {
			target = t
			break
		}
	}
	p.mu.Unlock()
	if target == nil {
		return -defs.ESRCH
	}
	target.pend(sig)
	return 0
}

// Brk reports or grows the heap's program break (spec §6's brk). Passing
// 0 reports the current break. Shrinking only updates the bookkeeping
// value; pages already committed stay mapped, the same conservative
// choice original_source's set_user_brk leaves for a later pass (its own
// comment calls the unmap-on-shrink direction unimplemented).
func (p *Process) Brk(newbrk uintptr) (uintptr, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.brk == 0 {
		p.brk = HeapBase
	}
	if newbrk == 0 || newbrk <= p.brk {
		if newbrk != 0 {
			p.brk = newbrk
		}
		return p.brk, 0
	}
	totalPages := int((vm.PageOf(newbrk-1)-HeapBase)/uintptr(vm.PGSIZE)) + 1
	if totalPages > p.heapPages {
		extra := totalPages - p.heapPages
		start := uintptr(HeapBase + p.heapPages*vm.PGSIZE)
		if _, err := p.AS.TryMap(start, extra, vm.PTE_R|vm.PTE_W, vm.AreaHeap); err != 0 {
			return p.brk, err
		}
		p.heapPages = totalPages
	}
	p.brk = newbrk
	return p.brk, 0
}

// Mmap installs an anonymous private mapping (spec §8 scenario 2); the
// shared and file-backed forms original_source's sys_mmap stubs out with
// `todo!` are reported Unsupported here instead of panicking the kernel,
// per spec §7's "partially implemented paths" sentinel.
func (p *Process) Mmap(addr uintptr, length int, perms vm.Pte, flags int) (uintptr, defs.Err_t) {
	if length <= 0 {
		return 0, -defs.EINVAL
	}
	if flags&defs.MAP_ANON == 0 || flags&defs.MAP_SHARED != 0 {
		return 0, defs.Unsupported
	}
	npages := (length + vm.PGSIZE - 1) / vm.PGSIZE

	p.mu.Lock()
	if p.mmapNext == 0 {
		p.mmapNext = MmapBase
	}
	start := p.mmapNext
	if addr != 0 && flags&defs.MAP_FIXED != 0 {
		start = vm.PageOf(addr)
	}
	p.mu.Unlock()

	if _, err := p.AS.TryMap(start, npages, perms|vm.PTE_U, vm.AreaMmap); err != 0 {
		return 0, err
	}

	p.mu.Lock()
	if start+uintptr(npages*vm.PGSIZE) > p.mmapNext {
		p.mmapNext = start + uintptr(npages*vm.PGSIZE)
	}
	p.mu.Unlock()
	return start, 0
}

// Munmap tears down the mapping starting at addr (spec §8 scenario 2:
// "subsequent load faults the process"). Like the teacher's Unmap, it
// only recognizes an exact area start, not arbitrary sub-ranges.
func (p *Process) Munmap(addr uintptr, length int) defs.Err_t {
	if addr&uintptr(vm.PGSIZE-1) != 0 || length == 0 {
		return -defs.EINVAL
	}
	return p.AS.Unmap(addr)
}
