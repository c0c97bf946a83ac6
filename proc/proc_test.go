package proc

import (
	"testing"

	"rvkernel/defs"
	"rvkernel/fdops"
	"rvkernel/mem"
	"rvkernel/stat"
	"rvkernel/tmpfs"
	"rvkernel/vfs"
)

func setupRoot(t *testing.T) *vfs.Dentry {
	t.Helper()
	mem.Phys_init(0, 4096)
	dir := tmpfs.NewDir(0o755)
	root := vfs.NewRoot(dir)
	f := tmpfs.NewFile(0o755)
	code := []byte{0x13, 0x00, 0x00, 0x00}
	if _, err := f.WriteAt(buildMinimalELF(0x10000, code), 0); err != 0 {
		t.Fatalf("WriteAt: %v", err)
	}
	dir.Install("init", f)
	return root
}

func TestFromPathBuildsRunnableMainThread(t *testing.T) {
	root := setupRoot(t)
	mgr := NewManager()
	p, th, err := FromPath(mgr, root, "init", nil)
	if err != 0 {
		t.Fatalf("FromPath: %v", err)
	}
	if p.Pid != 1 {
		t.Fatalf("Pid = %d, want 1 (first allocated)", p.Pid)
	}
	if th.Trap.Sepc != 0x10000 {
		t.Fatalf("Sepc = %#x, want 0x10000", th.Trap.Sepc)
	}
	if th.Trap.Sp() == 0 || th.Trap.Sp() > UserStackTop {
		t.Fatalf("Sp() = %#x, want a nonzero address below UserStackTop", th.Trap.Sp())
	}
	if _, ok := mgr.Get(p.Pid); !ok {
		t.Fatal("process not registered in manager")
	}
}

func TestForkGivesChildIndependentAddressSpaceAndFdTable(t *testing.T) {
	root := setupRoot(t)
	mgr := NewManager()
	p, th, err := FromPath(mgr, root, "init", nil)
	if err != 0 {
		t.Fatalf("FromPath: %v", err)
	}
	if _, ferr := p.AllocFd(&nullFd{}, 0); ferr != 0 {
		t.Fatalf("AllocFd: %v", ferr)
	}

	child, childThread, ferr := p.Fork(th)
	if ferr != 0 {
		t.Fatalf("Fork: %v", ferr)
	}
	if child.Pid == p.Pid {
		t.Fatal("child shares parent's pid")
	}
	if childThread.Trap.A0() != 0 {
		t.Fatalf("child A0 = %d, want 0", childThread.Trap.A0())
	}
	if len(child.fds) != len(p.fds) {
		t.Fatalf("child fd count = %d, want %d", len(child.fds), len(p.fds))
	}
	if child.AS == p.AS {
		t.Fatal("child shares parent's address space pointer")
	}

	p.mu.Lock()
	nkids := len(p.children)
	p.mu.Unlock()
	if nkids != 1 {
		t.Fatalf("parent children = %d, want 1", nkids)
	}
}

func TestWait4ReapsZombieChildAndReportsExitCode(t *testing.T) {
	root := setupRoot(t)
	mgr := NewManager()
	p, th, err := FromPath(mgr, root, "init", nil)
	if err != 0 {
		t.Fatalf("FromPath: %v", err)
	}
	child, childThread, ferr := p.Fork(th)
	if ferr != 0 {
		t.Fatalf("Fork: %v", ferr)
	}
	child.ExitThread(childThread, 7)

	pid, status, _, werr := p.Wait4(nil, -1, defs.WNOHANG)
	if werr != 0 {
		t.Fatalf("Wait4: %v", werr)
	}
	if pid != child.Pid {
		t.Fatalf("reaped pid = %d, want %d", pid, child.Pid)
	}
	if status>>8 != 7 {
		t.Fatalf("status = %#x, want exit code 7 in high byte", status)
	}
	if _, ok := mgr.Get(child.Pid); ok {
		t.Fatal("reaped child still registered in manager")
	}
}

func TestWait4ReturnsEAGAINWithoutYielderWhenNoZombieYet(t *testing.T) {
	root := setupRoot(t)
	mgr := NewManager()
	p, th, err := FromPath(mgr, root, "init", nil)
	if err != 0 {
		t.Fatalf("FromPath: %v", err)
	}
	if _, _, ferr := p.Fork(th); ferr != 0 {
		t.Fatalf("Fork: %v", ferr)
	}
	if _, _, _, werr := p.Wait4(nil, -1, 0); werr != -defs.EAGAIN {
		t.Fatalf("Wait4 = %v, want EAGAIN", werr)
	}
}

func TestSignalDefaultFatalTerminatesProcess(t *testing.T) {
	root := setupRoot(t)
	mgr := NewManager()
	p, _, err := FromPath(mgr, root, "init", nil)
	if err != 0 {
		t.Fatalf("FromPath: %v", err)
	}
	if serr := p.Signal(SIGTERM); serr != 0 {
		t.Fatalf("Signal: %v", serr)
	}
	state, code := p.State()
	if state != StateZombie {
		t.Fatalf("state = %v, want StateZombie", state)
	}
	if code != -SIGTERM {
		t.Fatalf("exit code = %d, want %d", code, -SIGTERM)
	}
}

func TestSignalIgnoredDispositionDropsSignal(t *testing.T) {
	root := setupRoot(t)
	mgr := NewManager()
	p, _, err := FromPath(mgr, root, "init", nil)
	if err != 0 {
		t.Fatalf("FromPath: %v", err)
	}
	p.SetSigAction(SIGTERM, SigAction{Handler: SigIgn})
	if serr := p.Signal(SIGTERM); serr != 0 {
		t.Fatalf("Signal: %v", serr)
	}
	state, _ := p.State()
	if state != StateNormal {
		t.Fatalf("state = %v, want StateNormal (signal should have been ignored)", state)
	}
}

func TestPipeReadWriteRoundTrip(t *testing.T) {
	p, err := NewPipe()
	if err != 0 {
		t.Fatalf("NewPipe: %v", err)
	}
	if n, werr := p.Write(nil, []byte("hello")); werr != 0 || n != 5 {
		t.Fatalf("Write = (%d, %v)", n, werr)
	}
	buf := make([]byte, 5)
	n, rerr := p.Read(nil, buf)
	if rerr != 0 || n != 5 || string(buf) != "hello" {
		t.Fatalf("Read = (%d, %q, %v)", n, buf, rerr)
	}
}

func TestPipeReadReturnsEOFAfterWriterCloses(t *testing.T) {
	rend, wend, err := NewPipeEnds()
	if err != 0 {
		t.Fatalf("NewPipeEnds: %v", err)
	}
	if cerr := wend.Close(); cerr != 0 {
		t.Fatalf("Close: %v", cerr)
	}
	n, rerr := rend.pipe.Read(nil, make([]byte, 4))
	if rerr != 0 || n != 0 {
		t.Fatalf("Read after writer close = (%d, %v), want (0, 0)", n, rerr)
	}
}

// nullFd is a minimal fdops.Fdops_i used only to exercise AllocFd/Fork's
// fd-table duplication without pulling in a real backend.
type nullFd struct{}

var _ fdops.Fdops_i = (*nullFd)(nil)

func (n *nullFd) Read(ub fdops.Userbuf_i) (int, defs.Err_t)  { return 0, 0 }
func (n *nullFd) Write(ub fdops.Userbuf_i) (int, defs.Err_t) { return 0, 0 }
func (n *nullFd) Fstat(st *stat.Stat_t) defs.Err_t           { return 0 }
func (n *nullFd) Lseek(off, whence int) (int, defs.Err_t)    { return 0, 0 }
func (n *nullFd) Close() defs.Err_t                          { return 0 }
func (n *nullFd) Reopen() defs.Err_t                         { return 0 }
func (n *nullFd) Pathi() (any, bool)                         { return nil, false }
