// Package kernel assembles every subsystem package into one bootable
// system and drives the per-hart idle loop, the control flow spec §2
// describes as "firmware -> primary hart entry -> zeroes BSS ->
// initializes heap -> initializes frame allocator -> builds kernel
// address space -> activates it -> spawns init process -> enters
// per-hart idle loop running the executor. Secondary harts ... wait on
// an atomic flag, activate the kernel address space, and join the
// executor loop." This process is a simulated hart (mem's own doc
// comment already frames physical memory as "the in-process analogue of
// the teacher's direct map"), so BSS zeroing and address-space
// activation are the Go runtime's and vm package's job respectively;
// what is left for Boot is everything spec §2 lists after "builds
// kernel address space": frame allocator, VFS tree, process table,
// executor/timer, syscall dispatcher and init.
package kernel

import (
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"rvkernel/blockdev"
	"rvkernel/devfs"
	"rvkernel/executor"
	"rvkernel/fat32"
	"rvkernel/klog"
	"rvkernel/mem"
	"rvkernel/proc"
	"rvkernel/procfs"
	"rvkernel/syscall"
	"rvkernel/tmpfs"
	"rvkernel/vfs"
)

// Config names everything Boot needs that a real firmware/bootloader
// would otherwise supply: the amount of simulated physical memory, the
// root filesystem's backing disk (nil boots an all-tmpfs root for
// disk-less configurations), the console UART, and init's path/argv.
type Config struct {
	Harts     int
	Memory    int // pages
	TaskLimit int
	Disk      blockdev.Device
	Console   devfs.UART
	Now       func() int64
	Init      string
	InitArgv  []string
}

// System is everything Boot wires together, kept around so cmd/kernel
// (or a test) can inspect it after boot and so Run knows what to drive.
type System struct {
	cfg        Config
	Mgr        *proc.Manager
	Mounts     *vfs.MountTable
	Ex         *executor.Executor
	Timer      *executor.TimerWheel
	Dispatch   *syscall.Dispatcher
	Root       *vfs.Dentry
	Procfs     *procfs.Root
	InitProc   *proc.Process
	InitThread *proc.Thread
}

// uartWriter adapts devfs.UART's byte-at-a-time Put into an io.Writer so
// klog can treat the console as its sink.
type uartWriter struct{ u devfs.UART }

func (w uartWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		w.u.Put(b)
	}
	return len(p), nil
}

var _ io.Writer = uartWriter{}

// mountOn creates name as a directory under parent (if it doesn't
// already exist) and mounts root over it, the pattern both /dev and
// /proc follow at boot.
func mountOn(mounts *vfs.MountTable, parent *vfs.Dentry, name string, root vfs.DirOps) error {
	dirops, ok := parent.Inode.(vfs.DirOps)
	if !ok {
		return fmt.Errorf("kernel: root inode is not a directory")
	}
	inode, err := dirops.Mkdir(name, 0o755)
	if err != 0 {
		return fmt.Errorf("kernel: mkdir /%s: %v", name, err)
	}
	mountpoint := parent.InsertChild(name, inode)
	if merr := mounts.Mount(mountpoint, vfs.NewRoot(root)); merr != 0 {
		return fmt.Errorf("kernel: mount /%s: %v", name, merr)
	}
	return nil
}

// Boot builds the frame allocator, the VFS tree (root fs, /dev, /proc),
// the process table, the executor/timer pair and the syscall dispatcher,
// then loads and registers init's main thread — spec §2's control flow
// from "initializes frame allocator" through "spawns init process".
func Boot(cfg Config) (*System, error) {
	klog.SetSink(uartWriter{cfg.Console})
	// cfg.Now reports Unix nanoseconds; inode timestamps, FAT directory
	// entries and /dev/rtc all take whole Unix seconds.
	nowSec := func() int64 { return cfg.Now() / 1_000_000_000 }
	vfs.SetClock(nowSec)
	mem.Phys_init(0, cfg.Memory)

	var root *vfs.Dentry
	if cfg.Disk != nil {
		_, fatRoot, err := fat32.Mount(cfg.Disk, nowSec)
		if err != nil {
			return nil, fmt.Errorf("kernel: mount root disk: %w", err)
		}
		root = vfs.NewRoot(fatRoot)
	} else {
		root = vfs.NewRoot(tmpfs.NewDir(0o755))
	}

	mounts := vfs.NewMountTable()
	devDir, _ := devfs.Build(cfg.Console, nowSec)
	if err := mountOn(mounts, root, "dev", devDir); err != nil {
		return nil, err
	}
	pfs := procfs.Build(mounts)
	if err := mountOn(mounts, root, "proc", pfs.Dir); err != nil {
		return nil, err
	}

	mgr := proc.NewManager()
	ex := executor.New(cfg.TaskLimit)
	timer := executor.NewTimerWheel()
	dispatcher := syscall.New(mgr, mounts, timer, ex, cfg.Now)

	initProc, initThread, ferr := proc.FromPath(mgr, root, cfg.Init, cfg.InitArgv)
	if ferr != 0 {
		return nil, fmt.Errorf("kernel: load init %q: %v", cfg.Init, ferr)
	}
	dispatcher.SpawnThread(initProc, initThread)

	klog.Errorf("kernel: booted, init pid=%d harts=%d\n", initProc.Pid, cfg.Harts)

	return &System{
		cfg: cfg, Mgr: mgr, Mounts: mounts, Ex: ex, Timer: timer,
		Dispatch: dispatcher, Root: root, Procfs: pfs,
		InitProc: initProc, InitThread: initThread,
	}, nil
}

// Run starts one goroutine per configured hart, each running the
// executor's idle loop, and blocks until every hart has shut down —
// spec §2's "secondary harts ... join the executor loop", generalized
// to cover the primary hart's own loop too since both are ordinary
// goroutines here. Shutdown is signalled once init's process has
// exited, mirroring a real kernel treating init's death as a reason to
// halt.
func (s *System) Run() error {
	var g errgroup.Group
	shouldShutdown := func() bool {
		_, alive := s.Mgr.Get(s.InitProc.Pid)
		return !alive
	}
	harts := s.cfg.Harts
	if harts < 1 {
		harts = 1
	}
	for i := 0; i < harts; i++ {
		g.Go(func() error {
			s.Ex.RunUntilIdle(shouldShutdown)
			return nil
		})
	}
	return g.Wait()
}
