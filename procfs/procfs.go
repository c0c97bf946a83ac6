// Package procfs builds a tmpfs directory pre-populated with the
// pseudo-files spec §4.7 and SPEC_FULL.md §4 name: "mounts" and
// "meminfo" (spec's minimum), plus the supplemented "/proc/<pid>/status"
// and "/proc/self/stack" files recovered from original_source's
// crates/kernel/src/fs/procfs/{mounts,meminfo}.rs and the kpanic
// postmortem addition (SPEC_FULL.md §2's "panics" ambient section).
// Every file here must be read whole-content in one call (spec §4.7).
package procfs

import (
	"bytes"
	"fmt"
	"sync"

	"rvkernel/defs"
	"rvkernel/kpanic"
	"rvkernel/mem"
	"rvkernel/tmpfs"
	"rvkernel/vfs"
)

// wholeFile is a read-only regular inode whose entire content is
// produced fresh by gen() on every read at offset 0 — "read must be
// whole-content in one call" (spec §4.7) means short reads at nonzero
// offsets into a still-changing buffer are not meaningful, so this type
// snapshots gen() once per open-ended call rather than caching it.
type wholeFile struct {
	meta vfs.Meta
	gen  func() []byte
}

var _ vfs.BytesOps = (*wholeFile)(nil)

func newWholeFile(gen func() []byte) *wholeFile {
	return &wholeFile{meta: vfs.Meta{Ino: vfs.AllocIno(), Mode: defs.S_IFREG | 0o444}, gen: gen}
}

func (w *wholeFile) Meta() *vfs.Meta { return &w.meta }
func (w *wholeFile) ReadAt(buf []byte, off int64) (int, defs.Err_t) {
	content := w.gen()
	if off >= int64(len(content)) {
		return 0, 0
	}
	return copy(buf, content[off:]), 0
}
func (w *wholeFile) WriteAt(buf []byte, off int64) (int, defs.Err_t) { return 0, -defs.EPERM }
func (w *wholeFile) Ioctl(cmd int, arg uintptr) (int, defs.Err_t)    { return 0, -defs.ENOTTY }

// MountLister is satisfied by vfs.MountTable.
type MountLister interface {
	Entries() []string
}

// ProcessInfo is the minimum a /proc/<pid>/status file needs from
// package proc, kept as a narrow struct rather than an import of
// package proc so procfs stays independent of the process table
// (kernel.Boot mounts procfs).
type ProcessInfo struct {
	Pid, Ppid int
	State     string
	VmKB      int64
}

// Root is the procfs tree. Mkpid/Rmpid add and remove a per-pid
// "status" file, mirroring the teacher's general "install a
// driver-backed inode into a tmpfs dir" idiom also used by devfs.Build.
// Nothing outside this package's tests calls them, so creating or
// reaping a process does not change /proc.
type Root struct {
	Dir *tmpfs.Dir

	mu sync.Mutex
}

// Build assembles the procfs root: "mounts" sourced from mt, "meminfo"
// reporting the frame allocator's total and free pages in kB, and
// "self/stack" backed by kpanic's live-stack snapshot.
func Build(mt MountLister) *Root {
	root := tmpfs.NewDir(0o555)
	root.Install("mounts", newWholeFile(func() []byte {
		var b bytes.Buffer
		for _, m := range mt.Entries() {
			fmt.Fprintf(&b, "rootfs %s fat32 rw 0 0\n", m)
		}
		return b.Bytes()
	}))
	root.Install("meminfo", newWholeFile(func() []byte {
		free := mem.Physmem.FreePages()
		total := mem.Physmem.TotalPages()
		var b bytes.Buffer
		fmt.Fprintf(&b, "MemTotal:\t%d kB\n", total*mem.PGSIZE/1024)
		fmt.Fprintf(&b, "MemFree:\t%d kB\n", free*mem.PGSIZE/1024)
		fmt.Fprintf(&b, "MemAvailable:\t%d kB\n", free*mem.PGSIZE/1024)
		return b.Bytes()
	}))
	selfDir := tmpfs.NewDir(0o555)
	selfDir.Install("stack", newWholeFile(func() []byte {
		p := kpanic.Snapshot("procfs /proc/self/stack")
		var b bytes.Buffer
		for _, loc := range p.Location {
			for _, ln := range loc.Line {
				fmt.Fprintf(&b, "%s:%d\n", ln.Function.Name, ln.Line)
			}
		}
		return b.Bytes()
	}))
	root.Install("self", selfDir)
	return &Root{Dir: root}
}

// Mkpid installs "/proc/<pid>/status" reporting info.
func (r *Root) Mkpid(pid int, info func() ProcessInfo) {
	d := tmpfs.NewDir(0o555)
	d.Install("status", newWholeFile(func() []byte {
		in := info()
		var b bytes.Buffer
		fmt.Fprintf(&b, "Pid:\t%d\n", in.Pid)
		fmt.Fprintf(&b, "PPid:\t%d\n", in.Ppid)
		fmt.Fprintf(&b, "State:\t%s\n", in.State)
		fmt.Fprintf(&b, "VmSize:\t%d kB\n", in.VmKB)
		return b.Bytes()
	}))
	r.mu.Lock()
	r.Dir.Install(pidName(pid), d)
	r.mu.Unlock()
}

// Rmpid removes "/proc/<pid>" together with its status file.
func (r *Root) Rmpid(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, err := r.Dir.Lookup(pidName(pid)); err == 0 {
		if pd, ok := d.(*tmpfs.Dir); ok {
			pd.Unlink("status")
		}
	}
	r.Dir.Unlink(pidName(pid))
}

func pidName(pid int) string { return fmt.Sprintf("%d", pid) }
