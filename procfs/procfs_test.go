package procfs

import (
	"strings"
	"testing"

	"rvkernel/mem"
	"rvkernel/vfs"
)

type fakeMounts struct{ entries []string }

func (f fakeMounts) Entries() []string { return f.entries }

func readWhole(t *testing.T, n vfs.Inode) string {
	t.Helper()
	b, ok := n.(vfs.BytesOps)
	if !ok {
		t.Fatalf("%T does not implement BytesOps", n)
	}
	buf := make([]byte, 4096)
	got, errno := b.ReadAt(buf, 0)
	if errno != 0 {
		t.Fatalf("ReadAt: %v", errno)
	}
	return string(buf[:got])
}

func TestMountsListsTable(t *testing.T) {
	root := Build(fakeMounts{entries: []string{"/", "/mnt"}})
	n, errno := root.Dir.Lookup("mounts")
	if errno != 0 {
		t.Fatalf("Lookup mounts: %v", errno)
	}
	body := readWhole(t, n)
	if !strings.Contains(body, "/mnt") || !strings.Contains(body, "rootfs / fat32") {
		t.Fatalf("unexpected mounts content: %q", body)
	}
}

func TestMeminfoReportsFrameAllocatorStats(t *testing.T) {
	mem.Phys_init(0, 64)
	root := Build(fakeMounts{})
	n, errno := root.Dir.Lookup("meminfo")
	if errno != 0 {
		t.Fatalf("Lookup meminfo: %v", errno)
	}
	body := readWhole(t, n)
	if !strings.Contains(body, "MemTotal:") || !strings.Contains(body, "MemFree:") {
		t.Fatalf("unexpected meminfo content: %q", body)
	}
}

func TestSelfStackIsNonEmpty(t *testing.T) {
	root := Build(fakeMounts{})
	selfDir, errno := root.Dir.Lookup("self")
	if errno != 0 {
		t.Fatalf("Lookup self: %v", errno)
	}
	stackFile, errno := selfDir.(vfs.DirOps).Lookup("stack")
	if errno != 0 {
		t.Fatalf("Lookup self/stack: %v", errno)
	}
	if body := readWhole(t, stackFile); body == "" {
		t.Fatal("expected a nonempty stack dump")
	}
}

func TestMkpidInstallsAndRmpidRemoves(t *testing.T) {
	root := Build(fakeMounts{})
	root.Mkpid(7, func() ProcessInfo {
		return ProcessInfo{Pid: 7, Ppid: 1, State: "R", VmKB: 4096}
	})
	pidDir, errno := root.Dir.Lookup("7")
	if errno != 0 {
		t.Fatalf("Lookup 7: %v", errno)
	}
	status, errno := pidDir.(vfs.DirOps).Lookup("status")
	if errno != 0 {
		t.Fatalf("Lookup 7/status: %v", errno)
	}
	body := readWhole(t, status)
	if !strings.Contains(body, "Pid:\t7") || !strings.Contains(body, "State:\tR") {
		t.Fatalf("unexpected status content: %q", body)
	}

	root.Rmpid(7)
	if _, errno := root.Dir.Lookup("7"); errno == 0 {
		t.Fatal("expected pid dir to be removed after Rmpid")
	}
}
