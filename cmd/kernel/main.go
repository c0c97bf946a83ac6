// Command kernel is the entry point spec §2's firmware hands off to:
// it parses the handful of knobs a real SBI firmware would otherwise
// bake into the linker script or device tree (disk image, hart count,
// init path) and calls kernel.Boot/Run.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"rvkernel/blockdev"
	"rvkernel/kernel"
)

// stdoutUART is the console collaborator spec §1 scopes out as external
// hardware; this process has no real serial line, so the host's stdout
// stands in for it.
type stdoutUART struct{}

func (stdoutUART) Put(b byte)   { os.Stdout.Write([]byte{b}) }
func (stdoutUART) Name() string { return "ttyS0" }

func main() {
	disk := flag.String("disk", "", "path to a FAT32 disk image to mount as root (tmpfs root if empty)")
	init_ := flag.String("init", "/init", "path to the init binary inside the root filesystem")
	harts := flag.Int("harts", 1, "number of harts (pollers) to run the executor on")
	memory := flag.Int("memory", 1<<16, "simulated physical memory, in pages")
	tasks := flag.Int("tasks", 4096, "executor ready-queue capacity (task limit)")
	flag.Parse()

	cfg := kernel.Config{
		Harts:     *harts,
		Memory:    *memory,
		TaskLimit: *tasks,
		Console:   stdoutUART{},
		Now:       func() int64 { return time.Now().UnixNano() },
		Init:      *init_,
		InitArgv:  flag.Args(),
	}

	if *disk != "" {
		d, err := blockdev.OpenFileDisk(*disk)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kernel: open disk %q: %v\n", *disk, err)
			os.Exit(1)
		}
		defer d.Close()
		cfg.Disk = d
	}

	sys, err := kernel.Boot(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kernel: boot failed: %v\n", err)
		os.Exit(1)
	}

	if err := sys.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "kernel: run failed: %v\n", err)
		os.Exit(1)
	}
}
