// Package klog is the kernel's only logging sink: a thin wrapper over
// fmt.Fprintf onto the registered console writer (spec SPEC_FULL.md §2
// ambient stack). The teacher never reaches for a structured logging
// library, so this stays fmt-based rather than adopting one from the
// rest of the retrieval pack.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Level gates which calls actually print. The active level defaults to
// LevelError and can be changed at run time with SetLevel.
type Level int

const (
	LevelSilent Level = iota
	LevelError
	LevelDebug
)

var (
	mu      sync.Mutex
	sink    io.Writer = os.Stderr
	current Level     = LevelError
)

// SetSink installs w as the console writer every klog call writes to.
// cmd/kernel's boot sequence calls this once with the real UART.
func SetSink(w io.Writer) {
	mu.Lock()
	sink = w
	mu.Unlock()
}

// SetLevel installs the minimum level that actually reaches the sink.
func SetLevel(l Level) {
	mu.Lock()
	current = l
	mu.Unlock()
}

func printf(l Level, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if l > current {
		return
	}
	fmt.Fprintf(sink, format, args...)
}

// Debugf logs a syscall-error-level message (spec §7: "errors
// originating inside a syscall are returned to the user without
// logging except at debug level").
func Debugf(format string, args ...any) { printf(LevelDebug, format, args...) }

// Errorf logs a condition worth surfacing even at the default level.
func Errorf(format string, args ...any) { printf(LevelError, format, args...) }
