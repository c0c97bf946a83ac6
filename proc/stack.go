package proc

import (
	"rvkernel/defs"
	"rvkernel/vm"
)

// auxv tags this kernel's init_stack bothers to emit; everything else a
// libc start file might probe for is left absent, which glibc/musl both
// treat as "not supplied" rather than an error.
const (
	atNull   = 0
	atRandom = 25
)

// pushInitStack lays out argv/envp/auxv on top of a freshly mapped user
// stack, the way original_source's init_stack builds the System V ABI
// frame a libc _start expects. Working down from top it writes the argv
// strings, the envp strings and 16 AT_RANDOM bytes, aligns sp to 16, then
// pushes 8-byte words: the auxv pairs, the NULL-terminated envp vector,
// the NULL-terminated argv vector and finally argc, so reading upward from
// the returned sp gives argc, argv, envp, auxv (spec §4.3). It returns the
// final stack pointer to install in the thread's trap context.
func pushInitStack(as *vm.AddressSpace_t, top uintptr, argv, envp []string) (uintptr, defs.Err_t) {
	sp := top

	pushStr := func(s string) (uintptr, defs.Err_t) {
		b := append([]byte(s), 0)
		sp -= uintptr(len(b))
		if err := as.K2user(b, sp); err != 0 {
			return 0, err
		}
		return sp, 0
	}

	argvPtrs := make([]uintptr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		p, err := pushStr(argv[i])
		if err != 0 {
			return 0, err
		}
		argvPtrs[i] = p
	}
	envpPtrs := make([]uintptr, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		p, err := pushStr(envp[i])
		if err != 0 {
			return 0, err
		}
		envpPtrs[i] = p
	}

	// 16 bytes of auxv-random material (AT_RANDOM points here); this
	// kernel has no entropy source wired in, so the bytes are the fixed
	// pattern below rather than real randomness.
	randBytes := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	sp -= 16
	randVa := sp
	if err := as.K2user(randBytes[:], sp); err != 0 {
		return 0, err
	}

	sp &^= 0xf // 16-byte align before the pointer tables

	pushWord := func(v uint64) defs.Err_t {
		sp -= 8
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(v >> (8 * uint(i)))
		}
		return as.K2user(b[:], sp)
	}

	// auxv: [AT_RANDOM, randVa] [AT_NULL, 0]
	if err := pushWord(0); err != 0 {
		return 0, err
	}
	if err := pushWord(atNull); err != 0 {
		return 0, err
	}
	if err := pushWord(uint64(randVa)); err != 0 {
		return 0, err
	}
	if err := pushWord(atRandom); err != 0 {
		return 0, err
	}

	// envp[] terminated by NULL
	if err := pushWord(0); err != 0 {
		return 0, err
	}
	for i := len(envpPtrs) - 1; i >= 0; i-- {
		if err := pushWord(uint64(envpPtrs[i])); err != 0 {
			return 0, err
		}
	}
	// argv[] terminated by NULL
	if err := pushWord(0); err != 0 {
		return 0, err
	}
	for i := len(argvPtrs) - 1; i >= 0; i-- {
		if err := pushWord(uint64(argvPtrs[i])); err != 0 {
			return 0, err
		}
	}
	// argc
	if err := pushWord(uint64(len(argv))); err != 0 {
		return 0, err
	}

	return sp, 0
}
