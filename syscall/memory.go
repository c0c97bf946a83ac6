// Memory syscall group (spec §6/§8 scenario 2), a thin ABI shim over
// Process.Brk/Mmap/Munmap — the actual address-space bookkeeping lives
// in proc/proc.go, grounded there on vm/as.go's AreaHeap/AreaMmap kinds.
package syscall

import (
	"rvkernel/defs"
	"rvkernel/proc"
	"rvkernel/vm"
)

func (d *Dispatcher) dispatchMemory(p *proc.Process, id uint64, args [6]uint64) (uint64, defs.Err_t) {
	switch id {
	case idBrk:
		newbrk, err := p.Brk(uintptr(args[0]))
		return uint64(newbrk), err
	case idMmap:
		perms := mmapProtToPte(int(args[2]))
		addr, err := p.Mmap(uintptr(args[0]), int(args[1]), perms, int(args[3]))
		return uint64(addr), err
	case idMunmap:
		return 0, p.Munmap(uintptr(args[0]), int(args[1]))
	default:
		return 0, defs.Unsupported
	}
}

// mmapProtToPte converts PROT_READ/WRITE/EXEC bits to this port's vm.Pte
// permission bits (spec §6's mmap prot argument).
func mmapProtToPte(prot int) vm.Pte {
	var pte vm.Pte
	if prot&defs.PROT_READ != 0 {
		pte |= vm.PTE_R
	}
	if prot&defs.PROT_WRITE != 0 {
		pte |= vm.PTE_W
	}
	if prot&defs.PROT_EXEC != 0 {
		pte |= vm.PTE_X
	}
	return pte
}
