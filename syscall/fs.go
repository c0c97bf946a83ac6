// File/IO syscall group (spec §6), grounded on original_source's
// crates/kernel/src/syscall/fs.rs shape (one function per syscall,
// path args resolved through a dirfd-relative helper) fleshed out
// against this port's vfs/fd/proc APIs — the original's own fs.rs is
// almost entirely `todo!`-stubbed, so these bodies are new work built
// the way its surviving sys_read/sys_write comments describe the
// contract, not ported line for line.
package syscall

import (
	"rvkernel/defs"
	"rvkernel/devfs"
	"rvkernel/executor"
	"rvkernel/fd"
	"rvkernel/fdops"
	"rvkernel/proc"
	"rvkernel/stat"
	"rvkernel/trap"
	"rvkernel/ustr"
	"rvkernel/vfs"
)

const (
	fcntlDupfd        = 0
	fcntlGetfd        = 1
	fcntlSetfd        = 2
	fcntlGetfl        = 3
	fcntlSetfl        = 4
	fcntlDupfdCloexec = 1030
)

func (d *Dispatcher) dispatchFs(y *executor.Yielder, p *proc.Process, t *proc.Thread, id uint64, args [6]uint64) (uint64, defs.Err_t) {
	switch id {
	case idRead:
		return sysRead(y, p, int32(args[0]), args[1], int(args[2]))
	case idWrite:
		return sysWrite(y, p, int32(args[0]), args[1], int(args[2]))
	case idReadv:
		return sysReadv(p, int32(args[0]), args[1], int(args[2]))
	case idWritev:
		return sysWritev(p, int32(args[0]), args[1], int(args[2]))
	case idOpenat:
		return sysOpenat(p, int32(args[0]), args[1], int(args[2]), uint32(args[3]))
	case idClose:
		return sysClose(p, int32(args[0]))
	case idPipe2:
		return sysPipe2(p, args[0], int(args[1]))
	case idDup:
		return sysDup(p, int32(args[0]))
	case idDup3:
		return sysDup3(p, int32(args[0]), int32(args[1]))
	case idLseek:
		return sysLseek(p, int32(args[0]), int(args[1]), int(args[2]))
	case idNewfstatat:
		return sysNewfstatat(p, int32(args[0]), args[1], args[2], int(args[3]))
	case idNewfstat:
		return sysNewfstat(p, int32(args[0]), args[1])
	case idGetdents64:
		return sysGetdents64(p, int32(args[0]), args[1], int(args[2]))
	case idMkdirat:
		return sysMkdirat(p, int32(args[0]), args[1], uint32(args[2]))
	case idUnlinkat:
		return sysUnlinkat(p, int32(args[0]), args[1], int(args[2]))
	case idFcntl64:
		return sysFcntl64(p, int32(args[0]), int(args[1]), args[2])
	case idIoctl:
		return sysIoctl(p, int32(args[0]), int(args[1]), args[2])
	case idGetcwd:
		return sysGetcwd(p, args[0], int(args[1]))
	case idChdir:
		return sysChdir(p, args[0])
	case idMount, idStatfs64, idRenameat2, idSendfile64, idPpoll:
		return 0, defs.Unsupported
	case idUmount:
		return d.sysUmount(p, args[0])
	case idFaccessat:
		return sysFaccessat(p, int32(args[0]), args[1], int(args[2]))
	case idUtimensat:
		return d.sysUtimensat(p, int32(args[0]), args[1])
	default:
		return 0, defs.Unsupported
	}
}

// rwGuard builds a Userbuf_i guard over [uva, uva+n), the bounds-checked
// path every non-blocking fd backend reads/writes through (trap.
// CheckSpan, spec §4.4).
func rwGuard(p *proc.Process, uva uint64, n int, write bool) (*trap.Guard, defs.Err_t) {
	return trap.NewGuard(p.AS, uva, n, write)
}

func sysRead(y *executor.Yielder, p *proc.Process, fdn int32, uva uint64, n int) (uint64, defs.Err_t) {
	f, err := p.GetFd(int(fdn))
	if err != 0 {
		return 0, err
	}
	if f.Perms&fd.FD_READ == 0 {
		return 0, -defs.EBADF
	}
	if n == 0 {
		return 0, 0
	}
	if yr, ok := f.Fops.(fdops.YielderReader); ok {
		buf := make([]byte, n)
		got, rerr := yr.ReadY(y, buf)
		if rerr != 0 {
			return 0, rerr
		}
		if werr := p.AS.K2user(buf[:got], uintptr(uva)); werr != 0 {
			return 0, werr
		}
		return uint64(got), 0
	}
	g, gerr := rwGuard(p, uva, n, true)
	if gerr != 0 {
		return 0, gerr
	}
	got, rerr := f.Fops.Read(g)
	if rerr != 0 {
		return 0, rerr
	}
	return uint64(got), 0
}

func sysWrite(y *executor.Yielder, p *proc.Process, fdn int32, uva uint64, n int) (uint64, defs.Err_t) {
	f, err := p.GetFd(int(fdn))
	if err != 0 {
		return 0, err
	}
	if f.Perms&fd.FD_WRITE == 0 {
		return 0, -defs.EBADF
	}
	if n == 0 {
		return 0, 0
	}
	if yw, ok := f.Fops.(fdops.YielderWriter); ok {
		buf := make([]byte, n)
		if rerr := p.AS.User2k(buf, uintptr(uva)); rerr != 0 {
			return 0, rerr
		}
		got, werr := yw.WriteY(y, buf)
		if werr != 0 {
			return 0, werr
		}
		return uint64(got), 0
	}
	g, gerr := rwGuard(p, uva, n, false)
	if gerr != 0 {
		return 0, gerr
	}
	got, werr := f.Fops.Write(g)
	if werr != 0 {
		return 0, werr
	}
	return uint64(got), 0
}

// sysReadv and sysWritev decode the user iovec array with vm.IovInit
// (at most 10 entries) and pass the resulting scatter/gather list to a
// single Fops.Read/Fops.Write call as its Userbuf_i; unlike sysRead/
// sysWrite they do not take the YielderReader/YielderWriter path.
func sysReadv(p *proc.Process, fdn int32, iovarr uint64, niovs int) (uint64, defs.Err_t) {
	f, err := p.GetFd(int(fdn))
	if err != 0 {
		return 0, err
	}
	if f.Perms&fd.FD_READ == 0 {
		return 0, -defs.EBADF
	}
	iov, ierr := p.AS.IovInit(uintptr(iovarr), niovs)
	if ierr != 0 {
		return 0, ierr
	}
	total, rerr := f.Fops.Read(iov)
	if rerr != 0 {
		return 0, rerr
	}
	return uint64(total), 0
}

func sysWritev(p *proc.Process, fdn int32, iovarr uint64, niovs int) (uint64, defs.Err_t) {
	f, err := p.GetFd(int(fdn))
	if err != 0 {
		return 0, err
	}
	if f.Perms&fd.FD_WRITE == 0 {
		return 0, -defs.EBADF
	}
	iov, ierr := p.AS.IovInit(uintptr(iovarr), niovs)
	if ierr != 0 {
		return 0, ierr
	}
	total, werr := f.Fops.Write(iov)
	if werr != 0 {
		return 0, werr
	}
	return uint64(total), 0
}

func openPerms(flags int) int {
	perms := 0
	switch flags & 0x3 {
	case defs.O_RDONLY:
		perms = fd.FD_READ
	case defs.O_WRONLY:
		perms = fd.FD_WRITE
	case defs.O_RDWR:
		perms = fd.FD_READ | fd.FD_WRITE
	}
	if flags&defs.O_CLOEXEC != 0 {
		perms |= fd.FD_CLOEXEC
	}
	return perms
}

func sysOpenat(p *proc.Process, dirfd int32, pathVa uint64, flags int, mode uint32) (uint64, defs.Err_t) {
	path, err := userStr(p, pathVa, 4096)
	if err != 0 {
		return 0, err
	}
	start, serr := resolveStart(p, dirfd)
	if serr != 0 {
		return 0, serr
	}
	dent, rerr := vfs.Resolve(p.Root, start, ustr.Ustr(path))
	if rerr != 0 {
		if rerr != -defs.ENOENT || flags&defs.O_CREAT == 0 {
			return 0, rerr
		}
		parent, base, perr := vfs.ResolveParent(p.Root, start, ustr.Ustr(path))
		if perr != 0 {
			return 0, perr
		}
		dirops, ok := parent.Inode.(vfs.DirOps)
		if !ok {
			return 0, -defs.ENOTDIR
		}
		inode, cerr := dirops.Mknod(base, mode|defs.S_IFREG, 0)
		if cerr != 0 {
			return 0, cerr
		}
		dent = parent.InsertChild(base, inode)
	} else if flags&(defs.O_CREAT|defs.O_EXCL) == defs.O_CREAT|defs.O_EXCL {
		return 0, -defs.EEXIST
	}

	var fops fdops.Fdops_i
	if _, isDir := dent.Inode.(vfs.DirOps); isDir || flags&defs.O_DIRECTORY != 0 {
		dh, derr := vfs.OpenDir(dent)
		if derr != 0 {
			return 0, derr
		}
		fops = dh
	} else {
		rf, ferr := vfs.OpenRegular(dent, flags)
		if ferr != 0 {
			return 0, ferr
		}
		if flags&defs.O_TRUNC != 0 {
			// No Truncate primitive exists on vfs.BytesOps; dropping the
			// bookkeeping length is the same conservative shorthand
			// Process.Brk's shrink path uses for giving pages back.
			dent.Inode.Meta().DataLen = 0
		}
		fops = rf
	}
	n, aerr := p.AllocFd(fops, openPerms(flags))
	if aerr != 0 {
		return 0, aerr
	}
	return uint64(n), 0
}

func sysClose(p *proc.Process, fdn int32) (uint64, defs.Err_t) {
	return 0, p.CloseFd(int(fdn))
}

func sysPipe2(p *proc.Process, uva uint64, flags int) (uint64, defs.Err_t) {
	rend, wend, err := proc.NewPipeEnds()
	if err != 0 {
		return 0, err
	}
	perms := fd.FD_READ
	if flags&defs.O_CLOEXEC != 0 {
		perms |= fd.FD_CLOEXEC
	}
	rfd, rerr := p.AllocFd(rend, perms)
	if rerr != 0 {
		return 0, rerr
	}
	wperms := fd.FD_WRITE
	if flags&defs.O_CLOEXEC != 0 {
		wperms |= fd.FD_CLOEXEC
	}
	wfd, werr := p.AllocFd(wend, wperms)
	if werr != 0 {
		p.CloseFd(rfd)
		return 0, werr
	}
	var fds [2]int32
	fds[0], fds[1] = int32(rfd), int32(wfd)
	if cerr := p.AS.K2user(toBytes(&fds), uintptr(uva)); cerr != 0 {
		p.CloseFd(rfd)
		p.CloseFd(wfd)
		return 0, cerr
	}
	return 0, 0
}

func sysDup(p *proc.Process, oldn int32) (uint64, defs.Err_t) {
	old, err := p.GetFd(int(oldn))
	if err != 0 {
		return 0, err
	}
	dup, derr := fd.Copyfd(old)
	if derr != 0 {
		return 0, derr
	}
	n, aerr := p.AllocFd(dup.Fops, dup.Perms)
	if aerr != 0 {
		return 0, aerr
	}
	return uint64(n), 0
}

func sysDup3(p *proc.Process, oldn, newn int32) (uint64, defs.Err_t) {
	if err := p.DupFdTo(int(oldn), int(newn)); err != 0 {
		return 0, err
	}
	return uint64(newn), 0
}

func sysLseek(p *proc.Process, fdn int32, off, whence int) (uint64, defs.Err_t) {
	f, err := p.GetFd(int(fdn))
	if err != 0 {
		return 0, err
	}
	n, serr := f.Fops.Lseek(off, whence)
	if serr != 0 {
		return 0, serr
	}
	return uint64(n), 0
}

func statInode(inode vfs.Inode, st *stat.Stat_t) {
	inode.Meta().ToStat(st, 1)
}

func sysNewfstatat(p *proc.Process, dirfd int32, pathVa, stVa uint64, flags int) (uint64, defs.Err_t) {
	path, err := userStr(p, pathVa, 4096)
	if err != 0 {
		return 0, err
	}
	start, serr := resolveStart(p, dirfd)
	if serr != 0 {
		return 0, serr
	}
	var dent *vfs.Dentry
	if path == "" {
		dent = start
	} else {
		dent, err = vfs.Resolve(p.Root, start, ustr.Ustr(path))
		if err != 0 {
			return 0, err
		}
	}
	var st stat.Stat_t
	statInode(dent.Inode, &st)
	return 0, copyOut(p, stVa, &st)
}

func sysNewfstat(p *proc.Process, fdn int32, stVa uint64) (uint64, defs.Err_t) {
	f, err := p.GetFd(int(fdn))
	if err != 0 {
		return 0, err
	}
	var st stat.Stat_t
	if serr := f.Fops.Fstat(&st); serr != 0 {
		return 0, serr
	}
	return 0, copyOut(p, stVa, &st)
}

func sysGetdents64(p *proc.Process, fdn int32, uva uint64, max int) (uint64, defs.Err_t) {
	f, err := p.GetFd(int(fdn))
	if err != 0 {
		return 0, err
	}
	dh, ok := f.Fops.(*vfs.DirHandle)
	if !ok {
		return 0, -defs.ENOTDIR
	}
	ents, derr := dh.Getdents(max)
	if derr != 0 {
		return 0, derr
	}
	buf := encodeDirents(ents)
	if len(buf) > max {
		buf = buf[:max]
	}
	if cerr := p.AS.K2user(buf, uintptr(uva)); cerr != 0 {
		return 0, cerr
	}
	return uint64(len(buf)), 0
}

// linuxDirent64Header mirrors the fixed head of struct linux_dirent64:
// d_ino, d_off, d_reclen, d_type. encodeDirents writes the NUL-terminated
// name right after it, at byte 19, and pads each record to 8-byte
// alignment (spec §6's getdents64).
type linuxDirent64Header struct {
	Ino     uint64
	Off     uint64
	Reclen  uint16
	Type    uint8
	pad     uint8
}

func encodeDirents(ents []vfs.Dirent) []byte {
	var out []byte
	for i, e := range ents {
		name := append([]byte(e.Name), 0)
		reclen := 19 + len(name)
		if pad := reclen % 8; pad != 0 {
			reclen += 8 - pad
		}
		hdr := linuxDirent64Header{Ino: e.Ino, Off: uint64(i + 1), Reclen: uint16(reclen), Type: e.Type}
		rec := make([]byte, reclen)
		copy(rec, toBytes(&hdr))
		copy(rec[19:], name)
		out = append(out, rec...)
	}
	return out
}

func sysMkdirat(p *proc.Process, dirfd int32, pathVa uint64, mode uint32) (uint64, defs.Err_t) {
	path, err := userStr(p, pathVa, 4096)
	if err != 0 {
		return 0, err
	}
	start, serr := resolveStart(p, dirfd)
	if serr != 0 {
		return 0, serr
	}
	parent, base, perr := vfs.ResolveParent(p.Root, start, ustr.Ustr(path))
	if perr != 0 {
		return 0, perr
	}
	dirops, ok := parent.Inode.(vfs.DirOps)
	if !ok {
		return 0, -defs.ENOTDIR
	}
	inode, cerr := dirops.Mkdir(base, mode|defs.S_IFDIR)
	if cerr != 0 {
		return 0, cerr
	}
	parent.InsertChild(base, inode)
	return 0, 0
}

func sysUnlinkat(p *proc.Process, dirfd int32, pathVa uint64, flags int) (uint64, defs.Err_t) {
	path, err := userStr(p, pathVa, 4096)
	if err != 0 {
		return 0, err
	}
	start, serr := resolveStart(p, dirfd)
	if serr != 0 {
		return 0, serr
	}
	parent, base, perr := vfs.ResolveParent(p.Root, start, ustr.Ustr(path))
	if perr != 0 {
		return 0, perr
	}
	dirops, ok := parent.Inode.(vfs.DirOps)
	if !ok {
		return 0, -defs.ENOTDIR
	}
	if uerr := dirops.Unlink(base); uerr != 0 {
		return 0, uerr
	}
	parent.RemoveChild(base)
	return 0, 0
}

func sysFcntl64(p *proc.Process, fdn int32, cmd int, arg uint64) (uint64, defs.Err_t) {
	f, err := p.GetFd(int(fdn))
	if err != 0 {
		return 0, err
	}
	switch cmd {
	case fcntlDupfd, fcntlDupfdCloexec:
		dup, derr := fd.Copyfd(f)
		if derr != 0 {
			return 0, derr
		}
		if cmd == fcntlDupfdCloexec {
			dup.Perms |= fd.FD_CLOEXEC
		}
		n, aerr := p.AllocFd(dup.Fops, dup.Perms)
		if aerr != 0 {
			return 0, aerr
		}
		return uint64(n), 0
	case fcntlGetfd:
		if f.Perms&fd.FD_CLOEXEC != 0 {
			return 1, 0
		}
		return 0, 0
	case fcntlSetfd:
		if arg&1 != 0 {
			f.Perms |= fd.FD_CLOEXEC
		} else {
			f.Perms &^= fd.FD_CLOEXEC
		}
		return 0, 0
	case fcntlGetfl:
		return uint64(f.Perms), 0
	case fcntlSetfl:
		return 0, 0
	default:
		return 0, defs.Unsupported
	}
}

// ioctl opcodes whose fixed-layout argument struct the dispatcher copies
// itself rather than forwarding raw cmd/arg to Fops.Ioctl — the same
// special-casing devfs.Tty.Ioctl's own doc comment calls for.
func sysIoctl(p *proc.Process, fdn int32, cmd int, arg uint64) (uint64, defs.Err_t) {
	f, err := p.GetFd(int(fdn))
	if err != 0 {
		return 0, err
	}
	if tty, ok := ttyOf(f.Fops); ok {
		switch cmd {
		case devfs.TCGETS, devfs.TCGETA:
			tm := tty.TermiosSnapshot()
			return 0, copyOut(p, arg, &tm)
		case devfs.TCSETS, devfs.TCSETSW, devfs.TCSETSF:
			tm, cerr := copyIn[devfs.Termios](p, arg)
			if cerr != 0 {
				return 0, cerr
			}
			tty.SetTermios(tm)
			return 0, 0
		case devfs.TIOCGWINSZ:
			ws := tty.WinsizeSnapshot()
			return 0, copyOut(p, arg, &ws)
		case devfs.TIOCSWINSZ:
			ws, cerr := copyIn[devfs.Winsize](p, arg)
			if cerr != 0 {
				return 0, cerr
			}
			tty.SetWinsize(ws)
			return 0, 0
		}
	}
	b, ok := underlyingBytesOps(f.Fops)
	if !ok {
		return 0, -defs.ENOTTY
	}
	n, ierr := b.Ioctl(cmd, uintptr(arg))
	return uint64(n), ierr
}

// ttyOf recognizes an fd backed (via vfs.RegularFile) by a *devfs.Tty,
// the concrete-type reach-through devfs.Tty.Ioctl's doc comment
// describes: RegularFile itself has no Ioctl method, so the dispatcher
// goes through Pathi() to the inode underneath.
func ttyOf(fops fdops.Fdops_i) (*devfs.Tty, bool) {
	di, ok := fops.Pathi()
	if !ok {
		return nil, false
	}
	dent, ok := di.(*vfs.Dentry)
	if !ok {
		return nil, false
	}
	tty, ok := dent.Inode.(*devfs.Tty)
	return tty, ok
}

func underlyingBytesOps(fops fdops.Fdops_i) (vfs.BytesOps, bool) {
	di, ok := fops.Pathi()
	if !ok {
		return nil, false
	}
	dent, ok := di.(*vfs.Dentry)
	if !ok {
		return nil, false
	}
	b, ok := dent.Inode.(vfs.BytesOps)
	return b, ok
}

func sysGetcwd(p *proc.Process, uva uint64, size int) (uint64, defs.Err_t) {
	path := p.CwdDentry().Path()
	b := append([]byte(path), 0)
	if len(b) > size {
		return 0, -defs.ERANGE
	}
	if err := p.AS.K2user(b, uintptr(uva)); err != 0 {
		return 0, err
	}
	return uva, 0
}

func sysChdir(p *proc.Process, pathVa uint64) (uint64, defs.Err_t) {
	path, err := userStr(p, pathVa, 4096)
	if err != 0 {
		return 0, err
	}
	dent, rerr := vfs.Resolve(p.Root, p.CwdDentry(), ustr.Ustr(path))
	if rerr != 0 {
		return 0, rerr
	}
	if _, ok := dent.Inode.(vfs.DirOps); !ok {
		return 0, -defs.ENOTDIR
	}
	dh, derr := vfs.OpenDir(dent)
	if derr != 0 {
		return 0, derr
	}
	p.Cwd.Lock()
	p.Cwd.Fd = &fd.Fd_t{Fops: dh, Perms: fd.FD_READ}
	p.Cwd.Path = dent.Path()
	p.Cwd.Unlock()
	return 0, 0
}

// sysUmount is a Dispatcher method, not a bare function, because
// unmounting needs the shared MountTable (spec §4.7's mount points),
// unlike the rest of this group which only touches per-process state.
func (d *Dispatcher) sysUmount(p *proc.Process, pathVa uint64) (uint64, defs.Err_t) {
	path, err := userStr(p, pathVa, 4096)
	if err != 0 {
		return 0, err
	}
	dent, rerr := vfs.Resolve(p.Root, p.CwdDentry(), ustr.Ustr(path))
	if rerr != 0 {
		return 0, rerr
	}
	return 0, d.Mounts.Unmount(dent)
}

func sysFaccessat(p *proc.Process, dirfd int32, pathVa uint64, mode int) (uint64, defs.Err_t) {
	path, err := userStr(p, pathVa, 4096)
	if err != 0 {
		return 0, err
	}
	start, serr := resolveStart(p, dirfd)
	if serr != 0 {
		return 0, serr
	}
	_, rerr := vfs.Resolve(p.Root, start, ustr.Ustr(path))
	if rerr != 0 {
		return 0, rerr
	}
	return 0, 0
}

func (d *Dispatcher) sysUtimensat(p *proc.Process, dirfd int32, pathVa uint64) (uint64, defs.Err_t) {
	start, serr := resolveStart(p, dirfd)
	if serr != 0 {
		return 0, serr
	}
	dent := start
	if pathVa != 0 {
		path, err := userStr(p, pathVa, 4096)
		if err != 0 {
			return 0, err
		}
		if path != "" {
			dent, err = vfs.Resolve(p.Root, start, ustr.Ustr(path))
			if err != 0 {
				return 0, err
			}
		}
	}
	now := d.Now() / 1_000_000_000
	dent.Inode.Meta().Touch(now, now, now)
	return 0, 0
}
