// Package sys implements the system-call ABI: a software-interrupt
// vector delivering the call number in the accumulator and up to
// three arguments in the remaining general-purpose registers, with
// the return value (or a negative error discriminant) placed back in
// the accumulator. Unknown numbers return the failure sentinel rather
// than trapping.
package sys

import (
	"encoding/binary"
	"runtime"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/fd"
	"github.com/m512i/ZurichOS-sub001/intr"
	"github.com/m512i/ZurichOS-sub001/proc"
	"github.com/m512i/ZurichOS-sub001/ustr"
	"github.com/m512i/ZurichOS-sub001/vfs"
)

/// SYSCALL_VECTOR is the ring-3-accessible software-interrupt vector;
/// the driver-service traps sit just above it at 0x81/0x82.
const SYSCALL_VECTOR = 0x80

/// System call numbers. 0..5 match the original syscall table; fork,
/// exec, and waitpid extend it.
const (
	SYS_EXIT    = 0
	SYS_READ    = 1
	SYS_WRITE   = 2
	SYS_OPEN    = 3
	SYS_CLOSE   = 4
	SYS_GETPID  = 5
	SYS_FORK    = 6
	SYS_EXEC    = 7
	SYS_WAITPID = 8
)

/// WNOHANG re-exports proc's waitpid flag for userspace-facing use.
const WNOHANG = proc.WNOHANG

/// Wexitstatus extracts the exit code from a waitpid status word.
func Wexitstatus(status int32) int32 {
	return (status >> 8) & 0xff
}

/// Mkstatus builds the status word Waitpid stores through the caller's
/// status pointer for a normally-exited child.
func Mkstatus(code int32) int32 {
	return (code & 0xff) << 8
}

/// Syscall_t dispatches system calls against the process table and
/// the VFS. One instance serves the whole kernel; the calling process
/// is resolved per-trap.
type Syscall_t struct {
	Procs *proc.Table_t
	Vfs   *vfs.Vfs_t
}

/// New returns a dispatcher over the given process table and VFS.
func New(procs *proc.Table_t, v *vfs.Vfs_t) *Syscall_t {
	return &Syscall_t{Procs: procs, Vfs: v}
}

/// Install wires the syscall gate into the IDT: a ring-3-accessible
/// interrupt gate at SYSCALL_VECTOR whose handler resolves the
/// calling process via cur and dispatches on the accumulator.
func (s *Syscall_t) Install(idt *intr.Idt_t, cur func() *proc.Process_t) {
	idt.SetGate(SYSCALL_VECTOR, 0, intr.GDT_KERNEL_CODE, intr.IDT_USER_INT)
	idt.Register(SYSCALL_VECTOR, func(regs *intr.Registers_t) {
		p := cur()
		if p == nil {
			errno := int32(-defs.ESRCH)
			regs.Eax = uint32(errno)
			return
		}
		regs.Eax = uint32(s.Dispatch(p, regs))
	})
}

/// Dispatch executes the call regs encodes on behalf of p: number in
/// Eax, arguments in Ebx/Ecx/Edx. The return value is the new Eax.
func (s *Syscall_t) Dispatch(p *proc.Process_t, regs *intr.Registers_t) int32 {
	a1, a2, a3 := regs.Ebx, regs.Ecx, regs.Edx
	switch regs.Eax {
	case SYS_EXIT:
		s.Procs.Exit(p, int32(a1))
		return 0
	case SYS_READ:
		return s.sysRead(p, int(int32(a1)), uintptr(a2), int(int32(a3)))
	case SYS_WRITE:
		return s.sysWrite(p, int(int32(a1)), uintptr(a2), int(int32(a3)))
	case SYS_OPEN:
		return s.sysOpen(p, uintptr(a1), a2)
	case SYS_CLOSE:
		return s.sysClose(p, int(int32(a1)))
	case SYS_GETPID:
		return int32(p.Pid)
	case SYS_FORK:
		return s.sysFork(p)
	case SYS_EXEC:
		return s.sysExec(p, regs, uintptr(a1), uintptr(a2))
	case SYS_WAITPID:
		return s.sysWaitpid(p, defs.Pid_t(int32(a1)), uintptr(a2), int(int32(a3)))
	default:
		return int32(-defs.ENOSYS)
	}
}

// fdGet returns p's descriptor fdn, or nil if the slot is empty or
// out of range.
func fdGet(p *proc.Process_t, fdn int) *fd.Fd_t {
	p.Lock()
	defer p.Unlock()
	if fdn < 0 || fdn >= len(p.Fds) {
		return nil
	}
	return p.Fds[fdn]
}

// fdInstall claims the lowest free descriptor slot for f.
func fdInstall(p *proc.Process_t, f *fd.Fd_t) (int, defs.Err_t) {
	p.Lock()
	defer p.Unlock()
	for i := range p.Fds {
		if p.Fds[i] == nil {
			p.Fds[i] = f
			return i, 0
		}
	}
	return 0, defs.EMFILE
}

func (s *Syscall_t) sysRead(p *proc.Process_t, fdn int, bufva uintptr, n int) int32 {
	f := fdGet(p, fdn)
	if f == nil {
		return int32(-defs.EBADF)
	}
	if f.Perms&fd.FD_READ == 0 {
		return int32(-defs.EPERM)
	}
	if n < 0 {
		return int32(-defs.EINVAL)
	}
	ub := p.As.NewUserbuf(bufva, n)
	c, err := f.Fops.Read(ub)
	if err != 0 {
		return int32(-err)
	}
	return int32(c)
}

func (s *Syscall_t) sysWrite(p *proc.Process_t, fdn int, bufva uintptr, n int) int32 {
	f := fdGet(p, fdn)
	if f == nil {
		return int32(-defs.EBADF)
	}
	if f.Perms&fd.FD_WRITE == 0 {
		return int32(-defs.EPERM)
	}
	if n < 0 {
		return int32(-defs.EINVAL)
	}
	ub := p.As.NewUserbuf(bufva, n)
	c, err := f.Fops.Write(ub)
	if err != 0 {
		return int32(-err)
	}
	return int32(c)
}

func (s *Syscall_t) sysOpen(p *proc.Process_t, pathva uintptr, flags uint32) int32 {
	path, err := copyStrIn(p, pathva)
	if err != 0 {
		return int32(-err)
	}
	path = s.resolvePath(p, path)

	node, err := s.Vfs.Lookup(path)
	if err != 0 {
		if flags&vfs.VFS_O_CREAT == 0 {
			return int32(-err)
		}
		node, err = s.createAt(path)
		if err != 0 {
			return int32(-err)
		}
	} else if flags&(vfs.VFS_O_CREAT|vfs.VFS_O_EXCL) == vfs.VFS_O_CREAT|vfs.VFS_O_EXCL {
		return int32(-defs.EEXIST)
	}

	fops, err := vfs.NewFsfops(node, path, flags)
	if err != 0 {
		return int32(-err)
	}
	perms := 0
	if flags&vfs.VFS_O_RDONLY != 0 {
		perms |= fd.FD_READ
	}
	if flags&vfs.VFS_O_WRONLY != 0 {
		perms |= fd.FD_WRITE
	}
	fdn, err := fdInstall(p, &fd.Fd_t{Fops: fops, Perms: perms})
	if err != 0 {
		fops.Close()
		return int32(-err)
	}
	return int32(fdn)
}

// createAt makes a regular file at path in its parent directory and
// returns the fresh node.
func (s *Syscall_t) createAt(path string) (*vfs.Node_t, defs.Err_t) {
	dirPath, name := splitPath(path)
	if name == "" {
		return nil, defs.EINVAL
	}
	dir, err := s.Vfs.Lookup(dirPath)
	if err != 0 {
		return nil, err
	}
	if err := vfs.VfsCreate(dir, name, vfs.VFS_FILE); err != 0 {
		return nil, err
	}
	return vfs.VfsFinddir(dir, name)
}

func (s *Syscall_t) sysClose(p *proc.Process_t, fdn int) int32 {
	p.Lock()
	var f *fd.Fd_t
	if fdn >= 0 && fdn < len(p.Fds) {
		f = p.Fds[fdn]
		p.Fds[fdn] = nil
	}
	p.Unlock()
	if f == nil {
		return int32(-defs.EBADF)
	}
	if err := f.Fops.Close(); err != 0 {
		return int32(-err)
	}
	return 0
}

func (s *Syscall_t) sysFork(p *proc.Process_t) int32 {
	child, err := s.Procs.Fork(p)
	if err != 0 {
		return int32(-err)
	}
	// the parent sees the child's pid; a real trap return would place
	// 0 in the child's own saved Eax before scheduling it.
	return int32(child.Pid)
}

func (s *Syscall_t) sysExec(p *proc.Process_t, regs *intr.Registers_t, pathva, argvva uintptr) int32 {
	path, err := copyStrIn(p, pathva)
	if err != 0 {
		return int32(-err)
	}
	fullPath := s.resolvePath(p, path)

	node, err := s.Vfs.Lookup(fullPath)
	if err != 0 {
		return int32(-err)
	}
	if vfs.IsDirectory(node) {
		return int32(-defs.EISDIR)
	}
	data := make([]byte, node.Length)
	if len(data) > 0 {
		n, err := vfs.VfsRead(node, 0, data)
		if err != 0 {
			return int32(-err)
		}
		data = data[:n]
	}

	argv, err := copyArgvIn(p, argvva)
	if err != 0 {
		return int32(-err)
	}
	if len(argv) == 0 {
		argv = []string{path}
	}

	img, err := p.Exec(data, argv)
	if err != 0 {
		return int32(-err)
	}

	// close-on-exec descriptors do not survive the new image
	p.Lock()
	for i, f := range p.Fds {
		if f != nil && f.Perms&fd.FD_CLOEXEC != 0 {
			p.Fds[i] = nil
			f.Fops.Close()
		}
	}
	p.Unlock()

	regs.Eip = img.Entry
	regs.Useresp = img.StackTop
	regs.Eax = 0
	return 0
}

func (s *Syscall_t) sysWaitpid(p *proc.Process_t, pid defs.Pid_t, statusva uintptr, options int) int32 {
	for {
		cpid, code, err := s.Procs.Waitpid(p, pid, options)
		if err == defs.EAGAIN && options&WNOHANG == 0 {
			// block until a child's exit changes the answer; the
			// hosted build parks the goroutine instead of a wait
			// queue keyed on the parent.
			runtime.Gosched()
			continue
		}
		if err != 0 {
			return int32(-err)
		}
		if cpid != 0 && statusva != 0 {
			var w [4]byte
			binary.LittleEndian.PutUint32(w[:], uint32(Mkstatus(code)))
			ub := p.As.NewUserbuf(statusva, 4)
			if _, err := ub.Uiowrite(w[:]); err != 0 {
				return int32(-err)
			}
		}
		return int32(cpid)
	}
}

// resolvePath makes path absolute against p's working directory.
func (s *Syscall_t) resolvePath(p *proc.Process_t, path string) string {
	if len(path) > 0 && path[0] == '/' {
		return vfs.Canonical(path)
	}
	if p.Cwd != nil {
		return p.Cwd.Canonicalpath(ustr.Ustr(path)).String()
	}
	return vfs.Canonical("/" + path)
}

// copyStrIn reads a NUL-terminated string from user memory one byte
// at a time, so a string ending just before an unmapped page doesn't
// spuriously fault.
func copyStrIn(p *proc.Process_t, va uintptr) (string, defs.Err_t) {
	var out []byte
	for i := 0; i < vfs.VFS_MAX_PATH; i++ {
		var b [1]byte
		ub := p.As.NewUserbuf(va+uintptr(i), 1)
		if _, err := ub.Uioread(b[:]); err != 0 {
			return "", err
		}
		if b[0] == 0 {
			return string(out), 0
		}
		out = append(out, b[0])
	}
	return "", defs.EINVAL
}

// copyArgvIn reads a NULL-terminated array of string pointers from
// user memory. A zero argvva means no argument vector was supplied.
func copyArgvIn(p *proc.Process_t, va uintptr) ([]string, defs.Err_t) {
	if va == 0 {
		return nil, 0
	}
	const maxArgs = 32
	var argv []string
	for i := 0; i < maxArgs; i++ {
		var w [4]byte
		ub := p.As.NewUserbuf(va+uintptr(4*i), 4)
		if _, err := ub.Uioread(w[:]); err != 0 {
			return nil, err
		}
		ptr := uintptr(binary.LittleEndian.Uint32(w[:]))
		if ptr == 0 {
			return argv, 0
		}
		s, err := copyStrIn(p, ptr)
		if err != 0 {
			return nil, err
		}
		argv = append(argv, s)
	}
	return nil, defs.EINVAL
}

func splitPath(path string) (dir, name string) {
	i := len(path) - 1
	for i >= 0 && path[i] == '/' {
		i--
	}
	end := i + 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i <= 0 {
		return "/", path[i+1 : end]
	}
	return path[:i], path[i+1 : end]
}
