package sys

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/fd"
	"github.com/m512i/ZurichOS-sub001/intr"
	"github.com/m512i/ZurichOS-sub001/ipc"
	"github.com/m512i/ZurichOS-sub001/pmm"
	"github.com/m512i/ZurichOS-sub001/proc"
	"github.com/m512i/ZurichOS-sub001/vfs"
	"github.com/m512i/ZurichOS-sub001/vmm"
)

func newTestKernel(t *testing.T) (*Syscall_t, *proc.Table_t, *vfs.Vfs_t) {
	t.Helper()
	if _, err := pmm.Init(16 << 20); err != nil {
		t.Fatalf("pmm.Init: %v", err)
	}
	t.Cleanup(func() {
		if err := pmm.Physmem.Close(); err != nil {
			t.Errorf("pmm Close: %v", err)
		}
	})

	v := vfs.NewVfs()
	ram := vfs.NewRamfs()
	v.SetRoot(ram.Root())

	procs := proc.NewTable()
	if _, errt := procs.Create("init", 0); errt != 0 {
		t.Fatalf("create init: %v", errt)
	}
	return New(procs, v), procs, v
}

// userWrite maps (if needed) and fills a user range of p's address
// space, the test-side stand-in for userspace having staged a buffer.
func userWrite(t *testing.T, p *proc.Process_t, va uintptr, data []byte) {
	t.Helper()
	ub := p.As.NewUserbuf(va, len(data))
	if n, errt := ub.Uiowrite(data); errt != 0 || n != len(data) {
		t.Fatalf("user write at %#x: n=%d err=%v", va, n, errt)
	}
}

func userMap(t *testing.T, p *proc.Process_t, va, size uintptr) {
	t.Helper()
	_, errt := p.As.Mmap(va, size, vmm.PROT_READ|vmm.PROT_WRITE, vmm.VM_ANON, true)
	if errt != 0 {
		t.Fatalf("mmap user scratch at %#x: %v", va, errt)
	}
}

func userRead(t *testing.T, p *proc.Process_t, va uintptr, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	ub := p.As.NewUserbuf(va, n)
	c, errt := ub.Uioread(buf)
	if errt != 0 {
		t.Fatalf("user read at %#x: %v", va, errt)
	}
	return buf[:c]
}

func call(s *Syscall_t, p *proc.Process_t, num uint32, args ...uint32) int32 {
	regs := &intr.Registers_t{Eax: num}
	if len(args) > 0 {
		regs.Ebx = args[0]
	}
	if len(args) > 1 {
		regs.Ecx = args[1]
	}
	if len(args) > 2 {
		regs.Edx = args[2]
	}
	return s.Dispatch(p, regs)
}

func TestUnknownSyscallReturnsFailureSentinel(t *testing.T) {
	s, procs, _ := newTestKernel(t)
	p := procs.Get(1)
	if rc := call(s, p, 999); rc != int32(-defs.ENOSYS) {
		t.Fatalf("unknown syscall = %d, want %d", rc, int32(-defs.ENOSYS))
	}
}

func TestGetpid(t *testing.T) {
	s, procs, _ := newTestKernel(t)
	p := procs.Get(1)
	if rc := call(s, p, SYS_GETPID); rc != 1 {
		t.Fatalf("getpid = %d, want 1", rc)
	}
}

func TestOpenWriteReadCloseRoundTrip(t *testing.T) {
	s, procs, _ := newTestKernel(t)
	p := procs.Get(1)

	const scratch = 0x10000000
	userMap(t, p, scratch, 4096)
	userWrite(t, p, scratch, []byte("/msg\x00"))
	userWrite(t, p, scratch+0x100, []byte("hello\n"))

	fdn := call(s, p, SYS_OPEN, scratch, vfs.VFS_O_CREAT|vfs.VFS_O_RDWR)
	if fdn < 0 {
		t.Fatalf("open(/msg, CREAT|RDWR) = %d", fdn)
	}
	if rc := call(s, p, SYS_WRITE, uint32(fdn), scratch+0x100, 6); rc != 6 {
		t.Fatalf("write = %d, want 6", rc)
	}
	if rc := call(s, p, SYS_CLOSE, uint32(fdn)); rc != 0 {
		t.Fatalf("close = %d", rc)
	}

	fdn = call(s, p, SYS_OPEN, scratch, vfs.VFS_O_RDONLY)
	if fdn < 0 {
		t.Fatalf("reopen(/msg) = %d", fdn)
	}
	if rc := call(s, p, SYS_READ, uint32(fdn), scratch+0x200, 64); rc != 6 {
		t.Fatalf("read = %d, want 6", rc)
	}
	if got := userRead(t, p, scratch+0x200, 6); !bytes.Equal(got, []byte("hello\n")) {
		t.Fatalf("read back %q, want %q", got, "hello\n")
	}
	// offset advanced to EOF: the next read is empty
	if rc := call(s, p, SYS_READ, uint32(fdn), scratch+0x200, 64); rc != 0 {
		t.Fatalf("read at EOF = %d, want 0", rc)
	}
	if rc := call(s, p, SYS_CLOSE, uint32(fdn)); rc != 0 {
		t.Fatalf("close = %d", rc)
	}
}

func TestOpenMissingWithoutCreatFails(t *testing.T) {
	s, procs, _ := newTestKernel(t)
	p := procs.Get(1)

	const scratch = 0x10000000
	userMap(t, p, scratch, 4096)
	userWrite(t, p, scratch, []byte("/nope\x00"))

	if rc := call(s, p, SYS_OPEN, scratch, vfs.VFS_O_RDONLY); rc != int32(-defs.ENOENT) {
		t.Fatalf("open(/nope) = %d, want -ENOENT", rc)
	}
}

func TestReadWriteOnBadDescriptor(t *testing.T) {
	s, procs, _ := newTestKernel(t)
	p := procs.Get(1)

	if rc := call(s, p, SYS_READ, 7, 0, 8); rc != int32(-defs.EBADF) {
		t.Fatalf("read(7) = %d, want -EBADF", rc)
	}
	if rc := call(s, p, SYS_WRITE, 99, 0, 8); rc != int32(-defs.EBADF) {
		t.Fatalf("write(99) = %d, want -EBADF", rc)
	}
	if rc := call(s, p, SYS_CLOSE, 7); rc != int32(-defs.EBADF) {
		t.Fatalf("close(7) = %d, want -EBADF", rc)
	}
}

func TestWriteOnReadOnlyDescriptorIsDenied(t *testing.T) {
	s, procs, _ := newTestKernel(t)
	p := procs.Get(1)

	const scratch = 0x10000000
	userMap(t, p, scratch, 4096)
	userWrite(t, p, scratch, []byte("/f\x00"))

	fdn := call(s, p, SYS_OPEN, scratch, vfs.VFS_O_CREAT|vfs.VFS_O_RDONLY)
	if fdn < 0 {
		t.Fatalf("open = %d", fdn)
	}
	if rc := call(s, p, SYS_WRITE, uint32(fdn), scratch, 1); rc != int32(-defs.EPERM) {
		t.Fatalf("write on O_RDONLY fd = %d, want -EPERM", rc)
	}
}

func TestFaultingUserBufferFailsEFAULT(t *testing.T) {
	s, procs, _ := newTestKernel(t)
	p := procs.Get(1)

	const scratch = 0x10000000
	userMap(t, p, scratch, 4096)
	userWrite(t, p, scratch, []byte("/f\x00"))
	fdn := call(s, p, SYS_OPEN, scratch, vfs.VFS_O_CREAT|vfs.VFS_O_RDWR)
	if fdn < 0 {
		t.Fatalf("open = %d", fdn)
	}
	// put bytes in the file so the faulting read below has something
	// to copy out
	if rc := call(s, p, SYS_WRITE, uint32(fdn), scratch, 2); rc != 2 {
		t.Fatalf("staging write = %d, want 2", rc)
	}
	call(s, p, SYS_CLOSE, uint32(fdn))
	fdn = call(s, p, SYS_OPEN, scratch, vfs.VFS_O_RDWR)
	if fdn < 0 {
		t.Fatalf("reopen = %d", fdn)
	}

	// no VMA covers 0x50000000; kernel-half pointers are rejected too
	if rc := call(s, p, SYS_WRITE, uint32(fdn), 0x50000000, 8); rc != int32(-defs.EFAULT) {
		t.Fatalf("write from unmapped buf = %d, want -EFAULT", rc)
	}
	if rc := call(s, p, SYS_READ, uint32(fdn), 0xd0000000, 8); rc != int32(-defs.EFAULT) {
		t.Fatalf("read into kernel-half buf = %d, want -EFAULT", rc)
	}
}

// installPipe places both ends of a fresh pipe in p's descriptor
// table, pipe(2)'s effect without the syscall number (the minimum ABI
// set routes pipes through open of a FIFO instead).
func installPipe(t *testing.T, p *proc.Process_t) (rfd, wfd int, pipe *ipc.Pipe_t) {
	t.Helper()
	pipe, errt := ipc.NewPipe()
	if errt != 0 {
		t.Fatalf("NewPipe: %v", errt)
	}
	we := pipe.NewWriteEnd()
	we.SetOwner(p)
	p.Lock()
	defer p.Unlock()
	p.Fds[3] = &fd.Fd_t{Fops: &ipc.Pipereadfops_t{End: pipe.NewReadEnd()}, Perms: fd.FD_READ}
	p.Fds[4] = &fd.Fd_t{Fops: &ipc.Pipewritefops_t{End: we}, Perms: fd.FD_WRITE}
	return 3, 4, pipe
}

func TestPipeEchoAcrossFork(t *testing.T) {
	s, procs, _ := newTestKernel(t)
	parent := procs.Get(1)

	const scratch = 0x10000000
	userMap(t, parent, scratch, 4096)
	userWrite(t, parent, scratch, []byte("hello\n"))

	rfd, wfd, _ := installPipe(t, parent)

	cpid := call(s, parent, SYS_FORK)
	if cpid <= 1 {
		t.Fatalf("fork = %d", cpid)
	}
	child := procs.Get(defs.Pid_t(cpid))
	if child == nil {
		t.Fatal("forked child not in table")
	}

	// the child's COW view of the parent's buffer backs its write
	if rc := call(s, child, SYS_WRITE, uint32(wfd), scratch, 6); rc != 6 {
		t.Fatalf("child pipe write = %d, want 6", rc)
	}
	if rc := call(s, child, SYS_EXIT, 0); rc != 0 {
		t.Fatalf("child exit = %d", rc)
	}

	if rc := call(s, parent, SYS_READ, uint32(rfd), scratch+0x100, 64); rc != 6 {
		t.Fatalf("parent pipe read = %d, want 6", rc)
	}
	if got := userRead(t, parent, scratch+0x100, 6); !bytes.Equal(got, []byte("hello\n")) {
		t.Fatalf("parent read %q, want %q", got, "hello\n")
	}

	// once the parent drops its own write end, every writer is gone
	// (the child's closed at exit) and the pipe reads EOF
	if rc := call(s, parent, SYS_CLOSE, uint32(wfd)); rc != 0 {
		t.Fatalf("close wfd = %d", rc)
	}
	if rc := call(s, parent, SYS_READ, uint32(rfd), scratch+0x100, 64); rc != 0 {
		t.Fatalf("pipe read after all writers closed = %d, want 0 (EOF)", rc)
	}

	if rc := call(s, parent, SYS_WAITPID, uint32(cpid), 0, 0); rc != cpid {
		t.Fatalf("waitpid = %d, want %d", rc, cpid)
	}
}

// buildElf32 mirrors the loader test helper: a minimal ELF32 EXEC/386
// image with one PT_LOAD segment carrying body at vaddr.
func buildElf32(vaddr uint32, memsz uint32, body []byte) []byte {
	const ehdrSize = 52
	const phdrSize = 32
	bodyOff := uint32(ehdrSize + phdrSize)

	buf := make([]byte, bodyOff+uint32(len(body)))

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = proc.ELFCLASS32
	buf[5] = proc.ELFDATA2LSB
	binary.LittleEndian.PutUint16(buf[16:18], proc.ET_EXEC)
	binary.LittleEndian.PutUint16(buf[18:20], proc.EM_386)
	binary.LittleEndian.PutUint32(buf[20:24], proc.EV_CURRENT)
	binary.LittleEndian.PutUint32(buf[24:28], vaddr)
	binary.LittleEndian.PutUint32(buf[28:32], ehdrSize)
	binary.LittleEndian.PutUint16(buf[42:44], phdrSize)
	binary.LittleEndian.PutUint16(buf[44:46], 1)

	ph := buf[ehdrSize:]
	binary.LittleEndian.PutUint32(ph[0:4], proc.PT_LOAD)
	binary.LittleEndian.PutUint32(ph[4:8], bodyOff)
	binary.LittleEndian.PutUint32(ph[8:12], vaddr)
	binary.LittleEndian.PutUint32(ph[12:16], vaddr)
	binary.LittleEndian.PutUint32(ph[16:20], uint32(len(body)))
	binary.LittleEndian.PutUint32(ph[20:24], memsz)
	binary.LittleEndian.PutUint32(ph[24:28], proc.PF_R|proc.PF_W|proc.PF_X)

	copy(buf[bodyOff:], body)
	return buf
}

func TestForkExecWaitpidRoundTrip(t *testing.T) {
	s, procs, v := newTestKernel(t)
	parent := procs.Get(1)

	// stage /bin/ok in the ramfs
	root := v.GetRoot()
	if errt := vfs.VfsCreate(root, "ok", vfs.VFS_FILE); errt != 0 {
		t.Fatalf("create /ok: %v", errt)
	}
	node, errt := vfs.VfsFinddir(root, "ok")
	if errt != 0 {
		t.Fatalf("finddir /ok: %v", errt)
	}
	elf := buildElf32(0x08048000, 4096, []byte{0xb8, 0x02, 0x00, 0x00, 0x00})
	if _, errt := vfs.VfsWrite(node, 0, elf); errt != 0 {
		t.Fatalf("write /ok: %v", errt)
	}

	const scratch = 0x10000000
	userMap(t, parent, scratch, 4096)
	userWrite(t, parent, scratch, []byte("/ok\x00"))

	cpid := call(s, parent, SYS_FORK)
	if cpid <= 1 {
		t.Fatalf("fork = %d", cpid)
	}
	child := procs.Get(defs.Pid_t(cpid))

	regs := &intr.Registers_t{Eax: SYS_EXEC, Ebx: scratch}
	if rc := s.Dispatch(child, regs); rc != 0 {
		t.Fatalf("exec = %d", rc)
	}
	if regs.Eip != 0x08048000 {
		t.Fatalf("Eip after exec = %#x, want %#x", regs.Eip, 0x08048000)
	}
	if regs.Useresp == 0 || regs.Useresp >= proc.ExecStackTop {
		t.Fatalf("Useresp after exec = %#x", regs.Useresp)
	}
	if child.Name != "/ok" {
		t.Fatalf("child name after exec = %q, want %q", child.Name, "/ok")
	}

	if rc := call(s, child, SYS_EXIT, 7); rc != 0 {
		t.Fatalf("child exit = %d", rc)
	}

	userMap(t, parent, scratch+0x1000, 4096)
	statusva := uint32(scratch + 0x1000)
	rc := call(s, parent, SYS_WAITPID, uint32(cpid), statusva, 0)
	if rc != cpid {
		t.Fatalf("waitpid = %d, want %d", rc, cpid)
	}
	st := userRead(t, parent, uintptr(statusva), 4)
	status := int32(binary.LittleEndian.Uint32(st))
	if Wexitstatus(status) != 7 {
		t.Fatalf("WEXITSTATUS = %d, want 7", Wexitstatus(status))
	}
	if procs.Get(defs.Pid_t(cpid)) != nil {
		t.Fatal("reaped child still in process table")
	}
}

func TestWaitpidNoChildrenAndWNOHANG(t *testing.T) {
	s, procs, _ := newTestKernel(t)
	p := procs.Get(1)

	if rc := call(s, p, SYS_WAITPID, ^uint32(0), 0, 0); rc != int32(-defs.ECHILD) {
		t.Fatalf("waitpid with no children = %d, want -ECHILD", rc)
	}

	if _, errt := procs.Create("kid", 1); errt != 0 {
		t.Fatalf("create kid: %v", errt)
	}
	if rc := call(s, p, SYS_WAITPID, ^uint32(0), 0, WNOHANG); rc != 0 {
		t.Fatalf("waitpid(WNOHANG) with live child = %d, want 0", rc)
	}
}

func TestInstallRoutesVectorAndRejectsNoProcess(t *testing.T) {
	s, procs, _ := newTestKernel(t)
	idt := intr.NewIdt()

	var cur *proc.Process_t
	s.Install(idt, func() *proc.Process_t { return cur })

	regs := &intr.Registers_t{IntNo: SYSCALL_VECTOR, Eax: SYS_GETPID}
	idt.Dispatch(regs)
	if int32(regs.Eax) != int32(-defs.ESRCH) {
		t.Fatalf("syscall with no current process = %d, want -ESRCH", int32(regs.Eax))
	}

	cur = procs.Get(1)
	regs = &intr.Registers_t{IntNo: SYSCALL_VECTOR, Eax: SYS_GETPID}
	idt.Dispatch(regs)
	if regs.Eax != 1 {
		t.Fatalf("getpid through the gate = %d, want 1", regs.Eax)
	}
}
