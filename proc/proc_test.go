package proc

import (
	"encoding/binary"
	"testing"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/fd"
	"github.com/m512i/ZurichOS-sub001/fdops"
	"github.com/m512i/ZurichOS-sub001/pmm"
	"github.com/m512i/ZurichOS-sub001/vmm"
)

// freshPhysmem gives each test a clean pmm.Physmem singleton, since
// vmm.NewAddrSpace (via Table_t.Create/Exec) allocates its directory
// from it.
func freshPhysmem(t *testing.T) {
	t.Helper()
	if _, err := pmm.Init(8 << 20); err != nil {
		t.Fatalf("pmm.Init: %v", err)
	}
	t.Cleanup(func() {
		if err := pmm.Physmem.Close(); err != nil {
			t.Errorf("pmm Close: %v", err)
		}
	})
}

// buildElf32 assembles a minimal valid ELF32 EXEC/386 image with one
// PT_LOAD segment carrying body at vaddr, memsz bytes total (zero-
// filled past len(body)), entry point set to vaddr.
func buildElf32(vaddr uint32, memsz uint32, body []byte) []byte {
	const ehdrSize = 52
	const phdrSize = 32
	bodyOff := uint32(ehdrSize + phdrSize)

	buf := make([]byte, bodyOff+uint32(len(body)))

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = ELFCLASS32
	buf[5] = ELFDATA2LSB
	binary.LittleEndian.PutUint16(buf[16:18], ET_EXEC)
	binary.LittleEndian.PutUint16(buf[18:20], EM_386)
	binary.LittleEndian.PutUint32(buf[20:24], EV_CURRENT)
	binary.LittleEndian.PutUint32(buf[24:28], vaddr) // entry
	binary.LittleEndian.PutUint32(buf[28:32], ehdrSize) // phoff
	binary.LittleEndian.PutUint32(buf[32:36], 0)        // shoff (none)
	binary.LittleEndian.PutUint16(buf[42:44], phdrSize) // phentsize
	binary.LittleEndian.PutUint16(buf[44:46], 1)        // phnum
	binary.LittleEndian.PutUint16(buf[46:48], 0)        // shentsize
	binary.LittleEndian.PutUint16(buf[48:50], 0)        // shnum

	ph := buf[ehdrSize:]
	binary.LittleEndian.PutUint32(ph[0:4], PT_LOAD)
	binary.LittleEndian.PutUint32(ph[4:8], bodyOff) // offset
	binary.LittleEndian.PutUint32(ph[8:12], vaddr)  // vaddr
	binary.LittleEndian.PutUint32(ph[12:16], vaddr) // paddr
	binary.LittleEndian.PutUint32(ph[16:20], uint32(len(body))) // filesz
	binary.LittleEndian.PutUint32(ph[20:24], memsz)             // memsz
	binary.LittleEndian.PutUint32(ph[24:28], PF_R|PF_W|PF_X)    // flags

	copy(buf[bodyOff:], body)
	return buf
}

func TestTableCreateAssignsSequentialPidsAndTracksParent(t *testing.T) {
	freshPhysmem(t)
	tbl := NewTable()

	init_, errt := tbl.Create("init", 0)
	if errt != 0 {
		t.Fatalf("Create init: %v", errt)
	}
	if init_.Pid != 1 {
		t.Fatalf("first created pid = %d, want 1", init_.Pid)
	}
	if init_.State != PROC_READY {
		t.Fatalf("State = %v, want PROC_READY", init_.State)
	}

	child, errt := tbl.Create("child", init_.Pid)
	if errt != 0 {
		t.Fatalf("Create child: %v", errt)
	}
	if child.Pid != 2 {
		t.Fatalf("second created pid = %d, want 2", child.Pid)
	}
	if child.Ppid != init_.Pid {
		t.Fatalf("Ppid = %d, want %d", child.Ppid, init_.Pid)
	}
	if len(init_.children) != 1 || init_.children[0] != child {
		t.Fatal("parent's children slice does not list the new child")
	}

	if tbl.Count() != 2 {
		t.Fatalf("Count = %d, want 2", tbl.Count())
	}
	if got := tbl.Get(child.Pid); got != child {
		t.Fatal("Get did not return the created child")
	}
	if pids := tbl.Pids(); len(pids) != 2 || pids[0] != 1 || pids[1] != 2 {
		t.Fatalf("Pids = %v, want [1 2]", pids)
	}
}

func TestTableCreateRejectsPastMaxProcesses(t *testing.T) {
	freshPhysmem(t)
	tbl := NewTable()
	for i := 0; i < MAX_PROCESSES; i++ {
		if _, errt := tbl.Create("p", 0); errt != 0 {
			t.Fatalf("Create #%d: %v", i, errt)
		}
	}
	if _, errt := tbl.Create("overflow", 0); errt != defs.ENOMEM {
		t.Fatalf("Create past MAX_PROCESSES = %v, want ENOMEM", errt)
	}
}

func TestSetpgidGetpgidAndUnknownPidIsESRCH(t *testing.T) {
	freshPhysmem(t)
	tbl := NewTable()
	p, _ := tbl.Create("p", 0)

	if errt := tbl.Setpgid(p.Pid, 7); errt != 0 {
		t.Fatalf("Setpgid: %v", errt)
	}
	got, errt := tbl.Getpgid(p.Pid)
	if errt != 0 || got != 7 {
		t.Fatalf("Getpgid = (%d,%v), want (7,0)", got, errt)
	}
	if errt := tbl.Setpgid(999, 1); errt != defs.ESRCH {
		t.Fatalf("Setpgid(unknown pid) = %v, want ESRCH", errt)
	}
}

func TestForkSharesFramesCopyOnWrite(t *testing.T) {
	freshPhysmem(t)
	tbl := NewTable()
	parent, errt := tbl.Create("parent", 0)
	if errt != 0 {
		t.Fatalf("Create: %v", errt)
	}

	pa, ok := pmm.Physmem.Alloc()
	if !ok {
		t.Fatal("Alloc failed")
	}
	const va = uintptr(0x08000000)
	parent.As.Lock_pmap()
	vma := &vmm.Vma_t{Start: va, End: va + pmm.PGSIZE, Prot: vmm.PROT_READ | vmm.PROT_WRITE, Type: vmm.VM_ANON}
	if err := parent.As.Vmregion.Add(vma); err != 0 {
		t.Fatalf("Vmregion.Add: %v", err)
	}
	if err := parent.As.Map(va, pa, vmm.PTE_W|vmm.PTE_U); err != 0 {
		t.Fatalf("Map: %v", err)
	}
	parent.As.Unlock_pmap()

	child, errt := tbl.Fork(parent)
	if errt != 0 {
		t.Fatalf("Fork: %v", errt)
	}
	if child.Ppid != parent.Pid {
		t.Fatalf("child.Ppid = %d, want %d", child.Ppid, parent.Pid)
	}

	parent.As.Lock_pmap()
	parentPa, ok := parent.As.Translate(va)
	parent.As.Unlock_pmap()
	if !ok {
		t.Fatal("parent's mapping vanished after Fork")
	}

	child.As.Lock_pmap()
	childPa, ok := child.As.Translate(va)
	child.As.Unlock_pmap()
	if !ok {
		t.Fatal("child does not inherit parent's mapping")
	}
	if childPa != parentPa {
		t.Fatalf("child frame %#x != parent frame %#x, want shared", childPa, parentPa)
	}
	if pmm.Physmem.Refcnt(parentPa) != 2 {
		t.Fatalf("Refcnt = %d after Fork, want 2 (shared)", pmm.Physmem.Refcnt(parentPa))
	}
}

func TestForkClonesFdTableAndSharesCwdAndSig(t *testing.T) {
	freshPhysmem(t)
	tbl := NewTable()
	parent, _ := tbl.Create("parent", 0)

	ff := &fakeFops{}
	parent.Fds[3] = &fd.Fd_t{Fops: ff, Perms: fd.FD_READ}
	parent.Cwd = &fd.Cwd_t{}
	parent.SetHandler(defs.SIGUSR1, Sighandler_t(0x1000))

	child, errt := tbl.Fork(parent)
	if errt != 0 {
		t.Fatalf("Fork: %v", errt)
	}
	if child.Fds[3] == nil || child.Fds[3] == parent.Fds[3] {
		t.Fatal("child's fd slot is nil or aliases the parent's Fd_t")
	}
	if !ff.reopened {
		t.Fatal("Fork did not reopen the duplicated descriptor")
	}
	if child.Cwd != parent.Cwd {
		t.Fatal("child does not share the parent's Cwd_t")
	}
	if child.Sig.Handlers[defs.SIGUSR1-1] != Sighandler_t(0x1000) {
		t.Fatal("child did not inherit parent's signal disposition table")
	}
}

func TestExecLoadsEntryPointAndStack(t *testing.T) {
	freshPhysmem(t)
	tbl := NewTable()
	p, _ := tbl.Create("p", 0)

	const vaddr = 0x08048000
	body := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	elf := buildElf32(vaddr, 4096, body)

	img, errt := p.Exec(elf, []string{"hello", "world"})
	if errt != 0 {
		t.Fatalf("Exec: %v", errt)
	}
	if img.Entry != vaddr {
		t.Fatalf("Entry = %#x, want %#x", img.Entry, vaddr)
	}
	if img.StackTop >= ExecStackTop {
		t.Fatalf("StackTop = %#x, want below %#x (argc/argv pushed)", img.StackTop, uint32(ExecStackTop))
	}
	if p.Name != "hello" {
		t.Fatalf("Name = %q, want %q (argv[0])", p.Name, "hello")
	}

	// the word at the final stack pointer is argc
	var argc [4]byte
	ub := p.As.NewUserbuf(uintptr(img.StackTop), 4)
	if _, errt := ub.Uioread(argc[:]); errt != 0 {
		t.Fatalf("read argc: %v", errt)
	}
	if got := binary.LittleEndian.Uint32(argc[:]); got != 2 {
		t.Fatalf("argc = %d, want 2", got)
	}

	p.As.Lock_pmap()
	defer p.As.Unlock_pmap()
	if !p.As.IsMapped(vaddr) {
		t.Fatal("entry page not mapped after Exec")
	}
	if !p.As.IsMapped(ExecStackTop - pmm.PGSIZE) {
		t.Fatal("stack not mapped after Exec")
	}
}

func TestExecRejectsBadMagic(t *testing.T) {
	freshPhysmem(t)
	tbl := NewTable()
	p, _ := tbl.Create("p", 0)

	garbage := make([]byte, 64)
	if _, errt := p.Exec(garbage, nil); errt != defs.ENOEXEC {
		t.Fatalf("Exec(garbage) = %v, want ENOEXEC", errt)
	}
}

func TestExitReparentsChildrenToPidOneAndSignalsParent(t *testing.T) {
	freshPhysmem(t)
	tbl := NewTable()
	init_, _ := tbl.Create("init", 0)
	mid, _ := tbl.Create("mid", init_.Pid)
	leaf, _ := tbl.Create("leaf", mid.Pid)

	tbl.Exit(mid, 0)
	if leaf.Ppid != 1 {
		t.Fatalf("leaf.Ppid = %d after its parent exited, want 1", leaf.Ppid)
	}

	found := false
	init_.Lock()
	for _, c := range init_.children {
		if c == leaf {
			found = true
		}
	}
	init_.Unlock()
	if !found {
		t.Fatal("init did not inherit the orphaned grandchild")
	}

	init_.Lock()
	pending := init_.Sig.Pending.Has(defs.SIGCHLD)
	init_.Unlock()
	if !pending {
		t.Fatal("parent was not signaled SIGCHLD on child exit")
	}
}

func TestWaitpidReapsZombieAndWNOHANGReturnsImmediately(t *testing.T) {
	freshPhysmem(t)
	tbl := NewTable()
	parent, _ := tbl.Create("parent", 0)
	child, _ := tbl.Create("child", parent.Pid)

	pid, _, errt := tbl.Waitpid(parent, 0, WNOHANG)
	if errt != 0 || pid != 0 {
		t.Fatalf("Waitpid(WNOHANG, no zombie) = (%d,%v), want (0,0)", pid, errt)
	}

	tbl.Exit(child, 7)

	pid, code, errt := tbl.Waitpid(parent, 0, 0)
	if errt != 0 {
		t.Fatalf("Waitpid: %v", errt)
	}
	if pid != child.Pid || code != 7 {
		t.Fatalf("Waitpid = (%d,%d), want (%d,7)", pid, code, child.Pid)
	}
	if tbl.Get(child.Pid) != nil {
		t.Fatal("reaped zombie still present in the process table")
	}

	if _, _, errt := tbl.Waitpid(parent, 0, WNOHANG); errt != defs.ECHILD {
		t.Fatalf("Waitpid with no remaining children = %v, want ECHILD", errt)
	}
}

func TestSignalDefaultDispositionsAndSigkillImmutability(t *testing.T) {
	freshPhysmem(t)
	tbl := NewTable()
	p, _ := tbl.Create("p", 0)

	if errt := p.SetHandler(defs.SIGKILL, Sighandler_t(0x1000)); errt != defs.EINVAL {
		t.Fatalf("SetHandler(SIGKILL) = %v, want EINVAL", errt)
	}
	if errt := p.Block(defs.SIGSTOP); errt != defs.EINVAL {
		t.Fatalf("Block(SIGSTOP) = %v, want EINVAL", errt)
	}

	p.Raise(defs.SIGKILL)
	sig, act, _ := p.CheckSignals()
	if sig != defs.SIGKILL || act != SIGACT_TERMINATE {
		t.Fatalf("CheckSignals(SIGKILL) = (%v,%v), want (SIGKILL,SIGACT_TERMINATE)", sig, act)
	}

	p.Raise(defs.SIGCHLD) // default-ignored signal
	sig, act, _ = p.CheckSignals()
	if sig != defs.SIGCHLD || act != SIGACT_IGNORED {
		t.Fatalf("CheckSignals(SIGCHLD) = (%v,%v), want (SIGCHLD,SIGACT_IGNORED)", sig, act)
	}

	if errt := p.SetHandler(defs.SIGUSR1, Sighandler_t(0x2000)); errt != 0 {
		t.Fatalf("SetHandler: %v", errt)
	}
	p.Raise(defs.SIGUSR1)
	sig, act, h := p.CheckSignals()
	if sig != defs.SIGUSR1 || act != SIGACT_HANDLED || h != Sighandler_t(0x2000) {
		t.Fatalf("CheckSignals(SIGUSR1) = (%v,%v,%#x), want handled at 0x2000", sig, act, h)
	}
}

func TestCheckSignalsSkipsBlockedSignal(t *testing.T) {
	freshPhysmem(t)
	tbl := NewTable()
	p, _ := tbl.Create("p", 0)

	p.Block(defs.SIGUSR1)
	p.Raise(defs.SIGUSR1)
	sig, act, _ := p.CheckSignals()
	if act != SIGACT_NONE || sig != 0 {
		t.Fatalf("CheckSignals with SIGUSR1 blocked = (%v,%v), want (0,SIGACT_NONE)", sig, act)
	}

	p.Unblock(defs.SIGUSR1)
	sig, act, _ = p.CheckSignals()
	if sig != defs.SIGUSR1 || act != SIGACT_TERMINATE {
		t.Fatalf("CheckSignals after Unblock = (%v,%v), want (SIGUSR1,SIGACT_TERMINATE)", sig, act)
	}
}

func TestKillUnknownPidIsESRCH(t *testing.T) {
	freshPhysmem(t)
	tbl := NewTable()
	if errt := tbl.Kill(999, defs.SIGTERM); errt != defs.ESRCH {
		t.Fatalf("Kill(unknown pid) = %v, want ESRCH", errt)
	}
}

func TestRusageReflectsAccountedTimeAndUnknownPidIsESRCH(t *testing.T) {
	freshPhysmem(t)
	tbl := NewTable()
	p, errt := tbl.Create("acctd", 0)
	if errt != 0 {
		t.Fatalf("Create: %v", errt)
	}
	p.Acct.Utadd(2_000_000)
	p.Acct.Systadd(1_000_000)

	ru, errt := tbl.Rusage(p.Pid)
	if errt != 0 {
		t.Fatalf("Rusage: %v", errt)
	}
	if len(ru) != 32 {
		t.Fatalf("Rusage len = %d, want 32 (4 timeval halves)", len(ru))
	}

	if _, errt := tbl.Rusage(999); errt != defs.ESRCH {
		t.Fatalf("Rusage(unknown pid) = %v, want ESRCH", errt)
	}
}

type fakeFops struct {
	reopened bool
}

func (f *fakeFops) Close() defs.Err_t                     { return 0 }
func (f *fakeFops) Fstat(*fdops.StatAdapter) defs.Err_t   { return 0 }
func (f *fakeFops) Lseek(off, whence int) (int, defs.Err_t) { return 0, 0 }
func (f *fakeFops) Mmapi(offset, length int, inhibit bool) ([]fdops.MmapInfo_t, defs.Err_t) {
	return nil, 0
}
func (f *fakeFops) Pathi() string { return "" }
func (f *fakeFops) Read(fdops.Userio_i) (int, defs.Err_t)  { return 0, 0 }
func (f *fakeFops) Reopen() defs.Err_t                     { f.reopened = true; return 0 }
func (f *fakeFops) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, 0 }
func (f *fakeFops) Poll(fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return 0, 0
}
