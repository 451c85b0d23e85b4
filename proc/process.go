// Package proc implements process lifecycle, ELF loading, fork/exec/
// wait, and signal delivery. Built on fd.Fd_t/Cwd_t (fd/fd.go) and
// accnt.Accnt_t (accnt/accnt.go) for the per-process resource shape,
// with an exact state machine, ELF32 layout, and signal disposition
// table.
package proc

import (
	"sort"
	"sync"

	"github.com/m512i/ZurichOS-sub001/accnt"
	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/fd"
	"github.com/m512i/ZurichOS-sub001/limits"
	"github.com/m512i/ZurichOS-sub001/vmm"
)

/// Process lifecycle states.
type State_t int

const (
	PROC_UNUSED State_t = iota
	PROC_RUNNING
	PROC_READY
	PROC_BLOCKED
	PROC_ZOMBIE
	PROC_STOPPED
)

/// MAX_PROCESSES bounds the process table.
const MAX_PROCESSES = 64

/// MAX_FDS_PER_PROC bounds a single process's open file descriptors.
const MAX_FDS_PER_PROC = 32

/// Process_t is one process's kernel-visible state: pid/ppid/pgid,
/// lifecycle state, address space, accounting, open files, and
/// signal disposition.
type Process_t struct {
	sync.Mutex

	Pid   defs.Pid_t
	Ppid  defs.Pid_t
	Pgid  defs.Pid_t
	State State_t
	Name  string

	Acct accnt.Accnt_t

	As *vmm.Vm_t

	ExitCode int32

	Fds [MAX_FDS_PER_PROC]*fd.Fd_t
	Cwd *fd.Cwd_t

	Sig Sigstate_t

	WaitingForPid defs.Pid_t

	children []*Process_t
	parent   *Process_t
}

/// Table_t is the global process table: a pid-indexed map plus the
/// monotonic pid allocator.
type Table_t struct {
	mu     sync.Mutex
	byPid  map[defs.Pid_t]*Process_t
	nextPid defs.Pid_t
}

/// NewTable returns an empty process table. Pid 1 is reserved for the
/// init process that reparented zombies are handed to.
func NewTable() *Table_t {
	return &Table_t{byPid: make(map[defs.Pid_t]*Process_t), nextPid: 1}
}

/// Create allocates a new process with the given name and parent pid,
/// in PROC_READY state with a fresh address space.
func (t *Table_t) Create(name string, ppid defs.Pid_t) (*Process_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.byPid) >= MAX_PROCESSES || len(t.byPid) >= limits.Syslimit.Sysprocs {
		return nil, defs.ENOMEM
	}
	as, err := vmm.NewAddrSpace()
	if err != 0 {
		return nil, err
	}
	p := &Process_t{
		Pid:   t.nextPid,
		Ppid:  ppid,
		Pgid:  ppid,
		State: PROC_READY,
		Name:  name,
		As:    as,
	}
	p.Sig.init()
	t.nextPid++
	t.byPid[p.Pid] = p
	if parent := t.byPid[ppid]; parent != nil {
		parent.children = append(parent.children, p)
		p.parent = parent
	}
	return p, 0
}

/// Get returns the process with the given pid, or nil.
func (t *Table_t) Get(pid defs.Pid_t) *Process_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byPid[pid]
}

/// Count returns the number of live process-table entries.
func (t *Table_t) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byPid)
}

/// Pids returns every live pid, in ascending order, for callers (procfs)
/// that enumerate the whole table.
func (t *Table_t) Pids() []defs.Pid_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	pids := make([]defs.Pid_t, 0, len(t.byPid))
	for pid := range t.byPid {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

/// Remove deletes pid's table entry outright (used once a zombie has
/// been reaped by Waitpid).
func (t *Table_t) Remove(pid defs.Pid_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byPid, pid)
}

/// StateName returns the human-readable name of a lifecycle state.
func StateName(s State_t) string {
	switch s {
	case PROC_UNUSED:
		return "unused"
	case PROC_RUNNING:
		return "running"
	case PROC_READY:
		return "ready"
	case PROC_BLOCKED:
		return "blocked"
	case PROC_ZOMBIE:
		return "zombie"
	case PROC_STOPPED:
		return "stopped"
	default:
		return "?"
	}
}

/// Setpgid sets pid's process group id.
func (t *Table_t) Setpgid(pid, pgid defs.Pid_t) defs.Err_t {
	p := t.Get(pid)
	if p == nil {
		return defs.ESRCH
	}
	p.Lock()
	p.Pgid = pgid
	p.Unlock()
	return 0
}

/// Rusage returns p's accumulated CPU accounting serialized as an
/// rusage-shaped byte slice (accnt.Accnt_t.To_rusage), the form a
/// getrusage(2)-style syscall copies straight to a user buffer.
func (t *Table_t) Rusage(pid defs.Pid_t) ([]uint8, defs.Err_t) {
	p := t.Get(pid)
	if p == nil {
		return nil, defs.ESRCH
	}
	return p.Acct.Fetch(), 0
}

/// Getpgid returns pid's process group id.
func (t *Table_t) Getpgid(pid defs.Pid_t) (defs.Pid_t, defs.Err_t) {
	p := t.Get(pid)
	if p == nil {
		return 0, defs.ESRCH
	}
	p.Lock()
	defer p.Unlock()
	return p.Pgid, 0
}

/// ReparentChildren hands every child of parentPid over to pid 1,
/// exit-time reparenting policy.
func (t *Table_t) ReparentChildren(parentPid defs.Pid_t) {
	parent := t.Get(parentPid)
	if parent == nil {
		return
	}
	init := t.Get(1)
	parent.Lock()
	kids := parent.children
	parent.children = nil
	parent.Unlock()

	for _, c := range kids {
		c.Lock()
		c.Ppid = 1
		c.parent = init
		c.Unlock()
		if init != nil {
			init.Lock()
			init.children = append(init.children, c)
			init.Unlock()
		}
	}
}
