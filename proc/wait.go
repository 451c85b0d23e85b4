package proc

import (
	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/fd"
	"github.com/m512i/ZurichOS-sub001/vmm"
)

/// WNOHANG mirrors waitpid(2)'s non-blocking flag: return immediately
/// if no matching child has exited yet, rather than the caller having
/// to poll by hand.
const WNOHANG = 1

/// Exit transitions p to PROC_ZOMBIE with the given exit code, closes
/// its descriptors, releases its user address space (shared frames
/// drop a reference; exclusively-held ones free), reparents its
/// children to pid 1, and raises SIGCHLD on its parent. The zombie
/// entry survives in the table until a parent's Waitpid reaps it.
func (t *Table_t) Exit(p *Process_t, code int32) {
	p.Lock()
	if p.State == PROC_ZOMBIE {
		p.Unlock()
		return
	}
	p.State = PROC_ZOMBIE
	p.ExitCode = code
	var fds []*fd.Fd_t
	for i, f := range p.Fds {
		if f != nil {
			fds = append(fds, f)
			p.Fds[i] = nil
		}
	}
	as := p.As
	p.Unlock()

	for _, f := range fds {
		f.Fops.Close()
	}
	if as != nil {
		releaseUserMappings(as)
	}

	t.ReparentChildren(p.Pid)

	if parent := t.Get(p.Ppid); parent != nil {
		parent.Raise(defs.SIGCHLD)
	}
}

// releaseUserMappings tears down every user VMA of an exiting
// process's address space; Munmap's refcounting frees each frame once
// its last mapping is gone.
func releaseUserMappings(as *vmm.Vm_t) {
	// snapshot: Munmap edits the region list in place
	type span struct{ start, end uintptr }
	var spans []span
	for _, v := range as.Vmregion.Regions() {
		spans = append(spans, span{v.Start, v.End})
	}
	for _, sp := range spans {
		as.Munmap(sp.start, sp.end-sp.start)
	}
}

/// Waitpid implements waitpid(2): reaps the first zombie child of
/// parent matching pid (or any child if pid <= 0), returning its pid
/// and exit code. With WNOHANG set, returns (0, 0, 0) immediately if no
/// matching child has exited; otherwise the caller is expected to
/// retry (this package does not itself block — the scheduler's
/// Block/Sleep primitives are the caller's to invoke around a retry
/// loop, since only the caller knows which wait queue its children's
/// exits signal).
func (t *Table_t) Waitpid(parent *Process_t, pid defs.Pid_t, options int) (defs.Pid_t, int32, defs.Err_t) {
	parent.Lock()
	kids := append([]*Process_t(nil), parent.children...)
	parent.Unlock()

	if len(kids) == 0 {
		return 0, 0, defs.ECHILD
	}

	matched := false
	for _, c := range kids {
		if pid > 0 && c.Pid != pid {
			continue
		}
		matched = true
		c.Lock()
		if c.State == PROC_ZOMBIE {
			code := c.ExitCode
			cpid := c.Pid
			c.Unlock()

			parent.Lock()
			for i, k := range parent.children {
				if k == c {
					parent.children = append(parent.children[:i], parent.children[i+1:]...)
					break
				}
			}
			parent.Unlock()
			t.Remove(cpid)
			return cpid, code, 0
		}
		c.Unlock()
	}

	if pid > 0 && !matched {
		// pid names no child of this parent
		return 0, 0, defs.ECHILD
	}
	if options&WNOHANG != 0 {
		return 0, 0, 0
	}
	return 0, 0, defs.EAGAIN
}
