package proc

import "github.com/m512i/ZurichOS-sub001/defs"

/// Sighandler_t is a user-installed signal handler entry point, an
/// opaque address in this hosted model (a real dispatch would push a
/// signal frame and resume user code at this address).
type Sighandler_t uintptr

/// SIG_DFL and SIG_IGN are sentinel handler values: default action and
/// explicit ignore.
const (
	SIG_DFL Sighandler_t = 0
	SIG_IGN Sighandler_t = 1
)

/// Sigstate_t is a process's signal-related state: pending/blocked
/// bitmasks plus the per-signal disposition table.
type Sigstate_t struct {
	Pending  defs.Sigset_t
	Blocked  defs.Sigset_t
	Handlers [defs.NSIG]Sighandler_t
}

func (s *Sigstate_t) init() {
	for i := range s.Handlers {
		s.Handlers[i] = SIG_DFL
	}
}

/// Raise marks sig pending on p. SIGKILL and SIGSTOP cannot be
/// blocked, per defs.Sigimmutable; every other signal is simply
/// recorded, to be checked and acted on the next time p is scheduled
/// (CheckSignals).
func (p *Process_t) Raise(sig defs.Signal_t) defs.Err_t {
	p.Lock()
	defer p.Unlock()
	p.Sig.Pending.Add(sig)
	return 0
}

/// SetHandler installs a user handler for sig, refusing to change the
/// disposition of an immutable signal.
func (p *Process_t) SetHandler(sig defs.Signal_t, h Sighandler_t) defs.Err_t {
	if defs.Sigimmutable(sig) {
		return defs.EINVAL
	}
	p.Lock()
	defer p.Unlock()
	p.Sig.Handlers[sig-1] = h
	return 0
}

/// Block adds sig to p's blocked set (refusing SIGKILL/SIGSTOP, which
/// can never be blocked).
func (p *Process_t) Block(sig defs.Signal_t) defs.Err_t {
	if defs.Sigimmutable(sig) {
		return defs.EINVAL
	}
	p.Lock()
	defer p.Unlock()
	p.Sig.Blocked.Add(sig)
	return 0
}

/// Unblock removes sig from p's blocked set.
func (p *Process_t) Unblock(sig defs.Signal_t) {
	p.Lock()
	defer p.Unlock()
	p.Sig.Blocked.Del(sig)
}

/// Action_t describes what CheckSignals resolved a pending signal to.
type Action_t int

const (
	SIGACT_NONE Action_t = iota
	SIGACT_IGNORED
	SIGACT_HANDLED
	SIGACT_TERMINATE
	SIGACT_CORE
	SIGACT_STOP
	SIGACT_CONTINUE
)

/// CheckSignals scans p's pending set for the lowest-numbered signal
/// that is not blocked, clears it, and resolves its disposition: an
/// installed handler wins (SIGACT_HANDLED, caller pushes a signal
/// frame and invokes it); otherwise the fixed default-disposition
/// table of defs.Sigdefaults governs. Returns SIGACT_NONE if no
/// deliverable signal is pending.
func (p *Process_t) CheckSignals() (defs.Signal_t, Action_t, Sighandler_t) {
	p.Lock()
	defer p.Unlock()

	for sig := defs.Signal_t(1); sig < defs.NSIG; sig++ {
		if !p.Sig.Pending.Has(sig) {
			continue
		}
		if p.Sig.Blocked.Has(sig) && !defs.Sigimmutable(sig) {
			continue
		}
		p.Sig.Pending.Del(sig)

		h := p.Sig.Handlers[sig-1]
		if h == SIG_IGN {
			return sig, SIGACT_IGNORED, h
		}
		if h != SIG_DFL {
			return sig, SIGACT_HANDLED, h
		}

		switch defs.Sigdefaults[sig] {
		case defs.SIGACT_TERM:
			return sig, SIGACT_TERMINATE, h
		case defs.SIGACT_CORE:
			return sig, SIGACT_CORE, h
		case defs.SIGACT_IGN:
			return sig, SIGACT_IGNORED, h
		case defs.SIGACT_STOP:
			return sig, SIGACT_STOP, h
		case defs.SIGACT_CONT:
			return sig, SIGACT_CONTINUE, h
		}
	}
	return 0, SIGACT_NONE, 0
}

/// Kill resolves a signal's delivery target by pid and raises it
/// there, the kernel-service side of the signal-sending syscall.
func (t *Table_t) Kill(pid defs.Pid_t, sig defs.Signal_t) defs.Err_t {
	p := t.Get(pid)
	if p == nil {
		return defs.ESRCH
	}
	return p.Raise(sig)
}
