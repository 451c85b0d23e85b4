package ipc

import (
	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/fdops"
)

/// Pipereadfops_t and Pipewritefops_t wrap the two pipe ends as full
/// fdops.Fdops_i implementations so pipe_create's pipefd[0]/pipefd[1]
/// can sit in a process's descriptor table next to ordinary files.
/// Reopen bumps the pipe's reader/writer refcount, which is how a
/// fork's descriptor-table clone keeps EOF and EPIPE accounting
/// correct across both processes.
type Pipereadfops_t struct {
	End *ReadEnd_t
}

type Pipewritefops_t struct {
	End *WriteEnd_t
}

func (pf *Pipereadfops_t) Close() defs.Err_t { return pf.End.Close() }

func (pf *Pipereadfops_t) Fstat(sa *fdops.StatAdapter) defs.Err_t {
	sa.Mode = 0010000
	return 0
}

func (pf *Pipereadfops_t) Lseek(off, whence int) (int, defs.Err_t) {
	return 0, defs.EINVAL
}

func (pf *Pipereadfops_t) Mmapi(offset, length int, inhibit bool) ([]fdops.MmapInfo_t, defs.Err_t) {
	return nil, defs.ENOSYS
}

func (pf *Pipereadfops_t) Pathi() string { return "" }

func (pf *Pipereadfops_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	return pf.End.Read(dst)
}

func (pf *Pipereadfops_t) Reopen() defs.Err_t {
	p := pf.End.p
	p.mu.Lock()
	p.readers++
	p.mu.Unlock()
	return 0
}

func (pf *Pipereadfops_t) Write(fdops.Userio_i) (int, defs.Err_t) {
	return 0, defs.EBADF
}

func (pf *Pipereadfops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	p := pf.End.p
	p.mu.Lock()
	defer p.mu.Unlock()
	var r fdops.Ready_t
	if !p.cb.Empty() {
		r |= fdops.R_READ
	}
	if p.writers == 0 {
		r |= fdops.R_HUP
	}
	return r & (pm.Events | fdops.R_HUP), 0
}

func (pf *Pipewritefops_t) Close() defs.Err_t { return pf.End.Close() }

func (pf *Pipewritefops_t) Fstat(sa *fdops.StatAdapter) defs.Err_t {
	sa.Mode = 0010000
	return 0
}

func (pf *Pipewritefops_t) Lseek(off, whence int) (int, defs.Err_t) {
	return 0, defs.EINVAL
}

func (pf *Pipewritefops_t) Mmapi(offset, length int, inhibit bool) ([]fdops.MmapInfo_t, defs.Err_t) {
	return nil, defs.ENOSYS
}

func (pf *Pipewritefops_t) Pathi() string { return "" }

func (pf *Pipewritefops_t) Read(fdops.Userio_i) (int, defs.Err_t) {
	return 0, defs.EBADF
}

func (pf *Pipewritefops_t) Reopen() defs.Err_t {
	p := pf.End.p
	p.mu.Lock()
	p.writers++
	p.mu.Unlock()
	return 0
}

func (pf *Pipewritefops_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	return pf.End.Write(src)
}

func (pf *Pipewritefops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	p := pf.End.p
	p.mu.Lock()
	defer p.mu.Unlock()
	var r fdops.Ready_t
	if !p.cb.Full() {
		r |= fdops.R_WRITE
	}
	if p.readers == 0 {
		r |= fdops.R_ERROR
	}
	return r & (pm.Events | fdops.R_ERROR), 0
}
