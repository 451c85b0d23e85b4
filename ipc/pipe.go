package ipc

import (
	"sync"

	"github.com/m512i/ZurichOS-sub001/circbuf"
	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/fdops"
	"github.com/m512i/ZurichOS-sub001/ksync"
)

/// PIPE_BUF_SIZE is the ring buffer size backing each pipe. MAX_PIPES
/// is not consulted by pipe creation; the number of live pipes is
/// bounded by limits.Syslimit.Pipes.
const (
	PIPE_BUF_SIZE = 4096
	MAX_PIPES     = 32
)

/// Pipe_t is one pipe: a single circular buffer shared by a read end
/// and a write end, with reader/writer refcounts so the last close on
/// either side changes the other end's blocking behavior (EOF on
/// read, SIGPIPE/EPIPE on write).
type Pipe_t struct {
	mu      sync.Mutex
	cb      circbuf.Circbuf_t
	readers uint32
	writers uint32
	rwait   ksync.Waitqueue_t
	wwait   ksync.Waitqueue_t
}

/// NewPipe allocates a pipe with one reader and one writer reference,
/// matching pipe_create's semantics of handing back both ends at once.
func NewPipe() (*Pipe_t, defs.Err_t) {
	p := &Pipe_t{readers: 1, writers: 1}
	if err := p.cb.Cb_init(PIPE_BUF_SIZE); err != 0 {
		return nil, err
	}
	return p, 0
}

/// SignalRaiser is the minimal view WriteEnd_t needs of the process
/// that owns it to deliver SIGPIPE; proc.Process_t implements it.
/// Defined here rather than imported from proc to avoid a dependency
/// cycle, the same reason ksync.PriorityHolder exists instead of an
/// import of sched.
type SignalRaiser interface {
	Raise(sig defs.Signal_t) defs.Err_t
}

/// ReadEnd and WriteEnd are the two fdops.Fdops_i-shaped handles a
/// process installs in its descriptor table for pipe_create's pipefd[0]
/// and pipefd[1].
type ReadEnd_t struct{ p *Pipe_t }
type WriteEnd_t struct {
	p     *Pipe_t
	owner SignalRaiser
}

func (p *Pipe_t) NewReadEnd() *ReadEnd_t   { return &ReadEnd_t{p: p} }
func (p *Pipe_t) NewWriteEnd() *WriteEnd_t { return &WriteEnd_t{p: p} }

/// SetOwner records the process whose pipefd[1] this end backs, so
/// Write can raise SIGPIPE on it after an EPIPE return. Called once by
/// whatever installs the end in a process's descriptor table; a
/// WriteEnd_t with no owner set (e.g. one used directly in a test)
/// simply skips signal delivery.
func (w *WriteEnd_t) SetOwner(owner SignalRaiser) {
	w.owner = owner
}

/// Read blocks (by spinning the caller through a wait queue) until
/// data is available or every writer has closed, at which point it
/// returns EOF as a zero-byte, zero-error read.
func (r *ReadEnd_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	p := r.p
	for {
		p.mu.Lock()
		if !p.cb.Empty() {
			n, err := p.cb.Copyout(dst)
			p.mu.Unlock()
			p.wwait.Wakeone()
			return n, err
		}
		if p.writers == 0 {
			p.mu.Unlock()
			return 0, 0
		}
		p.mu.Unlock()
		p.rwait.Wait()
	}
}

/// Write blocks until buffer space is available or every reader has
/// closed, at which point it fails with EPIPE and raises SIGPIPE
/// against the owning process set by SetOwner, if any.
func (w *WriteEnd_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	p := w.p
	total := 0
	for src.Remain() > 0 {
		p.mu.Lock()
		if p.readers == 0 {
			p.mu.Unlock()
			if w.owner != nil {
				w.owner.Raise(defs.SIGPIPE)
			}
			return total, defs.EPIPE
		}
		if p.cb.Full() {
			p.mu.Unlock()
			p.wwait.Wait()
			continue
		}
		n, err := p.cb.Copyin(src)
		p.mu.Unlock()
		p.rwait.Wakeone()
		if err != 0 {
			return total, err
		}
		if n == 0 {
			p.wwait.Wait()
			continue
		}
		total += n
	}
	return total, 0
}

/// Close decrements the read end's refcount and wakes any blocked
/// writer; the pipe's backing frame is freed once both the last reader
/// and the last writer are gone.
func (r *ReadEnd_t) Close() defs.Err_t {
	p := r.p
	p.mu.Lock()
	p.readers--
	last := p.readers == 0
	p.mu.Unlock()
	p.wwait.Wakeall()
	if last {
		p.release()
	}
	return 0
}

/// Close decrements the write end's refcount, waking any blocked
/// reader with EOF once the last writer is gone.
func (w *WriteEnd_t) Close() defs.Err_t {
	p := w.p
	p.mu.Lock()
	p.writers--
	last := p.writers == 0
	p.mu.Unlock()
	p.rwait.Wakeall()
	if last {
		p.release()
	}
	return 0
}

func (p *Pipe_t) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readers == 0 && p.writers == 0 {
		p.cb.Cb_release()
	}
}

/// IsPipe reports whether v implements either pipe end, the Go
/// equivalent of pipe_is_pipe(fd) type check.
func IsPipe(v interface{}) bool {
	switch v.(type) {
	case *ReadEnd_t, *WriteEnd_t:
		return true
	default:
		return false
	}
}
