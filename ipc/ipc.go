package ipc

import (
	"sync"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/limits"
	"github.com/m512i/ZurichOS-sub001/vfs"
)

/// Ipc_t bundles the three IPC registries behind one handle, the
/// rough equivalent of ipc_init(void) bringing up
/// every subsystem's global table at once.
type Ipc_t struct {
	mu    sync.Mutex
	Shm   *ShmTable_t
	Msgq  *MsgqTable_t
	pipes map[int]*Pipe_t
	nextPipe int
}

/// NewIpc constructs empty pipe, shared-memory, and message-queue
/// registries.
func NewIpc() *Ipc_t {
	return &Ipc_t{
		Shm:   NewShmTable(),
		Msgq:  NewMsgqTable(),
		pipes: make(map[int]*Pipe_t),
	}
}

/// CreatePipe allocates a new pipe, returning an id rather than the
/// two bare fd numbers pipe_create(int pipefd[2])
/// returns, since this package doesn't own a process's descriptor
/// table (proc/fd does) — callers install NewReadEnd/NewWriteEnd at
/// whatever fd numbers they choose.
func (ipc *Ipc_t) CreatePipe() (int, *Pipe_t, defs.Err_t) {
	if !limits.Syslimit.Pipes.Take() {
		return -1, nil, defs.ENOMEM
	}
	p, err := NewPipe()
	if err != 0 {
		limits.Syslimit.Pipes.Give()
		return -1, nil, err
	}
	ipc.mu.Lock()
	id := ipc.nextPipe
	ipc.nextPipe++
	ipc.pipes[id] = p
	ipc.mu.Unlock()
	return id, p, 0
}

/// ClosePipe drops ipc's bookkeeping reference to pipe id and returns
/// its slot to the system-wide pipe limit; the pipe itself is only
/// torn down once both ends have called Close.
func (ipc *Ipc_t) ClosePipe(id int) {
	ipc.mu.Lock()
	_, ok := ipc.pipes[id]
	delete(ipc.pipes, id)
	ipc.mu.Unlock()
	if ok {
		limits.Syslimit.Pipes.Give()
	}
}

/// FifoCreate registers a named pipe at path in the given filesystem,
/// fifo_create: unlike an anonymous pipe, a FIFO is
/// discovered by path rather than by inheriting an open descriptor.
func (ipc *Ipc_t) FifoCreate(v *vfs.Vfs_t, path string) defs.Err_t {
	_, p, err := ipc.CreatePipe()
	if err != 0 {
		return err
	}
	dirPath, name := splitFifoPath(path)
	dir, err := v.Lookup(dirPath)
	if err != 0 {
		return err
	}
	node := &vfs.Node_t{Name: name, Flags: vfs.VFS_PIPE, Parent: dir, Impl: p}
	re := p.NewReadEnd()
	we := p.NewWriteEnd()
	node.Read = func(n *vfs.Node_t, offset uint32, buf []byte) (int, defs.Err_t) {
		return re.Read(NewBytebuf(buf))
	}
	node.Write = func(n *vfs.Node_t, offset uint32, buf []byte) (int, defs.Err_t) {
		return we.Write(NewBytebuf(buf))
	}
	return vfs.AttachChild(dir, node)
}

func splitFifoPath(path string) (dir, name string) {
	i := lastSlash(path)
	if i <= 0 {
		return "/", path[i+1:]
	}
	return path[:i], path[i+1:]
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}
