package vfs

import (
	"sync"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/fdops"
)

/// Fsfops_t adapts a Node_t to fdops.Fdops_i so an open file can live
/// in a process's descriptor table next to pipe ends and other
/// non-filesystem descriptors. It owns the per-open byte offset; the
/// node itself stays offset-free, as the dispatch table's read/write
/// entries take the offset as an argument.
type Fsfops_t struct {
	mu     sync.Mutex
	node   *Node_t
	path   string
	offset int
	// opens counts Reopen'd references (fork clones a descriptor by
	// Reopen rather than by allocating a second Fsfops_t).
	opens  int
	append bool
}

/// NewFsfops opens n (dispatching its Open entry, if any) and returns
/// the descriptor-side handle for it.
func NewFsfops(n *Node_t, path string, flags uint32) (*Fsfops_t, defs.Err_t) {
	if err := VfsOpen(n, flags); err != 0 {
		return nil, err
	}
	f := &Fsfops_t{node: n, path: path, opens: 1}
	f.append = flags&VFS_O_APPEND != 0
	if flags&VFS_O_TRUNC != 0 {
		rn := resolve(n)
		rn.mu.Lock()
		rn.Length = 0
		rn.mu.Unlock()
	}
	return f, 0
}

func (f *Fsfops_t) Close() defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens--
	if f.opens > 0 {
		return 0
	}
	return VfsClose(f.node)
}

func (f *Fsfops_t) Reopen() defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return 0
}

func (f *Fsfops_t) Fstat(sa *fdops.StatAdapter) defs.Err_t {
	n := resolve(f.node)
	n.mu.Lock()
	defer n.mu.Unlock()
	sa.Size = uint(n.Length)
	sa.Mode = uint(n.Permissions) | modeBits(n.Flags)
	sa.Rdev = 0
	sa.Inode = uint(n.Inode)
	return 0
}

func (f *Fsfops_t) Lseek(off, whence int) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := resolve(f.node)
	var base int
	switch whence {
	case VFS_SEEK_SET:
		base = 0
	case VFS_SEEK_CUR:
		base = f.offset
	case VFS_SEEK_END:
		n.mu.Lock()
		base = int(n.Length)
		n.mu.Unlock()
	default:
		return 0, defs.EINVAL
	}
	if base+off < 0 {
		return 0, defs.EINVAL
	}
	f.offset = base + off
	return f.offset, 0
}

func (f *Fsfops_t) Mmapi(offset, length int, inhibit bool) ([]fdops.MmapInfo_t, defs.Err_t) {
	return nil, defs.ENOSYS
}

func (f *Fsfops_t) Pathi() string { return f.path }

/// Read copies from the node at the descriptor's offset into dst,
/// advancing the offset by however much dst actually accepted.
func (f *Fsfops_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, dst.Remain())
	n, err := VfsRead(f.node, uint32(f.offset), buf)
	if err != 0 {
		return 0, err
	}
	c, err := dst.Uiowrite(buf[:n])
	f.offset += c
	return c, err
}

/// Write copies src into the node at the descriptor's offset (end of
/// file if the descriptor was opened O_APPEND).
func (f *Fsfops_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, src.Remain())
	c, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	off := f.offset
	if f.append {
		n := resolve(f.node)
		n.mu.Lock()
		off = int(n.Length)
		n.mu.Unlock()
	}
	n, err := VfsWrite(f.node, uint32(off), buf[:c])
	if err != 0 {
		return 0, err
	}
	f.offset = off + n
	return n, 0
}

func (f *Fsfops_t) Poll(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	// regular files are always ready for both directions
	return pm.Events & (fdops.R_READ | fdops.R_WRITE), 0
}
