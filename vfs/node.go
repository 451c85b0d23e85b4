// Package vfs implements the virtual filesystem. A
// Node_t carries a small dispatch table of operation function
// pointers; a nil entry means "unsupported", except for Open and
// Close, where it means success. ramfs, devfs, and procfs are three independent
// node-producing backends mounted under a shared root. Uses
// bpath.Canonicalize (bpath/bpath.go) for path handling.
package vfs

import (
	"sync"
	"time"

	"github.com/m512i/ZurichOS-sub001/bpath"
	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/stat"
	"github.com/m512i/ZurichOS-sub001/ustr"
)

/// Node types, VFS node kind.
const (
	VFS_FILE        = 0x01
	VFS_DIRECTORY   = 0x02
	VFS_CHARDEVICE  = 0x03
	VFS_BLOCKDEVICE = 0x04
	VFS_PIPE        = 0x05
	VFS_SYMLINK     = 0x06
	VFS_MOUNTPOINT  = 0x08
)

/// Open flags, matching the VFS_O_* bits of open(2).
const (
	VFS_O_RDONLY = 0x0001
	VFS_O_WRONLY = 0x0002
	VFS_O_RDWR   = 0x0003
	VFS_O_APPEND = 0x0008
	VFS_O_CREAT  = 0x0100
	VFS_O_TRUNC  = 0x0200
	VFS_O_EXCL   = 0x0400
)

/// Seek origins.
const (
	VFS_SEEK_SET = 0
	VFS_SEEK_CUR = 1
	VFS_SEEK_END = 2
)

/// Dirent_t is one directory entry: a name and the inode it resolves
/// to.
type Dirent_t struct {
	Name  string
	Inode uint32
}

/// Node_t is one VFS node. The function-pointer fields form the
/// dispatch table: a nil Read, Write, Create or Unlink entry means the
/// operation is unsupported and callers get ENOSYS, a nil Readdir or
/// Finddir gives ENOTDIR, and a nil Open or Close is a no-op success.
type Node_t struct {
	mu sync.Mutex

	Name        string
	Flags       uint32
	Length      uint32
	Inode       uint32
	Uid, Gid    uint32
	Permissions uint32
	Ctime, Mtime, Atime time.Time

	Read     func(n *Node_t, offset uint32, buf []byte) (int, defs.Err_t)
	Write    func(n *Node_t, offset uint32, buf []byte) (int, defs.Err_t)
	Open     func(n *Node_t, flags uint32) defs.Err_t
	Close    func(n *Node_t) defs.Err_t
	Readdir  func(n *Node_t, index uint32) (*Dirent_t, defs.Err_t)
	Finddir  func(n *Node_t, name string) (*Node_t, defs.Err_t)
	Create   func(n *Node_t, name string, typ uint32) defs.Err_t
	Unlink   func(n *Node_t, name string) defs.Err_t

	Impl   interface{}
	Parent *Node_t
	Ptr    *Node_t // mountpoint/symlink redirection target
}

/// VfsRead dispatches to n's Read entry, resolving through a mount or
/// symlink redirection first.
func VfsRead(n *Node_t, offset uint32, buf []byte) (int, defs.Err_t) {
	n = resolve(n)
	if n.Read == nil {
		return 0, defs.ENOSYS
	}
	return n.Read(n, offset, buf)
}

/// VfsWrite dispatches to n's Write entry.
func VfsWrite(n *Node_t, offset uint32, buf []byte) (int, defs.Err_t) {
	n = resolve(n)
	if n.Write == nil {
		return 0, defs.ENOSYS
	}
	return n.Write(n, offset, buf)
}

/// VfsAppend writes buf at the current end-of-file offset.
func VfsAppend(n *Node_t, buf []byte) (int, defs.Err_t) {
	n = resolve(n)
	n.mu.Lock()
	off := n.Length
	n.mu.Unlock()
	return VfsWrite(n, off, buf)
}

/// VfsOpen dispatches to n's Open entry, a no-op success if the node
/// declares none.
func VfsOpen(n *Node_t, flags uint32) defs.Err_t {
	n = resolve(n)
	if n.Open == nil {
		return 0
	}
	return n.Open(n, flags)
}

/// VfsClose dispatches to n's Close entry.
func VfsClose(n *Node_t) defs.Err_t {
	n = resolve(n)
	if n.Close == nil {
		return 0
	}
	return n.Close(n)
}

/// VfsReaddir dispatches to n's Readdir entry.
func VfsReaddir(n *Node_t, index uint32) (*Dirent_t, defs.Err_t) {
	n = resolve(n)
	if n.Readdir == nil {
		return nil, defs.ENOTDIR
	}
	return n.Readdir(n, index)
}

/// VfsFinddir dispatches to n's Finddir entry.
func VfsFinddir(n *Node_t, name string) (*Node_t, defs.Err_t) {
	n = resolve(n)
	if n.Finddir == nil {
		return nil, defs.ENOTDIR
	}
	return n.Finddir(n, name)
}

/// VfsCreate dispatches to dir's Create entry.
func VfsCreate(dir *Node_t, name string, typ uint32) defs.Err_t {
	dir = resolve(dir)
	if dir.Create == nil {
		return defs.ENOSYS
	}
	return dir.Create(dir, name, typ)
}

/// VfsUnlink dispatches to dir's Unlink entry.
func VfsUnlink(dir *Node_t, name string) defs.Err_t {
	dir = resolve(dir)
	if dir.Unlink == nil {
		return defs.ENOSYS
	}
	return dir.Unlink(dir, name)
}

/// IsDirectory reports whether n's Flags mark it a directory or
/// mountpoint.
func IsDirectory(n *Node_t) bool {
	return n.Flags&(VFS_DIRECTORY|VFS_MOUNTPOINT) != 0
}

func resolve(n *Node_t) *Node_t {
	for n.Ptr != nil {
		n = n.Ptr
	}
	return n
}

/// Canonical returns the canonicalized form of p, using bpath the same
/// way fd.Cwd_t does for path resolution.
func Canonical(p string) string {
	return bpath.Canonicalize(ustr.Ustr(p)).String()
}

/// VfsStat fills out a stat.Stat_t from n's fields, resolving through
/// a mount or symlink redirection first, for stat(2)-shaped callers.
func VfsStat(n *Node_t) *stat.Stat_t {
	n = resolve(n)
	n.mu.Lock()
	defer n.mu.Unlock()
	var st stat.Stat_t
	st.Wino(uint(n.Inode))
	st.Wmode(uint(n.Permissions) | modeBits(n.Flags))
	st.Wsize(uint(n.Length))
	st.Wrdev(0)
	st.Wdev(0)
	st.Wmtime(uint(n.Mtime.Unix()), uint(n.Mtime.Nanosecond()))
	return &st
}

// modeBits maps a Node_t's VFS_* type bits onto the POSIX S_IFMT
// family so VfsStat's mode field tells a caller what kind of node it
// stat'd, not just its permission bits.
func modeBits(flags uint32) uint {
	switch {
	case flags&VFS_DIRECTORY != 0:
		return 0040000
	case flags&VFS_CHARDEVICE != 0:
		return 0020000
	case flags&VFS_BLOCKDEVICE != 0:
		return 0060000
	case flags&VFS_PIPE != 0:
		return 0010000
	case flags&VFS_SYMLINK != 0:
		return 0120000
	default:
		return 0100000
	}
}
