package vfs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/hashtable"
	"github.com/m512i/ZurichOS-sub001/limits"
	"github.com/m512i/ZurichOS-sub001/ustr"
)

/// liveVnodes counts nodes allocated by ramfsCreate across every
/// mounted ramfs instance, checked against limits.Syslimit.Vnodes so a
/// single filesystem's RAMFS_MAX_FILES quota isn't the only backstop
/// against exhausting node storage system-wide.
var liveVnodes int64

/// RAMFS_MAX_FILES and RAMFS_MAX_FILE_SIZE bound an in-memory
/// filesystem instance, matching ramfs.h limits.
const (
	RAMFS_MAX_FILES    = 128
	RAMFS_MAX_FILE_SIZE = 64 * 1024
)

/// ramfsData backs a VFS_FILE node: a byte buffer shared by the
/// node's Read/Write entries via Node_t.Impl.
type ramfsData struct {
	mu   sync.Mutex
	buf  []byte
}

/// ramfsDirBuckets sizes the name index every ramfsDir keeps
/// alongside its ordered child list; a bucket count somewhat above
/// RAMFS_MAX_FILES keeps Finddir/Create/Unlink's hash lookups close to
/// one entry per bucket even for a densely populated directory.
const ramfsDirBuckets = 256

/// ramfsDir backs a VFS_DIRECTORY node: a creation-ordered child list for
/// Readdir plus a hashtable.Hashtable_t name index keyed by
/// ustr.Ustr(name), for O(1) Finddir/Create/Unlink lookups instead of
/// a linear scan of children on every path-lookup component.
type ramfsDir struct {
	mu       sync.Mutex
	children []*Node_t
	names    *hashtable.Hashtable_t
}

func newRamfsDir() *ramfsDir {
	return &ramfsDir{names: hashtable.MkHash(ramfsDirBuckets)}
}

/// Ramfs_t is one in-memory filesystem instance: a bounded pool of
/// file nodes rooted at a single directory.
type Ramfs_t struct {
	root      *Node_t
	fileCount int
}

/// NewRamfs constructs an empty ramfs instance with a root directory.
func NewRamfs() *Ramfs_t {
	root := &Node_t{Name: "/", Flags: VFS_DIRECTORY, Impl: newRamfsDir()}
	wireDir(root)
	return &Ramfs_t{root: root}
}

/// Root returns the filesystem's root directory node, the node to
/// pass to Vfs_t.Mount.
func (r *Ramfs_t) Root() *Node_t {
	return r.root
}

func wireDir(n *Node_t) {
	n.Readdir = ramfsReaddir
	n.Finddir = ramfsFinddir
	n.Create = ramfsCreate
	n.Unlink = ramfsUnlink
}

func wireFile(n *Node_t) {
	n.Read = ramfsRead
	n.Write = ramfsWrite
}

/// CreateFile creates a VFS_FILE node named name under parent, failing
/// with EEXIST if the name is taken or ENOMEM if the filesystem's file
/// quota (RAMFS_MAX_FILES) is exhausted.
func (r *Ramfs_t) CreateFile(parent *Node_t, name string) (*Node_t, defs.Err_t) {
	if r.fileCount >= RAMFS_MAX_FILES {
		return nil, defs.ENOMEM
	}
	if err := ramfsCreate(parent, name, VFS_FILE); err != 0 {
		return nil, err
	}
	r.fileCount++
	n, err := ramfsFinddir(parent, name)
	return n, err
}

/// CreateDir creates a VFS_DIRECTORY node named name under parent.
func (r *Ramfs_t) CreateDir(parent *Node_t, name string) (*Node_t, defs.Err_t) {
	if err := ramfsCreate(parent, name, VFS_DIRECTORY); err != 0 {
		return nil, err
	}
	return ramfsFinddir(parent, name)
}

/// WriteFile replaces a file node's entire contents, rejecting
/// anything over RAMFS_MAX_FILE_SIZE.
func (r *Ramfs_t) WriteFile(n *Node_t, data []byte) defs.Err_t {
	if len(data) > RAMFS_MAX_FILE_SIZE {
		return defs.ENOMEM
	}
	_, err := ramfsWrite(n, 0, data)
	return err
}

func ramfsRead(n *Node_t, offset uint32, buf []byte) (int, defs.Err_t) {
	d, ok := n.Impl.(*ramfsData)
	if !ok {
		return 0, defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(offset) >= len(d.buf) {
		return 0, 0
	}
	k := copy(buf, d.buf[offset:])
	n.mu.Lock()
	n.Atime = time.Now()
	n.mu.Unlock()
	return k, 0
}

func ramfsWrite(n *Node_t, offset uint32, buf []byte) (int, defs.Err_t) {
	d, ok := n.Impl.(*ramfsData)
	if !ok {
		return 0, defs.EINVAL
	}
	end := int(offset) + len(buf)
	if end > RAMFS_MAX_FILE_SIZE {
		return 0, defs.ENOMEM
	}
	d.mu.Lock()
	if end > len(d.buf) {
		grown := make([]byte, end)
		copy(grown, d.buf)
		d.buf = grown
	}
	copy(d.buf[offset:], buf)
	d.mu.Unlock()

	n.mu.Lock()
	if uint32(end) > n.Length {
		n.Length = uint32(end)
	}
	n.Mtime = time.Now()
	n.mu.Unlock()
	return len(buf), 0
}

func ramfsReaddir(n *Node_t, index uint32) (*Dirent_t, defs.Err_t) {
	d, ok := n.Impl.(*ramfsDir)
	if !ok {
		return nil, defs.ENOTDIR
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(index) >= len(d.children) {
		return nil, defs.ENOENT
	}
	c := d.children[index]
	return &Dirent_t{Name: c.Name, Inode: c.Inode}, 0
}

func ramfsFinddir(n *Node_t, name string) (*Node_t, defs.Err_t) {
	d, ok := n.Impl.(*ramfsDir)
	if !ok {
		return nil, defs.ENOTDIR
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, ok := d.names.Get(ustr.Ustr(name)); ok {
		return v.(*Node_t), 0
	}
	return nil, defs.ENOENT
}

func ramfsCreate(n *Node_t, name string, typ uint32) defs.Err_t {
	d, ok := n.Impl.(*ramfsDir)
	if !ok {
		return defs.ENOTDIR
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.names.Get(ustr.Ustr(name)); exists {
		return defs.EEXIST
	}

	if atomic.LoadInt64(&liveVnodes) >= int64(limits.Syslimit.Vnodes) {
		return defs.ENOMEM
	}

	child := &Node_t{Name: name, Flags: typ, Parent: n, Inode: nextRamfsInode()}
	atomic.AddInt64(&liveVnodes, 1)
	switch typ {
	case VFS_DIRECTORY:
		child.Impl = newRamfsDir()
		wireDir(child)
	default:
		child.Impl = &ramfsData{}
		wireFile(child)
	}
	d.children = append(d.children, child)
	d.names.Set(ustr.Ustr(name), child)
	return 0
}

/// AttachChild installs an already-constructed node (a pipe's FIFO
/// node, a device file moved between directories...) as a child of
/// dir, for callers outside this package that build their own Node_t
/// rather than going through CreateFile/CreateDir. Fails with EEXIST
/// if dir already has a child with that name.
func AttachChild(dir, child *Node_t) defs.Err_t {
	d, ok := dir.Impl.(*ramfsDir)
	if !ok {
		return defs.ENOTDIR
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.names.Get(ustr.Ustr(child.Name)); exists {
		return defs.EEXIST
	}
	child.Parent = dir
	if child.Inode == 0 {
		child.Inode = nextRamfsInode()
	}
	d.children = append(d.children, child)
	d.names.Set(ustr.Ustr(child.Name), child)
	return 0
}

func ramfsUnlink(n *Node_t, name string) defs.Err_t {
	d, ok := n.Impl.(*ramfsDir)
	if !ok {
		return defs.ENOTDIR
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.names.Get(ustr.Ustr(name)); !exists {
		return defs.ENOENT
	}
	d.names.Del(ustr.Ustr(name))
	for i, c := range d.children {
		if c.Name == name {
			d.children = append(d.children[:i], d.children[i+1:]...)
			break
		}
	}
	atomic.AddInt64(&liveVnodes, -1)
	return 0
}

var ramfsInodeCounter uint32

func nextRamfsInode() uint32 {
	ramfsInodeCounter++
	return ramfsInodeCounter
}
