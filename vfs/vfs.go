package vfs

import (
	"strings"
	"sync"

	"github.com/m512i/ZurichOS-sub001/defs"
)

/// VFS_MAX_PATH and VFS_MAX_NAME bound path and component length, as
/// in vfs.h.
const (
	VFS_MAX_PATH = 256
	VFS_MAX_NAME = 64
)

/// Vfs_t is the global mount state: a root node plus every additional
/// mountpoint installed under it. Lookup walks the tree component by
/// component, substituting a mounted subtree's root whenever it
/// crosses a VFS_MOUNTPOINT node, the same indirection
/// vfs_mount/vfs_lookup pair implements with a
/// mountpoint's Ptr field.
type Vfs_t struct {
	mu    sync.Mutex
	root  *Node_t
	mounts map[string]*Node_t
}

/// NewVfs constructs an empty Vfs_t with no root; SetRoot must be
/// called before Lookup succeeds.
func NewVfs() *Vfs_t {
	return &Vfs_t{mounts: make(map[string]*Node_t)}
}

/// GetRoot returns the current root node, or nil if none has been set.
func (v *Vfs_t) GetRoot() *Node_t {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.root
}

/// SetRoot installs n as the filesystem root.
func (v *Vfs_t) SetRoot(n *Node_t) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.root = n
}

/// Mount installs fsRoot as a mountpoint at path, recorded as a
/// VFS_MOUNTPOINT node whose Ptr redirects to fsRoot so every
/// existing reference below path transparently starts resolving into
/// the mounted filesystem.
func (v *Vfs_t) Mount(path string, fsRoot *Node_t) defs.Err_t {
	path = Canonical(path)
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.mounts[path]; exists {
		return defs.EEXIST
	}

	mp := &Node_t{Name: path, Flags: VFS_MOUNTPOINT, Ptr: fsRoot}
	if path == "/" || path == "" {
		v.root = mp
		v.mounts[path] = mp
		return 0
	}

	parentPath, name := splitPath(path)
	parent := v.lookupLocked(parentPath)
	if parent == nil || !IsDirectory(parent) {
		return defs.ENOENT
	}
	if err := VfsCreate(parent, name, VFS_MOUNTPOINT); err != 0 && err != defs.ENOSYS && err != defs.EEXIST {
		return err
	}
	child, err := VfsFinddir(parent, name)
	if err == 0 && child != nil {
		child.Ptr = fsRoot
		child.Flags |= VFS_MOUNTPOINT
	}
	v.mounts[path] = mp
	return 0
}

/// Unmount removes the mountpoint installed at path.
func (v *Vfs_t) Unmount(path string) defs.Err_t {
	path = Canonical(path)
	v.mu.Lock()
	defer v.mu.Unlock()

	mp, ok := v.mounts[path]
	if !ok {
		return defs.ENOENT
	}
	if v.root == mp {
		v.root = nil
	} else if n := v.lookupLocked(path); n != nil {
		n.Ptr = nil
	}
	delete(v.mounts, path)
	return 0
}

/// Lookup resolves an absolute path to its node, walking Finddir one
/// component at a time from the root.
func (v *Vfs_t) Lookup(path string) (*Node_t, defs.Err_t) {
	path = Canonical(path)
	v.mu.Lock()
	defer v.mu.Unlock()
	n := v.lookupLocked(path)
	if n == nil {
		return nil, defs.ENOENT
	}
	return n, 0
}

func (v *Vfs_t) lookupLocked(path string) *Node_t {
	if v.root == nil {
		return nil
	}
	if path == "" || path == "/" {
		return v.root
	}
	cur := v.root
	for _, comp := range strings.Split(strings.Trim(path, "/"), "/") {
		if comp == "" {
			continue
		}
		next, err := VfsFinddir(cur, comp)
		if err != 0 || next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

func splitPath(path string) (parent, name string) {
	path = strings.TrimRight(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "/", path[i+1:]
	}
	return path[:i], path[i+1:]
}
