package vfs

import (
	"sync"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/ustr"
)

/// Device classes, matching devfs.h DEV_TYPE_*.
const (
	DEV_TYPE_CHAR  = 1
	DEV_TYPE_BLOCK = 2
)

/// devEntry is one registered device: its class/major/minor plus the
/// read/write callbacks devfsRead/devfsWrite dispatch into.
type devEntry struct {
	name        string
	devType     int
	major, minor uint32
	read        func(off uint32, buf []byte) (int, defs.Err_t)
	write       func(off uint32, buf []byte) (int, defs.Err_t)
	node        *Node_t
}

/// Devfs_t is the device-node registry: a flat directory of character
/// and block devices, each backed by an optional read/write callback.
type Devfs_t struct {
	mu      sync.Mutex
	root    *Node_t
	entries []*devEntry
}

/// NewDevfs constructs an empty device directory.
func NewDevfs() *Devfs_t {
	d := &Devfs_t{}
	d.root = &Node_t{Name: "dev", Flags: VFS_DIRECTORY, Impl: newRamfsDir()}
	wireDir(d.root)
	return d
}

/// Root returns the device directory's root node.
func (d *Devfs_t) Root() *Node_t {
	return d.root
}

/// Register installs a new device node named name in the device
/// directory, backed by the supplied read/write callbacks (either may
/// be nil to mean unsupported, matching Node_t's dispatch convention).
func (d *Devfs_t) Register(name string, devType int, major, minor uint32,
	read func(off uint32, buf []byte) (int, defs.Err_t),
	write func(off uint32, buf []byte) (int, defs.Err_t)) (*Node_t, defs.Err_t) {

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, e := range d.entries {
		if e.name == name {
			return nil, defs.EEXIST
		}
	}

	flags := uint32(VFS_CHARDEVICE)
	if devType == DEV_TYPE_BLOCK {
		flags = VFS_BLOCKDEVICE
	}

	e := &devEntry{name: name, devType: devType, major: major, minor: minor, read: read, write: write}
	n := &Node_t{Name: name, Flags: flags, Parent: d.root, Inode: nextRamfsInode(), Impl: e}
	n.Read = func(n *Node_t, offset uint32, buf []byte) (int, defs.Err_t) {
		if e.read == nil {
			return 0, defs.ENOSYS
		}
		return e.read(offset, buf)
	}
	n.Write = func(n *Node_t, offset uint32, buf []byte) (int, defs.Err_t) {
		if e.write == nil {
			return 0, defs.ENOSYS
		}
		return e.write(offset, buf)
	}
	e.node = n

	dd := d.root.Impl.(*ramfsDir)
	dd.children = append(dd.children, n)
	dd.names.Set(ustr.Ustr(name), n)
	d.entries = append(d.entries, e)
	return n, 0
}

/// GetCount returns the number of registered devices.
func (d *Devfs_t) GetCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

/// List returns every registered device's name, in registration order.
func (d *Devfs_t) List() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(d.entries))
	for i, e := range d.entries {
		names[i] = e.name
	}
	return names
}
