package vfs

import (
	"fmt"
	"sync"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/proc"
)

/// Procfs_t exposes the process table as a directory of per-pid status
/// files, each rendered live from proc.Process_t's own fields.
type Procfs_t struct {
	mu     sync.Mutex
	root   *Node_t
	table  *proc.Table_t
}

/// NewProcfs constructs a procfs rooted at a directory that lists one
/// synthetic file per live process, generated on demand from table.
func NewProcfs(table *proc.Table_t) *Procfs_t {
	p := &Procfs_t{table: table}
	p.root = &Node_t{Name: "proc", Flags: VFS_DIRECTORY}
	p.root.Readdir = p.readdir
	p.root.Finddir = p.finddir
	return p
}

/// Root returns the procfs root directory node.
func (p *Procfs_t) Root() *Node_t {
	return p.root
}

func (p *Procfs_t) pids() []defs.Pid_t {
	return p.table.Pids()
}

func (p *Procfs_t) readdir(n *Node_t, index uint32) (*Dirent_t, defs.Err_t) {
	pids := p.pids()
	if int(index) >= len(pids) {
		return nil, defs.ENOENT
	}
	name := fmt.Sprintf("%d", pids[index])
	return &Dirent_t{Name: name, Inode: uint32(pids[index])}, 0
}

func (p *Procfs_t) finddir(n *Node_t, name string) (*Node_t, defs.Err_t) {
	var pid defs.Pid_t
	if _, err := fmt.Sscanf(name, "%d", &pid); err != nil {
		return nil, defs.ENOENT
	}
	pr := p.table.Get(pid)
	if pr == nil {
		return nil, defs.ENOENT
	}
	return p.statusNode(pr), 0
}

func (p *Procfs_t) statusNode(pr *proc.Process_t) *Node_t {
	node := &Node_t{Name: fmt.Sprintf("%d", pr.Pid), Flags: VFS_FILE, Parent: p.root}
	node.Read = func(n *Node_t, offset uint32, buf []byte) (int, defs.Err_t) {
		pr.Lock()
		body := fmt.Sprintf("pid\t%d\nppid\t%d\nname\t%s\nstate\t%s\n",
			pr.Pid, pr.Ppid, pr.Name, proc.StateName(pr.State))
		pr.Unlock()
		data := []byte(body)
		if int(offset) >= len(data) {
			return 0, 0
		}
		k := copy(buf, data[offset:])
		return k, 0
	}
	return node
}
