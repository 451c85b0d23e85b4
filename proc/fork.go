package proc

import (
	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/fd"
	"github.com/m512i/ZurichOS-sub001/pmm"
	"github.com/m512i/ZurichOS-sub001/vmm"
)

/// Fork duplicates p into a new child process via copy-on-write.
/// Every present page of p's address space is
/// shared read-only with the child, write access in either
/// parent or child subsequently faulting through vmm's copy-on-write
/// path; the file descriptor table is cloned by Fd copy-on-reopen, and
/// the child inherits p's signal disposition table verbatim.
func (t *Table_t) Fork(p *Process_t) (*Process_t, defs.Err_t) {
	child, err := t.Create(p.Name, p.Pid)
	if err != 0 {
		return nil, err
	}

	if err := cowDuplicate(p.As, child.As); err != 0 {
		t.Remove(child.Pid)
		return nil, err
	}

	p.Lock()
	defer p.Unlock()
	child.Lock()
	defer child.Unlock()

	for i, f := range p.Fds {
		if f == nil {
			continue
		}
		nf, err := fd.Copyfd(f)
		if err != 0 {
			continue
		}
		child.Fds[i] = nf
	}
	child.Cwd = p.Cwd
	child.Sig = p.Sig
	child.Pgid = p.Pgid
	return child, 0
}

// cowDuplicate walks every mapped region of src and installs a shared,
// write-protected mapping of the same frames in dst, marking both
// copies PTE_COW so the first write in either address space triggers
// vmm's copy-on-write fault path.
func cowDuplicate(src, dst *vmm.Vm_t) defs.Err_t {
	src.Lock_pmap()
	defer src.Unlock_pmap()
	dst.Lock_pmap()
	defer dst.Unlock_pmap()

	for _, v := range src.Vmregion.Regions() {
		nv := *v
		if err := dst.Vmregion.Add(&nv); err != 0 {
			return err
		}
		for va := v.Start; va < v.End; va += pmm.PGSIZE {
			pte, ok := src.Ptefor(va, true)
			if !ok || pte&vmm.PTE_P == 0 {
				continue
			}
			pa := pmm.Pa_t(pte & vmm.PTE_ADDR)
			bits := (pte &^ vmm.PTE_W) | vmm.PTE_COW
			if dst.Map(va, pa, bits) != 0 {
				return defs.ENOMEM
			}
			src.Map(va, pa, bits)
			pmm.Physmem.Refup(pa)
		}
	}
	return 0
}
