package vmm

import (
	"sync"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/pmm"
)

/// Vm_t represents a process (or the kernel's) address space. The
/// mutex protects Vmregion and the page directory/tables: callers
/// take Lock_pmap before walking or editing the page tables and
/// Unlock_pmap when done.
type Vm_t struct {
	sync.Mutex

	Dir      Pagetable_t
	Vmregion Vmregion_t

	pgfltaken bool
}

// kernelDir is the template directory whose top-quarter entries (the
// shared kernel half) are copied into every new address space and
// never diverge afterward.
var kernelDir Pagetable_t
var kernelDirOnce sync.Once

/// Lock_pmap acquires the address-space lock and marks that page-table
/// editing is in progress, so Lockassert_pmap can catch callers that
/// forgot to take it.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

/// Unlock_pmap releases the address-space lock.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

/// Lockassert_pmap panics if the address-space lock is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("vmm: pmap lock must be held")
	}
}

/// NewAddrSpace allocates a fresh page directory, installs the
/// recursive self-mapping at RECURSIVE_SLOT, and copies in the shared
/// kernel half from the template directory. The entries are copied on
/// directory creation and never diverge afterward.
func NewAddrSpace() (*Vm_t, defs.Err_t) {
	kernelDirOnce.Do(initKernelDir)

	pa, ok := pmm.Physmem.Alloc()
	if !ok {
		return nil, defs.ENOMEM
	}
	dir := Pagetable_t{Phys: pa}
	for i := KERNEL_SLOT_START; i < NENTRIES; i++ {
		if i == RECURSIVE_SLOT {
			continue
		}
		dir.Set(i, kernelDir.Get(i))
	}
	dir.Set(RECURSIVE_SLOT, Pte_t(pa)|PTE_P|PTE_W)

	as := &Vm_t{Dir: dir}
	as.Vmregion.init()
	return as, 0
}

func initKernelDir() {
	pa, ok := pmm.Physmem.Alloc()
	if !ok {
		panic("vmm: cannot allocate kernel directory template")
	}
	kernelDir = Pagetable_t{Phys: pa}
}

// tableFor returns the leaf page table covering va, allocating and
// zeroing it (through the directory, i.e. "through its recursive
// window" in spirit) if absent. alloc controls whether a missing
// table is created (false for translate/unmap, which must not
// materialize new tables).
func (as *Vm_t) tableFor(va uintptr, alloc bool, user bool) (Pagetable_t, bool) {
	as.Lockassert_pmap()
	pdi := pdindex(va)
	pde := as.Dir.Get(pdi)
	if pde&PTE_P == 0 {
		if !alloc {
			return Pagetable_t{}, false
		}
		pa, ok := pmm.Physmem.Alloc()
		if !ok {
			return Pagetable_t{}, false
		}
		flags := PTE_P | PTE_W
		if user {
			flags |= PTE_U
		}
		as.Dir.Set(pdi, Pte_t(pa)|flags)
		return Pagetable_t{Phys: pa}, true
	}
	return Pagetable_t{Phys: pmm.Pa_t(pde & PTE_ADDR)}, true
}

/// Map installs virt -> phys with the given flags, allocating the
/// containing page table if needed. Invalidates the
/// single TLB entry for virt on success.
func (as *Vm_t) Map(virt uintptr, phys pmm.Pa_t, flags Pte_t) defs.Err_t {
	as.Lockassert_pmap()
	user := flags&PTE_U != 0
	pt, ok := as.tableFor(virt, true, user)
	if !ok {
		return defs.ENOMEM
	}
	pt.Set(ptindex(virt), Pte_t(phys)|flags|PTE_P)
	Invlpg(virt)
	return 0
}

/// Unmap clears the leaf entry for virt. Empty page tables are not
/// reclaimed; the space stays allocated until the directory itself
/// goes away.
func (as *Vm_t) Unmap(virt uintptr) {
	as.Lockassert_pmap()
	pt, ok := as.tableFor(virt, false, false)
	if !ok {
		return
	}
	pt.Set(ptindex(virt), 0)
	Invlpg(virt)
}

/// Translate returns the physical address virt currently maps to, or
/// (0, false) if virt is unmapped.
func (as *Vm_t) Translate(virt uintptr) (pmm.Pa_t, bool) {
	as.Lockassert_pmap()
	pt, ok := as.tableFor(virt, false, false)
	if !ok {
		return 0, false
	}
	pte := pt.Get(ptindex(virt))
	if pte&PTE_P == 0 {
		return 0, false
	}
	return pmm.Pa_t(pte&PTE_ADDR) + pmm.Pa_t(pgoff(virt)), true
}

/// IsMapped reports whether virt currently translates to a present
/// frame.
func (as *Vm_t) IsMapped(virt uintptr) bool {
	_, ok := as.Translate(virt)
	return ok
}

/// Ptefor returns the leaf PTE for virt, allocating the containing
/// table (but not the leaf) if absent — used by the page-fault and
/// COW paths which need to read-modify-write the entry in place.
func (as *Vm_t) Ptefor(virt uintptr, user bool) (Pte_t, bool) {
	as.Lockassert_pmap()
	pt, ok := as.tableFor(virt, true, user)
	if !ok {
		return 0, false
	}
	return pt.Get(ptindex(virt)), true
}

func (as *Vm_t) setpte(virt uintptr, v Pte_t) {
	pt, _ := as.tableFor(virt, true, false)
	pt.Set(ptindex(virt), v)
}

/// Invlpg invalidates the single TLB entry for a virtual address. In
/// this hosted build there is no real TLB; callers still call it at
/// every mapping-changing site so the call sites match 
/// exactly and a bare-metal backend can wire the INVLPG instruction in
/// here without touching any caller.
func Invlpg(virt uintptr) {
	_ = virt
}

/// RecursiveSelf reads slot RECURSIVE_SLOT of the directory and
/// returns the physical address it resolves to, the directory's own
/// "recursive window" into itself.
func (as *Vm_t) RecursiveSelf() pmm.Pa_t {
	pde := as.Dir.Get(RECURSIVE_SLOT)
	return pmm.Pa_t(pde & PTE_ADDR)
}
