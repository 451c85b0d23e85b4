package vmm

import (
	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/pmm"
)

/// Faultkind_t classifies a page fault for accounting: every fault
/// resolves to exactly one of COW copy, demand fill, stack growth, or
/// segfault.
type Faultkind_t int

const (
	FAULT_COW Faultkind_t = iota
	FAULT_DEMAND
	FAULT_STACK_GROWTH
	FAULT_SEGV
)

// StackGrowLimit bounds how far a stack VMA may grow downward on a
// guard-page fault, per stack-growth policy.
const StackGrowLimit = 8 << 20

/// PageFault resolves a page fault at virtual address va. write
/// reports whether the faulting access was a store. It returns the
/// Faultkind_t it resolved the fault as, and a nonzero Err_t only for
/// FAULT_SEGV (an address with no covering VMA, or a protection
/// violation the fault cannot repair).
func (as *Vm_t) PageFault(va uintptr, write bool) (Faultkind_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	pte, _ := as.Ptefor(va, true)
	if pte&PTE_P != 0 {
		if write && pte&PTE_COW != 0 {
			return as.resolveCow(va, pte)
		}
		// present and not a COW-on-write fault: a genuine protection
		// violation (e.g. write to a read-only mapping).
		return FAULT_SEGV, defs.EFAULT
	}

	v := as.Vmregion.Lookup(va)
	if v == nil {
		if grown, kind, err := as.tryGrowStack(va); grown {
			return kind, err
		}
		return FAULT_SEGV, defs.EFAULT
	}
	return as.resolveDemand(va, v)
}

// resolveCow handles a write fault on a page shared copy-on-write by
// fork: if the underlying frame's refcount is 1, the
// fault simply regains write access; otherwise a private copy is made
// and the original frame's refcount drops.
func (as *Vm_t) resolveCow(va uintptr, pte Pte_t) (Faultkind_t, defs.Err_t) {
	pa := pmm.Pa_t(pte & PTE_ADDR)
	if pmm.Physmem.Refcnt(pa) == 1 {
		as.setpte(va, (pte&^PTE_COW)|PTE_W)
		Invlpg(va)
		return FAULT_COW, 0
	}

	newpa, ok := pmm.Physmem.AllocNotify()
	if !ok {
		return FAULT_SEGV, defs.ENOMEM
	}
	copy(pmm.Physmem.Bytes(newpa), pmm.Physmem.Bytes(pa))
	as.setpte(va, Pte_t(newpa)|PTE_P|PTE_W|PTE_U)
	Invlpg(va)
	if pmm.Physmem.Refdown(pa) {
		pmm.Physmem.Free(pa)
	}
	return FAULT_COW, 0
}

// resolveDemand fills a not-yet-present page of an anonymous, file,
// or shared VMA on first touch (demand-paging policy).
func (as *Vm_t) resolveDemand(va uintptr, v *Vma_t) (Faultkind_t, defs.Err_t) {
	pa, ok := pmm.Physmem.AllocNotify()
	if !ok {
		return FAULT_SEGV, defs.ENOMEM
	}
	page := pmm.Physmem.Bytes(pa)

	if v.Type == VM_FILE && v.Backing != nil {
		off := v.FileOffset + int64(Pgrounddown(va)-v.Start)
		n, err := v.Backing(off, page)
		if err != nil {
			pmm.Physmem.Free(pa)
			return FAULT_SEGV, defs.EIO
		}
		for i := n; i < len(page); i++ {
			page[i] = 0
		}
	}
	// VM_ANON and VM_SHARED pages are zero-filled; pmm.Alloc already
	// zeroes every frame it hands out.

	bits := ptebits(v.Prot, true, false) | PTE_P
	as.setpte(va, Pte_t(pa)|bits)
	Invlpg(va)
	return FAULT_DEMAND, 0
}

// tryGrowStack extends the stack VMA (the region whose Type is
// VM_ANON, whose Start lies above va and whose End is within
// StackGrowLimit above va) down to cover va, then fills the page as a
// demand fault would and reports it as FAULT_STACK_GROWTH.
// Growth past StackGrowLimit below the region's original top (its
// End, which growth never moves) is refused (bounded stack-growth
// policy).
func (as *Vm_t) tryGrowStack(va uintptr) (bool, Faultkind_t, defs.Err_t) {
	for _, v := range as.Vmregion.regions {
		if v.Type != VM_ANON || v.Start <= va {
			continue
		}
		if v.End-Pgrounddown(va) > StackGrowLimit {
			continue
		}
		v.Start = Pgrounddown(va)
		kind, err := as.resolveDemand(va, v)
		if err == 0 {
			kind = FAULT_STACK_GROWTH
		}
		return true, kind, err
	}
	return false, FAULT_SEGV, defs.EFAULT
}
