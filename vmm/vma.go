package vmm

import (
	"sort"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/pmm"
)

/// Vmtype_t discriminates how a Vmregion_t's pages are backed.
type Vmtype_t int

const (
	VM_ANON  Vmtype_t = iota /// zero-filled, demand-paged
	VM_FILE                  /// backed by a file, demand-paged at FileOffset
	VM_SHARED                /// backed by a shared-memory segment (ipc.Shm)
)

/// Prot_t mirrors the PROT_* bits of mmap(2), 
type Prot_t uint

const (
	PROT_NONE  Prot_t = 0
	PROT_READ  Prot_t = 1 << 0
	PROT_WRITE Prot_t = 1 << 1
	PROT_EXEC  Prot_t = 1 << 2
)

/// Vma_t is one mapped, non-overlapping interval of an address space:
/// VMA. Start and End are page-aligned; End is exclusive.
type Vma_t struct {
	Start      uintptr
	End        uintptr
	Prot       Prot_t
	Type       Vmtype_t
	Shared     bool
	Fixed      bool
	FileOffset int64

	// Backing supplies page contents on first touch. For VM_FILE it
	// reads len(dst) bytes at off into dst; for VM_ANON and VM_SHARED
	// it is nil and a demand fault zero-fills the page.
	Backing func(off int64, dst []byte) (int, error)

	// Shmid identifies the owning ipc shared-memory segment when
	// Type == VM_SHARED.
	Shmid int
}

func (v *Vma_t) contains(va uintptr) bool { return va >= v.Start && va < v.End }

/// Vmregion_t is the sorted, non-overlapping list of VMAs making up
/// one address space's user-mapped regions.
type Vmregion_t struct {
	regions []*Vma_t
}

func (r *Vmregion_t) init() {
	r.regions = nil
}

/// Regions returns every VMA currently recorded, in address order, for
/// callers (fork's copy-on-write duplication) that need to walk the
/// whole address space rather than look up a single address.
func (r *Vmregion_t) Regions() []*Vma_t {
	return r.regions
}

/// Lookup returns the VMA covering va, or nil if va is unmapped by any
/// region.
func (r *Vmregion_t) Lookup(va uintptr) *Vma_t {
	i := sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].End > va
	})
	if i < len(r.regions) && r.regions[i].contains(va) {
		return r.regions[i]
	}
	return nil
}

/// Add inserts a new VMA, rejecting overlap with an existing region
/// unless Fixed is false and the caller is happy to fail instead
/// (mmap without MAP_FIXED never overlaps by construction since the
/// caller picks Start after consulting Lookup/a free-range search).
func (r *Vmregion_t) Add(v *Vma_t) defs.Err_t {
	i := sort.Search(len(r.regions), func(i int) bool {
		return r.regions[i].Start >= v.Start
	})
	if i > 0 && r.regions[i-1].End > v.Start {
		return defs.EINVAL
	}
	if i < len(r.regions) && r.regions[i].Start < v.End {
		return defs.EINVAL
	}
	r.regions = append(r.regions, nil)
	copy(r.regions[i+1:], r.regions[i:])
	r.regions[i] = v
	return 0
}

/// Remove deletes the VMA exactly spanning [start,end); a partial
/// unmap that does not match an existing region boundary exactly is
/// rejected, matching documented munmap limitation.
func (r *Vmregion_t) Remove(start, end uintptr) defs.Err_t {
	for i, v := range r.regions {
		if v.Start == start && v.End == end {
			r.regions = append(r.regions[:i], r.regions[i+1:]...)
			return 0
		}
	}
	return defs.EINVAL
}

/// FindFree returns the lowest address at or above hint with length
/// free bytes not overlapping any existing region, scanning upward
/// from hint (mmap address-selection policy when the
/// caller supplies no MAP_FIXED address).
func (r *Vmregion_t) FindFree(hint uintptr, length uintptr) uintptr {
	cur := Pgroundup(hint)
	for _, v := range r.regions {
		if cur+length <= v.Start {
			return cur
		}
		if cur < v.End {
			cur = v.End
		}
	}
	return cur
}

/// ptebits returns the PTE flag bits corresponding to a VMA's
/// protection, honoring PROT_WRITE by way of PTE_COW when cow is true
/// (fork's shared, write-protected duplicate).
func ptebits(prot Prot_t, user bool, cow bool) Pte_t {
	bits := PTE_P
	if user {
		bits |= PTE_U
	}
	if prot&PROT_WRITE != 0 && !cow {
		bits |= PTE_W
	}
	if cow {
		bits |= PTE_COW
	}
	return bits
}

/// Mmap implements the mmap(2) kernel-service path:
/// it picks or validates a range, records a VMA, and leaves the pages
/// unmapped for demand paging to fill in on first fault. This holds for
/// every type, VM_SHARED included: no segment frames are mapped here.
func (as *Vm_t) Mmap(hint uintptr, length uintptr, prot Prot_t, typ Vmtype_t, fixed bool) (uintptr, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	length = Pgroundup(length)
	var start uintptr
	if fixed {
		start = Pgrounddown(hint)
		if as.Vmregion.Lookup(start) != nil {
			return 0, defs.EINVAL
		}
	} else {
		start = as.Vmregion.FindFree(hint, length)
	}

	v := &Vma_t{Start: start, End: start + length, Prot: prot, Type: typ, Fixed: fixed}
	if err := as.Vmregion.Add(v); err != 0 {
		return 0, err
	}
	return start, 0
}

/// Munmap implements munmap(2): removes the VMA spanning [addr,
/// addr+length) exactly and frees every frame currently mapped in it.
func (as *Vm_t) Munmap(addr, length uintptr) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	start := Pgrounddown(addr)
	end := Pgroundup(addr + length)
	if err := as.Vmregion.Remove(start, end); err != 0 {
		return err
	}
	for va := start; va < end; va += pmm.PGSIZE {
		if pa, ok := as.Translate(va); ok {
			as.Unmap(va)
			if as.Refdown(pa) {
				pmm.Physmem.Free(pa)
			}
		}
	}
	return 0
}

// Refdown is a thin wrapper so Munmap doesn't need to reach into pmm
// directly for the shared-vs-exclusive decision; today every frame is
// exclusively owned by the unmapping address space unless COW, in
// which case pmm's own refcount already reflects the sharing.
func (as *Vm_t) Refdown(pa pmm.Pa_t) bool {
	return pmm.Physmem.Refdown(pa)
}

/// Mprotect implements mprotect(2): updates the Prot field of the VMA
/// spanning the given range and fixes up every already-mapped page's
/// writable bit to match (pages not yet faulted in pick up the new
/// protection when they are).
func (as *Vm_t) Mprotect(addr, length uintptr, prot Prot_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	start := Pgrounddown(addr)
	end := Pgroundup(addr + length)
	v := as.Vmregion.Lookup(start)
	if v == nil || v.Start != start || v.End != end {
		return defs.EINVAL
	}
	v.Prot = prot
	for va := start; va < end; va += pmm.PGSIZE {
		pte, ok := as.Ptefor(va, true)
		if !ok || pte&PTE_P == 0 {
			continue
		}
		bits := ptebits(prot, true, pte&PTE_COW != 0)
		as.setpte(va, (pte&PTE_ADDR)|bits)
	}
	return 0
}
