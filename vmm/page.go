// Package vmm implements the virtual memory manager: two-level,
// 4KiB-page, 32-bit paging with a recursive self-mapping at directory
// slot 1023, VMAs, copy-on-write, demand paging, and a first-fit
// kernel heap.
package vmm

import (
	"encoding/binary"

	"github.com/m512i/ZurichOS-sub001/pmm"
	"github.com/m512i/ZurichOS-sub001/util"
)

/// NENTRIES is the number of entries in a page directory or page table.
const NENTRIES = 1024

/// RECURSIVE_SLOT is the directory slot that maps back to the
/// directory itself.
const RECURSIVE_SLOT = 1023

/// KERNEL_SLOT_START is the first directory slot belonging to the
/// shared kernel half of the address space (the top quarter):
/// 1024 - 1024/4 = 768.
const KERNEL_SLOT_START = NENTRIES - NENTRIES/4

/// Pte_t is a page-directory or page-table entry.
type Pte_t uint32

const (
	PTE_P   Pte_t = 1 << 0 /// present
	PTE_W   Pte_t = 1 << 1 /// writable
	PTE_U   Pte_t = 1 << 2 /// user-accessible
	PTE_PWT Pte_t = 1 << 3
	PTE_PCD Pte_t = 1 << 4 /// cache-disable
	PTE_A   Pte_t = 1 << 5 /// accessed
	PTE_D   Pte_t = 1 << 6 /// dirty
	PTE_PS  Pte_t = 1 << 7 /// 4MiB page (unused; we only map 4KiB pages)
	PTE_G   Pte_t = 1 << 8 /// global

	// PTE_COW occupies one of the three OS-available bits (9-11) in a
	// leaf PTE. It marks a page shared copy-on-write by fork: WRITE is
	// cleared and PTE_COW is set in both parent and child.
	PTE_COW Pte_t = 1 << 9

	PTE_ADDR Pte_t = 0xFFFFF000
)

/// Pagetable_t is a directory or a leaf page table: 1024 32-bit
/// entries backed by one physical frame, addressed through pmm so
/// edits are visible through the recursive window like real paging
/// hardware would see them.
type Pagetable_t struct {
	Phys pmm.Pa_t
}

func (pt Pagetable_t) bytes() []byte {
	return pmm.Physmem.Bytes(pt.Phys)
}

/// Get reads entry i.
func (pt Pagetable_t) Get(i int) Pte_t {
	b := pt.bytes()
	return Pte_t(binary.LittleEndian.Uint32(b[i*4:]))
}

/// Set writes entry i.
func (pt Pagetable_t) Set(i int, v Pte_t) {
	b := pt.bytes()
	binary.LittleEndian.PutUint32(b[i*4:], uint32(v))
}

// pdindex and ptindex split a virtual address into its directory and
// table indices and its in-page offset.
func pdindex(va uintptr) int { return int((va >> 22) & 0x3ff) }
func ptindex(va uintptr) int { return int((va >> 12) & 0x3ff) }
func pgoff(va uintptr) int   { return int(va & 0xfff) }

/// Pgroundup rounds v up to the next page boundary.
func Pgroundup(v uintptr) uintptr {
	return util.Roundup(v, uintptr(pmm.PGSIZE))
}

/// Pgrounddown rounds v down to a page boundary.
func Pgrounddown(v uintptr) uintptr {
	return util.Rounddown(v, uintptr(pmm.PGSIZE))
}
