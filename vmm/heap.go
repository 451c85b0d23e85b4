package vmm

import (
	"sync"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/pmm"
)

/// heapMagic guards every live allocation's header against an
/// out-of-bounds write clobbering the allocator's own bookkeeping;
/// Kfree checks it and counts a mismatch as a detected overflow rather
/// than trusting a corrupted free-list pointer.
const heapMagic = 0xb16cc175

// hdrSize is the fixed bookkeeping overhead charged against every
// block, used both for split-worthiness checks and for computing a
// block's data address from its base address.
const hdrSize = 32

// hdr_t is one block of the heap, free or allocated. addr is the data
// address handed to and accepted back from callers; the header itself
// is ordinary Go-side bookkeeping rather than bytes written into the
// mapped page, since the backing page's bytes are the caller's to use
// in full once allocated.
type hdr_t struct {
	magic uint32
	addr  uintptr
	size  uintptr
	free  bool
	next  *hdr_t
	prev  *hdr_t
}

/// Heap_t is a first-fit kernel heap grown one frame at a time from
/// pmm rather than reserving a fixed static arena, with leak and
/// overflow counters on the side.
type Heap_t struct {
	mu sync.Mutex

	as       *Vm_t
	top      uintptr // end of region mapped so far
	freeList *hdr_t
	live     map[uintptr]*hdr_t

	Allocs   uint64
	Frees    uint64
	Overflow uint64 // magic-mismatch detections
	Grown    uint64 // frames added to extend the heap
}

/// NewHeap creates a kernel heap whose backing pages live at and above
/// base in as's address space, initially empty (grown lazily by
/// Kmalloc as allocations demand more space).
func NewHeap(as *Vm_t, base uintptr) *Heap_t {
	return &Heap_t{as: as, top: base, live: make(map[uintptr]*hdr_t)}
}

// grow maps one more frame at the heap's current top and appends it to
// the free list, coalescing with the previous tail block when it was
// itself free and adjacent.
func (h *Heap_t) grow() defs.Err_t {
	pa, ok := pmm.Physmem.AllocNotify()
	if !ok {
		return defs.ENOMEM
	}
	h.as.Lock_pmap()
	err := h.as.Map(h.top, pa, PTE_P|PTE_W)
	h.as.Unlock_pmap()
	if err != 0 {
		pmm.Physmem.Free(pa)
		return err
	}

	base := h.top
	h.top += pmm.PGSIZE
	h.Grown++

	if tail := h.lastBlock(); tail != nil && tail.free && tail.addr+hdrSize+tail.size == base {
		tail.size += pmm.PGSIZE
		return 0
	}
	h.pushFree(&hdr_t{magic: heapMagic, addr: base + hdrSize, size: pmm.PGSIZE - hdrSize, free: true})
	return 0
}

func (h *Heap_t) lastBlock() *hdr_t {
	b := h.freeList
	if b == nil {
		return nil
	}
	for b.next != nil {
		b = b.next
	}
	return b
}

func (h *Heap_t) pushFree(b *hdr_t) {
	b.next = nil
	b.prev = h.lastBlock()
	if b.prev != nil {
		b.prev.next = b
	} else {
		h.freeList = b
	}
}

func (h *Heap_t) unlinkFree(b *hdr_t) {
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		h.freeList = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	b.next, b.prev = nil, nil
}

/// Kmalloc returns n usable bytes from the heap, growing it by whole
/// frames from pmm as needed. It fails only when growing the heap
/// fails, with ENOMEM when pmm itself is exhausted.
func (h *Heap_t) Kmalloc(n uintptr) (uintptr, defs.Err_t) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		for b := h.freeList; b != nil; b = b.next {
			if b.magic != heapMagic {
				h.Overflow++
				continue
			}
			if !b.free || b.size < n {
				continue
			}
			if b.size > n+hdrSize {
				rem := &hdr_t{magic: heapMagic, addr: b.addr + n + hdrSize, size: b.size - n - hdrSize, free: true}
				rem.next = b.next
				rem.prev = b
				if b.next != nil {
					b.next.prev = rem
				}
				b.next = rem
				b.size = n
			}
			b.free = false
			h.unlinkFreeMark(b)
			h.live[b.addr] = b
			h.Allocs++
			return b.addr, 0
		}
		if err := h.grow(); err != 0 {
			return 0, err
		}
	}
}

// unlinkFreeMark detaches a block from the free list once it is
// allocated; split remainders stay linked in its place.
func (h *Heap_t) unlinkFreeMark(b *hdr_t) {
	h.unlinkFree(b)
}

/// KmallocAligned behaves like Kmalloc but only ever grants whole,
/// frame-aligned blocks — sufficient for the kernel's own use (page
/// tables, task stacks), which never request an aligned size smaller
/// than a frame.
func (h *Heap_t) KmallocAligned(n uintptr, align uintptr) (uintptr, defs.Err_t) {
	if align > pmm.PGSIZE || pmm.PGSIZE%align != 0 {
		return 0, defs.EINVAL
	}
	return h.Kmalloc(Pgroundup(n))
}

/// Kfree returns the allocation at addr to the free list, coalescing
/// with an adjacent free neighbor. An unrecognized addr, or a
/// corrupted header, increments Overflow and is otherwise ignored,
/// matching "never trust a corrupted header" rule.
func (h *Heap_t) Kfree(addr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.live[addr]
	if !ok || b.magic != heapMagic {
		h.Overflow++
		return
	}
	delete(h.live, addr)
	b.free = true
	h.Frees++
	h.pushFree(b)

	if b.next != nil && b.next.free && b.addr+hdrSize+b.size == b.next.addr {
		nxt := b.next
		b.size += hdrSize + nxt.size
		h.unlinkFree(nxt)
	}
	if b.prev != nil && b.prev.free && b.prev.addr+hdrSize+b.prev.size == b.addr {
		prev := b.prev
		prev.size += hdrSize + b.size
		h.unlinkFree(b)
	}
}

/// Live reports the number of allocations outstanding (Allocs minus
/// Frees), the leak counter a shutdown check reads.
func (h *Heap_t) Live() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Allocs - h.Frees
}
