// Package pmm implements the physical memory manager.
// A physical frame is a page-aligned 4KiB region of physical memory,
// addressed by its index in a global bitmap; a frame's bit is 1 iff
// some mapping or reservation holds it. Trimmed to single-CPU (no
// per-CPU free lists — SMP is out of scope) and backed by real
// mmap'd, page-aligned host memory via golang.org/x/sys/unix so the
// frame bitmap's invariants are observable under a hosted build
// rather than tied to a bare-metal linker script.
package pmm

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/m512i/ZurichOS-sub001/defs"
)

/// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

/// PGSIZE is the size of a single page/frame in bytes.
const PGSIZE = 1 << PGSHIFT

/// Pa_t is a physical address.
type Pa_t uintptr

/// Bytepg_t is a byte-addressed physical page.
type Bytepg_t [PGSIZE]uint8

/// DefaultMemMB is the assumed physical memory size when the boot
/// information block supplies no upper-memory size field.
const DefaultMemMB = 256

/// Physmem_t is the global physical frame allocator. A frame's
/// refcount being zero is the "bit is 0" (free) state; a nonzero
/// refcount is "bit is 1" (held), which
/// also gives the VMM a vocabulary for copy-on-write sharing without a
/// second bookkeeping structure.
type Physmem_t struct {
	mu      sync.Mutex
	refcnt  []int32
	backing []byte // mmap'd physical memory, PGSIZE-aligned
	nframes int
	lastFree int // scan cursor: alloc resumes just after the last hit
}

/// Physmem is the single system-wide physical memory allocator.
var Physmem = &Physmem_t{}

/// OomCh is notified when Alloc finds no free frame; a listener (the
/// VMM's demand-paging path, or a future reclaim daemon) receives the
/// number of frames requested and replies on Resume once it has freed
/// something, so Alloc can be retried. Absent a listener, an
/// exhausted Alloc simply returns the sentinel failure below.
var OomCh = make(chan Oommsg_t, 1)

/// Oommsg_t is sent on OomCh when memory is exhausted.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}

/// Init reserves memSz bytes of host memory to stand in for physical
/// RAM and marks frames below 1MiB plus the bitmap's own extent as
/// used. memSz of 0 selects DefaultMemMB, the fallback used when the
/// boot info block carries no upper-memory field.
func Init(memSz int) (*Physmem_t, error) {
	if memSz <= 0 {
		memSz = DefaultMemMB << 20
	}
	nframes := memSz / PGSIZE
	buf, err := unix.Mmap(-1, 0, nframes*PGSIZE,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	phys := Physmem
	phys.mu.Lock()
	phys.backing = buf
	phys.nframes = nframes
	phys.refcnt = make([]int32, nframes)
	phys.mu.Unlock()

	// Pre-mark everything below 1MiB used (real-mode/BIOS low memory),
	// plus a notional kernel-image-and-bitmap extent at frame 0..255
	// (1MiB) through frame 255+bitmap-sized region. The exact kernel
	// image size is a link-time fact outside this package's purview;
	// it, and the bitmap's own storage, only need to be pre-marked used.
	lowmem := (1 << 20) / PGSIZE
	bitmapFrames := (nframes + 7) / 8 / PGSIZE
	if bitmapFrames < 1 {
		bitmapFrames = 1
	}
	reserved := lowmem + bitmapFrames
	if reserved > nframes {
		reserved = nframes
	}
	for i := 0; i < reserved; i++ {
		phys.refcnt[i] = 1
	}
	phys.lastFree = reserved
	return phys, nil
}

/// Alloc scans for a free frame starting just after the previous hit
/// (wrapping around once), marks the first one it meets used, and
/// returns its physical base address. The lowest-numbered free frame
/// is not necessarily the one returned. It returns (0, false) when no
/// free frame exists.
func (phys *Physmem_t) Alloc() (Pa_t, bool) {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	return phys._alloc()
}

func (phys *Physmem_t) _alloc() (Pa_t, bool) {
	n := len(phys.refcnt)
	for i := 0; i < n; i++ {
		idx := (phys.lastFree + i) % n
		if phys.refcnt[idx] == 0 {
			phys.refcnt[idx] = 1
			phys.lastFree = idx + 1
			zero(phys.backing[idx*PGSIZE : (idx+1)*PGSIZE])
			return Pa_t(idx * PGSIZE), true
		}
	}
	return 0, false
}

/// AllocNotify behaves like Alloc but, on exhaustion, publishes an
/// Oommsg_t on OomCh and retries once after the listener replies on
/// Resume. With no listener the call fails immediately like Alloc.
func (phys *Physmem_t) AllocNotify() (Pa_t, bool) {
	if pa, ok := phys.Alloc(); ok {
		return pa, ok
	}
	resume := make(chan bool, 1)
	select {
	case OomCh <- Oommsg_t{Need: 1, Resume: resume}:
		<-resume
		return phys.Alloc()
	default:
		return 0, false
	}
}

/// Free releases the frame at addr. Freeing an already-free frame is
/// a no-op, per frame lifecycle invariant.
func (phys *Physmem_t) Free(addr Pa_t) {
	idx := int(addr) / PGSIZE
	phys.mu.Lock()
	defer phys.mu.Unlock()
	if idx < 0 || idx >= len(phys.refcnt) {
		panic("pmm: free out of range")
	}
	phys.refcnt[idx] = 0
}

/// MarkUsed marks the frame at addr used without going through Alloc,
/// for boot-time reservations (the kernel image, multiboot modules).
func (phys *Physmem_t) MarkUsed(addr Pa_t) {
	idx := int(addr) / PGSIZE
	phys.mu.Lock()
	defer phys.mu.Unlock()
	phys.refcnt[idx] = 1
}

/// Refup increments a frame's reference count, used when a mapping is
/// shared (fork's copy-on-write duplication).
func (phys *Physmem_t) Refup(addr Pa_t) {
	idx := int(addr) / PGSIZE
	atomic.AddInt32(&phys.refcnt[idx], 1)
}

/// Refdown decrements a frame's reference count and frees it when it
/// reaches zero, returning true if the frame was freed.
func (phys *Physmem_t) Refdown(addr Pa_t) bool {
	idx := int(addr) / PGSIZE
	c := atomic.AddInt32(&phys.refcnt[idx], -1)
	if c < 0 {
		panic("pmm: negative refcount")
	}
	return c == 0
}

/// Refcnt reports a frame's current reference count.
func (phys *Physmem_t) Refcnt(addr Pa_t) int {
	idx := int(addr) / PGSIZE
	return int(atomic.LoadInt32(&phys.refcnt[idx]))
}

/// Bytes returns the byte slice of host memory backing the frame at
/// addr, for callers (the VMM, the kernel heap) that need to read or
/// write physical page contents directly.
func (phys *Physmem_t) Bytes(addr Pa_t) []byte {
	idx := int(addr) / PGSIZE
	return phys.backing[idx*PGSIZE : (idx+1)*PGSIZE : (idx+1)*PGSIZE]
}

/// Counts returns (used, free, total) frame counts, satisfying
/// "used + free == total" invariant by construction.
func (phys *Physmem_t) Counts() (used, free, total int) {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	total = len(phys.refcnt)
	for _, r := range phys.refcnt {
		if r != 0 {
			used++
		}
	}
	free = total - used
	return
}

// Close releases the backing mmap. Only used by tests that want a
// clean Physmem between cases.
func (phys *Physmem_t) Close() error {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	if phys.backing == nil {
		return nil
	}
	err := unix.Munmap(phys.backing)
	phys.backing = nil
	phys.refcnt = nil
	phys.nframes = 0
	return err
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ENOMEM is returned by higher layers when pmm.Alloc fails; kept here
// so callers don't need a second import just to spell the error.
const ENOMEM = defs.ENOMEM
