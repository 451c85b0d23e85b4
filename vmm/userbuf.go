package vmm

import (
	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/pmm"
)

// userVaEnd is the first virtual address of the shared kernel half; a
// user pointer at or above it is rejected outright.
const userVaEnd = uintptr(KERNEL_SLOT_START) << 22

/// Userbuf_t assists reading and writing user memory one page at a
/// time, resolving copy-on-write and demand-paged mappings through
/// the ordinary fault path as it goes. It implements fdops.Userio_i
/// so a syscall can hand a raw user (va, len) pair straight to a
/// descriptor's Read/Write without the descriptor knowing the other
/// end of the copy is another address space.
type Userbuf_t struct {
	userva uintptr
	len    int
	// 0 <= off <= len
	off int
	as  *Vm_t
}

/// NewUserbuf wraps the user range [uva, uva+length) of as for use as
/// a Userio_i source or destination.
func (as *Vm_t) NewUserbuf(uva uintptr, length int) *Userbuf_t {
	if length < 0 {
		panic("negative length")
	}
	return &Userbuf_t{userva: uva, len: length, as: as}
}

/// Remain returns the number of untransferred bytes left in the
/// buffer.
func (ub *Userbuf_t) Remain() int {
	return ub.len - ub.off
}

/// Totalsz reports the full transfer size this Userbuf_t was
/// constructed for.
func (ub *Userbuf_t) Totalsz() int {
	return ub.len
}

/// Uioread copies from user memory into dst, returning the number of
/// bytes produced.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	return ub.tx(dst, false)
}

/// Uiowrite copies src into user memory, returning the number of
/// bytes consumed.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	return ub.tx(src, true)
}

// tx copies the min of buf and the buffer's remaining length. If an
// error occurs mid-transfer, the offset is left where the error hit so
// the operation can be restarted.
func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		va := ub.userva + uintptr(ub.off)
		pg, err := ub.dmap8(va, write)
		if err != 0 {
			return ret, err
		}
		if rem := ub.len - ub.off; len(pg) > rem {
			pg = pg[:rem]
		}
		var c int
		if write {
			c = copy(pg, buf)
		} else {
			c = copy(buf, pg)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
	}
	return ret, 0
}

// dmap8 returns the bytes of the frame backing va from the page
// offset to the end of the page. A non-present, copy-on-write, or
// lazily-mapped page is pushed through PageFault first; a kernel-half
// address or a mapping without the user bit fails with EFAULT.
func (ub *Userbuf_t) dmap8(va uintptr, write bool) ([]uint8, defs.Err_t) {
	if va >= userVaEnd {
		return nil, defs.EFAULT
	}
	for tries := 0; tries < 2; tries++ {
		ub.as.Lock_pmap()
		pte, ok := ub.as.Ptefor(va, true)
		usable := ok && pte&PTE_P != 0 && pte&PTE_U != 0
		if usable && write && (pte&PTE_W == 0 || pte&PTE_COW != 0) {
			usable = false
		}
		if usable {
			pg := pmm.Physmem.Bytes(pmm.Pa_t(pte & PTE_ADDR))
			ub.as.Unlock_pmap()
			return pg[pgoff(va):], 0
		}
		ub.as.Unlock_pmap()
		if _, err := ub.as.PageFault(va, write); err != 0 {
			return nil, defs.EFAULT
		}
	}
	return nil, defs.EFAULT
}
