package ipc

import (
	"sync"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/limits"
	"github.com/m512i/ZurichOS-sub001/pmm"
)

/// MAX_SHM_REGIONS and SHM_MAX_SIZE bound the shared-memory registry,
/// matching shm_region_t limits.
const (
	MAX_SHM_REGIONS = 16
	SHM_MAX_SIZE    = 1024 * 1024
)

/// ShmRegion_t is one shared-memory segment: a run of physical frames
/// identified by a user-chosen key, attached into any number of
/// address spaces by vmm's VM_SHARED VMA type.
type ShmRegion_t struct {
	Id       int
	Key      uint32
	Size     uint32
	Frames   []pmm.Pa_t
	RefCount uint32
	inUse    bool
}

/// ShmTable_t is the shared-memory registry: a fixed array of regions
/// plus a key index.
type ShmTable_t struct {
	mu      sync.Mutex
	regions [MAX_SHM_REGIONS]ShmRegion_t
	byKey   map[uint32]int
}

/// NewShmTable returns an empty shared-memory registry.
func NewShmTable() *ShmTable_t {
	return &ShmTable_t{byKey: make(map[uint32]int)}
}

/// Create allocates size bytes of physical memory under key,
/// returning EEXIST if the key is already in use and ENOMEM if the
/// region table or the physical allocator is exhausted.
func (t *ShmTable_t) Create(key uint32, size uint32) (int, defs.Err_t) {
	if size == 0 || size > SHM_MAX_SIZE {
		return -1, defs.EINVAL
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byKey[key]; exists {
		return -1, defs.EEXIST
	}
	id := -1
	for i := range t.regions {
		if !t.regions[i].inUse {
			id = i
			break
		}
	}
	if id < 0 {
		return -1, defs.ENOMEM
	}
	if !limits.Syslimit.Shms.Take() {
		return -1, defs.ENOMEM
	}

	nframes := (int(size) + pmm.PGSIZE - 1) / pmm.PGSIZE
	frames := make([]pmm.Pa_t, 0, nframes)
	for i := 0; i < nframes; i++ {
		pa, ok := pmm.Physmem.AllocNotify()
		if !ok {
			for _, f := range frames {
				pmm.Physmem.Free(f)
			}
			limits.Syslimit.Shms.Give()
			return -1, defs.ENOMEM
		}
		frames = append(frames, pa)
	}

	t.regions[id] = ShmRegion_t{Id: id, Key: key, Size: size, Frames: frames, inUse: true}
	t.byKey[key] = id
	return id, 0
}

/// Get returns the region with the given id, or nil.
func (t *ShmTable_t) Get(id int) *ShmRegion_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= MAX_SHM_REGIONS || !t.regions[id].inUse {
		return nil
	}
	return &t.regions[id]
}

/// Attach bumps id's refcount; the caller (a process's mmap path) is
/// responsible for installing a VM_SHARED VMA over the region's frames
/// in its own address space.
func (t *ShmTable_t) Attach(id int) (*ShmRegion_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= MAX_SHM_REGIONS || !t.regions[id].inUse {
		return nil, defs.EINVAL
	}
	t.regions[id].RefCount++
	return &t.regions[id], 0
}

/// Detach drops id's refcount, without freeing the underlying frames
/// (Destroy is the separate, explicit teardown call).
func (t *ShmTable_t) Detach(id int) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= MAX_SHM_REGIONS || !t.regions[id].inUse {
		return defs.EINVAL
	}
	if t.regions[id].RefCount > 0 {
		t.regions[id].RefCount--
	}
	return 0
}

/// Destroy frees every frame backing id and removes it from the
/// registry outright, regardless of outstanding refcount (mirroring
/// unconditional shm_destroy).
func (t *ShmTable_t) Destroy(id int) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= MAX_SHM_REGIONS || !t.regions[id].inUse {
		return defs.EINVAL
	}
	r := &t.regions[id]
	for _, f := range r.Frames {
		pmm.Physmem.Free(f)
	}
	delete(t.byKey, r.Key)
	*r = ShmRegion_t{}
	limits.Syslimit.Shms.Give()
	return 0
}
