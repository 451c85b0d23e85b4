package ipc

import (
	"testing"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/pmm"
)

func TestShmCreateAttachDetachDestroy(t *testing.T) {
	freshPhysmem(t)
	tbl := NewShmTable()

	id, err := tbl.Create(42, pmm.PGSIZE)
	if err != 0 {
		t.Fatalf("Create: %v", err)
	}

	if _, err := tbl.Create(42, pmm.PGSIZE); err != defs.EEXIST {
		t.Fatalf("second Create with same key = %v, want EEXIST", err)
	}

	region, err := tbl.Attach(id)
	if err != 0 {
		t.Fatalf("Attach: %v", err)
	}
	if region.RefCount != 1 {
		t.Fatalf("RefCount after one Attach = %d, want 1", region.RefCount)
	}
	if len(region.Frames) != 1 {
		t.Fatalf("Frames = %d, want 1 for a one-page region", len(region.Frames))
	}

	if _, err := tbl.Attach(id); err != 0 {
		t.Fatalf("second Attach: %v", err)
	}
	if got := tbl.Get(id).RefCount; got != 2 {
		t.Fatalf("RefCount after two Attach = %d, want 2", got)
	}

	if err := tbl.Detach(id); err != 0 {
		t.Fatalf("Detach: %v", err)
	}
	if got := tbl.Get(id).RefCount; got != 1 {
		t.Fatalf("RefCount after Detach = %d, want 1", got)
	}

	if err := tbl.Destroy(id); err != 0 {
		t.Fatalf("Destroy: %v", err)
	}
	if tbl.Get(id) != nil {
		t.Fatal("Get returned a region after Destroy")
	}

	// The key is free again and a fresh region can reuse it.
	if _, err := tbl.Create(42, pmm.PGSIZE); err != 0 {
		t.Fatalf("Create after Destroy: %v", err)
	}
}

func TestShmCreateRejectsInvalidSize(t *testing.T) {
	freshPhysmem(t)
	tbl := NewShmTable()
	if _, err := tbl.Create(1, 0); err != defs.EINVAL {
		t.Fatalf("Create with size 0 = %v, want EINVAL", err)
	}
	if _, err := tbl.Create(1, SHM_MAX_SIZE+1); err != defs.EINVAL {
		t.Fatalf("Create over SHM_MAX_SIZE = %v, want EINVAL", err)
	}
}

func TestShmTableEnforcesRegionLimit(t *testing.T) {
	freshPhysmem(t)
	tbl := NewShmTable()
	for i := 0; i < MAX_SHM_REGIONS; i++ {
		if _, err := tbl.Create(uint32(i+1), pmm.PGSIZE); err != 0 {
			t.Fatalf("Create #%d: %v", i, err)
		}
	}
	if _, err := tbl.Create(uint32(MAX_SHM_REGIONS+1), pmm.PGSIZE); err != defs.ENOMEM {
		t.Fatalf("Create past MAX_SHM_REGIONS = %v, want ENOMEM", err)
	}
}
