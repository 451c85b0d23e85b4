package vfs

import (
	"testing"

	"github.com/m512i/ZurichOS-sub001/defs"
)

func TestDevfsRegisterDispatchesReadWrite(t *testing.T) {
	d := NewDevfs()

	var written []byte
	n, err := d.Register("null", DEV_TYPE_CHAR, 1, 3,
		func(off uint32, buf []byte) (int, defs.Err_t) {
			return 0, 0
		},
		func(off uint32, buf []byte) (int, defs.Err_t) {
			written = append([]byte{}, buf...)
			return len(buf), 0
		},
	)
	if err != 0 {
		t.Fatalf("Register: %v", err)
	}
	if n.Flags&VFS_CHARDEVICE == 0 {
		t.Fatalf("Flags = %#x, want VFS_CHARDEVICE set", n.Flags)
	}

	if k, werr := VfsWrite(n, 0, []byte("discard me")); werr != 0 || k != len("discard me") {
		t.Fatalf("VfsWrite = (%d, %v)", k, werr)
	}
	if string(written) != "discard me" {
		t.Fatalf("write callback saw %q, want %q", written, "discard me")
	}

	if k, rerr := VfsRead(n, 0, make([]byte, 4)); rerr != 0 || k != 0 {
		t.Fatalf("VfsRead = (%d, %v), want (0, 0)", k, rerr)
	}
}

func TestDevfsRegisterRejectsDuplicateName(t *testing.T) {
	d := NewDevfs()
	if _, err := d.Register("zero", DEV_TYPE_CHAR, 1, 5, nil, nil); err != 0 {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := d.Register("zero", DEV_TYPE_CHAR, 1, 5, nil, nil); err != defs.EEXIST {
		t.Fatalf("duplicate Register = %v, want EEXIST", err)
	}
}

// TestDevfsNodeIsFindableByName exercises the bug class a nil
// ramfsDir.names index would hit: the root directory the devices are
// registered into must resolve Finddir by name without panicking,
// since it is wired with the same dispatch table ramfs directories
// use.
func TestDevfsNodeIsFindableByName(t *testing.T) {
	d := NewDevfs()
	if _, err := d.Register("console", DEV_TYPE_CHAR, 5, 1, nil, nil); err != 0 {
		t.Fatalf("Register: %v", err)
	}

	found, err := VfsFinddir(d.Root(), "console")
	if err != 0 {
		t.Fatalf("Finddir: %v", err)
	}
	if found.Name != "console" {
		t.Fatalf("Finddir resolved to %q, want %q", found.Name, "console")
	}
	if _, err := VfsFinddir(d.Root(), "missing"); err != defs.ENOENT {
		t.Fatalf("Finddir missing = %v, want ENOENT", err)
	}
}

func TestDevfsListAndGetCount(t *testing.T) {
	d := NewDevfs()
	if _, err := d.Register("a", DEV_TYPE_CHAR, 1, 0, nil, nil); err != 0 {
		t.Fatalf("Register a: %v", err)
	}
	if _, err := d.Register("b", DEV_TYPE_BLOCK, 2, 0, nil, nil); err != 0 {
		t.Fatalf("Register b: %v", err)
	}
	if got := d.GetCount(); got != 2 {
		t.Fatalf("GetCount() = %d, want 2", got)
	}
	names := d.List()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("List() = %v, want [a b] in registration order", names)
	}
}
