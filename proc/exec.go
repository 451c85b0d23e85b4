package proc

import (
	"encoding/binary"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/vmm"
)

/// ExecStackTop is the user stack's initial top address; argv is laid
/// out below it by PushArgv.
const ExecStackTop = 0xC0000000 - 4096

/// ExecStackSize is the size of the single stack VMA Exec creates.
const ExecStackSize = 8 * 4096

/// Exec replaces p's address space with a freshly loaded ELF32 image
/// and then tears down every user mapping of the old one: exec
/// semantics (no return to the caller on success, since p's own
/// in-flight address space no longer exists to return into — modeled
/// here by the caller discarding its reference to the pre-exec Vm_t).
/// The pending-signal set is reset; installed handlers revert to
/// SIG_DFL since their addresses pointed into the torn-down image.
func (p *Process_t) Exec(data []byte, argv []string) (LoadedImage_t, defs.Err_t) {
	as, err := vmm.NewAddrSpace()
	if err != 0 {
		return LoadedImage_t{}, err
	}

	img, err := LoadElf(as, data)
	if err != 0 {
		return LoadedImage_t{}, err
	}

	_, err = as.Mmap(ExecStackTop-ExecStackSize, ExecStackSize,
		vmm.PROT_READ|vmm.PROT_WRITE, vmm.VM_ANON, true)
	if err != 0 {
		return LoadedImage_t{}, err
	}

	esp, err := PushArgv(as, ExecStackTop, argv)
	if err != 0 {
		return LoadedImage_t{}, err
	}
	img.StackTop = esp

	p.Lock()
	old := p.As
	p.As = as
	p.Name = argv0(argv)
	p.Sig.Pending = 0
	for i, h := range p.Sig.Handlers {
		if h != SIG_DFL && h != SIG_IGN {
			p.Sig.Handlers[i] = SIG_DFL
		}
	}
	p.Unlock()
	if old != nil {
		releaseUserMappings(old)
	}
	return img, 0
}

/// PushArgv lays out argc/argv on the initial user stack below
/// stackTop: the argument strings first, then the NULL-terminated
/// pointer array, then argc, returning the resulting stack pointer.
/// Touching the stack pages here also demand-faults them in, so the
/// new image's first instruction doesn't fault on its own stack.
func PushArgv(as *vmm.Vm_t, stackTop uintptr, argv []string) (uint32, defs.Err_t) {
	strBytes := 0
	for _, a := range argv {
		strBytes += len(a) + 1
	}
	strBase := (stackTop - uintptr(strBytes)) &^ 3
	ptrBase := strBase - uintptr(4*(len(argv)+1))
	esp := ptrBase - 4

	ptrs := make([]byte, 4*(len(argv)+1))
	addr := strBase
	for i, a := range argv {
		ub := as.NewUserbuf(addr, len(a)+1)
		if _, err := ub.Uiowrite(append([]byte(a), 0)); err != 0 {
			return 0, err
		}
		binary.LittleEndian.PutUint32(ptrs[4*i:], uint32(addr))
		addr += uintptr(len(a) + 1)
	}
	ub := as.NewUserbuf(ptrBase, len(ptrs))
	if _, err := ub.Uiowrite(ptrs); err != 0 {
		return 0, err
	}

	var argc [4]byte
	binary.LittleEndian.PutUint32(argc[:], uint32(len(argv)))
	ub = as.NewUserbuf(esp, 4)
	if _, err := ub.Uiowrite(argc[:]); err != 0 {
		return 0, err
	}
	return uint32(esp), 0
}

func argv0(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return argv[0]
}
