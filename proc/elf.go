package proc

import (
	"encoding/binary"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/pmm"
	"github.com/m512i/ZurichOS-sub001/vmm"
)

/// ELF32 constants.
const (
	ELF_MAGIC   = 0x464C457F
	ELFCLASS32  = 1
	ELFCLASS64  = 2
	ELFDATA2LSB = 1
	ELFDATA2MSB = 2

	ET_NONE = 0
	ET_REL  = 1
	ET_EXEC = 2
	ET_DYN  = 3
	ET_CORE = 4

	EM_386 = 3

	EV_CURRENT = 1

	PT_NULL    = 0
	PT_LOAD    = 1
	PT_DYNAMIC = 2
	PT_INTERP  = 3
	PT_NOTE    = 4
	PT_SHLIB   = 5
	PT_PHDR    = 6

	PF_X = 1 << 0
	PF_W = 1 << 1
	PF_R = 1 << 2

	SHT_NULL          = 0
	SHT_PROGBITS      = 1
	SHT_SYMTAB        = 2
	SHT_STRTAB        = 3
	SHT_INIT_ARRAY    = 14
	SHT_FINI_ARRAY    = 15
	SHT_PREINIT_ARRAY = 16
)

/// Ehdr_t is the 52-byte ELF32 file header.
type Ehdr_t struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

/// Phdr_t is one 32-byte ELF32 program header.
type Phdr_t struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

/// Shdr_t is one 40-byte ELF32 section header.
type Shdr_t struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	Addralign uint32
	Entsize   uint32
}

/// LoadedImage_t is the result of loading an ELF32 binary into an
/// address space: user_process_t.
type LoadedImage_t struct {
	Entry            uint32
	StackTop         uint32
	PreinitArray     uint32
	PreinitArraySize uint32
	InitArray        uint32
	InitArraySize    uint32
	FiniArray        uint32
	FiniArraySize    uint32
}

func readEhdr(data []byte) (Ehdr_t, defs.Err_t) {
	var eh Ehdr_t
	if len(data) < 52 {
		return eh, defs.ENOEXEC
	}
	copy(eh.Ident[:], data[0:16])
	if binary.LittleEndian.Uint32(eh.Ident[0:4]) != ELF_MAGIC {
		return eh, defs.ENOEXEC
	}
	if eh.Ident[4] != ELFCLASS32 {
		return eh, defs.ENOEXEC
	}
	if eh.Ident[5] != ELFDATA2LSB {
		return eh, defs.ENOEXEC
	}
	eh.Type = binary.LittleEndian.Uint16(data[16:18])
	eh.Machine = binary.LittleEndian.Uint16(data[18:20])
	eh.Version = binary.LittleEndian.Uint32(data[20:24])
	eh.Entry = binary.LittleEndian.Uint32(data[24:28])
	eh.Phoff = binary.LittleEndian.Uint32(data[28:32])
	eh.Shoff = binary.LittleEndian.Uint32(data[32:36])
	eh.Flags = binary.LittleEndian.Uint32(data[36:40])
	eh.Ehsize = binary.LittleEndian.Uint16(data[40:42])
	eh.Phentsize = binary.LittleEndian.Uint16(data[42:44])
	eh.Phnum = binary.LittleEndian.Uint16(data[44:46])
	eh.Shentsize = binary.LittleEndian.Uint16(data[46:48])
	eh.Shnum = binary.LittleEndian.Uint16(data[48:50])
	eh.Shstrndx = binary.LittleEndian.Uint16(data[50:52])
	if eh.Machine != EM_386 || eh.Type != ET_EXEC {
		return eh, defs.ENOEXEC
	}
	return eh, 0
}

func readPhdr(data []byte, off uint32) Phdr_t {
	b := data[off:]
	return Phdr_t{
		Type:   binary.LittleEndian.Uint32(b[0:4]),
		Offset: binary.LittleEndian.Uint32(b[4:8]),
		Vaddr:  binary.LittleEndian.Uint32(b[8:12]),
		Paddr:  binary.LittleEndian.Uint32(b[12:16]),
		Filesz: binary.LittleEndian.Uint32(b[16:20]),
		Memsz:  binary.LittleEndian.Uint32(b[20:24]),
		Flags:  binary.LittleEndian.Uint32(b[24:28]),
		Align:  binary.LittleEndian.Uint32(b[28:32]),
	}
}

func readShdr(data []byte, off uint32) Shdr_t {
	b := data[off:]
	return Shdr_t{
		Name:      binary.LittleEndian.Uint32(b[0:4]),
		Type:      binary.LittleEndian.Uint32(b[4:8]),
		Flags:     binary.LittleEndian.Uint32(b[8:12]),
		Addr:      binary.LittleEndian.Uint32(b[12:16]),
		Offset:    binary.LittleEndian.Uint32(b[16:20]),
		Size:      binary.LittleEndian.Uint32(b[20:24]),
		Link:      binary.LittleEndian.Uint32(b[24:28]),
		Info:      binary.LittleEndian.Uint32(b[28:32]),
		Addralign: binary.LittleEndian.Uint32(b[32:36]),
		Entsize:   binary.LittleEndian.Uint32(b[36:40]),
	}
}

/// LoadElf maps every PT_LOAD segment of an ELF32 executable image
/// into as with permissions derived from p_flags, and scans the
/// section headers for SHT_PREINIT_ARRAY/SHT_INIT_ARRAY/SHT_FINI_ARRAY
/// so the caller can run static constructors/destructors (preinit
/// before init) around the entry point.
func LoadElf(as *vmm.Vm_t, data []byte) (LoadedImage_t, defs.Err_t) {
	var img LoadedImage_t
	eh, err := readEhdr(data)
	if err != 0 {
		return img, err
	}
	img.Entry = eh.Entry

	as.Lock_pmap()
	defer as.Unlock_pmap()

	for i := uint16(0); i < eh.Phnum; i++ {
		ph := readPhdr(data, eh.Phoff+uint32(i)*uint32(eh.Phentsize))
		if ph.Type != PT_LOAD {
			continue
		}
		if err := loadSegment(as, data, ph); err != 0 {
			return img, err
		}
	}

	for i := uint16(0); i < eh.Shnum; i++ {
		sh := readShdr(data, eh.Shoff+uint32(i)*uint32(eh.Shentsize))
		switch sh.Type {
		case SHT_PREINIT_ARRAY:
			img.PreinitArray = sh.Addr
			img.PreinitArraySize = sh.Size
		case SHT_INIT_ARRAY:
			img.InitArray = sh.Addr
			img.InitArraySize = sh.Size
		case SHT_FINI_ARRAY:
			img.FiniArray = sh.Addr
			img.FiniArraySize = sh.Size
		}
	}
	return img, 0
}

func loadSegment(as *vmm.Vm_t, data []byte, ph Phdr_t) defs.Err_t {
	flags := vmm.PTE_P | vmm.PTE_U
	if ph.Flags&PF_W != 0 {
		flags |= vmm.PTE_W
	}

	start := vmm.Pgrounddown(uintptr(ph.Vaddr))
	end := vmm.Pgroundup(uintptr(ph.Vaddr) + uintptr(ph.Memsz))
	fileEnd := ph.Offset + ph.Filesz

	prot := vmm.PROT_READ
	if ph.Flags&PF_W != 0 {
		prot |= vmm.PROT_WRITE
	}
	if ph.Flags&PF_X != 0 {
		prot |= vmm.PROT_EXEC
	}
	// record the segment's VMA so exit-time teardown finds its frames;
	// two PT_LOADs sharing a page round to overlapping regions, which
	// Add rejects and the first segment's VMA then covers the overlap
	as.Vmregion.Add(&vmm.Vma_t{Start: start, End: end, Prot: prot, Type: vmm.VM_ANON, Fixed: true})

	for va := start; va < end; va += pmm.PGSIZE {
		pa, ok := pmm.Physmem.AllocNotify()
		if !ok {
			return defs.ENOMEM
		}
		page := pmm.Physmem.Bytes(pa)

		pageFileStart := int64(ph.Offset) + int64(va) - int64(ph.Vaddr)
		for i := range page {
			srcOff := pageFileStart + int64(i)
			if srcOff >= int64(ph.Offset) && srcOff < int64(fileEnd) && srcOff >= 0 && srcOff < int64(len(data)) {
				page[i] = data[srcOff]
			}
		}

		if err := as.Map(va, pa, flags); err != 0 {
			return err
		}
	}
	return 0
}
