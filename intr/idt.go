package intr

/// IDT_ENTRIES is the number of interrupt gates in the table.
const IDT_ENTRIES = 256

/// Gate types.
const (
	IDT_GATE_TASK   = 0x05
	IDT_GATE_INT16  = 0x06
	IDT_GATE_TRAP16 = 0x07
	IDT_GATE_INT32  = 0x0E
	IDT_GATE_TRAP32 = 0x0F
)

/// Gate flag bits, combined per target ring below.
const (
	IDT_FLAG_PRESENT = 0x80
	IDT_FLAG_RING0   = 0x00
	IDT_FLAG_RING1   = 0x20
	IDT_FLAG_RING3   = 0x60
)

const (
	IDT_KERNEL_INT = IDT_FLAG_PRESENT | IDT_FLAG_RING0 | IDT_GATE_INT32
	IDT_DRIVER_INT = IDT_FLAG_PRESENT | IDT_FLAG_RING1 | IDT_GATE_INT32
	IDT_USER_INT   = IDT_FLAG_PRESENT | IDT_FLAG_RING3 | IDT_GATE_INT32
)

/// IRQ0..IRQ15 are the legacy PIC/IOAPIC vector numbers after
/// remapping past the CPU exception range.
const (
	IRQ0 = 32 + iota
	IRQ1
	IRQ2
	IRQ3
	IRQ4
	IRQ5
	IRQ6
	IRQ7
	IRQ8
	IRQ9
	IRQ10
	IRQ11
	IRQ12
	IRQ13
	IRQ14
	IRQ15
)

/// IdtEntry_t is one gate descriptor: a handler address split across
/// base_low/base_high plus the selector and type/ring flags byte.
type IdtEntry_t struct {
	BaseLow  uint16
	Selector uint16
	Always0  uint8
	Flags    uint8
	BaseHigh uint16
}

/// Registers_t is the trap frame an interrupt handler receives: the
/// segment, general-purpose, and control registers pushed by the
/// assembly ISR stub before it calls into Go.
type Registers_t struct {
	Ds                              uint32
	Edi, Esi, Ebp, Esp              uint32
	Ebx, Edx, Ecx, Eax              uint32
	IntNo, ErrCode                  uint32
	Eip, Cs, Eflags, Useresp, Ss    uint32
}

/// Handler_t processes one interrupt/exception/IRQ.
type Handler_t func(*Registers_t)

/// Idt_t is the 256-entry interrupt descriptor table plus the
/// registered handler dispatch array consulted once a vector's gate
/// has transferred control.
type Idt_t struct {
	Entries  [IDT_ENTRIES]IdtEntry_t
	handlers [IDT_ENTRIES]Handler_t
	apicMode bool
}

/// NewIdt returns an IDT with every gate absent (Flags == 0) and no
/// handlers registered.
func NewIdt() *Idt_t {
	return &Idt_t{}
}

/// SetGate installs a gate for vector num pointing at handlerAddr
/// (opaque in this hosted model — real callers would pass the ISR
/// stub's linear address) with the given selector and flags byte.
func (idt *Idt_t) SetGate(num uint8, handlerAddr uint32, selector uint16, flags uint8) {
	idt.Entries[num] = IdtEntry_t{
		BaseLow:  uint16(handlerAddr & 0xFFFF),
		Selector: selector,
		Always0:  0,
		Flags:    flags,
		BaseHigh: uint16(handlerAddr >> 16),
	}
}

/// Register associates a Go handler with vector num, called from
/// Dispatch once the gate has fired.
func (idt *Idt_t) Register(num uint8, h Handler_t) {
	idt.handlers[num] = h
}

/// Dispatch runs the handler registered for regs.IntNo, if any,
/// routing a trapped vector to kernel code after the assembly stub has
/// built the Registers_t. An unhandled CPU exception vector (0..19) is
/// fatal and goes to Panic instead of being silently dropped like an
/// unhandled IRQ.
func (idt *Idt_t) Dispatch(regs *Registers_t) {
	if h := idt.handlers[uint8(regs.IntNo)]; h != nil {
		h(regs)
		return
	}
	if regs.IntNo < NumExceptions {
		Panic(regs, exceptionName(regs.IntNo))
	}
}

/// SetApicMode records whether IRQ routing goes through the APIC
/// (true) or the legacy 8259 PIC (false); idt_is_apic_mode's Go
/// equivalent.
func (idt *Idt_t) SetApicMode(enabled bool) { idt.apicMode = enabled }

/// ApicMode reports the current routing mode.
func (idt *Idt_t) ApicMode() bool { return idt.apicMode }
