package intr

/// Controller_t bundles the GDT, IDT, and APIC pair that make up the
/// machine's interrupt delivery path, wired together the way a boot
/// entry point would bring them up in order (dependency
/// order: GDT/TSS before IDT before APIC).
type Controller_t struct {
	Gdt    *Gdt_t
	Idt    *Idt_t
	Lapic  *Lapic_t
	Ioapic *Ioapic_t
}

/// Init brings up a Controller_t: a flat GDT with a TSS sized for
/// iopbSize IOPB bytes, an empty IDT, and an APIC pair with the given
/// local APIC ID.
func Init(iopbSize int, lapicId uint32) *Controller_t {
	c := &Controller_t{
		Gdt:    NewGdt(iopbSize),
		Idt:    NewIdt(),
		Lapic:  NewLapic(lapicId),
		Ioapic: NewIoapic(),
	}
	// enabling the LAPIC disables the legacy PIC path
	c.Lapic.Enable(0xFF)
	c.Idt.SetApicMode(true)
	return c
}

/// RouteIrq wires a legacy IRQ line through the IOAPIC to an IDT
/// vector and registers h as that vector's handler, the combined
/// operation a driver domain's IRQ registration service performs.
func (c *Controller_t) RouteIrq(irq uint8, vector uint8, h Handler_t) {
	c.Ioapic.EnableIrq(irq, vector, uint8(c.Lapic.Id()))
	c.Idt.Register(vector, h)
}

/// UnrouteIrq masks irq at the IOAPIC and deregisters its handler.
func (c *Controller_t) UnrouteIrq(irq uint8, vector uint8) {
	c.Ioapic.DisableIrq(irq)
	c.Idt.Register(vector, nil)
}
