// Package isolation implements the driver isolation domain. A driver
// runs ring-1 code under a per-domain I/O permission bitmap, reaching
// the kernel only through a fixed set of trapped services; a port
// access outside the domain's allowed set, or a service call outside
// the dispatch table, is a violation the domain is charged for rather
// than a crash. Built on intr.Gdt_t for the IOPB itself (the domain
// installs its bitmap into the shared TSS on activation).
package isolation

import (
	"fmt"
	"sync"

	"golang.org/x/arch/x86/x86asm"

	"github.com/m512i/ZurichOS-sub001/console"
	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/hashtable"
	"github.com/m512i/ZurichOS-sub001/intr"
	"github.com/m512i/ZurichOS-sub001/limits"
)

/// IOPB_SIZE covers every one of the 65536 I/O ports at one bit each.
const IOPB_SIZE = 8192

/// IOPB_ALL_PORTS is the number of distinct I/O ports addressable.
const IOPB_ALL_PORTS = 65536

/// Isolation levels.
const (
	DRIVER_ISOLATION_NONE  = 0 /// ring 0, full kernel access
	DRIVER_ISOLATION_RING1 = 1 /// ring 1, restricted I/O
)

/// MAX_DRIVER_DOMAINS bounds the number of concurrently registered
/// domains.
const MAX_DRIVER_DOMAINS = 16

/// DRIVER_STACK_SIZE is the size in bytes of a domain's private ring-1
/// stack.
const DRIVER_STACK_SIZE = 8192

/// Kernel-service call ids a domain may invoke through the trapped
/// dispatch (DRIVER_INT_SERVICE).
const (
	DRIVER_SVC_ALLOC_MEM      = 0x01
	DRIVER_SVC_FREE_MEM       = 0x02
	DRIVER_SVC_MAP_MMIO       = 0x03
	DRIVER_SVC_REGISTER_IRQ   = 0x04
	DRIVER_SVC_UNREGISTER_IRQ = 0x05
	DRIVER_SVC_DMA_ALLOC      = 0x06
	DRIVER_SVC_DMA_FREE       = 0x07
	DRIVER_SVC_LOG            = 0x08
	DRIVER_SVC_PORT_IN        = 0x09
	DRIVER_SVC_PORT_OUT       = 0x0A
	DRIVER_SVC_PCI_READ       = 0x0B
	DRIVER_SVC_PCI_WRITE      = 0x0C
)

const (
	DRIVER_INT_SERVICE = 0x81
	DRIVER_INT_RETURN  = 0x82
)

/// Domain_t is one isolated driver's runtime state: its ring-1 address
/// space, IOPB port grants, and kernel-service trap table.
type Domain_t struct {
	mu sync.Mutex

	Id              int
	Name            string
	IsolationLevel  int
	Active          bool

	iopb [IOPB_SIZE]byte

	StackBase uint32
	StackTop  uint32

	KernelCalls   uint32
	IoViolations  uint32
	TotalIoOps    uint32
}

/// Registry_t tracks every created domain by id and by name, using the
/// same lock-striped hashtable.Hashtable_t a from-scratch kernel would
/// reach for over a bare map once the table is shared by more than one
/// concern (here: id lookup and name lookup of the same domain set).
type Registry_t struct {
	mu      sync.Mutex
	byId    *hashtable.Hashtable_t
	byName  *hashtable.Hashtable_t
	nextId  int
	current *Domain_t
	gdt     *intr.Gdt_t
}

/// NewRegistry creates an empty registry that installs activated
/// domains' IOPBs into gdt.
func NewRegistry(gdt *intr.Gdt_t) *Registry_t {
	return &Registry_t{
		byId:   hashtable.MkHash(MAX_DRIVER_DOMAINS),
		byName: hashtable.MkHash(MAX_DRIVER_DOMAINS),
		gdt:    gdt,
	}
}

/// Create allocates a new domain at the given isolation level, with
/// every port denied by default.
func (r *Registry_t) Create(name string, level int) (*Domain_t, defs.Err_t) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byId.Size() >= MAX_DRIVER_DOMAINS || r.byId.Size() >= limits.Syslimit.Domains {
		return nil, defs.ENOMEM
	}
	d := &Domain_t{Id: r.nextId, Name: name, IsolationLevel: level}
	for i := range d.iopb {
		d.iopb[i] = 0xFF
	}
	r.nextId++
	r.byId.Set(d.Id, d)
	r.byName.Set(d.Name, d)
	return d, 0
}

/// Destroy removes a domain, deactivating it first if it was current.
func (r *Registry_t) Destroy(d *Domain_t) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == d {
		r.current = nil
		r.gdt.DenyAll()
	}
	if _, ok := r.byId.Get(d.Id); ok {
		r.byId.Del(d.Id)
	}
	if _, ok := r.byName.Get(d.Name); ok {
		r.byName.Del(d.Name)
	}
}

/// Get returns the domain with the given id, or nil.
func (r *Registry_t) Get(id int) *Domain_t {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byId.Get(id)
	if !ok {
		return nil
	}
	return v.(*Domain_t)
}

/// Find returns the domain with the given name, or nil.
func (r *Registry_t) Find(name string) *Domain_t {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byName.Get(name)
	if !ok {
		return nil
	}
	return v.(*Domain_t)
}

/// Count returns the number of registered domains.
func (r *Registry_t) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byId.Size()
}

/// Current returns the domain currently activated, or nil.
func (r *Registry_t) Current() *Domain_t {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

/// AllowPort permits a single I/O port.
func (d *Domain_t) AllowPort(port uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.iopb[port/8] &^= 1 << (port % 8)
}

/// AllowPorts permits count consecutive ports starting at start.
func (d *Domain_t) AllowPorts(start uint16, count uint16) {
	for p := uint32(start); p < uint32(start)+uint32(count) && p < IOPB_ALL_PORTS; p++ {
		d.AllowPort(uint16(p))
	}
}

/// DenyPorts revokes count consecutive ports starting at start.
func (d *Domain_t) DenyPorts(start uint16, count uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for p := uint32(start); p < uint32(start)+uint32(count) && p < IOPB_ALL_PORTS; p++ {
		d.iopb[p/8] |= 1 << (p % 8)
	}
}

/// Allowed reports whether port is currently permitted for this
/// domain.
func (d *Domain_t) Allowed(port uint16) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.iopb[port/8]&(1<<(port%8)) == 0
}

/// Activate installs d's IOPB into the shared TSS, making it the
/// running domain. Deactivates any previously active domain first.
func (r *Registry_t) Activate(d *Domain_t) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current != d {
		r.current.Active = false
	}
	r.gdt.DenyAll()
	copy(r.gdt.Iopb, d.iopb[:])
	d.Active = true
	r.current = d
}

/// Deactivate denies all I/O ports and clears the current domain.
func (r *Registry_t) Deactivate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Active = false
	}
	r.current = nil
	r.gdt.DenyAll()
}

/// Exec runs fn as d's ring-1 body: activates d, runs fn, deactivates
/// on return (or on fn reporting a fault via its own error return). A
/// real ring1_enter trampoline is an assembly far-call this hosted
/// build cannot issue; fn is simply invoked on the calling goroutine,
/// which is sufficient to exercise every accounting and IOPB-install
/// side effect a real entry would trigger.
func (r *Registry_t) Exec(d *Domain_t, fn func() int) (int, defs.Err_t) {
	r.Activate(d)
	defer r.Deactivate()
	return fn(), 0
}

/// PortIn services a DRIVER_SVC_PORT_IN request: allowed ports are
/// counted and (in a real build) read from hardware; denied ports are
/// counted as a violation and return 0.
func (d *Domain_t) PortIn(port uint16, read func(uint16) uint32) uint32 {
	d.mu.Lock()
	d.TotalIoOps++
	ok := d.iopb[port/8]&(1<<(port%8)) == 0
	if !ok {
		d.IoViolations++
	}
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return read(port)
}

/// PortOut services a DRIVER_SVC_PORT_OUT request symmetrically to
/// PortIn.
func (d *Domain_t) PortOut(port uint16, val uint32, write func(uint16, uint32)) defs.Err_t {
	d.mu.Lock()
	d.TotalIoOps++
	ok := d.iopb[port/8]&(1<<(port%8)) == 0
	if !ok {
		d.IoViolations++
	}
	d.mu.Unlock()
	if !ok {
		return defs.EPERM
	}
	write(port, val)
	return 0
}

/// KernelService dispatches a trapped DRIVER_INT_SERVICE call. An
/// unrecognized service id is itself a violation (a domain calling
/// outside the fixed dispatch table), counted the same as an IOPB
/// violation.
func (d *Domain_t) KernelService(svc uint32, handler func(uint32, uint32, uint32, uint32) (uint32, defs.Err_t), arg1, arg2, arg3 uint32) (uint32, defs.Err_t) {
	d.mu.Lock()
	d.KernelCalls++
	d.mu.Unlock()
	switch svc {
	case DRIVER_SVC_ALLOC_MEM, DRIVER_SVC_FREE_MEM, DRIVER_SVC_MAP_MMIO,
		DRIVER_SVC_REGISTER_IRQ, DRIVER_SVC_UNREGISTER_IRQ,
		DRIVER_SVC_DMA_ALLOC, DRIVER_SVC_DMA_FREE, DRIVER_SVC_LOG,
		DRIVER_SVC_PORT_IN, DRIVER_SVC_PORT_OUT,
		DRIVER_SVC_PCI_READ, DRIVER_SVC_PCI_WRITE:
		return handler(svc, arg1, arg2, arg3)
	default:
		d.mu.Lock()
		d.IoViolations++
		d.mu.Unlock()
		return 0, defs.ENOSYS
	}
}

/// DecodeViolation disassembles the faulting instruction at code (the
/// bytes at the trapping EIP) to report which I/O instruction a
/// domain used to touch a denied port, for the violation log — a
/// diagnostic a fixed dispatch table alone cannot give.
func DecodeViolation(code []byte, pc uint64) string {
	inst, err := x86asm.Decode(code, 32)
	if err != nil {
		return fmt.Sprintf("<undecodable at %#x: %v>", pc, err)
	}
	return x86asm.GNUSyntax(inst, pc, nil)
}

/// LogViolation writes a formatted violation line to the debug
/// console, the DRIVER_SVC_LOG path a real violation handler would
/// also use to report itself.
func LogViolation(d *Domain_t, port uint16, instr string) {
	console.Default.Printf("isolation: domain %q violated port %#x (%s)\n", d.Name, port, instr)
}
