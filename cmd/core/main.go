// Command core is the kernel's boot entry point: it brings up every
// CORE subsystem in dependency order and starts the scheduler.
//
// A real boot stub (GRUB/multiboot, or a from-scratch assembly rt0) is
// an external collaborator outside this module's scope; Main here
// plays the role gopher-os's kernel.Kmain or a from-scratch chentry.go
// plays once control reaches Go: it never returns.
package main

import (
	"fmt"
	"time"

	"github.com/m512i/ZurichOS-sub001/console"
	"github.com/m512i/ZurichOS-sub001/intr"
	"github.com/m512i/ZurichOS-sub001/ipc"
	"github.com/m512i/ZurichOS-sub001/isolation"
	"github.com/m512i/ZurichOS-sub001/pmm"
	"github.com/m512i/ZurichOS-sub001/proc"
	"github.com/m512i/ZurichOS-sub001/sched"
	"github.com/m512i/ZurichOS-sub001/sys"
	"github.com/m512i/ZurichOS-sub001/vfs"
	"github.com/m512i/ZurichOS-sub001/vmm"
)

// defaultMemSz is assumed when the boot information block carries no
// upper-memory size.
const defaultMemSz = 256 * 1024 * 1024

// Bootinfo_t is the handoff block the boot stub leaves behind:
// multiboot's mem_upper (KiB above the 1MiB mark) and, when ACPI
// enumeration ran, the raw MADT for APIC discovery.
type Bootinfo_t struct {
	MemUpperKb uint32
	Madt       []byte
}

// memBytes derives the physical pool size from the boot block,
// falling back to 256MiB when the field is absent.
func memBytes(bi *Bootinfo_t) int {
	if bi == nil || bi.MemUpperKb == 0 {
		return defaultMemSz
	}
	return (1 << 20) + int(bi.MemUpperKb)*1024
}

// iopbSize is the IOPB span covering all 65536 I/O ports.
const iopbSize = 8192

// timerHz is the periodic scheduler tick rate.
const timerHz = 100

// Kernel bundles every subsystem brought up during boot, the same way
// a from-scratch kernel's global state lives in a handful of package-
// level singletons wired together once at start of day.
type Kernel struct {
	Phys    *pmm.Physmem_t
	KernAs  *vmm.Vm_t
	Heap    *vmm.Heap_t
	Intr    *intr.Controller_t
	Domains *isolation.Registry_t
	Sched   *sched.Scheduler_t
	Procs   *proc.Table_t
	Vfs     *vfs.Vfs_t
	Ipc     *ipc.Ipc_t
}

// Boot brings up every CORE subsystem in dependency order: physical
// memory before virtual memory, the kernel address space before the
// heap carved out of it, GDT/TSS before IDT before APIC, the driver
// isolation registry once the GDT's IOPB exists, the scheduler once
// there is a runnable task to spawn, and the process table, VFS, and
// IPC layer last since they're the ones userspace-facing syscalls
// will reach through.
func Boot(bi *Bootinfo_t) (*Kernel, error) {
	phys, err := pmm.Init(memBytes(bi))
	if err != nil {
		return nil, fmt.Errorf("pmm.Init: %w", err)
	}

	kernAs, errt := vmm.NewAddrSpace()
	if errt != 0 {
		return nil, fmt.Errorf("vmm.NewAddrSpace: %v", errt)
	}
	heap := vmm.NewHeap(kernAs, 0xd0000000)

	ctl := intr.Init(iopbSize, 0)
	if bi != nil {
		if m, ok := intr.ParseMadt(bi.Madt); ok {
			console.Default.Printf("apic: lapic at %#x, ioapic at %#x\n",
				m.LapicAddr, m.IoapicAddr)
		} else {
			console.Default.Printf("apic: no MADT, defaults %#x/%#x\n",
				uint32(intr.LAPIC_BASE_PHYS), uint32(intr.IOAPIC_BASE_PHYS))
		}
	}
	// one-shot calibration against the modeled PIT interval, then the
	// timer goes periodic at the scheduler's tick rate
	ctl.Lapic.SetDivider(0xb)
	rate := ctl.Lapic.Calibrate(10 * time.Millisecond)
	console.Default.Printf("apic: timer counts at %d Hz\n", rate)
	ctl.Lapic.TimerInit(timerHz, nil)

	domains := isolation.NewRegistry(ctl.Gdt)

	s := sched.New()

	procs := proc.NewTable()
	if _, errt := procs.Create("init", 0); errt != 0 {
		return nil, fmt.Errorf("proc.Create(init): %v", errt)
	}

	v := vfs.NewVfs()
	ramfs := vfs.NewRamfs()
	v.SetRoot(ramfs.Root())

	devfs := vfs.NewDevfs()
	if errt := v.Mount("/dev", devfs.Root()); errt != 0 {
		return nil, fmt.Errorf("mount /dev: %v", errt)
	}

	procfs := vfs.NewProcfs(procs)
	if errt := v.Mount("/proc", procfs.Root()); errt != 0 {
		return nil, fmt.Errorf("mount /proc: %v", errt)
	}

	ipcLayer := ipc.NewIpc()

	// the syscall gate is the last piece of the IDT: every subsystem
	// it dispatches into exists by now. Process-table entry 1 (init)
	// is the only user context until a scheduler hook tracks the
	// running process per task.
	syscalls := sys.New(procs, v)
	syscalls.Install(ctl.Idt, func() *proc.Process_t { return procs.Get(1) })

	return &Kernel{
		Phys:    phys,
		KernAs:  kernAs,
		Heap:    heap,
		Intr:    ctl,
		Domains: domains,
		Sched:   s,
		Procs:   procs,
		Vfs:     v,
		Ipc:     ipcLayer,
	}, nil
}

func main() {
	console.Default.Printf("booting\n")

	// a real boot stub would hand over a populated block; running
	// hosted there is none, so the 256MiB default applies
	k, err := Boot(nil)
	if err != nil {
		console.Default.Printf("boot failed: %v\n", err)
		return
	}

	used, free, total := k.Phys.Counts()
	console.Default.Printf("pmm: %d used, %d free, %d total frames\n", used, free, total)
	console.Default.Printf("vfs: root mounted, /dev and /proc attached\n")
	console.Default.Printf("proc: init running as pid %d\n", k.Procs.Get(1).Pid)

	k.Sched.Spawn("idle", sched.NumPriorities-1, func(t *sched.Task_t) {
		for {
			k.Sched.Yield(t)
		}
	})
	k.Sched.Start()

	select {}
}
