package intr

import (
	"fmt"
	"runtime"

	"github.com/m512i/ZurichOS-sub001/caller"
	"github.com/m512i/ZurichOS-sub001/console"
)

/// NumExceptions is the count of fixed CPU exception vectors (0..19)
/// that must always have a handler; an unhandled one reaching Dispatch
/// means the kernel itself has a bug, not user code.
const NumExceptions = 20

/// Panic prints regs's trapped vector, a best-effort symbolic call
/// stack (demangled through caller.Symname where the frame's symbol
/// looks mangled), and halts. Called by Dispatch when a CPU exception
/// vector has no registered handler.
func Panic(regs *Registers_t, reason string) {
	console.Default.Printf("panic: unhandled vector %d (%s) eip=0x%x err=0x%x\n",
		regs.IntNo, reason, regs.Eip, regs.ErrCode)

	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		console.Default.Printf("\t%s (%s:%d)\n", caller.Symname(fr.Function), fr.File, fr.Line)
		if !more {
			break
		}
	}
	panic(fmt.Sprintf("unrecoverable: vector %d", regs.IntNo))
}

/// exceptionName maps the fixed x86 exception vectors to their
/// conventional names, for Panic's diagnostic line.
func exceptionName(vec uint32) string {
	names := [NumExceptions]string{
		"divide-by-zero", "debug", "nmi", "breakpoint", "overflow",
		"bound-range", "invalid-opcode", "device-not-available",
		"double-fault", "coprocessor-segment-overrun", "invalid-tss",
		"segment-not-present", "stack-fault", "general-protection",
		"page-fault", "reserved", "x87-fp", "alignment-check",
		"machine-check", "simd-fp",
	}
	if int(vec) < len(names) {
		return names[vec]
	}
	return "unknown"
}
