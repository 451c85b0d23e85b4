package limits

import "unsafe"
import "sync/atomic"

/// Lhits counts limit hits.
var Lhits int

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

/// Syslimit_t tracks the CORE kernel's system-wide resource limits:
/// the ceilings backing the fixed-size IPC arenas plus the process
/// and VFS-node ceilings the scheduler and lookup path enforce.
type Syslimit_t struct {
	// protected by proc.Table_t's own lock; bounds live process slots
	Sysprocs int
	// checked by vfs's ramfsCreate against an atomic count of live
	// ramfs nodes; devfs and procfs nodes are not counted
	Vnodes int
	// protected by isolation.Registry_t's lock; bounds concurrently
	// registered ring-1 driver domains
	Domains int
	// total open pipes across the system
	Pipes Sysatomic_t
	// total live shared-memory regions (ipc.ShmTable_t arena slots)
	Shms Sysatomic_t
	// total live message queues (ipc.MsgqTable_t arena slots)
	Msgqueues Sysatomic_t
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs:  1024,
		Vnodes:    20000,
		Domains:   16,
		Pipes:     256,
		Shms:      64,
		Msgqueues: 64,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount.
/// It returns true on success.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
