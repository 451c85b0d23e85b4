// Package ksync implements the kernel's synchronization primitives: a
// spinlock, a FIFO wait queue, a priority-inheriting mutex, a counting
// semaphore, a condition variable, and a writer-preferring
// reader/writer lock, all built in the style of embedding sync.Mutex
// directly in a _t struct (accnt.Accnt_t, tinfo.Tinfo_t) rather than
// wrapping it behind an interface, with FIFO wakeup order, writer
// preference, and single-level priority inheritance as the exact
// semantics to match.
package ksync

import (
	"runtime"
	"sync"
	"sync/atomic"
)

/// Spinlock_t busy-waits for a single-CPU critical section. On a
/// single-CPU target a spinlock only ever needs to defend against
/// preemption of the holder by another task
/// on the same CPU, which the scheduler provides by never preempting
/// inside one; the busy-wait loop below exists so callers written
/// against a spinlock API still work if a caller spins briefly on a
/// still-held lock (e.g. a lock held by an interrupt handler).
type Spinlock_t struct {
	locked uint32
}

/// Acquire spins until the lock is free, then takes it.
func (s *Spinlock_t) Acquire() {
	for !atomic.CompareAndSwapUint32(&s.locked, 0, 1) {
		runtime.Gosched()
	}
}

/// Release releases the lock.
func (s *Spinlock_t) Release() {
	atomic.StoreUint32(&s.locked, 0)
}

/// TryAcquire attempts to take the lock without spinning, reporting
/// whether it succeeded.
func (s *Spinlock_t) TryAcquire() bool {
	return atomic.CompareAndSwapUint32(&s.locked, 0, 1)
}

// irqState_t is unused on this hosted target — a real
// spinlock_irq_save/restore pair disables interrupts around the
// critical section, which here is modeled by the scheduler never
// preempting a goroutine holding a spinlock across a blocking call
// (no caller does so). Kept as a documented gap rather than a
// fabricated cli()/sti() pair with no backing hardware.
type irqState_t = struct{}

var _ sync.Locker = (*lockerAdapter)(nil)

// lockerAdapter lets a Spinlock_t satisfy sync.Locker where a generic
// caller (like a future condvar backend) wants one.
type lockerAdapter struct{ s *Spinlock_t }

func (l *lockerAdapter) Lock()   { l.s.Acquire() }
func (l *lockerAdapter) Unlock() { l.s.Release() }

/// AsLocker adapts s to the sync.Locker interface.
func (s *Spinlock_t) AsLocker() sync.Locker {
	return &lockerAdapter{s}
}
