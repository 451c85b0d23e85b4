// Package accnt implements per-task CPU accounting: nanosecond
// counters for user and system time, split the way sched.Task_t.Tick
// charges them by the task's Ring field (ring 3 is user time, anything
// else is system time), and a getrusage(2)-shaped serialization that
// proc.Table_t.Rusage hands back to a caller asking about a process's
// accumulated usage.
package accnt

import "sync"
import "sync/atomic"
import "time"

import "github.com/m512i/ZurichOS-sub001/util"

/// Accnt_t accumulates one task's CPU-time accounting. Userns and
/// Sysns are nanosecond counters updated via Utadd/Systadd from
/// sched.Scheduler_t.Tick on every quantum charge; the embedded mutex
/// lets Fetch take a consistent snapshot against concurrent Add/Utadd/
/// Systadd calls from the scheduler goroutine.
type Accnt_t struct {
	/// Nanoseconds of user-mode time consumed (Ring == 3 ticks).
	Userns int64
	/// Nanoseconds of kernel-mode time consumed (every other ring).
	Sysns int64
	sync.Mutex
}

/// Utadd adds delta nanoseconds to the user-time counter. Called from
/// sched.Scheduler_t.Tick when the charged task's Ring is 3.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

/// Systadd adds delta nanoseconds to the system-time counter. Called
/// from sched.Scheduler_t.Tick when the charged task's Ring is not 3
/// (kernel code or a ring-1 driver domain).
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

/// Now returns the current time in nanoseconds since the Unix epoch,
/// the timebase Io_time/Sleep_time/Finish measure elapsed intervals
/// against.
func (a *Accnt_t) Now() int {
	return int(time.Now().UnixNano())
}

/// Io_time backs out time spent blocked on I/O from system time, so a
/// task parked in ipc/vfs waiting on a device or pipe doesn't have
/// that wait counted as CPU time.
func (a *Accnt_t) Io_time(since int) {
	d := a.Now() - since
	a.Systadd(-d)
}

/// Sleep_time backs out time spent in sched.Scheduler_t.Sleep from
/// system time, for the same reason Io_time excludes blocked I/O wait.
func (a *Accnt_t) Sleep_time(since int) {
	d := a.Now() - since
	a.Systadd(-d)
}

/// Finish charges system time for the interval since inttime, the
/// accounting hook a syscall-dispatch entry/exit pair would bracket a
/// kernel-mode stretch of execution with.
func (a *Accnt_t) Finish(inttime int) {
	a.Systadd(a.Now() - inttime)
}

/// Add merges a child's accounting into this one, the wait(2)-family
/// behavior of folding a reaped zombie's usage into its parent's own
/// totals.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	a.Unlock()
}

/// Fetch returns a consistent rusage-shaped snapshot, the form
/// proc.Table_t.Rusage returns straight to its caller.
func (a *Accnt_t) Fetch() []uint8 {
	a.Lock()
	ru := a.To_rusage()
	a.Unlock()
	return ru
}

/// To_rusage packs Userns/Sysns into the {sec,usec} timeval pairs a
/// struct rusage carries for ru_utime/ru_stime, using util.Writen to
/// marshal each int64 field at a fixed offset rather than building the
/// byte slice by hand.
func (a *Accnt_t) To_rusage() []uint8 {
	words := 4
	ret := make([]uint8, words*8)
	totv := func(nano int64) (int, int) {
		secs := int(nano / 1e9)
		usecs := int((nano % 1e9) / 1000)
		return secs, usecs
	}
	off := 0
	// user timeval
	s, us := totv(a.Userns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	// sys timeval
	s, us = totv(a.Sysns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8
	return ret
}
