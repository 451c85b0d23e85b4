package ksync

/// Rwlock_t is a writer-preferring reader/writer lock:
/// once a writer is waiting, no new reader is admitted until it has
/// run, preventing writer starvation under a steady stream of
/// readers.
type Rwlock_t struct {
	sl             Spinlock_t
	readers        int32
	writer         bool
	writerWaiting  int32
	readWaiters    Waitqueue_t
	writeWaiters   Waitqueue_t
}

/// RLock blocks until no writer holds or awaits the lock, then takes a
/// shared read hold. The writer-preference check applies only to a
/// reader's first attempt: a reader that queued and was then released
/// by a writer's Unlock is admitted even if the next writer is
/// already waiting, since that Unlock wakes the whole read cohort and
/// the waiting writer gets its turn from the cohort's last RUnlock.
func (rw *Rwlock_t) RLock() {
	queued := false
	for {
		rw.sl.Acquire()
		if !rw.writer && (rw.writerWaiting == 0 || queued) {
			rw.readers++
			rw.sl.Release()
			return
		}
		ch := rw.readWaiters.Register()
		rw.sl.Release()
		queued = true
		<-ch
	}
}

/// RUnlock releases a shared read hold, waking a waiting writer once
/// the last reader leaves.
func (rw *Rwlock_t) RUnlock() {
	rw.sl.Acquire()
	rw.readers--
	last := rw.readers == 0
	rw.sl.Release()
	if last {
		rw.writeWaiters.Wakeone()
	}
}

/// Lock blocks until no reader or writer holds the lock, then takes
/// an exclusive write hold.
func (rw *Rwlock_t) Lock() {
	rw.sl.Acquire()
	rw.writerWaiting++
	rw.sl.Release()

	for {
		rw.sl.Acquire()
		if !rw.writer && rw.readers == 0 {
			rw.writer = true
			rw.writerWaiting--
			rw.sl.Release()
			return
		}
		ch := rw.writeWaiters.Register()
		rw.sl.Release()
		<-ch
	}
}

/// Unlock releases an exclusive write hold: every waiting reader is
/// released if any exist, and only otherwise is the next waiting
/// writer woken. Readers blocked behind this writer run as one cohort
/// before the next writer, whose turn comes from the cohort's last
/// RUnlock.
func (rw *Rwlock_t) Unlock() {
	rw.sl.Acquire()
	rw.writer = false
	rw.sl.Release()

	if !rw.readWaiters.Empty() {
		rw.readWaiters.Wakeall()
		return
	}
	rw.writeWaiters.Wakeone()
}

/// TryRLock attempts a non-blocking shared hold.
func (rw *Rwlock_t) TryRLock() bool {
	rw.sl.Acquire()
	defer rw.sl.Release()
	if rw.writer || rw.writerWaiting > 0 {
		return false
	}
	rw.readers++
	return true
}

/// TryLock attempts a non-blocking exclusive hold.
func (rw *Rwlock_t) TryLock() bool {
	rw.sl.Acquire()
	defer rw.sl.Release()
	if rw.writer || rw.readers > 0 {
		return false
	}
	rw.writer = true
	return true
}
