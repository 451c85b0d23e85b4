package ksync

/// PriorityHolder is the minimal view a blocking task exposes to the
/// mutex's priority-inheritance logic. sched.Task_t implements it;
/// ksync does not import sched to avoid a cycle (sched is built on
/// top of ksync's primitives), so the mutex speaks only to this
/// interface.
type PriorityHolder interface {
	Priority() int
	SetPriority(int)
	BasePriority() int
}

/// Mutex_t is a sleeping mutual-exclusion lock with single-level
/// priority inheritance: when a higher-priority task
/// blocks on a mutex held by a lower-priority one, the holder is
/// boosted to the waiter's priority for the duration it holds the
/// lock, and restored to its base priority on unlock. Inheritance is
/// documented as single-level only — if the current holder is itself
/// blocked on a second mutex, that second mutex's holder is not
/// transitively boosted.
type Mutex_t struct {
	sl      Spinlock_t
	locked  bool
	owner   PriorityHolder
	waiters Waitqueue_t
}

/// Lock acquires the mutex without priority-inheritance bookkeeping,
/// for callers with no associated task (kernel-internal critical
/// sections that never contend with user scheduling priority).
func (m *Mutex_t) Lock() {
	for {
		m.sl.Acquire()
		if !m.locked {
			m.locked = true
			m.sl.Release()
			return
		}
		ch := m.waiters.Register()
		m.sl.Release()
		<-ch
	}
}

/// LockPI acquires the mutex on behalf of self, boosting the current
/// holder's priority to self's if self outranks it (lower numeric
/// value is higher priority, so self outranks holder when self's
/// number is the smaller one).
func (m *Mutex_t) LockPI(self PriorityHolder) {
	for {
		m.sl.Acquire()
		if !m.locked {
			m.locked = true
			m.owner = self
			m.sl.Release()
			return
		}
		holder := m.owner
		if holder != nil && self != nil && self.Priority() < holder.Priority() {
			holder.SetPriority(self.Priority())
		}
		ch := m.waiters.Register()
		m.sl.Release()
		<-ch
	}
}

/// Unlock releases the mutex on behalf of self, restores the outgoing
/// holder's base priority if it had been boosted, and wakes the
/// longest-waiting blocked task. Only the task recorded as owner may
/// release the lock: a mismatched self panics (the enforcement choice
/// here is panic, not an error return, since an unlock by a non-owner
/// is a kernel bug, not a runtime condition). A mutex taken with
/// plain Lock records no owner and is released with self == nil; the
/// check binds only holds taken through LockPI/Trylock with a task
/// identity.
func (m *Mutex_t) Unlock(self PriorityHolder) {
	m.sl.Acquire()
	if !m.locked {
		m.sl.Release()
		panic("ksync: unlock of unlocked mutex")
	}
	if m.owner != self {
		m.sl.Release()
		panic("ksync: unlock of mutex by non-owner")
	}
	holder := m.owner
	m.locked = false
	m.owner = nil
	m.sl.Release()

	if holder != nil && holder.Priority() != holder.BasePriority() {
		holder.SetPriority(holder.BasePriority())
	}
	m.waiters.Wakeone()
}

/// Trylock attempts to take the mutex without blocking, reporting
/// success.
func (m *Mutex_t) Trylock(self PriorityHolder) bool {
	m.sl.Acquire()
	defer m.sl.Release()
	if m.locked {
		return false
	}
	m.locked = true
	m.owner = self
	return true
}

/// Islocked reports whether the mutex is currently held.
func (m *Mutex_t) Islocked() bool {
	m.sl.Acquire()
	defer m.sl.Release()
	return m.locked
}
