package ksync

/// Condvar_t is a condition variable bound to a Mutex_t at each call
/// rather than fixed at construction. Wait releases the mutex and
/// parks atomically with respect to Signal/Broadcast racing in
/// between by holding cv's own spinlock across the register-and-
/// release transition; callers must tolerate spurious wakeup, as
/// usual for condition variables, and re-check their predicate after
/// Wait returns.
type Condvar_t struct {
	sl Spinlock_t
	wq Waitqueue_t
}

/// Wait releases mutex, blocks until signaled (or spuriously woken),
/// then reacquires mutex before returning. The caller is registered
/// on the wait queue before the mutex is released, so a Signal issued
/// by whoever takes the mutex next cannot slip in unseen. Pairs with
/// Lock; a mutex held through LockPI goes through WaitPI instead so
/// the owner identity survives the release/reacquire.
func (c *Condvar_t) Wait(mutex *Mutex_t) {
	c.sl.Acquire()
	ch := c.wq.Register()
	mutex.Unlock(nil)
	c.sl.Release()

	<-ch
	mutex.Lock()
}

/// WaitPI behaves like Wait but releases and reacquires on behalf of
/// self, preserving ownership and priority inheritance across the
/// wait.
func (c *Condvar_t) WaitPI(mutex *Mutex_t, self PriorityHolder) {
	c.sl.Acquire()
	ch := c.wq.Register()
	mutex.Unlock(self)
	c.sl.Release()

	<-ch
	mutex.LockPI(self)
}

/// Signal wakes one waiter.
func (c *Condvar_t) Signal() {
	c.sl.Acquire()
	c.wq.Wakeone()
	c.sl.Release()
}

/// Broadcast wakes every waiter.
func (c *Condvar_t) Broadcast() {
	c.sl.Acquire()
	c.wq.Wakeall()
	c.sl.Release()
}
