package ksync

import "container/list"

/// Waitqueue_t is a FIFO queue of parked waiters. Each waiter blocks
/// on its own channel so Wakeone can unblock exactly the
/// longest-waiting entry without a thundering herd.
type Waitqueue_t struct {
	mu      Spinlock_t
	waiters list.List // of chan struct{}
}

/// Register enqueues the caller at the back of the queue and returns
/// the channel a matching Wakeone/Wakeall will close. Splitting
/// enqueue from park lets a caller (Condvar_t.Wait) publish itself as
/// a waiter while still holding a lock, release that lock, and only
/// then block — so a wakeup issued in between is not lost.
func (wq *Waitqueue_t) Register() <-chan struct{} {
	ch := make(chan struct{})
	wq.mu.Acquire()
	wq.waiters.PushBack(ch)
	wq.mu.Release()
	return ch
}

/// Wait parks the calling goroutine at the back of the queue until a
/// matching Wakeone/Wakeall releases it.
func (wq *Waitqueue_t) Wait() {
	<-wq.Register()
}

/// Wakeone releases the single longest-waiting entry, if any, and
/// reports whether a waiter was woken.
func (wq *Waitqueue_t) Wakeone() bool {
	wq.mu.Acquire()
	front := wq.waiters.Front()
	if front == nil {
		wq.mu.Release()
		return false
	}
	wq.waiters.Remove(front)
	wq.mu.Release()

	close(front.Value.(chan struct{}))
	return true
}

/// Wakeall releases every waiter currently queued.
func (wq *Waitqueue_t) Wakeall() {
	wq.mu.Acquire()
	var chans []chan struct{}
	for e := wq.waiters.Front(); e != nil; e = e.Next() {
		chans = append(chans, e.Value.(chan struct{}))
	}
	wq.waiters.Init()
	wq.mu.Release()

	for _, ch := range chans {
		close(ch)
	}
}

/// Empty reports whether the queue currently holds no waiters.
func (wq *Waitqueue_t) Empty() bool {
	wq.mu.Acquire()
	defer wq.mu.Release()
	return wq.waiters.Len() == 0
}
