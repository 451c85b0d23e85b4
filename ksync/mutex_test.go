package ksync

import (
	"sync"
	"testing"
	"time"
)

// fakeTask is a minimal ksync.PriorityHolder, standing in for
// sched.Task_t without importing sched (which would be a cycle).
type fakeTask struct {
	mu   sync.Mutex
	prio int
	base int
}

func newFakeTask(prio int) *fakeTask { return &fakeTask{prio: prio, base: prio} }

func (f *fakeTask) Priority() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prio
}

func (f *fakeTask) SetPriority(p int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prio = p
}

func (f *fakeTask) BasePriority() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.base
}

// withTimeout fails the test instead of hanging forever if fn doesn't
// complete within d.
func withTimeout(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for goroutine")
	}
}

func TestMutexExcludesConcurrentCriticalSections(t *testing.T) {
	var m Mutex_t
	var counter int
	var wg sync.WaitGroup

	const goroutines = 20
	const iterations = 200

	withTimeout(t, 5*time.Second, func() {
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < iterations; j++ {
					m.Lock()
					counter++
					m.Unlock(nil)
				}
			}()
		}
		wg.Wait()
	})

	if counter != goroutines*iterations {
		t.Fatalf("counter = %d, want %d (mutual exclusion violated)", counter, goroutines*iterations)
	}
}

func TestTrylockReportsContention(t *testing.T) {
	var m Mutex_t
	owner := newFakeTask(1)
	if !m.Trylock(owner) {
		t.Fatal("Trylock failed on an unlocked mutex")
	}
	other := newFakeTask(1)
	if m.Trylock(other) {
		t.Fatal("Trylock succeeded on an already-locked mutex")
	}
	if !m.Islocked() {
		t.Fatal("Islocked false while held")
	}
	m.Unlock(owner)
	if m.Islocked() {
		t.Fatal("Islocked true after Unlock")
	}
}

func TestLockPIBoostsLowerPriorityHolder(t *testing.T) {
	var m Mutex_t
	low := newFakeTask(5)
	high := newFakeTask(1)

	m.LockPI(low)
	if low.Priority() != 5 {
		t.Fatalf("low holder priority = %d before contention, want 5", low.Priority())
	}

	blockerDone := make(chan struct{})
	go func() {
		m.LockPI(high)
		m.Unlock(high)
		close(blockerDone)
	}()

	// Give the high-priority waiter time to register against the held
	// mutex and boost the holder.
	deadline := time.Now().Add(2 * time.Second)
	for low.Priority() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if low.Priority() != 1 {
		t.Fatalf("holder priority = %d, want boosted to 1", low.Priority())
	}

	m.Unlock(low) // release the original holder's hold, admitting high
	withTimeout(t, 2*time.Second, func() { <-blockerDone })

	// Per the documented single-level-inheritance port: Unlock restores
	// the outgoing holder unconditionally to BasePriority, regardless of
	// whether a second held mutex would have required staying boosted.
	if low.Priority() != low.BasePriority() {
		t.Fatalf("holder priority after Unlock = %d, want restored to base %d", low.Priority(), low.BasePriority())
	}
}

func TestUnlockWakesLongestWaitingFirst(t *testing.T) {
	var m Mutex_t
	m.Lock()

	const waiters = 4
	order := make(chan int, waiters)
	ready := make(chan struct{}, waiters)

	for i := 0; i < waiters; i++ {
		go func(id int) {
			ready <- struct{}{}
			time.Sleep(10 * time.Millisecond) // stagger enqueue order
			m.Lock()
			order <- id
			m.Unlock(nil)
		}(i)
		<-ready
		time.Sleep(15 * time.Millisecond) // let goroutine i enqueue before i+1 starts
	}

	m.Unlock(nil) // release the initial hold, letting waiters drain in turn

	got := make([]int, 0, waiters)
	withTimeout(t, 5*time.Second, func() {
		for i := 0; i < waiters; i++ {
			got = append(got, <-order)
		}
	})
	for i, id := range got {
		if id != i {
			t.Fatalf("wake order = %v, want FIFO order 0..%d", got, waiters-1)
		}
	}
}

func TestUnlockByNonOwnerPanics(t *testing.T) {
	var m Mutex_t
	owner := newFakeTask(2)
	intruder := newFakeTask(2)
	m.LockPI(owner)

	defer func() {
		if recover() == nil {
			t.Fatal("Unlock by a task that does not own the mutex did not panic")
		}
		m.Unlock(owner)
	}()
	m.Unlock(intruder)
}

func TestUnlockOfUnlockedMutexPanics(t *testing.T) {
	var m Mutex_t
	defer func() {
		if recover() == nil {
			t.Fatal("Unlock of a never-locked mutex did not panic")
		}
	}()
	m.Unlock(nil)
}
