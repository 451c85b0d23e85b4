package sched

import (
	"sync"
	"testing"
	"time"

	"github.com/m512i/ZurichOS-sub001/ksync"
)

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

func TestSpawnDispatchesHighestPriorityFirst(t *testing.T) {
	s := New()
	var mu sync.Mutex
	var order []string

	low := s.Spawn("low", 5, func(t *Task_t) {
		mu.Lock()
		order = append(order, "low")
		mu.Unlock()
	})
	high := s.Spawn("high", 1, func(t *Task_t) {
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
	})

	s.Start()

	withTimeout(t, 2*time.Second, func() { low.Wait() })
	withTimeout(t, 2*time.Second, func() { high.Wait() })

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Fatalf("dispatch order = %v, want [high low]", order)
	}
}

// TestYieldAloneDoesNotDeadlock exercises exactly the pattern
// cmd/core's boot sequence uses: a single ready task repeatedly
// yielding with nothing else runnable. This must not deadlock the
// scheduler on the first timeslice.
func TestYieldAloneDoesNotDeadlock(t *testing.T) {
	s := New()
	const rounds = 20
	task := s.Spawn("solo", 0, func(t *Task_t) {
		for i := 0; i < rounds; i++ {
			s.Yield(t)
		}
	})

	withTimeout(t, 2*time.Second, func() {
		s.Start()
		task.Wait()
	})
}

func TestYieldAlternatesBetweenPeers(t *testing.T) {
	s := New()
	var mu sync.Mutex
	turns := map[string]int{}
	const rounds = 10

	a := s.Spawn("a", 2, func(t *Task_t) {
		for i := 0; i < rounds; i++ {
			mu.Lock()
			turns["a"]++
			mu.Unlock()
			s.Yield(t)
		}
	})
	b := s.Spawn("b", 2, func(t *Task_t) {
		for i := 0; i < rounds; i++ {
			mu.Lock()
			turns["b"]++
			mu.Unlock()
			s.Yield(t)
		}
	})

	withTimeout(t, 5*time.Second, func() {
		s.Start()
		a.Wait()
		b.Wait()
	})

	mu.Lock()
	defer mu.Unlock()
	if turns["a"] != rounds || turns["b"] != rounds {
		t.Fatalf("turns = %v, want a=%d b=%d", turns, rounds, rounds)
	}
}

func TestBlockAndWakeupViaWaitqueue(t *testing.T) {
	s := New()
	var wq ksync.Waitqueue_t
	woke := make(chan struct{})

	blocker := s.Spawn("blocker", 3, func(t *Task_t) {
		s.Block(t, &wq, "test-wait")
		close(woke)
	})

	// A same-priority peer keeps the ready queue non-empty so the
	// scheduler has somewhere to send the CPU while blocker waits, and
	// so blocker's post-wake re-dispatch doesn't find itself alone.
	peer := s.Spawn("peer", 3, func(t *Task_t) {
		for {
			select {
			case <-woke:
				return
			default:
			}
			s.Yield(t)
		}
	})

	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for blocker.State() != TASK_BLOCKED && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if blocker.State() != TASK_BLOCKED {
		t.Fatal("blocker never reached TASK_BLOCKED")
	}

	if !wq.Wakeone() {
		t.Fatal("Wakeone found no waiter")
	}

	withTimeout(t, 2*time.Second, func() { blocker.Wait() })
	withTimeout(t, 2*time.Second, func() { peer.Wait() })
}

func TestSleepReturnsAfterDuration(t *testing.T) {
	s := New()
	const sleepFor = 30 * time.Millisecond
	start := time.Now()
	task := s.Spawn("sleeper", 0, func(t *Task_t) {
		s.Sleep(t, sleepFor)
	})

	withTimeout(t, 2*time.Second, func() {
		s.Start()
		task.Wait()
	})

	if elapsed := time.Since(start); elapsed < sleepFor {
		t.Fatalf("Sleep returned after %v, want at least %v", elapsed, sleepFor)
	}
}

func TestReprioritizeMovesReadyTaskAcrossLevels(t *testing.T) {
	s := New()
	ran := make(chan struct{})

	// target is enqueued READY by Spawn but not yet dispatched (Start
	// has not been called), so reprioritize can observe and move it
	// while it still sits in its original priority's ready queue.
	target := s.Spawn("target", 1, func(t *Task_t) {
		close(ran)
	})

	if target.State() != TASK_READY {
		t.Fatalf("State() = %v before Start, want TASK_READY", target.State())
	}

	s.reprioritize(target, 4)
	if target.Priority() != 4 {
		t.Fatalf("Priority() = %d after reprioritize, want 4", target.Priority())
	}

	withTimeout(t, 2*time.Second, func() {
		s.Start()
		<-ran
		target.Wait()
	})
}
