package ksync

import (
	"testing"
	"time"
)

// TestCondvarProducerConsumer exercises Wait/Signal across a shared
// Mutex_t-guarded queue, the producer/consumer pattern a from-scratch
// kernel uses condition variables for (a blocking pipe or message
// queue waiting on new data).
func TestCondvarProducerConsumer(t *testing.T) {
	var m Mutex_t
	var cv Condvar_t
	var queue []int
	const want = 50

	consumed := make(chan int, want)
	go func() {
		for i := 0; i < want; i++ {
			m.Lock()
			for len(queue) == 0 {
				cv.Wait(&m)
			}
			v := queue[0]
			queue = queue[1:]
			m.Unlock(nil)
			consumed <- v
		}
	}()

	withTimeout(t, 5*time.Second, func() {
		for i := 0; i < want; i++ {
			m.Lock()
			queue = append(queue, i)
			m.Unlock(nil)
			cv.Signal()
		}
		for i := 0; i < want; i++ {
			v := <-consumed
			if v != i {
				t.Errorf("consumed %d, want %d (FIFO order violated)", v, i)
			}
		}
	})
}

func TestCondvarBroadcastWakesAllWaiters(t *testing.T) {
	var m Mutex_t
	var cv Condvar_t
	ready := false

	const waiters = 5
	woke := make(chan struct{}, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			m.Lock()
			for !ready {
				cv.Wait(&m)
			}
			m.Unlock(nil)
			woke <- struct{}{}
		}()
	}

	time.Sleep(50 * time.Millisecond) // let every goroutine park on cv

	m.Lock()
	ready = true
	m.Unlock(nil)
	cv.Broadcast()

	withTimeout(t, 5*time.Second, func() {
		for i := 0; i < waiters; i++ {
			<-woke
		}
	})
}
