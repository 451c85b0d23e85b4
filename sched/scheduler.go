package sched

import (
	"sync"
	"time"

	"github.com/m512i/ZurichOS-sub001/ksync"
	"github.com/m512i/ZurichOS-sub001/stats"
)

/// TaskSample is stats.TaskSample, re-exported so callers never need
/// to import stats just to call Scheduler_t.Samples.
type TaskSample = stats.TaskSample

/// Scheduler_t is a priority round-robin scheduler for a single CPU.
/// At most one task ever holds the
/// cpu ticket at a time: Spawn, Yield, and Block all hand the ticket
/// to the next runnable task of highest priority before returning
/// control to the one that called them, so a task calling into this
/// package always does so from the position of "the task currently
/// running."
type Scheduler_t struct {
	mu      sync.Mutex
	ready   [NumPriorities][]*Task_t
	current *Task_t
	nextId  int
	started bool
}

/// New creates a scheduler with no tasks. Call Start after spawning
/// the first task to begin running it.
func New() *Scheduler_t {
	return &Scheduler_t{}
}

/// Current returns the task presently holding the CPU, or nil before
/// Start or after every task has exited.
func (s *Scheduler_t) Current() *Task_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

/// Spawn creates a new task at the given base priority (0 highest,
/// NumPriorities-1 lowest) running fn, and enqueues it ready. fn
/// receives the Task_t so it can Yield or Block itself; it runs on its
/// own goroutine but only executes between the ticket being granted
/// and the next Yield/Block/return, honoring the single-CPU model.
func (s *Scheduler_t) Spawn(name string, prio int, fn func(*Task_t)) *Task_t {
	if prio < 0 {
		prio = 0
	}
	if prio >= NumPriorities {
		prio = NumPriorities - 1
	}
	s.mu.Lock()
	t := &Task_t{
		Id:        s.nextId,
		Name:      name,
		state:     TASK_READY,
		basePrio:  prio,
		effPrio:   prio,
		quantum:   DefaultQuantum,
		remaining: DefaultQuantum,
		cpu:       make(chan struct{}, 1),
		done:      make(chan struct{}),
		sched:     s,
	}
	s.nextId++
	s.enqueue(t)
	s.mu.Unlock()

	go func() {
		<-t.cpu
		fn(t)
		s.mu.Lock()
		t.state = TASK_ZOMBIE
		s.mu.Unlock()
		close(t.done)
		s.runNext()
	}()
	return t
}

/// Start grants the CPU to the highest-priority ready task. Call once
/// after the first Spawn(s); the scheduler is otherwise self-driving
/// from Yield/Block/task-exit.
func (s *Scheduler_t) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	s.runNext()
}

// enqueue adds t to its priority level's ready queue. Caller holds
// s.mu.
func (s *Scheduler_t) enqueue(t *Task_t) {
	t.state = TASK_READY
	s.ready[t.effPrio] = append(s.ready[t.effPrio], t)
}

// dequeueHighest pops the front of the lowest-numbered non-empty
// priority queue — lowest numeric value is highest priority, per
// NumPriorities' doc comment — with round-robin within a level, since
// new entries append to the tail. Caller holds s.mu.
func (s *Scheduler_t) dequeueHighest() *Task_t {
	for p := 0; p < NumPriorities; p++ {
		q := s.ready[p]
		if len(q) == 0 {
			continue
		}
		t := q[0]
		s.ready[p] = q[1:]
		return t
	}
	return nil
}

// runNext dequeues the next ready task, if any, and hands it the CPU
// ticket. The ticket channel is buffered by one slot specifically so
// this works when next is the caller's own task (the only-ready-task
// case every Yield/Block/Sleep call must handle): the send fills the
// buffer and returns immediately rather than waiting for a receiver,
// so the caller's own following `<-self.cpu` just drains what it
// itself deposited instead of deadlocking on a rendezvous with itself.
func (s *Scheduler_t) runNext() *Task_t {
	s.mu.Lock()
	next := s.dequeueHighest()
	s.current = next
	if next != nil {
		next.state = TASK_RUNNING
		next.remaining = next.quantum
	}
	s.mu.Unlock()
	if next != nil {
		next.cpu <- struct{}{}
	}
	return next
}

/// Yield voluntarily gives up the CPU, re-enqueues self as ready, and
/// blocks until the scheduler grants it the CPU again.
func (s *Scheduler_t) Yield(self *Task_t) {
	s.mu.Lock()
	s.enqueue(self)
	s.mu.Unlock()
	s.runNext()
	<-self.cpu
}

/// Block marks self blocked on wq, waiting under the given reason
/// string for diagnostics, gives the CPU to the next ready task, waits
/// for wq to release it, then blocks until rescheduled.
func (s *Scheduler_t) Block(self *Task_t, wq *ksync.Waitqueue_t, reason string) {
	s.mu.Lock()
	self.state = TASK_BLOCKED
	self.WaitingOn = reason
	s.mu.Unlock()

	s.runNext()
	wq.Wait()

	s.mu.Lock()
	s.enqueue(self)
	s.mu.Unlock()
	s.runNext()
	<-self.cpu
}

/// Sleep blocks self until d has elapsed, driving sleep/wake with a
/// real timer since this hosted build has no hardware timer to drive
/// wake deadlines directly.
func (s *Scheduler_t) Sleep(self *Task_t, d time.Duration) {
	s.mu.Lock()
	self.state = TASK_SLEEPING
	self.WakeDeadline = time.Now().Add(d)
	s.mu.Unlock()

	s.runNext()
	time.Sleep(d)

	s.mu.Lock()
	s.enqueue(self)
	s.mu.Unlock()
	s.runNext()
	<-self.cpu
}

// reprioritize moves a task to a new priority level's ready queue if
// it is currently queued, and always updates its effPrio field; used
// both by SetPriority (priority inheritance) and directly by a task
// changing its own base priority.
func (s *Scheduler_t) reprioritize(t *Task_t, newPrio int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := t.effPrio
	if old == newPrio {
		return
	}
	if t.state == TASK_READY {
		q := s.ready[old]
		for i, cand := range q {
			if cand == t {
				s.ready[old] = append(q[:i], q[i+1:]...)
				break
			}
		}
		t.effPrio = newPrio
		s.ready[newPrio] = append(s.ready[newPrio], t)
		return
	}
	t.effPrio = newPrio
}

/// Tick decrements the current task's remaining quantum by d and, if
/// it has been exhausted, forces a yield by the caller. A hosted build
/// cannot interrupt a running goroutine asynchronously, so callers
/// doing long-running work are expected to call Tick periodically at
/// safe points, the same cooperative-checkpoint style used by any
/// bounded loop that wants to stay preemptible.
func (s *Scheduler_t) Tick(self *Task_t, d time.Duration) {
	s.mu.Lock()
	self.remaining -= d
	expired := self.remaining <= 0
	ring := self.Ring
	s.mu.Unlock()
	if ring == 3 {
		self.Acct.Utadd(int(d))
	} else {
		self.Acct.Systadd(int(d))
	}
	if expired {
		s.Yield(self)
	}
}

/// Samples returns a stats.TaskSample-shaped snapshot (name, runtime,
/// ready-queue depth) for every task currently known to the scheduler,
/// for exporting scheduling behavior via stats.DumpProfile.
func (s *Scheduler_t) Samples() []TaskSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	depth := map[int]int{}
	for _, q := range s.ready {
		for _, t := range q {
			depth[t.Id]++
		}
	}
	var out []TaskSample
	walk := func(t *Task_t) {
		if t == nil {
			return
		}
		out = append(out, TaskSample{
			Name:      t.Name,
			RuntimeNs: t.Acct.Userns + t.Acct.Sysns,
			RunqDepth: int64(depth[t.Id]),
		})
	}
	walk(s.current)
	for _, q := range s.ready {
		for _, t := range q {
			walk(t)
		}
	}
	return out
}
