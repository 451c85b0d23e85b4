// Package sched implements task scheduling: a priority round-robin
// cooperative scheduler built on accnt.Accnt_t (accnt/accnt.go) for
// per-task bookkeeping, with an explicit lifecycle state machine and
// priority semantics.
//
// There is no per-goroutine hook recovering "the currently running
// task" from runtime state. Every operation that needs to know which
// task is asking (priority inheritance, Yield, Block) takes the
// calling *Task_t as an explicit argument instead, the same way
// context.Context is threaded explicitly rather than recovered from
// goroutine-local state. A single CPU's "currently running task" is
// instead tracked by Scheduler_t.current, which is safe to read
// without synchronization tricks because, on a single CPU, only one
// task ever holds the CPU ticket at a time.
package sched

import (
	"time"

	"github.com/m512i/ZurichOS-sub001/accnt"
)

/// State_t is a task's position in the lifecycle state machine.
type State_t int

const (
	TASK_UNUSED State_t = iota
	TASK_READY
	TASK_RUNNING
	TASK_BLOCKED
	TASK_SLEEPING
	TASK_ZOMBIE
)

func (s State_t) String() string {
	switch s {
	case TASK_UNUSED:
		return "unused"
	case TASK_READY:
		return "ready"
	case TASK_RUNNING:
		return "running"
	case TASK_BLOCKED:
		return "blocked"
	case TASK_SLEEPING:
		return "sleeping"
	case TASK_ZOMBIE:
		return "zombie"
	default:
		return "?"
	}
}

/// NumPriorities is the number of distinct priority levels the
/// scheduler's run queue maintains: 0 is the highest priority level
/// and NumPriorities-1 is the lowest, the same lower-number-wins
/// convention a nice(2)-style priority uses.
const NumPriorities = 8

/// DefaultQuantum is the preemption quantum granted to a running task
/// before the timer tick forces a reschedule.
const DefaultQuantum = 10 * time.Millisecond

/// Task_t is one schedulable unit of execution. Id is stable for the
/// task's lifetime; State, effective priority, and wake/block
/// bookkeeping are mutated only by the scheduler or by the task itself
/// while it holds the CPU, so they are unguarded fields read under the
/// scheduler's own lock rather than an embedded mutex.
type Task_t struct {
	Id   int
	Name string

	state     State_t
	basePrio  int
	effPrio   int
	quantum   time.Duration
	remaining time.Duration

	WakeDeadline time.Time
	WaitingOn    string

	// Ring is the privilege level the task was executing at when Tick
	// last charged it: 0 (or 1, for a driver-domain task) charges
	// Acct.Sysns, 3 charges Acct.Userns, mirroring how a real kernel
	// splits accounted time at the ring boundary rather than by
	// subsystem.
	Ring int

	Acct accnt.Accnt_t

	cpu  chan struct{}
	done chan struct{}

	sched *Scheduler_t
}

/// State returns the task's current lifecycle state.
func (t *Task_t) State() State_t { return t.state }

/// Priority returns the task's current effective priority, which may
/// be boosted (lowered numerically) below BasePriority by a held
/// Mutex_t's priority inheritance.
func (t *Task_t) Priority() int { return t.effPrio }

/// SetPriority sets the task's effective priority. Called by
/// ksync.Mutex_t during priority inheritance and restoration.
func (t *Task_t) SetPriority(p int) {
	t.sched.reprioritize(t, p)
}

/// BasePriority returns the task's un-boosted priority.
func (t *Task_t) BasePriority() int { return t.basePrio }

/// Exited reports whether the task has reached TASK_ZOMBIE.
func (t *Task_t) Exited() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

/// Wait blocks the caller until this task exits.
func (t *Task_t) Wait() {
	<-t.done
}
