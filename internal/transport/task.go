package transport

import (
	"sync"

	"github.com/BobDickinson/corona-s3/internal/metrics"
	"github.com/BobDickinson/corona-s3/internal/scheduler"
)

// State is the lifecycle of a Task.
type State int

const (
	Idle State = iota
	InFlight
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InFlight:
		return "in-flight"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Task is the handle of an asynchronous exchange. Completed and Cancelled
// are final; the callback runs only on the move to Completed.
type Task struct {
	mu     sync.Mutex
	state  State
	sched  *scheduler.Scheduler
	handle scheduler.Handle

	// advance performs one slice; it returns the Result when finished.
	advance func() (Result, bool)
	// release frees the connection, if any.
	release func()
	cb      Callback
}

func newTask(sched *scheduler.Scheduler, advance func() (Result, bool), release func(), cb Callback) *Task {
	return &Task{sched: sched, advance: advance, release: release, cb: cb}
}

// start registers the task's step and moves it to InFlight.
func (t *Task) start() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = InFlight
	t.handle = t.sched.Register(t.step)
	metrics.TasksInflight.Inc()
	return t
}

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Cancel stops the task and drops its connection. After Cancel returns the
// callback will never run, even if the response was already received but
// not yet delivered. It reports whether the task was stopped by this call.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	if t.state != InFlight && t.state != Idle {
		t.mu.Unlock()
		return false
	}
	wasInFlight := t.state == InFlight
	t.state = Cancelled
	t.mu.Unlock()

	if wasInFlight {
		t.sched.Unregister(t.handle)
		metrics.TasksInflight.Dec()
	}
	if t.release != nil {
		t.release()
	}
	return true
}

// step is the function registered with the scheduler.
func (t *Task) step() {
	if t.State() != InFlight {
		return
	}
	res, done := t.advance()
	if !done {
		return
	}

	t.mu.Lock()
	if t.state != InFlight {
		// Cancelled while the slice ran.
		t.mu.Unlock()
		return
	}
	t.state = Completed
	t.mu.Unlock()

	t.sched.Unregister(t.handle)
	metrics.TasksInflight.Dec()
	if t.release != nil {
		t.release()
	}
	t.cb(res)
}
