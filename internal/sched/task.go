package sched

import (
	"fmt"
	"runtime/debug"
	"time"
)

// TaskID identifies a task within one pool's lifetime.
// IDs are assigned monotonically starting at 1; 0 means "no task".
type TaskID uint64

// Runnable is the payload contract: invoked exactly once, no input, and no
// result visible to the scheduler beyond returning.
type Runnable interface {
	Run()
}

// Func adapts a plain function to Runnable.
type Func func()

func (f Func) Run() { f() }

// Task is a submitted payload plus its identity.
type Task struct {
	ID          TaskID
	Payload     Runnable
	SubmittedAt time.Time
}

// PanicError describes a payload that panicked while a worker executed it.
type PanicError struct {
	Task  TaskID
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %d panicked: %v", e.Task, e.Value)
}

// run executes the payload, converting a panic into a *PanicError so the
// calling worker can keep looping.
func (t *Task) run() (perr *PanicError) {
	defer func() {
		if r := recover(); r != nil {
			perr = &PanicError{Task: t.ID, Value: r, Stack: debug.Stack()}
		}
	}()
	t.Payload.Run()
	return nil
}
