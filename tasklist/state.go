package tasklist

import (
	"fmt"

	"github.com/kelindar/bitmap"
)

type RunState uint8

const (
	NotStarted RunState = iota
	Queued
	Running
	Blocked
	Completed
)

func (rs RunState) String() string {
	return [...]string{"NotStarted", "Queued", "Running", "Blocked", "Completed"}[rs]
}

// TaskState tracks the progress of one block through a task list during a
// stage. It is touched only by the goroutine scanning that block.
type TaskState struct {
	Completed bitmap.Bitmap
	Status    []RunState
}

func NewTaskState(nTasks int) (ts *TaskState) {
	ts = &TaskState{Status: make([]RunState, nTasks)}
	ts.Completed.Grow(uint32(nTasks))
	return
}

func (ts *TaskState) Reset() {
	ts.Completed.Clear()
	for i := range ts.Status {
		ts.Status[i] = NotStarted
	}
}

func (ts *TaskState) DepsMet(t *Task) (met bool) {
	met = true
	t.deps.Range(func(d uint32) {
		if !ts.Completed.Contains(d) {
			met = false
		}
	})
	return
}

func (ts *TaskState) AllDone() bool {
	return ts.Completed.Count() == len(ts.Status)
}

func (ts *TaskState) complete(t *Task) {
	if !ts.DepsMet(t) {
		panic(fmt.Sprintf("task %s completed with unmet dependencies %v", t.Name, t.Deps))
	}
	ts.Status[t.ID] = Completed
	ts.Completed.Set(uint32(t.ID))
}
