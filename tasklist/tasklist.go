package tasklist

import (
	"errors"
	"fmt"

	"github.com/kelindar/bitmap"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/notargets/goamr/mesh"
)

var ErrInvalidTaskList = errors.New("tasklist: invalid task list")

type TaskID int

type TaskStatus uint8

const (
	TaskComplete TaskStatus = iota
	// TaskPending means the task is waiting on communication and must be
	// retried on a later scan
	TaskPending
)

func (ts TaskStatus) String() string {
	return [...]string{"complete", "pending"}[ts]
}

type TaskFunc func(b *mesh.Block, stage int) (TaskStatus, error)

type Task struct {
	ID   TaskID
	Name string
	Deps []TaskID
	Fn   TaskFunc
	deps bitmap.Bitmap
}

// TaskList is the per-stage dependency graph run for every block
type TaskList struct {
	Tasks []*Task
	Order []TaskID // Topological order, set by Validate
	valid bool
}

func NewTaskList() *TaskList {
	return &TaskList{}
}

func (tl *TaskList) AddTask(name string, deps []TaskID, fn TaskFunc) (id TaskID) {
	id = TaskID(len(tl.Tasks))
	t := &Task{ID: id, Name: name, Deps: append([]TaskID{}, deps...), Fn: fn}
	for _, d := range deps {
		if d >= 0 {
			t.deps.Set(uint32(d))
		}
	}
	tl.Tasks = append(tl.Tasks, t)
	tl.valid = false
	return
}

func (tl *TaskList) NumTasks() int { return len(tl.Tasks) }

func (tl *TaskList) Valid() bool { return tl.valid }

// Validate rejects unknown or self dependencies and cycles, and fixes the
// scan order to a topological order of the graph
func (tl *TaskList) Validate() (err error) {
	if len(tl.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrInvalidTaskList)
	}
	g := simple.NewDirectedGraph()
	for _, t := range tl.Tasks {
		if t.Fn == nil {
			return fmt.Errorf("%w: task %s has no function", ErrInvalidTaskList, t.Name)
		}
		g.AddNode(simple.Node(t.ID))
	}
	for _, t := range tl.Tasks {
		for _, d := range t.Deps {
			switch {
			case d == t.ID:
				return fmt.Errorf("%w: task %s depends on itself", ErrInvalidTaskList, t.Name)
			case d < 0 || int(d) >= len(tl.Tasks):
				return fmt.Errorf("%w: task %s depends on unknown task %d", ErrInvalidTaskList, t.Name, d)
			}
			g.SetEdge(g.NewEdge(simple.Node(d), simple.Node(t.ID)))
		}
	}
	var sorted []graph.Node
	if sorted, err = topo.Sort(g); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTaskList, err)
	}
	tl.Order = tl.Order[:0]
	for _, n := range sorted {
		tl.Order = append(tl.Order, TaskID(n.ID()))
	}
	tl.valid = true
	return
}

func (tl *TaskList) String() (s string) {
	for _, id := range tl.Order {
		t := tl.Tasks[id]
		s += fmt.Sprintf("%d: %s <- %v\n", t.ID, t.Name, t.Deps)
	}
	return
}
