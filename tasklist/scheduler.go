package tasklist

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/notargets/goamr/mesh"
	"github.com/notargets/goamr/metrics"
	"github.com/notargets/goamr/utils"
)

// Scheduler runs a task list over the blocks of one rank. Each scan splits
// the blocks into static chunks, one goroutine per chunk, and runs every task
// whose dependencies are complete. Tasks never block: a task waiting on
// communication reports TaskPending and is retried on a later scan.
type Scheduler struct {
	Rank       int
	NumThreads int
	List       *TaskList
	// Poll is called after a scan that made no progress, to drain the
	// transport
	Poll   func() error
	states map[int]*TaskState // Keyed by block GID
}

func NewScheduler(rank, numThreads int, tl *TaskList) (s *Scheduler, err error) {
	if !tl.Valid() {
		if err = tl.Validate(); err != nil {
			return
		}
	}
	if numThreads < 1 {
		numThreads = runtime.NumCPU()
	}
	s = &Scheduler{
		Rank:       rank,
		NumThreads: numThreads,
		List:       tl,
		states:     make(map[int]*TaskState),
	}
	return
}

func (s *Scheduler) State(gid int) *TaskState { return s.states[gid] }

func (s *Scheduler) startStage(blocks []*mesh.Block) (states []*TaskState) {
	var (
		nt   = s.List.NumTasks()
		keep = make(map[int]*TaskState, len(blocks))
	)
	states = make([]*TaskState, len(blocks))
	for i, b := range blocks {
		st, ok := s.states[b.GID]
		if !ok || len(st.Status) != nt {
			st = NewTaskState(nt)
		}
		st.Reset()
		keep[b.GID], states[i] = st, st
	}
	s.states = keep
	return
}

// DoStage runs every task of the list on every block for stage and returns
// once all of them completed
func (s *Scheduler) DoStage(ctx context.Context, blocks []*mesh.Block, stage int) (err error) {
	if len(blocks) == 0 {
		return
	}
	var (
		start   = time.Now()
		states  = s.startStage(blocks)
		nThread = min(s.NumThreads, len(blocks))
		pm      = utils.NewPartitionMap(nThread, len(blocks))
		scans   int
	)
	for {
		if err = ctx.Err(); err != nil {
			return
		}
		var (
			progress atomic.Int64
			pending  atomic.Int64
			eg, _    = errgroup.WithContext(ctx)
		)
		for bn := 0; bn < nThread; bn++ {
			kMin, kMax := pm.GetBucketRange(bn)
			eg.Go(func() error {
				for k := kMin; k < kMax; k++ {
					n, e := s.scanBlock(blocks[k], states[k], stage)
					progress.Add(int64(n))
					if e != nil {
						return e
					}
					if !states[k].AllDone() {
						pending.Add(1)
					}
				}
				return nil
			})
		}
		if err = eg.Wait(); err != nil {
			return
		}
		scans++
		if pending.Load() == 0 {
			break
		}
		if progress.Load() == 0 {
			metrics.RecordIdleScan(s.Rank)
			runtime.Gosched()
			if s.Poll != nil {
				if err = s.Poll(); err != nil {
					return
				}
			}
		}
	}
	metrics.RecordStage(s.Rank, time.Since(start))
	log.Trace().Int("rank", s.Rank).Int("stage", stage).Int("scans", scans).
		Dur("elapsed", time.Since(start)).Msg("stage complete")
	return
}

// scanBlock runs the ready tasks of one block in topological order and
// returns how many completed
func (s *Scheduler) scanBlock(b *mesh.Block, st *TaskState, stage int) (nDone int, err error) {
	for _, id := range s.List.Order {
		t := s.List.Tasks[id]
		if st.Status[id] == Completed {
			continue
		}
		if !st.DepsMet(t) {
			st.Status[id] = Blocked
			continue
		}
		st.Status[id] = Queued
		var status TaskStatus
		if status, err = s.run(t, b, st, stage); err != nil {
			metrics.RecordTask(s.Rank, t.Name, "error")
			return nDone, fmt.Errorf("task %s on block %d (%s) stage %d: %w",
				t.Name, b.GID, b.Loc, stage, err)
		}
		metrics.RecordTask(s.Rank, t.Name, status.String())
		if status == TaskPending {
			st.Status[id] = Blocked
			continue
		}
		st.complete(t)
		nDone++
	}
	return
}

func (s *Scheduler) run(t *Task, b *mesh.Block, st *TaskState, stage int) (TaskStatus, error) {
	if !st.DepsMet(t) {
		panic(fmt.Sprintf("task %s started on block %d with unmet dependencies", t.Name, b.GID))
	}
	st.Status[t.ID] = Running
	return t.Fn(b, stage)
}
