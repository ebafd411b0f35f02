package driver

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/notargets/goamr/bvals"
	"github.com/notargets/goamr/comm"
	"github.com/notargets/goamr/loadbalance"
	"github.com/notargets/goamr/mesh"
	"github.com/notargets/goamr/metrics"
	"github.com/notargets/goamr/tasklist"
	"github.com/notargets/goamr/utils"
)

// Kernel advances the interior of one block for one stage. Ghost zones are
// filled before it runs.
type Kernel func(b *mesh.Block, stage int, time, dt float64) error

type Config struct {
	NumRanks   int
	NumThreads int // Scheduler threads per rank
	NumStages  int // Stages per cycle, each with a full ghost exchange
	Dt         float64
	FinalTime  float64
	MaxCycles  int // Zero for no limit
	// Cycles between load balance passes, zero disables
	LoadBalanceInterval int
	// Cycles between regrids driven by Refine, zero disables
	RegridInterval int
	Refine         mesh.RefineFunc
	// Measure block cost from kernel wall time
	AdaptiveCost   bool
	UserBoundaries map[mesh.BoundaryFace]bvals.BoundaryFunc
}

func (cfg *Config) validate() error {
	switch {
	case cfg.NumRanks < 1:
		return fmt.Errorf("%w: NumRanks %d", mesh.ErrInvalidConfig, cfg.NumRanks)
	case cfg.NumStages < 1:
		return fmt.Errorf("%w: NumStages %d", mesh.ErrInvalidConfig, cfg.NumStages)
	case cfg.Dt <= 0:
		return fmt.Errorf("%w: Dt %g", mesh.ErrInvalidConfig, cfg.Dt)
	case cfg.FinalTime <= 0 && cfg.MaxCycles <= 0:
		return fmt.Errorf("%w: neither FinalTime nor MaxCycles set", mesh.ErrInvalidConfig)
	}
	return nil
}

type rankContext struct {
	rank      int
	stage     int
	blocks    []*mesh.Block
	exchange  *bvals.Exchange
	scheduler *tasklist.Scheduler
}

// Driver owns the mesh and advances it in cycles of NumStages stages. Each
// rank runs as a goroutine with its own scheduler; mesh changes happen on
// rank 0 while the other ranks wait at a barrier.
type Driver struct {
	Config    Config
	Mesh      *mesh.Mesh
	Kernel    Kernel
	Transport comm.Transport
	Balancer  *loadbalance.Balancer
	Physical  *bvals.PhysicalBoundaries
	Time      float64
	Cycle     int
	stage     int // Stages run since start, tags messages
	ranks     []*rankContext
}

func NewDriver(m *mesh.Mesh, cfg Config, kernel Kernel) (d *Driver, err error) {
	if err = cfg.validate(); err != nil {
		return
	}
	if kernel == nil {
		return nil, fmt.Errorf("%w: no kernel", mesh.ErrInvalidConfig)
	}
	d = &Driver{
		Config:    cfg,
		Mesh:      m,
		Kernel:    kernel,
		Transport: comm.NewChannelTransport(cfg.NumRanks, 64*cfg.NumRanks),
		Balancer:  loadbalance.NewBalancer(cfg.NumRanks),
	}
	if _, err = d.Balancer.Rebalance(m); err != nil {
		return nil, err
	}
	if err = d.rebuild(); err != nil {
		return nil, err
	}
	return
}

// rebuild recomputes the topology and every rank's buffers and task list
func (d *Driver) rebuild() (err error) {
	m := d.Mesh
	if err = m.BuildTopology(); err != nil {
		return
	}
	if d.Physical, err = bvals.NewPhysicalBoundaries(m, d.Config.UserBoundaries); err != nil {
		return
	}
	d.ranks = make([]*rankContext, d.Config.NumRanks)
	for r := range d.ranks {
		rc := &rankContext{rank: r, blocks: m.BlocksOnRank(r)}
		if rc.exchange, err = bvals.NewExchange(m, r, d.Physical, d.remoteSender(r)); err != nil {
			return
		}
		if rc.scheduler, err = tasklist.NewScheduler(r, d.Config.NumThreads, d.taskList(rc)); err != nil {
			return
		}
		rc.scheduler.Poll = d.poller(rc)
		d.ranks[r] = rc
	}
	if pa, e := loadbalance.AnalyzePartition(m, ranksOf(m), d.Config.NumRanks); e == nil {
		pa.Log()
	}
	return
}

func ranksOf(m *mesh.Mesh) (ranks []int) {
	ranks = make([]int, len(m.Blocks))
	for gid, b := range m.Blocks {
		ranks[gid] = b.Rank
	}
	return
}

func (d *Driver) remoteSender(rank int) bvals.RemoteSender {
	return func(rel *mesh.NeighborRelation, stage int, data []float64) error {
		return d.Transport.Send(comm.Message{
			Tag: comm.Tag{
				Sender:    rel.NeighborID,
				Receiver:  rel.BlockID,
				Stage:     stage,
				Direction: mesh.DirectionIndex(rel.Offset),
			},
			From:       rank,
			To:         d.Mesh.Blocks[rel.BlockID].Rank,
			RelationID: rel.BufferID,
			Data:       data,
		})
	}
}

func (d *Driver) poller(rc *rankContext) func() error {
	return func() (err error) {
		_, err = d.Transport.Poll(rc.rank, rc.stage, func(msg comm.Message) error {
			return rc.exchange.Deliver(msg.RelationID, msg.Tag.Stage, msg.Data)
		})
		return
	}
}

// taskList is the per block work of one stage: ghost exchange, physical
// boundaries and the kernel. The kernel waits for the block's own sends so
// its neighbors never see a partly updated interior.
func (d *Driver) taskList(rc *rankContext) (tl *tasklist.TaskList) {
	var (
		ex      = rc.exchange
		nStages = d.Config.NumStages
	)
	tl = tasklist.NewTaskList()
	send := tl.AddTask("send", nil, func(b *mesh.Block, stage int) (tasklist.TaskStatus, error) {
		return tasklist.TaskComplete, ex.SendBoundaryBuffers(b, stage)
	})
	recv := tl.AddTask("receive", nil, func(b *mesh.Block, stage int) (tasklist.TaskStatus, error) {
		done, err := ex.ReceiveBoundaryBuffers(b, stage)
		if err != nil || done {
			return tasklist.TaskComplete, err
		}
		return tasklist.TaskPending, nil
	})
	setb := tl.AddTask("set_boundaries", []tasklist.TaskID{recv},
		func(b *mesh.Block, stage int) (tasklist.TaskStatus, error) {
			return tasklist.TaskComplete, ex.SetBoundaries(b, stage)
		})
	phys := tl.AddTask("physical_boundaries", []tasklist.TaskID{setb},
		func(b *mesh.Block, _ int) (tasklist.TaskStatus, error) {
			return tasklist.TaskComplete, ex.ApplyPhysicalBoundaries(b, d.Time)
		})
	tl.AddTask("compute", []tasklist.TaskID{phys, send},
		func(b *mesh.Block, stage int) (tasklist.TaskStatus, error) {
			start := time.Now()
			if err := d.Kernel(b, stage%nStages, d.Time, d.Config.Dt); err != nil {
				return tasklist.TaskComplete, err
			}
			if utils.IsNan(b.Fields.Data) {
				return tasklist.TaskComplete, fmt.Errorf("%w: block %d", bvals.ErrNumerical, b.GID)
			}
			if d.Config.AdaptiveCost {
				b.Cost += time.Since(start).Seconds()
			}
			return tasklist.TaskComplete, nil
		})
	return
}

func (d *Driver) finished() bool {
	if d.Config.MaxCycles > 0 && d.Cycle >= d.Config.MaxCycles {
		return true
	}
	return d.Config.FinalTime > 0 && d.Time >= d.Config.FinalTime-1.e-12*d.Config.FinalTime
}

// Run advances the mesh until FinalTime or MaxCycles
func (d *Driver) Run(ctx context.Context) (err error) {
	var (
		start = time.Now()
		eg    *errgroup.Group
	)
	log.Info().Int("blocks", len(d.Mesh.Blocks)).Int("ranks", d.Config.NumRanks).
		Int("stages", d.Config.NumStages).Float64("final_time", d.Config.FinalTime).
		Msg("starting run")
	eg, ctx = errgroup.WithContext(ctx)
	for r := 0; r < d.Config.NumRanks; r++ {
		// A failing rank cancels ctx, which releases the others from the
		// scheduler and the barriers
		eg.Go(func() error { return d.runRank(ctx, r) })
	}
	if err = eg.Wait(); err != nil {
		return
	}
	log.Info().Int("cycles", d.Cycle).Float64("time", d.Time).
		Dur("elapsed", time.Since(start)).Str("memory", utils.GetMemUsage()).
		Msg("run complete")
	return
}

func (d *Driver) runRank(ctx context.Context, rank int) (err error) {
	for !d.finished() {
		for s := 0; s < d.Config.NumStages; s++ {
			var (
				rc    = d.ranks[rank]
				stage = d.stage + s
			)
			rc.stage = stage
			rc.exchange.Buffers.ResetStage(stage)
			if err = rc.scheduler.DoStage(ctx, rc.blocks, stage); err != nil {
				return fmt.Errorf("rank %d cycle %d: %w", rank, d.Cycle, err)
			}
			if err = d.Transport.Barrier(ctx, rank); err != nil {
				return
			}
		}
		if rank == 0 {
			if err = d.endCycle(); err != nil {
				return
			}
		}
		// Mesh changes on rank 0 are visible to every rank past this point
		if err = d.Transport.Barrier(ctx, rank); err != nil {
			return
		}
	}
	return
}

// endCycle advances the clock, regrids and rebalances. Only rank 0 calls it,
// while the other ranks wait.
func (d *Driver) endCycle() (err error) {
	var (
		changed bool
		cfg     = d.Config
	)
	d.Time += cfg.Dt
	d.Cycle++
	d.stage += cfg.NumStages
	if cfg.Refine != nil && cfg.RegridInterval > 0 && d.Cycle%cfg.RegridInterval == 0 {
		flags := make(map[int]mesh.RefineFlag)
		for _, b := range d.Mesh.Blocks {
			if f := cfg.Refine(b); f != mesh.RefineKeep {
				flags[b.GID] = f
			}
		}
		if changed, err = d.Mesh.Regrid(flags); err != nil {
			return
		}
		if changed {
			metrics.RecordMeshEvent("regrid")
		}
	}
	if changed || (cfg.LoadBalanceInterval > 0 && d.Cycle%cfg.LoadBalanceInterval == 0) {
		if _, err = d.Balancer.Rebalance(d.Mesh); err != nil {
			return
		}
		if cfg.AdaptiveCost {
			for _, b := range d.Mesh.Blocks {
				b.Cost = 0
			}
		}
		if err = d.rebuild(); err != nil {
			return
		}
	}
	if d.Cycle%10 == 0 || d.finished() {
		log.Info().Int("cycle", d.Cycle).Float64("time", d.Time).
			Int("blocks", len(d.Mesh.Blocks)).Msg("cycle")
	}
	return
}

// MaxAbs returns the largest magnitude of variable n over every interior
func (d *Driver) MaxAbs(n int) (v float64) {
	for _, b := range d.Mesh.Blocks {
		fa := b.Fields
		lo, hi := fa.Interior()
		for k := lo[2]; k <= hi[2]; k++ {
			for j := lo[1]; j <= hi[1]; j++ {
				for i := lo[0]; i <= hi[0]; i++ {
					v = math.Max(v, math.Abs(fa.At(n, k, j, i)))
				}
			}
		}
	}
	return
}
