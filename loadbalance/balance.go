package loadbalance

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/goamr/mesh"
	"github.com/notargets/goamr/metrics"
)

var ErrInfeasible = errors.New("loadbalance: infeasible partition")

// CostList holds per block cost and rank in GID (Z) order
type CostList struct {
	Costs []float64
	Ranks []int
}

// RankCosts sums the cost owned by each rank
func (cl *CostList) RankCosts(nranks int) (rc []float64) {
	rc = make([]float64, nranks)
	for i, r := range cl.Ranks {
		rc[r] += cl.Costs[i]
	}
	return
}

// Imbalance is the maximum rank cost over the mean rank cost
func (cl *CostList) Imbalance(nranks int) float64 {
	rc := cl.RankCosts(nranks)
	mean := floats.Sum(rc) / float64(nranks)
	if mean == 0 {
		return 1
	}
	return floats.Max(rc) / mean
}

// Balance splits the Z ordered cost list into nranks contiguous runs. Each
// rank takes at least one block, then keeps taking blocks while that brings
// its total closer to the remaining cost divided by the remaining ranks.
func Balance(costs []float64, nranks int) (ranks []int, err error) {
	var (
		nb = len(costs)
	)
	if nranks < 1 {
		return nil, fmt.Errorf("%w: %d ranks", ErrInfeasible, nranks)
	}
	if nranks > nb {
		return nil, fmt.Errorf("%w: %d ranks for %d blocks", ErrInfeasible, nranks, nb)
	}
	for i, c := range costs {
		if c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: block %d has cost %g", ErrInfeasible, i, c)
		}
	}
	var (
		remaining = floats.Sum(costs)
		next      int
	)
	ranks = make([]int, nb)
	for r := 0; r < nranks; r++ {
		var (
			ranksLeft = nranks - r
			target    = remaining / float64(ranksLeft)
			cum       = costs[next]
		)
		ranks[next] = r
		next++
		if ranksLeft == 1 {
			for ; next < nb; next++ {
				ranks[next] = r
				cum += costs[next]
			}
		}
		// Leave at least one block for each rank still to be filled
		for next < nb-(ranksLeft-1) {
			if math.Abs(cum+costs[next]-target) >= math.Abs(cum-target) {
				break
			}
			cum += costs[next]
			ranks[next] = r
			next++
		}
		remaining -= cum
	}
	return
}

// Balancer reassigns block ownership between stages
type Balancer struct {
	NumRanks int
	// MinCost is the floor applied to measured block costs, keeping blocks
	// that were never timed from collapsing onto one rank
	MinCost float64
}

func NewBalancer(nranks int) *Balancer {
	return &Balancer{NumRanks: nranks, MinCost: 1.e-6}
}

// Rebalance assigns ranks to every block of m from the current block costs
// and invalidates the topology
func (bl *Balancer) Rebalance(m *mesh.Mesh) (cl *CostList, err error) {
	cl = &CostList{Costs: make([]float64, len(m.Blocks))}
	for gid, b := range m.Blocks {
		cl.Costs[gid] = max(b.Cost, bl.MinCost)
	}
	if cl.Ranks, err = Balance(cl.Costs, bl.NumRanks); err != nil {
		return nil, err
	}
	m.SetRanks(cl.Ranks)
	imbalance := cl.Imbalance(bl.NumRanks)
	metrics.RecordImbalance(imbalance)
	metrics.RecordMeshEvent("rebalance")
	log.Debug().Int("blocks", len(cl.Costs)).Int("ranks", bl.NumRanks).
		Float64("imbalance", imbalance).Msg("rebalanced")
	return
}
