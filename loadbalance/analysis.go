package loadbalance

import (
	"fmt"
	"math"
	"sort"

	"github.com/james-bowman/sparse"
	"github.com/rs/zerolog/log"

	"github.com/notargets/goamr/mesh"
)

// PartitionStats holds statistics for a single rank
type PartitionStats struct {
	ID           int
	NumBlocks    int
	ComputeLoad  float64
	Levels       map[int]int // Refinement level -> block count
	NumNeighbors map[int]int // Neighbor rank -> relations crossing to it
}

type PartitionAnalysis struct {
	CutRelations int
	// Ghost values received across rank boundaries per exchange
	CommVolume float64
	Imbalance  float64
	MinLoad    float64
	MaxLoad    float64
	AvgLoad    float64
	Ranks      []PartitionStats
	// RankComm[p][q] is the ghost volume rank p receives from rank q
	RankComm [][]float64
}

// GhostVolume is the number of ghost values one relation moves
func GhostVolume(m *mesh.Mesh, rel *mesh.NeighborRelation) (vol float64) {
	cfg := m.Config
	vol = float64(m.NVar())
	for d := 0; d < cfg.Dim; d++ {
		if rel.Offset[d] == 0 {
			vol *= float64(cfg.BlockCells[d])
		} else {
			vol *= float64(cfg.NGhost)
		}
	}
	return
}

// AnalyzePartition measures the quality of the rank assignment ranks on the
// blocks of m. Block adjacency is weighted by ghost volume and folded onto
// ranks as P^T A P with P the block to rank assignment matrix.
func AnalyzePartition(m *mesh.Mesh, ranks []int, nranks int) (pa *PartitionAnalysis, err error) {
	var (
		nb     = len(m.Blocks)
		adjDOK = sparse.NewDOK(nb, nb)
		assn   = sparse.NewDOK(nb, nranks)
	)
	if len(ranks) != nb {
		return nil, fmt.Errorf("%w: %d ranks for %d blocks", ErrInfeasible, len(ranks), nb)
	}
	if !m.TopologyValid() {
		if err = m.BuildTopology(); err != nil {
			return nil, err
		}
	}
	pa = &PartitionAnalysis{
		Ranks:   make([]PartitionStats, nranks),
		MinLoad: math.MaxFloat64,
	}
	for r := range pa.Ranks {
		pa.Ranks[r] = PartitionStats{
			ID:           r,
			Levels:       make(map[int]int),
			NumNeighbors: make(map[int]int),
		}
	}
	for gid, b := range m.Blocks {
		r := ranks[gid]
		assn.Set(gid, r, 1)
		stats := &pa.Ranks[r]
		stats.NumBlocks++
		stats.ComputeLoad += b.Cost
		stats.Levels[b.Loc.Level]++
		for _, id := range m.Incoming[gid] {
			rel := &m.Relations[id]
			adjDOK.Set(rel.BlockID, rel.NeighborID, adjDOK.At(rel.BlockID, rel.NeighborID)+GhostVolume(m, rel))
			if nr := ranks[rel.NeighborID]; nr != r {
				pa.CutRelations++
				stats.NumNeighbors[nr]++
			}
		}
	}
	var (
		adj      = adjDOK.ToCSR()
		p        = assn.ToCSR()
		perBlock = sparse.NewCSR(nb, nranks, nil, nil, nil)
		rankComm = sparse.NewCSR(nranks, nranks, nil, nil, nil)
	)
	perBlock.Mul(adj, p)
	rankComm.Mul(p.T(), perBlock)
	pa.RankComm = make([][]float64, nranks)
	for i := range pa.RankComm {
		pa.RankComm[i] = make([]float64, nranks)
	}
	rankComm.DoNonZero(func(i, j int, v float64) {
		pa.RankComm[i][j] = v
		if i != j {
			pa.CommVolume += v
		}
	})
	for _, stats := range pa.Ranks {
		pa.AvgLoad += stats.ComputeLoad
		pa.MaxLoad = max(pa.MaxLoad, stats.ComputeLoad)
		pa.MinLoad = min(pa.MinLoad, stats.ComputeLoad)
	}
	pa.AvgLoad /= float64(nranks)
	if pa.AvgLoad > 0 {
		pa.Imbalance = pa.MaxLoad/pa.AvgLoad - 1
	}
	return
}

func (pa *PartitionAnalysis) Log() {
	log.Info().Int("cut_relations", pa.CutRelations).
		Float64("comm_volume", pa.CommVolume).
		Str("imbalance", fmt.Sprintf("%.2f%%", pa.Imbalance*100)).
		Float64("min_load", pa.MinLoad).Float64("max_load", pa.MaxLoad).
		Float64("avg_load", pa.AvgLoad).
		Msg("partition analysis")
	for _, stats := range pa.Ranks {
		log.Debug().Int("rank", stats.ID).Int("blocks", stats.NumBlocks).
			Float64("load", stats.ComputeLoad).Interface("levels", stats.Levels).
			Int("neighbor_ranks", len(stats.NumNeighbors)).
			Msg("partition")
	}
	var pairs [][2]int
	for p := range pa.RankComm {
		for q := range pa.RankComm[p] {
			if p != q && pa.RankComm[p][q] > 0 {
				pairs = append(pairs, [2]int{p, q})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	for _, pr := range pairs {
		log.Debug().Int("rank", pr[0]).Int("from", pr[1]).
			Float64("ghost_values", pa.RankComm[pr[0]][pr[1]]).Msg("interface")
	}
}
